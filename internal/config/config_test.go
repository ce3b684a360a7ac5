package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Env:                        "development",
		DefaultTranscribeLanguage:  "en-US",
		StreamingLimitMs:           290000,
		StreamingRestartMarginMs:   5000,
		StreamingMaxTransientRetry: 3,
		StreamingStopDrainMs:       5000,
		StreamingInterimResults:    true,
		AudioSampleRateHertz:       16000,
		AudioChannelCount:          1,
		HTTPListenAddr:             ":8080",
		GoogleCloudProjectID:       "project-id",
		GoogleCloudCredentialsJSON: `{"type":"service_account"}`,
	}
}

func TestValidate_Valid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_LimitMustExceedMargin(t *testing.T) {
	cfg := validConfig()
	cfg.StreamingLimitMs = 5000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when limit does not exceed margin")
	}
}

func TestValidate_InvalidMargin(t *testing.T) {
	cfg := validConfig()
	cfg.StreamingRestartMarginMs = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive margin")
	}
}

func TestValidate_InvalidAudioFormat(t *testing.T) {
	cfg := validConfig()
	cfg.AudioSampleRateHertz = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
	cfg = validConfig()
	cfg.AudioChannelCount = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative channel count")
	}
}

func TestValidate_NegativeRetries(t *testing.T) {
	cfg := validConfig()
	cfg.StreamingMaxTransientRetry = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative retries")
	}
}

func TestValidate_DiscordFieldsTogether(t *testing.T) {
	cfg := validConfig()
	cfg.DiscordToken = "token"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when guild id is missing")
	}
	cfg.DiscordGuildID = "guild"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !cfg.DiscordEnabled() {
		t.Fatal("expected discord ingress enabled")
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when required fields are missing")
	}
}

func TestIsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	if !cfg.IsDevelopment() {
		t.Fatal("expected development mode")
	}
	cfg.Env = "production"
	if cfg.IsDevelopment() {
		t.Fatal("expected non-development mode")
	}
}

func TestDurations(t *testing.T) {
	cfg := validConfig()
	if cfg.StreamingLimit() != 290*time.Second {
		t.Fatalf("unexpected limit: %v", cfg.StreamingLimit())
	}
	if cfg.RestartMargin() != 5*time.Second {
		t.Fatalf("unexpected margin: %v", cfg.RestartMargin())
	}
	if cfg.StopDrainTimeout() != 5*time.Second {
		t.Fatalf("unexpected drain timeout: %v", cfg.StopDrainTimeout())
	}
	if cfg.PersistenceEnabled() {
		t.Fatal("expected persistence disabled without DATABASE_URL")
	}
}
