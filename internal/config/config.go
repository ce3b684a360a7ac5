package config

import (
	"fmt"
	"time"
)

type Config struct {
	Env                        string
	DefaultTranscribeLanguage  string
	StreamingLimitMs           int
	StreamingRestartMarginMs   int
	StreamingMaxTransientRetry int
	StreamingStopDrainMs       int
	StreamingInterimResults    bool
	AudioSampleRateHertz       int
	AudioChannelCount          int
	HTTPListenAddr             string
	DatabaseURL                string
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string
	DiscordToken               string
	DiscordGuildID             string
	TranscriptWebhookURL       string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if c.StreamingRestartMarginMs <= 0 {
		return fmt.Errorf("STREAMING_RESTART_MARGIN_MS must be positive, got %d", c.StreamingRestartMarginMs)
	}
	if c.StreamingLimitMs <= c.StreamingRestartMarginMs {
		return fmt.Errorf("STREAMING_LIMIT_MS (%d) must be greater than STREAMING_RESTART_MARGIN_MS (%d)", c.StreamingLimitMs, c.StreamingRestartMarginMs)
	}
	if c.StreamingMaxTransientRetry < 0 {
		return fmt.Errorf("STREAMING_MAX_TRANSIENT_RETRIES must not be negative, got %d", c.StreamingMaxTransientRetry)
	}
	if c.StreamingStopDrainMs < 0 {
		return fmt.Errorf("STREAMING_STOP_DRAIN_TIMEOUT_MS must not be negative, got %d", c.StreamingStopDrainMs)
	}
	if c.AudioSampleRateHertz <= 0 {
		return fmt.Errorf("AUDIO_SAMPLE_RATE_HERTZ must be positive, got %d", c.AudioSampleRateHertz)
	}
	if c.AudioChannelCount <= 0 {
		return fmt.Errorf("AUDIO_CHANNEL_COUNT must be positive, got %d", c.AudioChannelCount)
	}
	if (c.DiscordToken == "") != (c.DiscordGuildID == "") {
		return fmt.Errorf("DISCORD_TOKEN and DISCORD_GUILD_ID must be set together")
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "DEFAULT_TRANSCRIBE_LANGUAGE", value: c.DefaultTranscribeLanguage},
		{name: "HTTP_LISTEN_ADDR", value: c.HTTPListenAddr},
		{name: "GOOGLE_CLOUD_PROJECT_ID", value: c.GoogleCloudProjectID},
		{name: "GOOGLE_CLOUD_CREDENTIALS_JSON", value: c.GoogleCloudCredentialsJSON},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) DiscordEnabled() bool {
	return c.DiscordToken != "" && c.DiscordGuildID != ""
}

func (c *Config) PersistenceEnabled() bool {
	return c.DatabaseURL != ""
}

func (c *Config) StreamingLimit() time.Duration {
	return time.Duration(c.StreamingLimitMs) * time.Millisecond
}

func (c *Config) RestartMargin() time.Duration {
	return time.Duration(c.StreamingRestartMarginMs) * time.Millisecond
}

func (c *Config) StopDrainTimeout() time.Duration {
	return time.Duration(c.StreamingStopDrainMs) * time.Millisecond
}
