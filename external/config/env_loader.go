package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/streamkoshin/internal/config"
)

type envConfig struct {
	Env                        string `env:"ENV" envDefault:"production"`
	DefaultTranscribeLanguage  string `env:"DEFAULT_TRANSCRIBE_LANGUAGE,required"`
	StreamingLimitMs           int    `env:"STREAMING_LIMIT_MS" envDefault:"290000"`
	StreamingRestartMarginMs   int    `env:"STREAMING_RESTART_MARGIN_MS" envDefault:"5000"`
	StreamingMaxTransientRetry int    `env:"STREAMING_MAX_TRANSIENT_RETRIES" envDefault:"3"`
	StreamingStopDrainMs       int    `env:"STREAMING_STOP_DRAIN_TIMEOUT_MS" envDefault:"5000"`
	StreamingInterimResults    bool   `env:"STREAMING_INTERIM_RESULTS" envDefault:"true"`
	AudioSampleRateHertz       int    `env:"AUDIO_SAMPLE_RATE_HERTZ" envDefault:"16000"`
	AudioChannelCount          int    `env:"AUDIO_CHANNEL_COUNT" envDefault:"1"`
	HTTPListenAddr             string `env:"HTTP_LISTEN_ADDR" envDefault:":8080"`
	DatabaseURL                string `env:"DATABASE_URL"`
	GoogleCloudProjectID       string `env:"GOOGLE_CLOUD_PROJECT_ID,required"`
	GoogleCloudCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON,required"`
	GoogleCloudSpeechLocation  string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"long"`
	DiscordToken               string `env:"DISCORD_TOKEN"`
	DiscordGuildID             string `env:"DISCORD_GUILD_ID"`
	TranscriptWebhookURL       string `env:"TRANSCRIPT_WEBHOOK_URL"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		DefaultTranscribeLanguage:  raw.DefaultTranscribeLanguage,
		StreamingLimitMs:           raw.StreamingLimitMs,
		StreamingRestartMarginMs:   raw.StreamingRestartMarginMs,
		StreamingMaxTransientRetry: raw.StreamingMaxTransientRetry,
		StreamingStopDrainMs:       raw.StreamingStopDrainMs,
		StreamingInterimResults:    raw.StreamingInterimResults,
		AudioSampleRateHertz:       raw.AudioSampleRateHertz,
		AudioChannelCount:          raw.AudioChannelCount,
		HTTPListenAddr:             raw.HTTPListenAddr,
		DatabaseURL:                raw.DatabaseURL,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		DiscordToken:               raw.DiscordToken,
		DiscordGuildID:             raw.DiscordGuildID,
		TranscriptWebhookURL:       raw.TranscriptWebhookURL,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
