package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/teleconsult/internal/config"
	"github.com/joho/godotenv"
)

type envConfig struct {
	Env       string `env:"ENV" envDefault:"production"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	BackendBaseURL        string        `env:"BACKEND_BASE_URL"`
	BackendRequestTimeout time.Duration `env:"BACKEND_REQUEST_TIMEOUT" envDefault:"15s"`

	RTCSignalingURL string        `env:"RTC_SIGNALING_URL"`
	RTCSTUNServers  []string      `env:"RTC_STUN_SERVERS" envSeparator:"," envDefault:"stun:stun.l.google.com:19302"`
	RTCJoinTimeout  time.Duration `env:"RTC_JOIN_TIMEOUT" envDefault:"20s"`

	MicrophoneSourcePath string `env:"MICROPHONE_SOURCE_PATH"`
	CameraSourcePath     string `env:"CAMERA_SOURCE_PATH"`
	RemoteMediaDir       string `env:"REMOTE_MEDIA_DIR"`

	DatabaseURL string `env:"DATABASE_URL"`

	TranscribeProvider         string        `env:"TRANSCRIBE_PROVIDER" envDefault:"google"`
	DefaultTranscribeLanguage  string        `env:"DEFAULT_TRANSCRIBE_LANGUAGE"`
	TranscribeNoSpeechTimeout  time.Duration `env:"TRANSCRIBE_NO_SPEECH_TIMEOUT" envDefault:"8s"`
	GoogleCloudProjectID       string        `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string        `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string        `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"us-central1"`
	GoogleCloudSpeechModel     string        `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"chirp_3"`
	DeepgramAPIKey             string        `env:"DEEPGRAM_API_KEY"`
	DeepgramModel              string        `env:"DEEPGRAM_MODEL" envDefault:"nova-3-medical"`

	TranscriptTimezone   string `env:"TRANSCRIPT_TIMEZONE" envDefault:"Asia/Tokyo"`
	TranscriptWebhookURL string `env:"TRANSCRIPT_WEBHOOK_URL"`

	DiscordToken           string `env:"DISCORD_TOKEN"`
	DiscordNotifyChannelID string `env:"DISCORD_NOTIFY_CHANNEL_ID"`

	StatusAddr                string        `env:"STATUS_ADDR" envDefault:"127.0.0.1:8787"`
	CallWindowRefreshInterval time.Duration `env:"CALL_WINDOW_REFRESH_INTERVAL" envDefault:"60s"`
	KeyringService            string        `env:"KEYRING_SERVICE" envDefault:"teleconsult"`
}

// Load reads an optional dotenv file, parses the environment and checks the
// settings shared by every command. Call-specific checks are left to
// Config.Validate.
func Load(envFile string) (*internalconfig.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		LogFormat:                  raw.LogFormat,
		BackendBaseURL:             raw.BackendBaseURL,
		BackendRequestTimeout:      raw.BackendRequestTimeout,
		RTCSignalingURL:            raw.RTCSignalingURL,
		RTCSTUNServers:             raw.RTCSTUNServers,
		RTCJoinTimeout:             raw.RTCJoinTimeout,
		MicrophoneSourcePath:       raw.MicrophoneSourcePath,
		CameraSourcePath:           raw.CameraSourcePath,
		RemoteMediaDir:             raw.RemoteMediaDir,
		DatabaseURL:                raw.DatabaseURL,
		TranscribeProvider:         raw.TranscribeProvider,
		DefaultTranscribeLanguage:  raw.DefaultTranscribeLanguage,
		TranscribeNoSpeechTimeout:  raw.TranscribeNoSpeechTimeout,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		DeepgramAPIKey:             raw.DeepgramAPIKey,
		DeepgramModel:              raw.DeepgramModel,
		TranscriptTimezone:         raw.TranscriptTimezone,
		TranscriptWebhookURL:       raw.TranscriptWebhookURL,
		DiscordToken:               raw.DiscordToken,
		DiscordNotifyChannelID:     raw.DiscordNotifyChannelID,
		StatusAddr:                 raw.StatusAddr,
		CallWindowRefreshInterval:  raw.CallWindowRefreshInterval,
		KeyringService:             raw.KeyringService,
	}
	if err := cfg.ValidateBase(); err != nil {
		return nil, err
	}
	return cfg, nil
}
