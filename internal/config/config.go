package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	TranscribeProviderGoogle   = "google"
	TranscribeProviderDeepgram = "deepgram"
	TranscribeProviderNone     = "none"
)

type Config struct {
	Env       string
	LogFormat string

	BackendBaseURL        string
	BackendRequestTimeout time.Duration

	RTCSignalingURL string
	RTCSTUNServers  []string
	RTCJoinTimeout  time.Duration

	MicrophoneSourcePath string
	CameraSourcePath     string
	RemoteMediaDir       string

	DatabaseURL string

	TranscribeProvider         string
	DefaultTranscribeLanguage  string
	TranscribeNoSpeechTimeout  time.Duration
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string
	DeepgramAPIKey             string
	DeepgramModel              string

	TranscriptTimezone   string
	TranscriptWebhookURL string

	DiscordToken           string
	DiscordNotifyChannelID string

	StatusAddr                string
	CallWindowRefreshInterval time.Duration
	KeyringService            string
}

// ValidateBase checks the settings every command depends on.
func (c *Config) ValidateBase() error {
	switch c.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if c.TranscriptTimezone == "" {
		return fmt.Errorf("TRANSCRIPT_TIMEZONE is required")
	}
	if _, err := time.LoadLocation(c.TranscriptTimezone); err != nil {
		return fmt.Errorf("TRANSCRIPT_TIMEZONE is invalid: %w", err)
	}
	if c.CallWindowRefreshInterval <= 0 {
		return fmt.Errorf("CALL_WINDOW_REFRESH_INTERVAL must be positive, got %s", c.CallWindowRefreshInterval)
	}
	if c.KeyringService == "" {
		return fmt.Errorf("KEYRING_SERVICE is required")
	}
	return nil
}

// Validate checks everything needed to run a call.
func (c *Config) Validate() error {
	if err := c.ValidateBase(); err != nil {
		return err
	}
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if u, err := url.Parse(c.BackendBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("BACKEND_BASE_URL must be an absolute URL, got %q", c.BackendBaseURL)
	}
	if u, err := url.Parse(c.RTCSignalingURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("RTC_SIGNALING_URL must be a ws:// or wss:// URL, got %q", c.RTCSignalingURL)
	}
	if c.BackendRequestTimeout <= 0 {
		return fmt.Errorf("BACKEND_REQUEST_TIMEOUT must be positive, got %s", c.BackendRequestTimeout)
	}
	if c.RTCJoinTimeout <= 0 {
		return fmt.Errorf("RTC_JOIN_TIMEOUT must be positive, got %s", c.RTCJoinTimeout)
	}
	switch c.TranscribeProvider {
	case TranscribeProviderGoogle:
		if c.GoogleCloudProjectID == "" || c.GoogleCloudCredentialsJSON == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID and GOOGLE_CLOUD_CREDENTIALS_JSON are required when TRANSCRIBE_PROVIDER=google")
		}
	case TranscribeProviderDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when TRANSCRIBE_PROVIDER=deepgram")
		}
	case TranscribeProviderNone:
	default:
		return fmt.Errorf("TRANSCRIBE_PROVIDER must be google, deepgram or none, got %q", c.TranscribeProvider)
	}
	if c.TranscribeProvider != TranscribeProviderNone && c.TranscribeNoSpeechTimeout <= 0 {
		return fmt.Errorf("TRANSCRIBE_NO_SPEECH_TIMEOUT must be positive, got %s", c.TranscribeNoSpeechTimeout)
	}
	if (c.DiscordToken == "") != (c.DiscordNotifyChannelID == "") {
		return fmt.Errorf("DISCORD_TOKEN and DISCORD_NOTIFY_CHANNEL_ID must be set together")
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "BACKEND_BASE_URL", value: c.BackendBaseURL},
		{name: "RTC_SIGNALING_URL", value: c.RTCSignalingURL},
		{name: "DATABASE_URL", value: c.DatabaseURL},
		{name: "DEFAULT_TRANSCRIBE_LANGUAGE", value: c.DefaultTranscribeLanguage},
		{name: "STATUS_ADDR", value: strings.TrimSpace(c.StatusAddr)},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) DiscordEnabled() bool {
	return c.DiscordToken != "" && c.DiscordNotifyChannelID != ""
}

func (c *Config) TranscriptLocation() *time.Location {
	loc, err := time.LoadLocation(c.TranscriptTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
