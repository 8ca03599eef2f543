package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsAndDotenv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("BACKEND_BASE_URL=https://portal.example.com\nRTC_STUN_SERVERS=stun:a:3478,stun:b:3478\n"), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("BACKEND_BASE_URL", "")
	os.Unsetenv("BACKEND_BASE_URL")
	t.Setenv("RTC_STUN_SERVERS", "")
	os.Unsetenv("RTC_STUN_SERVERS")

	cfg, err := Load(envFile)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.BackendBaseURL != "https://portal.example.com" {
		t.Fatalf("unexpected backend url: %q", cfg.BackendBaseURL)
	}
	if len(cfg.RTCSTUNServers) != 2 || cfg.RTCSTUNServers[1] != "stun:b:3478" {
		t.Fatalf("unexpected stun servers: %v", cfg.RTCSTUNServers)
	}
	if cfg.CallWindowRefreshInterval != time.Minute {
		t.Fatalf("unexpected refresh interval: %s", cfg.CallWindowRefreshInterval)
	}
	if cfg.TranscribeProvider != "google" || cfg.StatusAddr != "127.0.0.1:8787" {
		t.Fatalf("unexpected defaults: provider=%q status=%q", cfg.TranscribeProvider, cfg.StatusAddr)
	}
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("expected missing env file to be ignored, got %v", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("CALL_WINDOW_REFRESH_INTERVAL", "soon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}
