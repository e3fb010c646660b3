package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"TRANSCRIBE_MODE", "USE_LOCAL_WHISPER", "STORE_BACKEND", "PORT", "PROVIDER_TIMEOUT", "ALLOWED_ORIGINS", "TRUSTED_PROXIES"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "8000" {
		t.Fatalf("port = %q, want 8000", cfg.Port)
	}
	if cfg.TranscribeMode != TranscribeLocal {
		t.Fatalf("transcribe mode = %q, want local", cfg.TranscribeMode)
	}
	if cfg.StoreBackend != StoreMemory {
		t.Fatalf("store = %q, want memory", cfg.StoreBackend)
	}
	if cfg.ProviderTimeout != 5*time.Minute {
		t.Fatalf("provider timeout = %v, want 5m", cfg.ProviderTimeout)
	}
	if cfg.MaxUploadBytes != 100<<20 {
		t.Fatalf("max upload = %d", cfg.MaxUploadBytes)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("allowed origins = %v", cfg.AllowedOrigins)
	}
	if len(cfg.TrustedProxies) != 0 {
		t.Fatalf("trusted proxies = %v, want none", cfg.TrustedProxies)
	}
}

func TestLoadUseLocalWhisperFalseSelectsRemote(t *testing.T) {
	t.Setenv("TRANSCRIBE_MODE", "")
	t.Setenv("USE_LOCAL_WHISPER", "false")
	t.Setenv("WHISPER_API_URL", "https://whisper.example/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TranscribeMode != TranscribeRemote {
		t.Fatalf("mode = %q, want remote", cfg.TranscribeMode)
	}
	if cfg.WhisperAPIURL != "https://whisper.example" {
		t.Fatalf("whisper url = %q, want trailing slash trimmed", cfg.WhisperAPIURL)
	}
}

func TestLoadRejectsIncompleteBackends(t *testing.T) {
	t.Setenv("TRANSCRIBE_MODE", "remote")
	t.Setenv("WHISPER_API_URL", "")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"WHISPER_API_URL", "DATABASE_URL"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestEnvDurationAcceptsSeconds(t *testing.T) {
	t.Setenv("X_TIMEOUT", "90")
	if got := envDuration("X_TIMEOUT", time.Second); got != 90*time.Second {
		t.Fatalf("envDuration = %v, want 90s", got)
	}
	t.Setenv("X_TIMEOUT", "2m")
	if got := envDuration("X_TIMEOUT", time.Second); got != 2*time.Minute {
		t.Fatalf("envDuration = %v, want 2m", got)
	}
	t.Setenv("X_TIMEOUT", "nope")
	if got := envDuration("X_TIMEOUT", time.Second); got != time.Second {
		t.Fatalf("envDuration = %v, want default", got)
	}
}

func TestSplitAndClean(t *testing.T) {
	got := splitAndClean(" https://a.example , ,https://b.example ")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("splitAndClean = %v", got)
	}
	if got := splitAndClean(" , "); len(got) != 1 || got[0] != "*" {
		t.Fatalf("empty list = %v, want [*]", got)
	}
}

func TestParsePrefixes(t *testing.T) {
	got, err := ParsePrefixes(" 10.0.0.0/8, 192.0.2.7 ,, ::1 ")
	if err != nil {
		t.Fatalf("ParsePrefixes() error = %v", err)
	}
	want := []string{"10.0.0.0/8", "192.0.2.7/32", "::1/128"}
	if len(got) != len(want) {
		t.Fatalf("ParsePrefixes() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Fatalf("prefix %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestLoadRejectsBadTrustedProxy(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,not-an-ip")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "TRUSTED_PROXIES") {
		t.Fatalf("Load() error = %v, want TRUSTED_PROXIES error", err)
	}
}
