package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	TranscribeLocal  = "local"
	TranscribeRemote = "remote"

	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config holds process-wide settings read from the environment.
type Config struct {
	Port            string
	UploadDir       string
	MaxUploadBytes  int64
	QueueSize       int
	PipelineWorkers int
	ShutdownTimeout time.Duration

	// Providers
	TranscribeMode       string
	InferenceWorkers     int
	ProviderTimeout      time.Duration
	ProbeTimeout         time.Duration
	ProviderMaxRetryTime time.Duration
	WhisperAPIURL        string
	WhisperAPIKey        string
	WhisperBin           string
	WhisperModel         string
	WhisperLanguage      string
	FFmpegPath           string
	FFprobePath          string
	OllamaURL            string
	OllamaModel          string
	LLMAPIURL            string
	LLMAPIKey            string
	LLMTemperature       float64
	LLMMaxTokens         int

	// Storage
	StoreBackend  string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// HTTP edge
	RateLimitRPM   int
	AdminToken     string
	AllowedOrigins []string
	// TrustedProxies are the peers whose forwarding headers name the client.
	TrustedProxies []netip.Prefix
}

// Load reads configuration from environment variables or uses defaults.
// Call godotenv.Load first if a .env file should be honoured.
func Load() (*Config, error) {
	mode := strings.ToLower(envOr("TRANSCRIBE_MODE", ""))
	if mode == "" {
		mode = TranscribeRemote
		if envBool("USE_LOCAL_WHISPER", true) {
			mode = TranscribeLocal
		}
	}

	cfg := &Config{
		Port:            envOr("PORT", "8000"),
		UploadDir:       envOr("UPLOAD_DIR", "uploads"),
		MaxUploadBytes:  int64(envInt("MAX_UPLOAD_MB", 100)) << 20,
		QueueSize:       envInt("QUEUE_SIZE", 100),
		PipelineWorkers: envInt("PIPELINE_WORKERS", 4),
		ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 10*time.Minute),

		TranscribeMode:       mode,
		InferenceWorkers:     envInt("INFERENCE_WORKERS", 2),
		ProviderTimeout:      envDuration("PROVIDER_TIMEOUT", 5*time.Minute),
		ProbeTimeout:         envDuration("PROBE_TIMEOUT", 5*time.Second),
		ProviderMaxRetryTime: envDuration("PROVIDER_MAX_RETRY_TIME", 0),
		WhisperAPIURL:        strings.TrimRight(os.Getenv("WHISPER_API_URL"), "/"),
		WhisperAPIKey:        os.Getenv("WHISPER_API_KEY"),
		WhisperBin:           envOr("WHISPER_BIN", "whisper-cli"),
		WhisperModel:         envOr("WHISPER_MODEL", "models/ggml-base.bin"),
		WhisperLanguage:      envOr("WHISPER_LANGUAGE", "auto"),
		FFmpegPath:           envOr("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:          envOr("FFPROBE_PATH", "ffprobe"),
		OllamaURL:            strings.TrimRight(envOr("OLLAMA_URL", "http://localhost:11434"), "/"),
		OllamaModel:          envOr("OLLAMA_MODEL", "gemma3"),
		LLMAPIURL:            strings.TrimRight(os.Getenv("LLM_API_URL"), "/"),
		LLMAPIKey:            os.Getenv("LLM_API_KEY"),
		LLMTemperature:       envFloat("LLM_TEMPERATURE", 0.7),
		LLMMaxTokens:         envInt("LLM_MAX_TOKENS", 512),

		StoreBackend:  strings.ToLower(envOr("STORE_BACKEND", StoreMemory)),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		RateLimitRPM:   envInt("RATE_LIMIT_RPM", 0),
		AdminToken:     os.Getenv("ADMIN_TOKEN"),
		AllowedOrigins: splitAndClean(envOr("ALLOWED_ORIGINS", "*")),
	}

	proxies, err := ParsePrefixes(os.Getenv("TRUSTED_PROXIES"))
	if err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	cfg.TrustedProxies = proxies

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.TranscribeMode {
	case TranscribeLocal:
		if c.WhisperModel == "" {
			errs = append(errs, errors.New("WHISPER_MODEL is required for local transcription"))
		}
	case TranscribeRemote:
		if c.WhisperAPIURL == "" {
			errs = append(errs, errors.New("WHISPER_API_URL is required for remote transcription"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TRANSCRIBE_MODE %q", c.TranscribeMode))
	}

	switch c.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	if c.PipelineWorkers <= 0 {
		errs = append(errs, errors.New("PIPELINE_WORKERS must be positive"))
	}
	if c.InferenceWorkers <= 0 {
		errs = append(errs, errors.New("INFERENCE_WORKERS must be positive"))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, errors.New("QUEUE_SIZE must be positive"))
	}
	if c.ProviderTimeout <= 0 || c.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT and PROBE_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

func envOr(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

// envDuration accepts Go durations ("90s") or a bare number of seconds.
func envDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

// ParsePrefixes reads a comma-separated list of CIDRs or bare addresses.
func ParsePrefixes(csv string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, p := range strings.Split(csv, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.Contains(p, "/") {
			pfx, err := netip.ParsePrefix(p)
			if err != nil {
				return nil, err
			}
			out = append(out, pfx.Masked())
			continue
		}
		addr, err := netip.ParseAddr(p)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// splitAndClean splits a comma-separated list and trims spaces; empty entries are removed
func splitAndClean(csv string) []string {
	var out []string
	for _, p := range strings.Split(csv, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
