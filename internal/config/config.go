// Package config loads runtime settings from SQLPROXY_* environment
// variables on top of built-in defaults.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults
const (
	DefaultAddr           = ":8000"
	DefaultMaxRows        = 1000
	DefaultQueryTimeout   = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultLogLevel       = "info"
	DefaultPermissionsRPS = 5.0
	DefaultOpenAIModel    = "gpt-4"
	DefaultOpenAIBaseURL  = "https://api.openai.com/v1"
	DefaultGeminiModel    = "gemini-2.0-flash"
	DefaultAIRPS          = 2.0
)

// AI providers
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderMock   = "mock"
)

// Config holds every setting the binary reads from its environment.
type Config struct {
	Addr           string
	MaxRows        int
	QueryTimeout   time.Duration
	ConnectTimeout time.Duration
	LogLevel       string

	PermissionsURL   string
	PermissionsToken string
	PermissionsRPS   float64

	AIProvider    string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string
	AIRPS         float64

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:           DefaultAddr,
		MaxRows:        DefaultMaxRows,
		QueryTimeout:   DefaultQueryTimeout,
		ConnectTimeout: DefaultConnectTimeout,
		LogLevel:       DefaultLogLevel,
		PermissionsRPS: DefaultPermissionsRPS,
		AIProvider:     ProviderMock,
		OpenAIModel:    DefaultOpenAIModel,
		OpenAIBaseURL:  DefaultOpenAIBaseURL,
		GeminiModel:    DefaultGeminiModel,
		AIRPS:          DefaultAIRPS,
	}
}

// Load reads the environment over Default.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("SQLPROXY_ADDR", &cfg.Addr)
	str("SQLPROXY_LOG_LEVEL", &cfg.LogLevel)
	str("SQLPROXY_PERMISSIONS_URL", &cfg.PermissionsURL)
	str("SQLPROXY_PERMISSIONS_TOKEN", &cfg.PermissionsToken)
	str("SQLPROXY_OPENAI_API_KEY", &cfg.OpenAIAPIKey)
	str("SQLPROXY_OPENAI_MODEL", &cfg.OpenAIModel)
	str("SQLPROXY_OPENAI_BASE_URL", &cfg.OpenAIBaseURL)
	str("SQLPROXY_GEMINI_API_KEY", &cfg.GeminiAPIKey)
	str("SQLPROXY_GEMINI_MODEL", &cfg.GeminiModel)
	str("SQLPROXY_GEMINI_BASE_URL", &cfg.GeminiBaseURL)
	str("SQLPROXY_JWT_SECRET", &cfg.JWTSecret)
	str("SQLPROXY_JWT_ISSUER", &cfg.JWTIssuer)
	str("SQLPROXY_JWT_AUDIENCE", &cfg.JWTAudience)

	// A key without an explicit provider selects its provider, OpenAI first.
	switch {
	case cfg.OpenAIAPIKey != "":
		cfg.AIProvider = ProviderOpenAI
	case cfg.GeminiAPIKey != "":
		cfg.AIProvider = ProviderGemini
	}
	str("SQLPROXY_AI_PROVIDER", &cfg.AIProvider)
	cfg.AIProvider = strings.ToLower(cfg.AIProvider)

	if v, ok := lookup("SQLPROXY_MAX_ROWS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid SQLPROXY_MAX_ROWS %q: must be a positive integer", v)
		}
		cfg.MaxRows = n
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"SQLPROXY_QUERY_TIMEOUT", &cfg.QueryTimeout},
		{"SQLPROXY_CONNECT_TIMEOUT", &cfg.ConnectTimeout},
	}
	for _, d := range durations {
		v, ok := lookup(d.name)
		if !ok || v == "" {
			continue
		}
		dur, err := time.ParseDuration(v)
		if err != nil || dur <= 0 {
			return Config{}, fmt.Errorf("invalid %s %q: must be a positive duration (e.g. 30s)", d.name, v)
		}
		*d.dst = dur
	}

	rates := []struct {
		name string
		dst  *float64
	}{
		{"SQLPROXY_PERMISSIONS_RPS", &cfg.PermissionsRPS},
		{"SQLPROXY_AI_RPS", &cfg.AIRPS},
	}
	for _, r := range rates {
		v, ok := lookup(r.name)
		if !ok || v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return Config{}, fmt.Errorf("invalid %s %q: must be a non-negative number", r.name, v)
		}
		*r.dst = f
	}

	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, err
	}
	switch cfg.AIProvider {
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return Config{}, fmt.Errorf("SQLPROXY_AI_PROVIDER=openai requires SQLPROXY_OPENAI_API_KEY")
		}
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return Config{}, fmt.Errorf("SQLPROXY_AI_PROVIDER=gemini requires SQLPROXY_GEMINI_API_KEY")
		}
	case ProviderMock:
	default:
		return Config{}, fmt.Errorf("invalid SQLPROXY_AI_PROVIDER %q (supported: openai, gemini, mock)", cfg.AIProvider)
	}

	return cfg, nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid SQLPROXY_LOG_LEVEL %q (supported: debug, info, warn, error)", name)
	}
}
