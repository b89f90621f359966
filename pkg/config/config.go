// Package config loads data vault configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultMaxInlineRows   = 100
	DefaultMaxInlineTokens = 10000
	DefaultMaxInlineBytes  = 51200
	DefaultTTLSeconds      = 1800
	DefaultGraceSeconds    = 300
	DefaultListenAddr      = ":8080"
)

// Config holds the full runtime configuration of the vault process.
type Config struct {
	// RedisURL is the key-value backend URL. Required.
	RedisURL string

	// ListenAddr is the HTTP retrieval API bind address.
	ListenAddr string

	// Offload thresholds. A tool result is offloaded when it is an array
	// and any threshold is exceeded.
	MaxInlineRows   int
	MaxInlineBytes  int
	MaxInlineTokens int

	// TTL is the vault entry lifetime; GracePeriod is the shortened
	// lifetime applied on first retrieval.
	TTL         time.Duration
	GracePeriod time.Duration

	Analysis AnalysisConfig
}

// AnalysisConfig configures the analysis agent's LLM provider.
type AnalysisConfig struct {
	Provider    string // "anthropic" or "openai"; empty disables analysis
	Model       string
	APIKey      string
	Host        string
	Timeout     int // seconds
	MaxRetries  int
	RetryDelay  int // seconds
	Temperature float64
	MaxTokens   int
}

// LoadEnvFiles loads .env.local and .env if present.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// FromEnv builds a Config from environment variables, applying defaults.
// A malformed integer variable is a startup error, not a silent fallback.
func FromEnv() (*Config, error) {
	env := &envReader{}
	cfg := &Config{
		RedisURL:        os.Getenv("REDIS_URL"),
		ListenAddr:      envOr("DATA_VAULT_LISTEN_ADDR", DefaultListenAddr),
		MaxInlineRows:   env.intOr("DATA_VAULT_MAX_INLINE_ROWS", DefaultMaxInlineRows),
		MaxInlineBytes:  env.intOr("DATA_VAULT_MAX_INLINE_BYTES", DefaultMaxInlineBytes),
		MaxInlineTokens: env.intOr("DATA_VAULT_MAX_INLINE_TOKENS", DefaultMaxInlineTokens),
		TTL:             time.Duration(env.intOr("DATA_VAULT_TTL_SECONDS", DefaultTTLSeconds)) * time.Second,
		GracePeriod:     time.Duration(env.intOr("DATA_VAULT_GRACE_PERIOD_SECONDS", DefaultGraceSeconds)) * time.Second,
		Analysis: AnalysisConfig{
			Provider: os.Getenv("ANALYSIS_PROVIDER"),
			Model:    os.Getenv("ANALYSIS_MODEL"),
			Host:     os.Getenv("ANALYSIS_BASE_URL"),
			Timeout:  env.intOr("ANALYSIS_TIMEOUT_SECONDS", 10),
		},
	}
	if env.err != nil {
		return nil, env.err
	}
	cfg.Analysis.APIKey = ProviderAPIKey(cfg.Analysis.Provider)
	cfg.Analysis.SetDefaults()
	return cfg, nil
}

// SetDefaults fills zero values with defaults.
func (c *AnalysisConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 1
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
}

// Validate checks the configuration for startup errors.
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.MaxInlineRows <= 0 || c.MaxInlineBytes <= 0 || c.MaxInlineTokens <= 0 {
		return fmt.Errorf("offload thresholds must be positive")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("DATA_VAULT_TTL_SECONDS must be positive")
	}
	if c.GracePeriod <= 0 || c.GracePeriod > c.TTL {
		return fmt.Errorf("DATA_VAULT_GRACE_PERIOD_SECONDS must be positive and not exceed the TTL")
	}
	if c.Analysis.Provider != "" {
		switch c.Analysis.Provider {
		case "anthropic", "openai":
		default:
			return fmt.Errorf("unsupported analysis provider: %s", c.Analysis.Provider)
		}
		if c.Analysis.Model == "" {
			return fmt.Errorf("ANALYSIS_MODEL is required when ANALYSIS_PROVIDER is set")
		}
		if c.Analysis.APIKey == "" {
			return fmt.Errorf("API key is required for analysis provider %s", c.Analysis.Provider)
		}
	}
	return nil
}

// ProviderAPIKey returns the conventional API key env var for a provider.
func ProviderAPIKey(providerType string) string {
	switch providerType {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		return ""
	}
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envReader collects the first malformed-integer error while reading a
// batch of variables.
type envReader struct {
	err error
}

func (r *envReader) intOr(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		if r.err == nil {
			r.err = fmt.Errorf("%s must be an integer, got %q", key, v)
		}
		return defaultVal
	}
	return n
}
