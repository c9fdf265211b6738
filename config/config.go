package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config defines all configurable parameters for the server, sourced from
// environment variables (loaded from .env for local runs).
type Config struct {
	Environment string `default:"development"`
	Addr        string `default:":8080"`

	// DataDir is the root for run artifacts: data/runs/<id>/intermediate
	// checkpoints, data/runs/<id>/courses/course.json, and archived
	// assessment transcripts under data/sessions/<id>.
	DataDir string `split_words:"true" default:"data"`

	// StaticDir, when set, is served at / for the single-page frontend.
	StaticDir string `split_words:"true"`

	// StoreDriver selects session/job persistence: "memory" or "sqlite".
	StoreDriver string `split_words:"true" default:"memory"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"data/tutorforge.db"`

	TLSEnabled  bool   `envconfig:"TLS_ENABLED"`
	TLSCertFile string `envconfig:"TLS_CERT_FILE" default:"certs/server.crt"`
	TLSKeyFile  string `envconfig:"TLS_KEY_FILE" default:"certs/server.key"`

	// RequestsPerMinute bounds each client IP across the API. The polling
	// cadence (question every 2s, progress every 5s) needs roughly 42/min.
	RequestsPerMinute int `split_words:"true" default:"120"`

	// LLMProvider selects the model backend: "anthropic", "openai" or "mock".
	LLMProvider     string  `envconfig:"LLM_PROVIDER" default:"anthropic"`
	AnthropicAPIKey string  `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicModel  string  `envconfig:"ANTHROPIC_MODEL" default:"claude-sonnet"`
	OpenAIAPIKey    string  `envconfig:"OPENAI_API_KEY"`
	OpenAIModel     string  `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIBaseURL   string  `envconfig:"OPENAI_BASE_URL"`
	MaxTokens       int     `split_words:"true" default:"4096"`
	Temperature     float64 `default:"0.7"`
}

// Load reads .env when present, then populates Config from the environment.
func Load() (Config, error) {
	// Missing .env is fine; real env vars still apply.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("processing environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that envconfig tags cannot express.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown STORE_DRIVER: %q", c.StoreDriver)
	}

	switch c.LLMProvider {
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
	case "mock":
		// No API key needed.
	default:
		return fmt.Errorf("unknown LLM_PROVIDER: %q", c.LLMProvider)
	}
	return nil
}

// Env returns the parsed deployment environment.
func (c Config) Env() Environment {
	return ParseEnvironment(c.Environment)
}
