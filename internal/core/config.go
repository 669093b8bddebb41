package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"tavern/internal/oracle"
)

// Config holds the application configuration.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"` // debug, info, warn, error
	Debug    bool   `env:"DEBUG"`

	// Not required for basic operations; validated when a narrator session starts
	GeminiAPIKey  string `env:"GEMINI_API_KEY"`
	NarratorModel string `env:"TAVERN_NARRATOR_MODEL" envDefault:"gemini-2.5-pro"`
	SummaryModel  string `env:"TAVERN_SUMMARY_MODEL" envDefault:"gemini-2.5-flash"`
	ImageModel    string `env:"TAVERN_IMAGE_MODEL" envDefault:"gemini-2.5-flash-image"`
	Offline       bool   `env:"TAVERN_OFFLINE"`

	MaxToolRounds     int           `env:"TAVERN_MAX_TOOL_ROUNDS" envDefault:"5"`
	RetryAttempts     int           `env:"TAVERN_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInitialDelay time.Duration `env:"TAVERN_RETRY_INITIAL_DELAY" envDefault:"2s"`
	SummaryEvery      int           `env:"TAVERN_SUMMARY_EVERY" envDefault:"10"`
	SummaryWindow     int           `env:"TAVERN_SUMMARY_WINDOW" envDefault:"10"`

	SaveDir string `env:"TAVERN_SAVE_DIR" envDefault:".tavern/saves"`

	MongoURI      string `env:"TAVERN_MONGO_URI"`
	MongoDatabase string `env:"TAVERN_MONGO_DATABASE" envDefault:"tavern"`
	RelayURL      string `env:"TAVERN_RELAY_URL"`
	RelayAddr     string `env:"TAVERN_RELAY_ADDR" envDefault:":8787"`
}

// LoadConfig loads configuration from an optional .env file and the environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return parseConfig()
}

func parseConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	// DEBUG flag overrides log level
	if cfg.Debug || os.Getenv("DEBUG") == "1" {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks numeric bounds.
func (c *Config) Validate() error {
	if c.MaxToolRounds < 1 {
		return &ValidationError{Field: "TAVERN_MAX_TOOL_ROUNDS", Message: "must be at least 1"}
	}
	if c.RetryAttempts < 1 {
		return &ValidationError{Field: "TAVERN_RETRY_ATTEMPTS", Message: "must be at least 1"}
	}
	if c.SummaryEvery < 1 {
		return &ValidationError{Field: "TAVERN_SUMMARY_EVERY", Message: "must be at least 1"}
	}
	if c.SummaryWindow < 1 {
		return &ValidationError{Field: "TAVERN_SUMMARY_WINDOW", Message: "must be at least 1"}
	}
	return nil
}

// OracleConfig derives the Gemini backend settings.
func (c *Config) OracleConfig() *oracle.Config {
	return &oracle.Config{
		APIKey:        c.GeminiAPIKey,
		NarratorModel: c.NarratorModel,
		SummaryModel:  c.SummaryModel,
		ImageModel:    c.ImageModel,
		Retry:         c.RetryPolicy(),
	}
}

// RetryPolicy derives the oracle retry policy.
func (c *Config) RetryPolicy() oracle.RetryPolicy {
	return oracle.RetryPolicy{
		Attempts:     c.RetryAttempts,
		InitialDelay: c.RetryInitialDelay,
		Multiplier:   2,
	}
}
