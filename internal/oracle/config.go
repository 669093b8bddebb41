package oracle

import (
	"fmt"
	"time"
)

// Config contains configuration for the Gemini backends.
type Config struct {
	// APIKey is the Gemini API key
	APIKey string

	// NarratorModel drives the main storytelling session
	// Default: gemini-2.5-pro
	NarratorModel string

	// SummaryModel is the fast model used for background summaries
	// Default: gemini-2.5-flash
	SummaryModel string

	// ImageModel renders location and avatar images
	// Default: gemini-2.5-flash-image
	ImageModel string

	// Retry controls backoff for transient failures
	Retry RetryPolicy
}

// Validate checks that required config fields are set.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrNotConfigured
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
	}
	return nil
}

// SetDefaults fills in default values for optional fields.
func (c *Config) SetDefaults() {
	if c.NarratorModel == "" {
		c.NarratorModel = "gemini-2.5-pro"
	}
	if c.SummaryModel == "" {
		c.SummaryModel = "gemini-2.5-flash"
	}
	if c.ImageModel == "" {
		c.ImageModel = "gemini-2.5-flash-image"
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = 3
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = 2 * time.Second
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2
	}
}

// Sampling settings shared by every narrator backend.
const (
	Temperature = 0.9
	TopK        = 40
	TopP        = 0.95
)
