package core

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name          string
		envVars       map[string]string
		expectedLevel string
		expectError   bool
		check         func(t *testing.T, cfg *Config)
	}{
		{
			name:          "default values",
			envVars:       map[string]string{},
			expectedLevel: "info",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 5, cfg.MaxToolRounds)
				assert.Equal(t, 3, cfg.RetryAttempts)
				assert.Equal(t, 2*time.Second, cfg.RetryInitialDelay)
				assert.Equal(t, 10, cfg.SummaryEvery)
				assert.Equal(t, "gemini-2.5-pro", cfg.NarratorModel)
				assert.Equal(t, ".tavern/saves", cfg.SaveDir)
				assert.Equal(t, "tavern", cfg.MongoDatabase)
				assert.Empty(t, cfg.GeminiAPIKey)
			},
		},
		{
			name:          "custom log level",
			envVars:       map[string]string{"LOG_LEVEL": "warn"},
			expectedLevel: "warn",
		},
		{
			name:          "debug flag overrides log level",
			envVars:       map[string]string{"LOG_LEVEL": "warn", "DEBUG": "1"},
			expectedLevel: "debug",
		},
		{
			name:          "with API key and overrides",
			envVars:       map[string]string{"GEMINI_API_KEY": "test-key", "TAVERN_MAX_TOOL_ROUNDS": "2", "TAVERN_RETRY_INITIAL_DELAY": "250ms"},
			expectedLevel: "info",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "test-key", cfg.GeminiAPIKey)
				assert.Equal(t, 2, cfg.MaxToolRounds)

				oc := cfg.OracleConfig()
				assert.Equal(t, "test-key", oc.APIKey)
				assert.Equal(t, 250*time.Millisecond, oc.Retry.InitialDelay)
				assert.Equal(t, 3, oc.Retry.Attempts)
			},
		},
		{
			name:        "zero tool rounds rejected",
			envVars:     map[string]string{"TAVERN_MAX_TOOL_ROUNDS": "0"},
			expectError: true,
		},
		{
			name:        "malformed number rejected",
			envVars:     map[string]string{"TAVERN_SUMMARY_EVERY": "often"},
			expectError: true,
		},
	}

	keys := []string{
		"LOG_LEVEL", "DEBUG", "GEMINI_API_KEY", "TAVERN_MAX_TOOL_ROUNDS",
		"TAVERN_RETRY_INITIAL_DELAY", "TAVERN_SUMMARY_EVERY",
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range keys {
				unsetEnv(t, k)
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := parseConfig()
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedLevel, cfg.LogLevel)
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

// unsetEnv clears key for the duration of the test.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	orig, had := os.LookupEnv(key)
	os.Unsetenv(key)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, orig)
		} else {
			os.Unsetenv(key)
		}
	})
}
