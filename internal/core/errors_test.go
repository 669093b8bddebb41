package core

import (
	"errors"
	"testing"
)

func TestValidationError(t *testing.T) {
	baseErr := errors.New("base error")

	tests := []struct {
		name     string
		err      *ValidationError
		expected string
	}{
		{
			name: "with field",
			err: &ValidationError{
				Field:   "TAVERN_MAX_TOOL_ROUNDS",
				Message: "must be at least 1",
				Err:     baseErr,
			},
			expected: "TAVERN_MAX_TOOL_ROUNDS: must be at least 1",
		},
		{
			name: "without field",
			err: &ValidationError{
				Message: "invalid input",
				Err:     baseErr,
			},
			expected: "invalid input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("ValidationError.Error() = %v, want %v", got, tt.expected)
			}

			// Test Unwrap
			if !errors.Is(tt.err, baseErr) {
				t.Error("ValidationError should wrap base error")
			}
		})
	}
}

func TestTurnError(t *testing.T) {
	baseErr := errors.New("base error")

	err := &TurnError{
		Round:   2,
		Message: "oracle unavailable",
		Err:     baseErr,
	}

	expected := "turn round 2: oracle unavailable"
	if got := err.Error(); got != expected {
		t.Errorf("TurnError.Error() = %v, want %v", got, expected)
	}

	// Test Unwrap
	if !errors.Is(err, baseErr) {
		t.Error("TurnError should wrap base error")
	}
}

func TestRelayError(t *testing.T) {
	baseErr := errors.New("base error")

	tests := []struct {
		name     string
		err      *RelayError
		expected string
	}{
		{
			name: "with session",
			err: &RelayError{
				Operation: "append",
				SessionID: "ABC1234",
				Err:       baseErr,
			},
			expected: "relay append for session ABC1234: base error",
		},
		{
			name: "without session",
			err: &RelayError{
				Operation: "connect",
				Err:       baseErr,
			},
			expected: "relay connect: base error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("RelayError.Error() = %v, want %v", got, tt.expected)
			}

			// Test Unwrap
			if !errors.Is(tt.err, baseErr) {
				t.Error("RelayError should wrap base error")
			}
		})
	}
}
