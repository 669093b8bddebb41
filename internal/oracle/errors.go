package oracle

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotConfigured is returned when no oracle credentials are available.
var ErrNotConfigured = errors.New("oracle not configured: set GEMINI_API_KEY")

// OracleError represents an error from an oracle backend.
type OracleError struct {
	// Type categorizes the error
	Type string

	// Message is a human-readable error message
	Message string

	// Code is the HTTP status code (if applicable)
	Code int

	// Err is the underlying error
	Err error
}

// Error types.
const (
	ErrorTypeConfig      = "config"
	ErrorTypeNetwork     = "network"
	ErrorTypeAPI         = "api"
	ErrorTypeRateLimit   = "rate_limit"
	ErrorTypeUnavailable = "unavailable"
	ErrorTypeParse       = "parse"
)

// Error implements the error interface.
func (e *OracleError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("oracle %s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("oracle %s error: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *OracleError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the same request may succeed.
func (e *OracleError) Transient() bool {
	return e.Type == ErrorTypeRateLimit || e.Type == ErrorTypeUnavailable
}

// NewNetworkError creates a network error.
func NewNetworkError(err error) *OracleError {
	return &OracleError{
		Type:    ErrorTypeNetwork,
		Message: "Failed to reach the oracle. Check your network connection.",
		Err:     err,
	}
}

// NewAPIError creates an API error with status code. Rate limit and unavailable
// codes get their own types so the retry policy can recognise them.
func NewAPIError(code int, message string) *OracleError {
	typ := ErrorTypeAPI
	switch code {
	case http.StatusTooManyRequests:
		typ = ErrorTypeRateLimit
	case http.StatusServiceUnavailable:
		typ = ErrorTypeUnavailable
	}
	return &OracleError{
		Type:    typ,
		Code:    code,
		Message: message,
	}
}

// NewParseError creates a parse error.
func NewParseError(content string, err error) *OracleError {
	return &OracleError{
		Type:    ErrorTypeParse,
		Message: fmt.Sprintf("Failed to parse oracle output: %s", content),
		Err:     err,
	}
}

// IsTransient reports whether err is worth retrying: rate limits, temporary
// unavailability, or any error whose message carries a 429.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var oe *OracleError
	if errors.As(err, &oe) && oe.Transient() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(msg, "UNAVAILABLE")
}

// classify wraps a raw backend error into an OracleError.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var oe *OracleError
	if errors.As(err, &oe) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED"):
		return &OracleError{Type: ErrorTypeRateLimit, Code: http.StatusTooManyRequests, Message: msg, Err: err}
	case strings.Contains(msg, "503") || strings.Contains(msg, "UNAVAILABLE"):
		return &OracleError{Type: ErrorTypeUnavailable, Code: http.StatusServiceUnavailable, Message: msg, Err: err}
	}
	return &OracleError{Type: ErrorTypeAPI, Message: msg, Err: err}
}
