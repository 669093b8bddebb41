package core

import (
	"errors"
	"fmt"
)

var (
	// ErrAwaitingRoll rejects submissions while a dice roll is pending.
	ErrAwaitingRoll = errors.New("a dice roll is pending")

	// ErrTurnInProgress rejects submissions while the narrator is working.
	ErrTurnInProgress = errors.New("a turn is already in progress")

	// ErrInterruptPending is returned when a second roll would overwrite the pending one.
	ErrInterruptPending = errors.New("an interrupt is already pending")

	// ErrEmptyUtterance rejects blank submissions.
	ErrEmptyUtterance = errors.New("nothing to say")

	// ErrNoNarrator is returned when a turn is attempted before the session has an oracle session.
	ErrNoNarrator = errors.New("no narrator session")
)

// ValidationError represents a validation failure.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// TurnError is a failed oracle round. The turn ended and the failure was
// recorded in the transcript.
type TurnError struct {
	Round   int
	Message string
	Err     error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn round %d: %s", e.Round, e.Message)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// RelayError represents a failed exchange with the multiplayer relay.
type RelayError struct {
	Operation string
	SessionID string
	Err       error
}

func (e *RelayError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("relay %s for session %s: %v", e.Operation, e.SessionID, e.Err)
	}
	return fmt.Sprintf("relay %s: %v", e.Operation, e.Err)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}
