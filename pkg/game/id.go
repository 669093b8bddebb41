package game

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const sessionAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewMessageID generates a transcript entry ID in format MSG-{nanoid(10)}.
func NewMessageID() (string, error) {
	id, err := gonanoid.New(10)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("MSG-%s", id), nil
}

// NewQuestID generates a quest ID in format QST-{nanoid(10)}.
func NewQuestID() (string, error) {
	id, err := gonanoid.New(10)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("QST-%s", id), nil
}

// NewNoteID generates a journal note ID in format NOTE-{nanoid(10)}.
func NewNoteID() (string, error) {
	id, err := gonanoid.New(10)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("NOTE-%s", id), nil
}

// NewSessionID generates a short, human-shareable multiplayer session code.
func NewSessionID() (string, error) {
	return gonanoid.Generate(sessionAlphabet, 7)
}

// NewParticipantID generates an identifier for one multiplayer participant.
func NewParticipantID() (string, error) {
	id, err := gonanoid.New(12)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("P-%s", id), nil
}
