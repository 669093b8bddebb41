// Package multiplayer keeps a shared session document in step with the local
// game state of every participant.
package multiplayer

import (
	"context"
	"errors"
	"slices"

	"tavern/pkg/game"
)

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists is returned when creating a session id that is taken.
	ErrSessionExists = errors.New("session already exists")
)

// Store is a shared document store keyed by session id.
//
// AppendToTranscript has array-union semantics: an entry whose id is already
// present is ignored. UpdateFields writes only the fields set in the patch and
// the last writer wins. Subscribe calls fn with the current document and again
// after every change until the returned function is called or ctx ends.
type Store interface {
	Create(ctx context.Context, id string, doc game.Document) error
	Get(ctx context.Context, id string) (game.Document, error)
	Subscribe(ctx context.Context, id string, fn func(game.Document)) (unsubscribe func(), err error)
	AppendToTranscript(ctx context.Context, id string, msg game.Message) error
	UpdateFields(ctx context.Context, id string, patch game.Patch) error
}

// CloneDocument deep-copies d so stores never share slices with callers.
func CloneDocument(d game.Document) game.Document {
	if d.Character != nil {
		c := d.Character.Clone()
		d.Character = &c
	}
	d.Transcript = slices.Clone(d.Transcript)
	d.Quests = slices.Clone(d.Quests)
	d.Notes = slices.Clone(d.Notes)
	d.Combat = d.Combat.Clone()
	d.MapTokens = slices.Clone(d.MapTokens)
	return d
}

// HasMessage reports whether transcript already holds an entry with id.
func HasMessage(transcript []game.Message, id string) bool {
	return slices.ContainsFunc(transcript, func(m game.Message) bool { return m.ID == id })
}
