// Package wsrelay serves a multiplayer.Store over websockets and provides a
// client that implements the same contract against a remote relay.
package wsrelay

import (
	"errors"

	"tavern/internal/multiplayer"
	"tavern/pkg/game"
)

// Message types sent by clients.
const (
	TypeCreate      = "create"
	TypeGet         = "get"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeAppend      = "append"
	TypeUpdate      = "update"
)

// Message types sent by the server.
const (
	TypeOK    = "ok"
	TypeError = "error"
	TypeDoc   = "doc"
)

// Error codes carried by TypeError replies.
const (
	CodeNotFound = "NOT_FOUND"
	CodeExists   = "EXISTS"
	CodeBadInput = "BAD_REQUEST"
	CodeInternal = "INTERNAL"
)

// readLimit bounds one frame. Documents carry inline images.
const readLimit = 16 << 20

// Msg is the envelope for every frame in both directions. Req correlates a
// reply with its request; doc pushes carry Req 0.
type Msg struct {
	T       string         `json:"t"`
	Req     uint64         `json:"req,omitempty"`
	Session string         `json:"session,omitempty"`
	Doc     *game.Document `json:"doc,omitempty"`
	Message *game.Message  `json:"message,omitempty"`
	Patch   *game.Patch    `json:"patch,omitempty"`
	Error   string         `json:"error,omitempty"`
	Code    string         `json:"code,omitempty"`
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, multiplayer.ErrSessionNotFound):
		return CodeNotFound
	case errors.Is(err, multiplayer.ErrSessionExists):
		return CodeExists
	}
	return CodeInternal
}

// RemoteError is an error reported by the relay server.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Unwrap maps well-known codes back to the store sentinels.
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeNotFound:
		return multiplayer.ErrSessionNotFound
	case CodeExists:
		return multiplayer.ErrSessionExists
	}
	return nil
}
