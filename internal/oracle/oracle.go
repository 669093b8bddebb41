// Package oracle adapts conversational model backends to the narrator contract
// used by the turn engine.
package oracle

import (
	"context"

	"tavern/pkg/game"
)

// ToolCall is one structured action requested by the oracle.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult answers a ToolCall. Name and ID echo the call.
type ToolResult struct {
	ID     string
	Name   string
	Result string
}

// Input is one message to the oracle: either free text or a batch of tool results.
type Input struct {
	Text    string
	Results []ToolResult
}

// Response is the oracle's reply to one Input.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// Session is a conversational session that remembers prior turns.
type Session interface {
	Send(ctx context.Context, in Input) (*Response, error)
}

// Oracle creates narrator sessions bound to a character.
// Both constructors return ErrNotConfigured when credentials are missing.
type Oracle interface {
	CreateSession(ctx context.Context, character game.Character, summary string) (Session, error)
	ResumeSession(ctx context.Context, character game.Character, transcript []game.Message, summary string) (Session, error)
}

// Summarizer condenses recent transcript entries into a new rolling summary.
type Summarizer interface {
	Summarize(ctx context.Context, previous string, recent []game.Message) (string, error)
}

// ImageGenerator renders an image for a scene description and returns a
// reference usable as Location.ImageURL.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// Turn is one replayed conversation turn.
type Turn struct {
	Role string // "user" or "model"
	Text string
}

// ReplayTurns converts a transcript into conversation turns for resumption.
// Error entries are skipped and system entries are folded into user turns with
// a "[System Info]: " prefix.
func ReplayTurns(transcript []game.Message) []Turn {
	turns := make([]Turn, 0, len(transcript))
	for _, m := range transcript {
		if m.IsError {
			continue
		}
		switch m.Author {
		case game.AuthorUser:
			turns = append(turns, Turn{Role: "user", Text: m.Text})
		case game.AuthorAgent:
			turns = append(turns, Turn{Role: "model", Text: m.Text})
		case game.AuthorSystem:
			turns = append(turns, Turn{Role: "user", Text: SystemInfoPrefix + m.Text})
		}
	}
	return turns
}

// SystemInfoPrefix marks system entries replayed as user turns.
const SystemInfoPrefix = "[System Info]: "
