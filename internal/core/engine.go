package core

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tavern/internal/oracle"
	"tavern/pkg/game"
)

// DefaultMaxToolRounds bounds tool-result batches per Submit or Continue.
const DefaultMaxToolRounds = 5

const (
	turnFailedText = "The Dungeon Master lost their train of thought... (network or logic error)"
	noNarratorText = "The Dungeon Master is not at the table. Check GEMINI_API_KEY or use offline mode."
)

// Board is what the turn engine reads and mutates. Implementations serialize
// access to the underlying game state.
type Board interface {
	// Post appends an agent- or system-authored transcript entry.
	Post(author game.Author, text string, isError bool)
	// Apply executes one auto-tool and records its log line.
	Apply(inv Invocation) Outcome
	// Character returns a copy of the current character.
	Character() game.Character
}

// RollRequest is a request_roll call awaiting a human.
type RollRequest struct {
	CallID string
	RequestRoll
}

// PendingRoll is the single interrupt slot: the roll being waited on, the
// auto-tool results held back until it resolves, and any further roll requests
// from the same batch.
type PendingRoll struct {
	RollRequest
	Deferred []oracle.ToolResult
	Queued   []RollRequest
}

func (p *PendingRoll) clone() PendingRoll {
	c := *p
	c.Deferred = append([]oracle.ToolResult(nil), p.Deferred...)
	c.Queued = append([]RollRequest(nil), p.Queued...)
	return c
}

// TurnEngine runs the send / execute tools / send results loop against one
// oracle session.
type TurnEngine struct {
	session   oracle.Session
	board     Board
	maxRounds int
	logger    Logger
	tracer    trace.Tracer
}

// NewTurnEngine creates an engine. session may be nil until Bind is called and
// should already carry the retry policy.
func NewTurnEngine(session oracle.Session, board Board, maxRounds int, logger Logger) *TurnEngine {
	if maxRounds < 1 {
		maxRounds = DefaultMaxToolRounds
	}
	return &TurnEngine{
		session:   session,
		board:     board,
		maxRounds: maxRounds,
		logger:    logger,
		tracer:    otel.Tracer("tavern/internal/core"),
	}
}

// Bind replaces the oracle session. Callers must not bind during a turn.
func (e *TurnEngine) Bind(session oracle.Session) {
	e.session = session
}

// Submit sends a user utterance and runs the tool loop. A non-nil PendingRoll
// means the turn stopped for a dice roll.
func (e *TurnEngine) Submit(ctx context.Context, utterance string) (*PendingRoll, error) {
	ctx, span := e.tracer.Start(ctx, "turn.submit")
	defer span.End()
	return e.run(ctx, span, oracle.Input{Text: utterance})
}

// Continue sends a batch of tool results and runs the tool loop.
func (e *TurnEngine) Continue(ctx context.Context, results []oracle.ToolResult) (*PendingRoll, error) {
	ctx, span := e.tracer.Start(ctx, "turn.continue")
	defer span.End()
	return e.run(ctx, span, oracle.Input{Results: results})
}

func (e *TurnEngine) run(ctx context.Context, span trace.Span, in oracle.Input) (*PendingRoll, error) {
	if e.session == nil {
		e.board.Post(game.AuthorSystem, noNarratorText, true)
		return nil, ErrNoNarrator
	}

	resp, err := e.send(ctx, 0, in)
	if err != nil {
		return nil, e.fail(span, 0, err)
	}

	for round := 0; ; {
		if resp.Text != "" {
			e.board.Post(game.AuthorAgent, resp.Text, false)
		}
		if len(resp.ToolCalls) == 0 {
			span.SetAttributes(attribute.Int("turn.rounds", round))
			return nil, nil
		}
		if round >= e.maxRounds {
			e.logger.Warn("Tool round limit reached", "rounds", round, "dropped_calls", len(resp.ToolCalls))
			e.board.Post(game.AuthorSystem, fmt.Sprintf("The narrator kept calling tools; turn stopped after %d rounds.", round), false)
			span.SetAttributes(attribute.Int("turn.rounds", round), attribute.Bool("turn.bounded", true))
			return nil, nil
		}

		results, rolls := e.execute(resp.ToolCalls)
		if len(rolls) > 0 {
			span.SetAttributes(attribute.Int("turn.rounds", round), attribute.Bool("turn.interrupted", true))
			return &PendingRoll{RollRequest: rolls[0], Deferred: results, Queued: rolls[1:]}, nil
		}

		round++
		resp, err = e.send(ctx, round, oracle.Input{Results: results})
		if err != nil {
			return nil, e.fail(span, round, err)
		}
	}
}

func (e *TurnEngine) send(ctx context.Context, round int, in oracle.Input) (*oracle.Response, error) {
	ctx, span := e.tracer.Start(ctx, "oracle.send", trace.WithAttributes(
		attribute.Int("round", round),
		attribute.Int("tool_results", len(in.Results)),
	))
	defer span.End()

	resp, err := e.session.Send(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("tool_calls", len(resp.ToolCalls)))
	return resp, nil
}

// execute applies every auto-tool in order and collects roll requests.
func (e *TurnEngine) execute(calls []oracle.ToolCall) ([]oracle.ToolResult, []RollRequest) {
	results := make([]oracle.ToolResult, 0, len(calls))
	var rolls []RollRequest
	for _, call := range calls {
		inv := Decode(call)
		if roll, ok := inv.(RequestRoll); ok {
			rolls = append(rolls, RollRequest{CallID: call.ID, RequestRoll: roll})
			continue
		}
		e.logger.Debug("Executing tool", "tool", call.Name, "call_id", call.ID)
		out := e.board.Apply(inv)
		results = append(results, oracle.ToolResult{ID: call.ID, Name: call.Name, Result: out.Result})
	}
	return results, rolls
}

func (e *TurnEngine) fail(span trace.Span, round int, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "turn failed")
	e.logger.Error("Oracle round failed", "round", round, "error", err)
	e.board.Post(game.AuthorSystem, turnFailedText, true)
	return &TurnError{Round: round, Message: "oracle send failed", Err: err}
}
