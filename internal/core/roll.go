package core

import (
	"context"
	"fmt"
	"sync"

	"tavern/internal/oracle"
	"tavern/pkg/game"
)

// RollResolver owns the single pending-roll slot.
type RollResolver struct {
	engine *TurnEngine
	board  Board

	mu      sync.Mutex
	pending *PendingRoll
}

// NewRollResolver creates a resolver that resumes engine once a roll is settled.
func NewRollResolver(engine *TurnEngine, board Board) *RollResolver {
	return &RollResolver{engine: engine, board: board}
}

// Capture takes ownership of p. It fails if a roll is already pending.
func (r *RollResolver) Capture(p *PendingRoll) error {
	if p == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending != nil {
		return fmt.Errorf("%w: call %s still waiting", ErrInterruptPending, r.pending.CallID)
	}
	r.pending = p
	return nil
}

// IsAwaitingRoll reports whether a roll is pending.
func (r *RollResolver) IsAwaitingRoll() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != nil
}

// Discard drops the pending roll, if any. It reports whether one was dropped.
func (r *RollResolver) Discard() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	had := r.pending != nil
	r.pending = nil
	return had
}

// Pending returns a copy of the pending roll for display.
func (r *RollResolver) Pending() (PendingRoll, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return PendingRoll{}, false
	}
	return r.pending.clone(), true
}

// Resolve settles the pending roll with a raw die value. It reports false when
// nothing was pending. Once the last queued roll is settled the combined
// results are handed to the turn engine.
func (r *RollResolver) Resolve(ctx context.Context, raw int) (bool, error) {
	r.mu.Lock()
	p := r.pending
	r.pending = nil
	r.mu.Unlock()
	if p == nil {
		return false, nil
	}

	mod := 0
	if score, ok := r.board.Character().Stats.Score(p.Ability); ok {
		mod = game.Modifier(score)
	}
	total := raw + mod
	r.board.Post(game.AuthorSystem, describeRoll(p.RollRequest, raw, mod, total), false)

	results := make([]oracle.ToolResult, 0, len(p.Deferred)+1)
	results = append(results, p.Deferred...)
	results = append(results, oracle.ToolResult{
		ID:     p.CallID,
		Name:   oracle.ToolRequestRoll,
		Result: fmt.Sprintf("Player rolled: %d", total),
	})

	if len(p.Queued) > 0 {
		next := &PendingRoll{RollRequest: p.Queued[0], Deferred: results, Queued: p.Queued[1:]}
		return true, r.Capture(next)
	}

	next, err := r.engine.Continue(ctx, results)
	if captureErr := r.Capture(next); captureErr != nil {
		return true, captureErr
	}
	return true, err
}

func describeRoll(req RollRequest, raw, mod, total int) string {
	label := req.Ability
	if req.Skill != "" {
		label = fmt.Sprintf("%s (%s)", req.Ability, req.Skill)
	}
	text := fmt.Sprintf("[%s check]: rolled %d %s = %d", label, raw, game.FormatModifier(mod), total)
	if req.DC > 0 {
		verdict := "failure"
		if total >= req.DC {
			verdict = "success"
		}
		text += fmt.Sprintf(" vs DC %d, %s", req.DC, verdict)
	}
	return text
}
