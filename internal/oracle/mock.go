package oracle

import (
	"context"
	"sync"

	"tavern/pkg/game"
)

// ScriptedOracle is a mock oracle for testing. Every session it creates replays
// the same Responses queue in order; once exhausted it answers with Fallback.
type ScriptedOracle struct {
	mu sync.Mutex

	Responses []*Response // consumed in order
	Errors    []error     // Errors[i] is returned instead of Responses[i] when non-nil
	Fallback  *Response
	CreateErr error

	Sends        []Input
	CreateCalls  int
	ResumeCalls  int
	ResumedTurns []Turn
}

// NewScriptedOracle creates a mock that answers with responses in order.
func NewScriptedOracle(responses ...*Response) *ScriptedOracle {
	return &ScriptedOracle{
		Responses: responses,
		Fallback:  &Response{Text: "The story continues."},
	}
}

func (m *ScriptedOracle) CreateSession(ctx context.Context, character game.Character, summary string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	return &scriptedSession{oracle: m}, nil
}

func (m *ScriptedOracle) ResumeSession(ctx context.Context, character game.Character, transcript []game.Message, summary string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResumeCalls++
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.ResumedTurns = ReplayTurns(transcript)
	return &scriptedSession{oracle: m}, nil
}

// SendCount returns the number of Send calls observed across all sessions.
func (m *ScriptedOracle) SendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sends)
}

// LastSend returns the most recent input, or the zero Input.
func (m *ScriptedOracle) LastSend() Input {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sends) == 0 {
		return Input{}
	}
	return m.Sends[len(m.Sends)-1]
}

type scriptedSession struct {
	oracle *ScriptedOracle
}

func (s *scriptedSession) Send(ctx context.Context, in Input) (*Response, error) {
	m := s.oracle
	m.mu.Lock()
	defer m.mu.Unlock()

	i := len(m.Sends)
	m.Sends = append(m.Sends, in)
	if i < len(m.Errors) && m.Errors[i] != nil {
		return nil, m.Errors[i]
	}
	if i < len(m.Responses) {
		return m.Responses[i], nil
	}
	return m.Fallback, nil
}

// FlakySession fails with Err for the first Failures calls, then answers with Response.
type FlakySession struct {
	Failures int
	Err      error
	Response *Response

	mu    sync.Mutex
	Calls int
}

func (f *FlakySession) Send(ctx context.Context, in Input) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.Calls <= f.Failures {
		return nil, f.Err
	}
	return f.Response, nil
}

// StaticSummarizer returns Summary (or Err) and counts calls.
type StaticSummarizer struct {
	Summary string
	Err     error

	mu    sync.Mutex
	Calls int
}

func (s *StaticSummarizer) Summarize(ctx context.Context, previous string, recent []game.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if s.Err != nil {
		return previous, s.Err
	}
	return s.Summary, nil
}

// CallCount returns the number of Summarize calls.
func (s *StaticSummarizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls
}

// StaticImageGenerator returns URL (or Err) for every prompt.
type StaticImageGenerator struct {
	URL string
	Err error
}

func (g *StaticImageGenerator) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if g.Err != nil {
		return "", g.Err
	}
	return g.URL, nil
}
