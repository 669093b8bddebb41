package multiplayer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tavern/internal/core"
	"tavern/pkg/game"
)

// Target is the local session a Sync mirrors into.
type Target interface {
	Document() game.Document
	ParticipantID() string
	AttachRelay(relay core.Relay, role core.Role)
	ReplaceTranscriptIfLonger(incoming []game.Message) bool
	AdoptDocument(doc game.Document)
	AdoptWorld(doc game.Document)
	AdoptTokens(tokens []game.MapToken)
	SubmitRemote(ctx context.Context, msg game.Message)
}

// Sync connects a local session to a shared document. The host is the only
// writer of agent and system entries and of the world fields; anyone may
// append their own utterances and move tokens.
type Sync struct {
	store  Store
	target Target
	logger core.Logger

	mu          sync.Mutex
	ctx         context.Context
	sessionID   string
	role        core.Role
	hostID      string
	seen        map[string]bool
	unsubscribe func()
}

// NewSync creates an unattached Sync.
func NewSync(store Store, target Target, logger core.Logger) *Sync {
	return &Sync{
		store:  store,
		target: target,
		logger: logger,
		seen:   make(map[string]bool),
	}
}

// Host publishes the local state under a fresh session id and starts
// listening for other participants. Any current shared session is left first.
func (s *Sync) Host(ctx context.Context) (string, error) {
	if s.SessionID() != "" {
		s.Leave()
	}

	id, err := game.NewSessionID()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}

	doc := s.target.Document()
	doc.HostID = s.target.ParticipantID()
	if err := s.store.Create(ctx, id, doc); err != nil {
		return "", &core.RelayError{Operation: "create", SessionID: id, Err: err}
	}

	s.mu.Lock()
	s.ctx = context.WithoutCancel(ctx)
	s.sessionID = id
	s.role = core.RoleHost
	s.hostID = doc.HostID
	s.seen = make(map[string]bool, len(doc.Transcript))
	for _, m := range doc.Transcript {
		s.seen[m.ID] = true
	}
	s.mu.Unlock()

	s.target.AttachRelay(s, core.RoleHost)
	if err := s.subscribe(ctx, id); err != nil {
		return "", err
	}
	s.logger.Info("Hosting session", "session", id)
	return id, nil
}

// Join mirrors an existing session as a client. The local transcript, world
// and tokens are replaced by the shared document. Any current shared session
// is left once the new one is known to exist.
func (s *Sync) Join(ctx context.Context, id string) error {
	id = strings.ToUpper(strings.TrimSpace(id))
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return &core.RelayError{Operation: "join", SessionID: id, Err: err}
	}
	if s.SessionID() != "" {
		s.Leave()
	}

	s.mu.Lock()
	s.ctx = context.WithoutCancel(ctx)
	s.sessionID = id
	s.role = core.RoleClient
	s.hostID = doc.HostID
	s.seen = make(map[string]bool)
	s.mu.Unlock()

	s.target.AdoptDocument(doc)

	s.target.AttachRelay(s, core.RoleClient)
	if err := s.subscribe(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Joined session", "session", id, "host", doc.HostID)
	return nil
}

// Leave stops listening and returns the session to solo play.
func (s *Sync) Leave() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.sessionID = ""
	s.role = core.RoleSolo
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.target.AttachRelay(nil, core.RoleSolo)
}

// SessionID returns the shared session id, or "" when not connected.
func (s *Sync) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Sync) subscribe(ctx context.Context, id string) error {
	unsubscribe, err := s.store.Subscribe(context.WithoutCancel(ctx), id, func(doc game.Document) {
		s.reconcile(id, doc)
	})
	if err != nil {
		return &core.RelayError{Operation: "subscribe", SessionID: id, Err: err}
	}
	s.mu.Lock()
	current := s.sessionID == id
	if current {
		s.unsubscribe = unsubscribe
	}
	s.mu.Unlock()
	if !current {
		unsubscribe()
	}
	return nil
}

// PublishMessage appends msg to the shared transcript.
func (s *Sync) PublishMessage(ctx context.Context, msg game.Message) error {
	id := s.SessionID()
	if id == "" {
		return nil
	}
	if err := s.store.AppendToTranscript(ctx, id, msg); err != nil {
		return &core.RelayError{Operation: "append", SessionID: id, Err: err}
	}
	return nil
}

// PublishPatch writes patch to the shared document. Clients may only write map tokens.
func (s *Sync) PublishPatch(ctx context.Context, patch game.Patch) error {
	s.mu.Lock()
	id, role := s.sessionID, s.role
	s.mu.Unlock()
	if id == "" {
		return nil
	}
	if role == core.RoleClient {
		patch = game.Patch{MapTokens: patch.MapTokens}
	}
	if patch.Empty() {
		return nil
	}
	if err := s.store.UpdateFields(ctx, id, patch); err != nil {
		return &core.RelayError{Operation: "update", SessionID: id, Err: err}
	}
	return nil
}

// reconcile folds one notification for session id into the local session.
// Notifications for any other session are stale and ignored.
func (s *Sync) reconcile(id string, doc game.Document) {
	if s.SessionID() != id {
		return
	}
	s.target.ReplaceTranscriptIfLonger(doc.Transcript)
	s.target.AdoptTokens(doc.MapTokens)

	s.mu.Lock()
	role, hostID, ctx := s.role, s.hostID, s.ctx
	if s.sessionID != id {
		s.mu.Unlock()
		return
	}
	if role != core.RoleHost {
		s.mu.Unlock()
		if role == core.RoleClient {
			s.target.AdoptWorld(doc)
		}
		return
	}

	var fresh []game.Message
	for _, m := range doc.Transcript {
		if m.Author != game.AuthorUser || m.ParticipantID == "" || m.ParticipantID == hostID || s.seen[m.ID] {
			continue
		}
		s.seen[m.ID] = true
		fresh = append(fresh, m)
	}
	s.mu.Unlock()

	for _, m := range fresh {
		s.logger.Debug("Relaying utterance to narrator", "message", m.ID, "from", m.ParticipantID)
		s.target.SubmitRemote(ctx, m)
	}
}
