package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tavern/internal/oracle"
	"tavern/pkg/game"
)

// Role is the part a session plays in a shared game.
type Role int

const (
	RoleSolo   Role = iota // no relay attached
	RoleHost               // runs the oracle and owns the world fields
	RoleClient             // relays utterances and mirrors the host
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleClient:
		return "client"
	}
	return "solo"
}

// Relay publishes local changes to the shared session document.
type Relay interface {
	PublishMessage(ctx context.Context, msg game.Message) error
	PublishPatch(ctx context.Context, patch game.Patch) error
}

// SessionOptions configures a Session. Only Oracle is required.
type SessionOptions struct {
	Oracle        oracle.Oracle
	Summarizer    oracle.Summarizer
	Images        oracle.ImageGenerator
	Retry         oracle.RetryPolicy
	MaxToolRounds int
	Summary       SummaryPolicy
	SummaryWindow int
	Logger        Logger
}

// Session is the game controller. It owns the GameState; every mutation runs
// under one mutex and turns are serialized.
type Session struct {
	opts     SessionOptions
	logger   Logger
	executor *ToolExecutor
	engine   *TurnEngine
	rolls    *RollResolver

	// turn is held for the whole of a turn or roll resolution.
	turn sync.Mutex

	mu            sync.Mutex
	state         *game.GameState
	relay         Relay
	role          Role
	participantID string
	remote        []game.Message
	listeners     []func(game.Message)

	summarizing atomic.Bool
	background  sync.WaitGroup
	now         func() time.Time
}

// NewSession creates an idle session for character. Start or Load binds the narrator.
func NewSession(character game.Character, opts SessionOptions) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = NopLogger{}
	}
	if opts.Summary == nil {
		opts.Summary = EveryN{N: 10}
	}
	if opts.SummaryWindow < 1 {
		opts.SummaryWindow = 10
	}
	if opts.Retry.Attempts < 1 {
		opts.Retry = oracle.DefaultRetryPolicy()
	}
	if err := game.ValidateCharacter(&character); err != nil {
		return nil, &ValidationError{Field: "character", Message: err.Error(), Err: err}
	}
	pid, err := game.NewParticipantID()
	if err != nil {
		return nil, fmt.Errorf("generate participant id: %w", err)
	}

	s := &Session{
		opts:          opts,
		logger:        opts.Logger.With("participant", pid),
		executor:      NewToolExecutor(opts.Logger),
		state:         game.NewGameState(character),
		participantID: pid,
		now:           time.Now,
	}
	board := (*sessionBoard)(s)
	s.engine = NewTurnEngine(nil, board, opts.MaxToolRounds, s.logger)
	s.rolls = NewRollResolver(s.engine, board)
	return s, nil
}

// Start begins a new adventure with the current character and sends the opening prompt.
func (s *Session) Start(ctx context.Context) error {
	if !s.turn.TryLock() {
		return ErrTurnInProgress
	}
	defer s.release(ctx)

	s.mu.Lock()
	character := s.state.Character.Clone()
	s.state = game.NewGameState(character)
	s.mu.Unlock()
	s.rolls.Discard()

	sess, err := s.opts.Oracle.CreateSession(ctx, character, "")
	if err != nil {
		s.logger.Error("Failed to create narrator session", "error", err)
		s.engine.Bind(nil)
		(*sessionBoard)(s).Post(game.AuthorSystem, fmt.Sprintf("Could not reach the narrator: %v", err), true)
		return fmt.Errorf("create narrator session: %w", err)
	}
	s.engine.Bind(oracle.WithRetry(sess, s.opts.Retry))
	s.logger.Info("Session started", "character", character.Name)

	return s.runTurn(ctx, oracle.OpeningPrompt)
}

// Load replaces the game state with doc and resumes the narrator from its
// transcript. Nothing changes if doc is invalid.
func (s *Session) Load(ctx context.Context, doc game.Document) error {
	if !s.turn.TryLock() {
		return ErrTurnInProgress
	}
	defer s.release(ctx)

	s.mu.Lock()
	state, err := game.FromDocument(doc, s.state.Character)
	if err != nil {
		s.mu.Unlock()
		return &ValidationError{Field: "document", Message: err.Error(), Err: err}
	}
	s.state = state
	character := state.Character.Clone()
	transcript := append([]game.Message(nil), state.Transcript...)
	summary := state.StorySummary
	s.mu.Unlock()
	s.rolls.Discard()

	sess, err := s.opts.Oracle.ResumeSession(ctx, character, transcript, summary)
	if err != nil {
		s.logger.Error("Failed to resume narrator session", "error", err)
		s.engine.Bind(nil)
		(*sessionBoard)(s).Post(game.AuthorSystem, fmt.Sprintf("Could not reach the narrator: %v", err), true)
		return fmt.Errorf("resume narrator session: %w", err)
	}
	s.engine.Bind(oracle.WithRetry(sess, s.opts.Retry))
	s.logger.Info("Session loaded", "messages", len(transcript))
	(*sessionBoard)(s).Post(game.AuthorSystem, "Game loaded.", false)
	return nil
}

// Submit records a user utterance and, unless this is a client, runs a turn.
func (s *Session) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyUtterance
	}

	if s.Role() == RoleClient {
		s.append(game.AuthorUser, text, false)
		return nil
	}
	if s.rolls.IsAwaitingRoll() {
		return ErrAwaitingRoll
	}
	if !s.turn.TryLock() {
		return ErrTurnInProgress
	}
	defer s.release(ctx)

	s.append(game.AuthorUser, text, false)
	return s.runTurn(ctx, text)
}

// ResolveRoll settles the pending roll with the player's die value. Any value
// is accepted, so house dice and rerolls pass through. It reports false if no
// roll was pending.
func (s *Session) ResolveRoll(ctx context.Context, raw int) (bool, error) {
	if !s.turn.TryLock() {
		return false, ErrTurnInProgress
	}
	defer s.release(ctx)
	return s.rolls.Resolve(ctx, raw)
}

// IsAwaitingRoll reports whether the narrator is waiting on a dice roll.
func (s *Session) IsAwaitingRoll() bool {
	return s.rolls.IsAwaitingRoll()
}

// PendingRoll returns the roll being waited on.
func (s *Session) PendingRoll() (PendingRoll, bool) {
	return s.rolls.Pending()
}

// MoveToken moves a map token. Any participant may move any token.
func (s *Session) MoveToken(ctx context.Context, id string, to game.GridPosition) error {
	if to.X < 0 || to.X >= game.GridColumns || to.Y < 0 || to.Y >= game.GridRows {
		return &ValidationError{Field: "position", Message: fmt.Sprintf("(%d,%d) is off the map", to.X, to.Y)}
	}

	s.mu.Lock()
	idx := s.state.FindToken(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("token %q not found", id)
	}
	s.state.MapTokens[idx].Position = to
	patch := game.TokensPatch(s.state)
	relay := s.relay
	s.mu.Unlock()

	if relay != nil {
		if err := relay.PublishPatch(ctx, patch); err != nil {
			s.logger.Warn("Failed to publish token move", "token", id, "error", err)
		}
	}
	return nil
}

// Snapshot returns a deep copy of the game state.
func (s *Session) Snapshot() *game.GameState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Document returns the persisted shape of the current state.
func (s *Session) Document() game.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := game.ToDocument(s.state, s.now())
	if s.role == RoleHost {
		doc.HostID = s.participantID
	}
	return doc
}

// ParticipantID identifies this process in a shared game.
func (s *Session) ParticipantID() string {
	return s.participantID
}

// Role returns the current role.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// AttachRelay switches the session into host or client mode.
func (s *Session) AttachRelay(relay Relay, role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relay = relay
	s.role = role
	s.logger.Info("Relay attached", "role", role.String())
}

// OnMessage registers fn to be called for every new transcript entry. fn runs
// outside the session lock and must not block.
func (s *Session) OnMessage(fn func(game.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Wait blocks until background image and summary work has finished.
func (s *Session) Wait() {
	s.background.Wait()
}

// ReplaceTranscriptIfLonger adopts incoming verbatim when it is longer than
// the local transcript.
func (s *Session) ReplaceTranscriptIfLonger(incoming []game.Message) bool {
	s.mu.Lock()
	if len(incoming) <= len(s.state.Transcript) {
		s.mu.Unlock()
		return false
	}
	fresh := unseen(s.state.Transcript, incoming)
	s.state.Transcript = append(make([]game.Message, 0, len(incoming)), incoming...)
	listeners := s.listeners
	s.mu.Unlock()

	for _, m := range fresh {
		notify(listeners, m)
	}
	return true
}

// AdoptDocument replaces the transcript, world fields and map tokens with
// those of doc, whatever their length. The character sheet is kept. A pending
// roll and queued relayed utterances from the previous game are dropped.
func (s *Session) AdoptDocument(doc game.Document) {
	s.mu.Lock()
	fresh := unseen(s.state.Transcript, doc.Transcript)
	s.state.Transcript = append(make([]game.Message, 0, len(doc.Transcript)), doc.Transcript...)
	s.state.MapTokens = append(make([]game.MapToken, 0, len(doc.MapTokens)), doc.MapTokens...)
	s.adoptWorldLocked(doc)
	s.remote = nil
	listeners := s.listeners
	s.mu.Unlock()
	s.rolls.Discard()

	s.logger.Info("Adopted shared document", "messages", len(doc.Transcript))
	for _, m := range fresh {
		notify(listeners, m)
	}
}

// unseen returns the entries of incoming whose ids are not in local.
func unseen(local, incoming []game.Message) []game.Message {
	known := make(map[string]bool, len(local))
	for _, m := range local {
		known[m.ID] = true
	}
	var fresh []game.Message
	for _, m := range incoming {
		if !known[m.ID] {
			fresh = append(fresh, m)
		}
	}
	return fresh
}

// AdoptWorld mirrors the host-owned fields of doc.
func (s *Session) AdoptWorld(doc game.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adoptWorldLocked(doc)
}

func (s *Session) adoptWorldLocked(doc game.Document) {
	s.state.Location = doc.Location
	s.state.Combat = doc.Combat.Clone()
	s.state.Quests = append(make([]game.Quest, 0, len(doc.Quests)), doc.Quests...)
	s.state.Notes = append(make([]game.Note, 0, len(doc.Notes)), doc.Notes...)
	s.state.StorySummary = doc.StorySummary
}

// AdoptTokens replaces the local map tokens.
func (s *Session) AdoptTokens(tokens []game.MapToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.MapTokens = append(make([]game.MapToken, 0, len(tokens)), tokens...)
}

// SubmitRemote queues a relayed utterance for a turn. Utterances are processed
// in arrival order once no turn or roll is outstanding.
func (s *Session) SubmitRemote(ctx context.Context, msg game.Message) {
	s.mu.Lock()
	present := false
	for _, m := range s.state.Transcript {
		if m.ID == msg.ID {
			present = true
			break
		}
	}
	if !present {
		s.state.AppendMessage(msg)
	}
	s.remote = append(s.remote, msg)
	s.mu.Unlock()

	s.logger.Info("Queued relayed utterance", "message", msg.ID, "from", msg.ParticipantID)
	s.goBackground(func() { s.drainRemote(context.WithoutCancel(ctx)) })
}

// runTurn must be called with s.turn held.
func (s *Session) runTurn(ctx context.Context, text string) error {
	pending, err := s.engine.Submit(ctx, text)
	if cerr := s.rolls.Capture(pending); cerr != nil {
		return cerr
	}
	return err
}

// release ends a turn and picks up relayed utterances that arrived meanwhile.
func (s *Session) release(ctx context.Context) {
	s.turn.Unlock()
	if s.hasRemote() {
		s.goBackground(func() { s.drainRemote(context.WithoutCancel(ctx)) })
	}
}

func (s *Session) drainRemote(ctx context.Context) {
	for s.hasRemote() && !s.rolls.IsAwaitingRoll() {
		if !s.turn.TryLock() {
			return
		}
		for !s.rolls.IsAwaitingRoll() {
			msg, ok := s.popRemote()
			if !ok {
				break
			}
			if err := s.runTurn(ctx, msg.Text); err != nil {
				s.logger.Warn("Relayed turn failed", "message", msg.ID, "error", err)
			}
		}
		s.turn.Unlock()
	}
}

func (s *Session) hasRemote() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.remote) > 0
}

func (s *Session) popRemote() (game.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.remote) == 0 {
		return game.Message{}, false
	}
	msg := s.remote[0]
	s.remote = s.remote[1:]
	return msg, true
}

// append records a transcript entry, relays it and checks the summary policy.
func (s *Session) append(author game.Author, text string, isError bool) game.Message {
	msg := game.Message{
		ID:            s.messageID(),
		Text:          text,
		Author:        author,
		CreatedAt:     s.now(),
		IsError:       isError,
		ParticipantID: s.participantID,
	}

	s.mu.Lock()
	s.state.AppendMessage(msg)
	n := len(s.state.Transcript)
	relay, role, listeners := s.relay, s.role, s.listeners
	s.mu.Unlock()

	notify(listeners, msg)
	if relay != nil && (role == RoleHost || author == game.AuthorUser) {
		if err := relay.PublishMessage(context.Background(), msg); err != nil {
			s.logger.Warn("Failed to publish message", "message", msg.ID, "error", err)
		}
	}
	if role != RoleClient && s.opts.Summarizer != nil && s.opts.Summary.ShouldSummarize(n) {
		s.goBackground(s.summarize)
	}
	return msg
}

func (s *Session) messageID() string {
	id, err := game.NewMessageID()
	if err != nil {
		s.logger.Warn("Falling back to clock message id", "error", err)
		return fmt.Sprintf("MSG-%d", s.now().UnixNano())
	}
	return id
}

func (s *Session) summarize() {
	if !s.summarizing.CompareAndSwap(false, true) {
		return
	}
	defer s.summarizing.Store(false)

	s.mu.Lock()
	previous := s.state.StorySummary
	recent := s.state.Transcript
	if len(recent) > s.opts.SummaryWindow {
		recent = recent[len(recent)-s.opts.SummaryWindow:]
	}
	recent = append([]game.Message(nil), recent...)
	s.mu.Unlock()

	summary, err := s.opts.Summarizer.Summarize(context.Background(), previous, recent)
	if err != nil {
		s.logger.Warn("Summary refresh failed", "error", err)
		return
	}

	s.mu.Lock()
	s.state.StorySummary = summary
	s.mu.Unlock()
	s.publishWorld()
	s.logger.Debug("Story summary refreshed", "length", len(summary))
}

func (s *Session) renderLocation(effect ImageEffect) {
	var url string
	var err error
	if s.opts.Images != nil {
		url, err = s.opts.Images.GenerateImage(context.Background(), effect.Prompt)
	}
	if err != nil {
		s.logger.Warn("Location image failed", "location", effect.Location, "error", err)
	}

	s.mu.Lock()
	if s.state.Location.Name == effect.Location {
		if err == nil && url != "" {
			s.state.Location.ImageURL = url
		}
		s.state.Location.IsGenerating = false
	}
	s.mu.Unlock()
	s.publishWorld()
}

// publishWorld broadcasts the host-owned fields. Only the host writes them.
func (s *Session) publishWorld() {
	s.mu.Lock()
	relay, role := s.relay, s.role
	patch := game.WorldPatch(s.state)
	s.mu.Unlock()

	if relay == nil || role != RoleHost {
		return
	}
	if err := relay.PublishPatch(context.Background(), patch); err != nil {
		s.logger.Warn("Failed to publish world", "error", err)
	}
}

func (s *Session) goBackground(fn func()) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		fn()
	}()
}

func notify(listeners []func(game.Message), msg game.Message) {
	for _, fn := range listeners {
		fn(msg)
	}
}

// sessionBoard is the Board view of a Session handed to the engine.
type sessionBoard Session

func (b *sessionBoard) Post(author game.Author, text string, isError bool) {
	(*Session)(b).append(author, text, isError)
}

func (b *sessionBoard) Apply(inv Invocation) Outcome {
	s := (*Session)(b)

	s.mu.Lock()
	out := s.executor.Execute(s.state, inv)
	var tokens *game.Patch
	if _, ok := inv.(ManageCombat); ok {
		p := game.TokensPatch(s.state)
		tokens = &p
	}
	relay, role := s.relay, s.role
	s.mu.Unlock()

	// Tokens go out before anything that triggers a notification, so the
	// host never re-adopts the previous token set from its own echo.
	if tokens != nil && relay != nil && role == RoleHost {
		if err := relay.PublishPatch(context.Background(), *tokens); err != nil {
			s.logger.Warn("Failed to publish tokens", "error", err)
		}
	}
	switch inv.(type) {
	case UpdateLocation, UpdateQuest, AddNote, ManageCombat:
		s.publishWorld()
	}
	if out.Log != "" {
		s.append(game.AuthorSystem, out.Log, false)
	}
	if out.Effect != nil {
		effect := *out.Effect
		s.goBackground(func() { s.renderLocation(effect) })
	}
	return out
}

func (b *sessionBoard) Character() game.Character {
	s := (*Session)(b)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Character.Clone()
}
