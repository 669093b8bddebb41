package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tavern/internal/oracle"
	"tavern/pkg/game"
)

type recordingRelay struct {
	mu       sync.Mutex
	messages []game.Message
	patches  []game.Patch
	err      error
}

func (r *recordingRelay) PublishMessage(ctx context.Context, msg game.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return r.err
}

func (r *recordingRelay) PublishPatch(ctx context.Context, patch game.Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patches = append(r.patches, patch)
	return r.err
}

func (r *recordingRelay) snapshot() ([]game.Message, []game.Patch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]game.Message(nil), r.messages...), append([]game.Patch(nil), r.patches...)
}

func newTestSession(t *testing.T, o *oracle.ScriptedOracle, mutate func(*SessionOptions)) *Session {
	t.Helper()
	opts := SessionOptions{
		Oracle:  o,
		Retry:   oracle.RetryPolicy{Attempts: 1, InitialDelay: time.Millisecond, Multiplier: 2},
		Summary: Never{},
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := NewSession(game.DefaultCharacter(), opts)
	require.NoError(t, err)
	return s
}

func hasEntry(transcript []game.Message, substr string) bool {
	for _, m := range transcript {
		if strings.Contains(m.Text, substr) {
			return true
		}
	}
	return false
}

func rollResponse(id string) *oracle.Response {
	return &oracle.Response{
		Text:      "Roll for it.",
		ToolCalls: []oracle.ToolCall{{ID: id, Name: oracle.ToolRequestRoll, Args: map[string]any{"ability": "dexterity"}}},
	}
}

func TestSessionStartSendsOpeningPrompt(t *testing.T) {
	o := oracle.NewScriptedOracle(&oracle.Response{Text: "You wake in a cold cell."})
	s := newTestSession(t, o, nil)

	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, 1, o.CreateCalls)
	assert.Equal(t, oracle.OpeningPrompt, o.LastSend().Text)
	snap := s.Snapshot()
	require.Len(t, snap.Transcript, 1)
	assert.Equal(t, game.AuthorAgent, snap.Transcript[0].Author)
}

func TestSessionStartWithoutCredentials(t *testing.T) {
	o := oracle.NewScriptedOracle()
	o.CreateErr = oracle.ErrNotConfigured
	s := newTestSession(t, o, nil)

	err := s.Start(context.Background())
	require.ErrorIs(t, err, oracle.ErrNotConfigured)

	snap := s.Snapshot()
	require.NotEmpty(t, snap.Transcript)
	assert.True(t, snap.Transcript[len(snap.Transcript)-1].IsError)

	err = s.Submit(context.Background(), "hello?")
	assert.ErrorIs(t, err, ErrNoNarrator)
	assert.Equal(t, 0, o.SendCount())
}

func TestSessionSubmitRejections(t *testing.T) {
	o := oracle.NewScriptedOracle(rollResponse("r1"), &oracle.Response{Text: "You dodge."})
	s := newTestSession(t, o, nil)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	require.True(t, s.IsAwaitingRoll())

	assert.ErrorIs(t, s.Submit(ctx, "   "), ErrEmptyUtterance)
	assert.ErrorIs(t, s.Submit(ctx, "I run"), ErrAwaitingRoll)
	assert.Equal(t, 1, o.SendCount())

	// Values outside a d20's faces pass through unchanged.
	ok, err := s.ResolveRoll(ctx, 25)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, s.IsAwaitingRoll())
	assert.True(t, hasEntry(s.Snapshot().Transcript, "rolled 25"))

	require.NoError(t, s.Submit(ctx, "I run"))
	assert.Equal(t, 3, o.SendCount())
	assert.Equal(t, "I run", o.LastSend().Text)
}

func TestSessionLoad(t *testing.T) {
	o := oracle.NewScriptedOracle()
	s := newTestSession(t, o, nil)
	ctx := context.Background()

	bad := game.Document{Transcript: []game.Message{{ID: "MSG-1", Author: "narrator", Text: "?"}}}
	require.Error(t, s.Load(ctx, bad))
	assert.Empty(t, s.Snapshot().Transcript, "invalid documents change nothing")
	assert.Equal(t, 0, o.ResumeCalls)

	doc := game.Document{
		Transcript: []game.Message{
			{ID: "MSG-1", Author: game.AuthorAgent, Text: "Welcome back."},
			{ID: "MSG-2", Author: game.AuthorUser, Text: "I look around."},
			{ID: "MSG-3", Author: game.AuthorSystem, Text: "oops", IsError: true},
		},
		Location:     game.Location{Name: "Crypt"},
		StorySummary: "They found the crypt.",
	}
	require.NoError(t, s.Load(ctx, doc))

	assert.Equal(t, 1, o.ResumeCalls)
	assert.Len(t, o.ResumedTurns, 2, "error entries are not replayed")
	snap := s.Snapshot()
	assert.Equal(t, "Crypt", snap.Location.Name)
	assert.Equal(t, "They found the crypt.", snap.StorySummary)
	require.Len(t, snap.Transcript, 4)
	assert.Equal(t, "Game loaded.", snap.Transcript[3].Text)
}

func TestSessionLocationImage(t *testing.T) {
	locate := &oracle.Response{
		Text:      "You descend.",
		ToolCalls: []oracle.ToolCall{{ID: "l1", Name: oracle.ToolUpdateLocation, Args: map[string]any{"name": "Crypt", "description": "Cold stone"}}},
	}

	t.Run("success", func(t *testing.T) {
		o := oracle.NewScriptedOracle(locate)
		s := newTestSession(t, o, func(opts *SessionOptions) {
			opts.Images = &oracle.StaticImageGenerator{URL: "data:image/jpeg;base64,AAAA"}
		})
		require.NoError(t, s.Start(context.Background()))
		s.Wait()

		loc := s.Snapshot().Location
		assert.Equal(t, "Crypt", loc.Name)
		assert.Equal(t, "data:image/jpeg;base64,AAAA", loc.ImageURL)
		assert.False(t, loc.IsGenerating)
	})

	t.Run("failure clears the flag only", func(t *testing.T) {
		o := oracle.NewScriptedOracle(locate)
		s := newTestSession(t, o, func(opts *SessionOptions) {
			opts.Images = &oracle.StaticImageGenerator{Err: errors.New("quota")}
		})
		require.NoError(t, s.Start(context.Background()))
		s.Wait()

		loc := s.Snapshot().Location
		assert.Empty(t, loc.ImageURL)
		assert.False(t, loc.IsGenerating)
	})
}

func TestSessionSummaryPolicy(t *testing.T) {
	o := oracle.NewScriptedOracle(&oracle.Response{Text: "Opening."}, &oracle.Response{Text: "Reply."})
	summarizer := &oracle.StaticSummarizer{Summary: "They arrived at the inn."}
	s := newTestSession(t, o, func(opts *SessionOptions) {
		opts.Summarizer = summarizer
		opts.Summary = EveryN{N: 3}
	})
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	s.Wait()
	assert.Equal(t, 0, summarizer.CallCount())

	require.NoError(t, s.Submit(ctx, "Hello"))
	s.Wait()
	assert.Equal(t, 1, summarizer.CallCount())
	assert.Equal(t, "They arrived at the inn.", s.Snapshot().StorySummary)
}

func TestEveryN(t *testing.T) {
	p := EveryN{N: 10}
	assert.False(t, p.ShouldSummarize(0))
	assert.False(t, p.ShouldSummarize(9))
	assert.True(t, p.ShouldSummarize(10))
	assert.True(t, p.ShouldSummarize(20))
	assert.False(t, EveryN{}.ShouldSummarize(10))
}

func TestSessionClientNeverCallsOracle(t *testing.T) {
	o := oracle.NewScriptedOracle()
	s := newTestSession(t, o, nil)
	relay := &recordingRelay{}
	s.AttachRelay(relay, RoleClient)

	require.NoError(t, s.Submit(context.Background(), "I wave"))

	assert.Equal(t, 0, o.SendCount())
	msgs, _ := relay.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, game.AuthorUser, msgs[0].Author)
	assert.Equal(t, s.ParticipantID(), msgs[0].ParticipantID)
}

func TestSessionHostPublishes(t *testing.T) {
	o := oracle.NewScriptedOracle(&oracle.Response{
		Text:      "Goblins attack!",
		ToolCalls: []oracle.ToolCall{{ID: "m1", Name: oracle.ToolManageCombat, Args: map[string]any{"action": "start"}}},
	})
	s := newTestSession(t, o, nil)
	relay := &recordingRelay{err: errors.New("relay down")}
	s.AttachRelay(relay, RoleHost)

	require.NoError(t, s.Start(context.Background()), "broadcast failures never fail the turn")
	s.Wait()

	msgs, patches := relay.snapshot()
	require.NotEmpty(t, msgs)
	assert.Equal(t, "Goblins attack!", msgs[0].Text)
	require.NotEmpty(t, patches)
	assert.True(t, s.Snapshot().Combat.Active, "local state survives failed broadcasts")
	assert.Equal(t, s.ParticipantID(), s.Document().HostID)
}

func TestSessionRemoteUtterances(t *testing.T) {
	o := oracle.NewScriptedOracle(rollResponse("r1"))
	s := newTestSession(t, o, nil)
	s.AttachRelay(&recordingRelay{}, RoleHost)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	require.True(t, s.IsAwaitingRoll())

	remote := game.Message{ID: "MSG-remote", Author: game.AuthorUser, Text: "I help!", ParticipantID: "P-guest"}
	s.SubmitRemote(ctx, remote)
	s.Wait()
	assert.Equal(t, 1, o.SendCount(), "relayed utterances wait for the roll")

	_, err := s.ResolveRoll(ctx, 12)
	require.NoError(t, err)
	s.Wait()

	require.Equal(t, 3, o.SendCount())
	assert.Equal(t, "I help!", o.LastSend().Text)

	count := 0
	for _, m := range s.Snapshot().Transcript {
		if m.ID == remote.ID {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestSessionMoveToken(t *testing.T) {
	s := newTestSession(t, oracle.NewScriptedOracle(), nil)
	relay := &recordingRelay{}
	s.AttachRelay(relay, RoleClient)
	s.AdoptTokens([]game.MapToken{{ID: "Goblin", Faction: game.FactionEnemy, Position: game.GridPosition{X: 1, Y: 1}, Size: 1}})
	ctx := context.Background()

	require.NoError(t, s.MoveToken(ctx, "Goblin", game.GridPosition{X: 4, Y: 2}))
	assert.Equal(t, game.GridPosition{X: 4, Y: 2}, s.Snapshot().MapTokens[0].Position)
	_, patches := relay.snapshot()
	require.Len(t, patches, 1)
	require.NotNil(t, patches[0].MapTokens)
	assert.Nil(t, patches[0].Location)

	assert.Error(t, s.MoveToken(ctx, "Goblin", game.GridPosition{X: -1, Y: 0}))
	assert.Error(t, s.MoveToken(ctx, "Orc", game.GridPosition{X: 0, Y: 0}))
}

func TestSessionReplaceTranscriptIfLonger(t *testing.T) {
	s := newTestSession(t, oracle.NewScriptedOracle(), nil)
	var seen []string
	s.OnMessage(func(m game.Message) { seen = append(seen, m.ID) })

	one := []game.Message{{ID: "MSG-1", Author: game.AuthorAgent, Text: "a"}}
	two := append(one, game.Message{ID: "MSG-2", Author: game.AuthorUser, Text: "b"})

	assert.True(t, s.ReplaceTranscriptIfLonger(two))
	assert.False(t, s.ReplaceTranscriptIfLonger(one))
	assert.Len(t, s.Snapshot().Transcript, 2)
	assert.Equal(t, []string{"MSG-1", "MSG-2"}, seen)

	// Only entries not held locally are announced, wherever they sit.
	seen = nil
	diverged := []game.Message{
		one[0],
		{ID: "MSG-3", Author: game.AuthorAgent, Text: "c"},
		{ID: "MSG-4", Author: game.AuthorAgent, Text: "d"},
	}
	assert.True(t, s.ReplaceTranscriptIfLonger(diverged))
	assert.Equal(t, []string{"MSG-3", "MSG-4"}, seen)
	assert.Equal(t, diverged, s.Snapshot().Transcript)
}

func TestSessionAdoptDocument(t *testing.T) {
	o := oracle.NewScriptedOracle(rollResponse("r1"))
	s := newTestSession(t, o, nil)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	require.True(t, s.IsAwaitingRoll())
	require.NotEmpty(t, s.Snapshot().Transcript)

	var seen []string
	s.OnMessage(func(m game.Message) { seen = append(seen, m.Text) })

	doc := game.Document{
		Transcript: []game.Message{{ID: "MSG-host", Author: game.AuthorAgent, Text: "The host's tale."}},
		Location:   game.Location{Name: "Moria"},
		MapTokens:  []game.MapToken{{ID: "Gimli", Faction: game.FactionAlly, Size: 1}},
		Quests:     []game.Quest{{ID: "Q-1", Title: "Cross the bridge", Status: game.QuestActive}},
	}
	s.AdoptDocument(doc)

	snap := s.Snapshot()
	assert.Equal(t, doc.Transcript, snap.Transcript, "a shorter shared transcript still replaces the local one")
	assert.Equal(t, "Moria", snap.Location.Name)
	assert.Equal(t, doc.MapTokens, snap.MapTokens)
	assert.Equal(t, doc.Quests, snap.Quests)
	assert.Equal(t, "Aragorn", snap.Character.Name, "the character sheet is kept")
	assert.False(t, s.IsAwaitingRoll())
	assert.Equal(t, []string{"The host's tale."}, seen)
}
