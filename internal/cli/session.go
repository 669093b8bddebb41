// Package cli runs the interactive terminal front end of a game session.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"

	"tavern/internal/core"
	"tavern/internal/multiplayer"
	"tavern/internal/repository"
	"tavern/pkg/game"
)

// Mode selects how a CLI session begins.
type Mode string

const (
	ModeNew  Mode = "new"
	ModeLoad Mode = "load"
	ModeHost Mode = "host"
	ModeJoin Mode = "join"
)

// Opening is the first action of a session: a mode plus its argument (save
// slot for load, session id for join).
type Opening struct {
	Mode Mode
	Arg  string
}

// CLISession manages an interactive CLI session.
type CLISession struct {
	Session *core.Session
	Saves   *repository.SaveStore
	Lock    *repository.FileLock
	Sync    *multiplayer.Sync // nil when no relay store is configured

	in     io.Reader
	out    io.Writer
	outMu  sync.Mutex
	logger core.Logger
	roll   func() int
}

// NewCLISession creates a CLI session over an existing game session. store may
// be nil, which disables hosting and joining.
func NewCLISession(session *core.Session, saves *repository.SaveStore, store multiplayer.Store, in io.Reader, out io.Writer, logger core.Logger) (*CLISession, error) {
	if logger == nil {
		logger = core.NopLogger{}
	}
	lock, err := saves.Lock("tavern")
	if err != nil {
		return nil, err
	}
	s := &CLISession{
		Session: session,
		Saves:   saves,
		Lock:    lock,
		in:      in,
		out:     out,
		logger:  logger,
		roll:    func() int { return rand.IntN(20) + 1 },
	}
	if store != nil {
		s.Sync = multiplayer.NewSync(store, session, logger)
	}
	session.OnMessage(s.printMessage)
	return s, nil
}

// Run executes the interactive session loop until /quit or end of input.
func (s *CLISession) Run(ctx context.Context, opening Opening) error {
	s.printf("🔒 Acquiring save lock...\n")
	if err := s.Lock.Acquire(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if err := s.Lock.Release(); err != nil {
			s.logger.Warn("Failed to release save lock", "error", err)
		}
	}()

	if err := s.open(ctx, opening); err != nil {
		return err
	}
	defer func() {
		if s.Sync != nil {
			s.Sync.Leave()
		}
		s.Session.Wait()
	}()

	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	s.prompt()
	for scanner.Scan() {
		quit, err := s.Execute(ctx, scanner.Text())
		if err != nil {
			s.printf("❌ %v\n", err)
		}
		if quit {
			break
		}
		s.prompt()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	s.printf("\n👋 Farewell, %s.\n", s.Session.Snapshot().Character.Name)
	return nil
}

func (s *CLISession) open(ctx context.Context, opening Opening) error {
	switch opening.Mode {
	case ModeNew, "":
		s.printf("🎲 Starting a new adventure...\n")
		if err := s.Session.Start(ctx); err != nil {
			s.logger.Warn("Narrator unavailable at start", "error", err)
		}
		s.autosave()
	case ModeLoad:
		slot := opening.Arg
		if slot == "" {
			slot = repository.AutosaveSlot
		}
		if err := s.load(ctx, slot); err != nil {
			return err
		}
	case ModeHost:
		if err := s.Session.Start(ctx); err != nil {
			s.logger.Warn("Narrator unavailable at start", "error", err)
		}
		return s.host(ctx)
	case ModeJoin:
		return s.join(ctx, opening.Arg)
	default:
		return fmt.Errorf("unknown mode %q", opening.Mode)
	}
	return nil
}

// Execute handles one input line. It reports true when the session should end.
func (s *CLISession) Execute(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		err := s.Session.Submit(ctx, line)
		if err == nil {
			s.afterTurn()
		}
		return false, err
	}

	fields := strings.Fields(line)
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "/quit", "/exit":
		s.autosave()
		return true, nil

	case "/help":
		s.printf("%s", helpText)

	case "/roll":
		raw := s.roll()
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return false, fmt.Errorf("roll must be a number: %q", args[0])
			}
			raw = n
		}
		resolved, err := s.Session.ResolveRoll(ctx, raw)
		if err != nil {
			return false, err
		}
		if !resolved {
			s.printf("🎲 Nothing to roll for right now.\n")
			return false, nil
		}
		s.afterTurn()

	case "/save":
		slot := repository.AutosaveSlot
		if len(args) > 0 {
			slot = args[0]
		}
		if err := s.Saves.Save(slot, s.Session.Document()); err != nil {
			return false, err
		}
		s.printf("💾 Saved to %s\n", slot)

	case "/load":
		if len(args) == 0 {
			return false, errors.New("usage: /load <slot>")
		}
		return false, s.load(ctx, args[0])

	case "/saves":
		infos, err := s.Saves.List()
		if err != nil {
			return false, err
		}
		if len(infos) == 0 {
			s.printf("No saves yet.\n")
		}
		for _, info := range infos {
			s.printf("  %-16s %s at %s, %d entries (%s)\n", info.Slot, info.Character, info.Location,
				info.Messages, info.SavedAt.Format("2006-01-02 15:04"))
		}

	case "/host":
		return false, s.host(ctx)

	case "/join":
		if len(args) == 0 {
			return false, errors.New("usage: /join <session id>")
		}
		return false, s.join(ctx, args[0])

	case "/leave":
		if s.Sync == nil || s.Sync.SessionID() == "" {
			return false, errors.New("not in a shared session")
		}
		s.Sync.Leave()
		s.printf("🚪 Left the shared session.\n")

	case "/move":
		if len(args) != 3 {
			return false, errors.New("usage: /move <token> <x> <y>")
		}
		x, errX := strconv.Atoi(args[1])
		y, errY := strconv.Atoi(args[2])
		if errX != nil || errY != nil {
			return false, fmt.Errorf("coordinates must be numbers: %s %s", args[1], args[2])
		}
		if err := s.Session.MoveToken(ctx, args[0], game.GridPosition{X: x, Y: y}); err != nil {
			return false, err
		}
		s.printf("♟️  %s moved to (%d,%d)\n", args[0], x, y)

	case "/status":
		s.printStatus()

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return false, nil
}

func (s *CLISession) load(ctx context.Context, slot string) error {
	doc, err := s.Saves.Load(slot)
	if err != nil {
		return err
	}
	if err := s.Session.Load(ctx, doc); err != nil {
		return fmt.Errorf("load %s: %w", slot, err)
	}
	s.printf("📂 Loaded %s (%d entries)\n", slot, len(doc.Transcript))
	return nil
}

func (s *CLISession) host(ctx context.Context) error {
	if s.Sync == nil {
		return errors.New("multiplayer is not configured (set TAVERN_RELAY_URL or TAVERN_MONGO_URI)")
	}
	id, err := s.Sync.Host(ctx)
	if err != nil {
		return err
	}
	s.printf("🏰 Hosting session %s. Share this id with your party.\n", id)
	return nil
}

func (s *CLISession) join(ctx context.Context, id string) error {
	if s.Sync == nil {
		return errors.New("multiplayer is not configured (set TAVERN_RELAY_URL or TAVERN_MONGO_URI)")
	}
	if err := s.Sync.Join(ctx, id); err != nil {
		return err
	}
	s.printf("🤝 Joined session %s.\n", s.Sync.SessionID())
	return nil
}

// afterTurn announces a pending roll and autosaves.
func (s *CLISession) afterTurn() {
	if roll, ok := s.Session.PendingRoll(); ok {
		label := roll.Ability
		if roll.Skill != "" {
			label = fmt.Sprintf("%s (%s)", roll.Ability, roll.Skill)
		}
		if roll.DC > 0 {
			s.printf("🎲 Roll a d20 for %s vs DC %d: /roll or /roll <n>\n", label, roll.DC)
		} else {
			s.printf("🎲 Roll a d20 for %s: /roll or /roll <n>\n", label)
		}
	}
	s.autosave()
}

func (s *CLISession) autosave() {
	if s.Session.Role() == core.RoleClient {
		return
	}
	if err := s.Saves.Save(repository.AutosaveSlot, s.Session.Document()); err != nil {
		s.logger.Warn("Autosave failed", "error", err)
	}
}

func (s *CLISession) printMessage(m game.Message) {
	switch {
	case m.IsError:
		s.printf("\n❌ %s\n", m.Text)
	case m.Author == game.AuthorAgent:
		s.printf("\n🧙 %s\n", m.Text)
	case m.Author == game.AuthorSystem:
		s.printf("   ⚙️  %s\n", m.Text)
	case m.ParticipantID != s.Session.ParticipantID():
		s.printf("\n🗣️  %s\n", m.Text)
	}
}

func (s *CLISession) printStatus() {
	st := s.Session.Snapshot()
	c := st.Character
	s.printf("📜 %s, level %d %s %s: HP %d/%d, AC %d\n", c.Name, c.Level, c.Race, c.Class, c.HP, c.MaxHP, c.AC)
	if len(c.Inventory) > 0 {
		s.printf("   Inventory: %s\n", strings.Join(c.Inventory, ", "))
	}
	s.printf("📍 %s: %s\n", st.Location.Name, st.Location.Description)
	for _, q := range st.Quests {
		s.printf("   [%s] %s\n", q.Status, q.Title)
	}
	if st.Combat.Active {
		s.printf("⚔️  Combat:\n")
		for _, cb := range st.Combat.Combatants {
			marker := " "
			if cb.IsCurrentTurn {
				marker = "▶"
			}
			s.printf("   %s %s (%s) initiative %d\n", marker, cb.Name, cb.Faction, cb.Initiative)
		}
	}
	for _, t := range st.MapTokens {
		s.printf("   ♟️  %s at (%d,%d)\n", t.ID, t.Position.X, t.Position.Y)
	}
	if s.Sync != nil && s.Sync.SessionID() != "" {
		s.printf("🌐 Session %s as %s\n", s.Sync.SessionID(), s.Session.Role())
	}
}

func (s *CLISession) prompt() {
	s.printf("> ")
}

func (s *CLISession) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

const helpText = `Type to act. Commands:
  /roll [n]          resolve the pending check (random d20 if n is omitted)
  /save [slot]       save the game (default: autosave)
  /load <slot>       load a saved game
  /saves             list saves
  /host              share this game and print its session id
  /join <id>         join a shared game
  /leave             leave the shared game
  /move <id> <x> <y> move a map token
  /status            show character, location, quests and combat
  /quit              save and exit
`
