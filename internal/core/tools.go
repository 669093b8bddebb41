package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tavern/internal/oracle"
	"tavern/pkg/game"
)

// Invocation is a decoded tool call. The set of implementations is closed.
type Invocation interface {
	invocation()
}

type UpdateHP struct {
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

type ModifyInventory struct {
	Item   string `json:"item"`
	Action string `json:"action"` // add, remove
}

type RequestRoll struct {
	Ability string `json:"ability"`
	Skill   string `json:"skill,omitempty"`
	DC      int    `json:"dc,omitempty"`
	Reason  string `json:"reason"`
}

type UpdateLocation struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type UpdateQuest struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description *string          `json:"description,omitempty"`
	Status      game.QuestStatus `json:"status"`
}

type AddNote struct {
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Category game.NoteCategory `json:"type"`
}

type ManageCombat struct {
	Action     string           `json:"action"` // start, end, update
	Combatants []game.Combatant `json:"combatants,omitempty"`
}

// Unrecognized is a call with an unknown name or arguments that do not decode.
type Unrecognized struct {
	Name   string
	Reason string
}

func (UpdateHP) invocation()        {}
func (ModifyInventory) invocation() {}
func (RequestRoll) invocation()     {}
func (UpdateLocation) invocation()  {}
func (UpdateQuest) invocation()     {}
func (AddNote) invocation()         {}
func (ManageCombat) invocation()    {}
func (Unrecognized) invocation()    {}

// Decode turns a raw tool call into an Invocation. It never fails: anything it
// cannot make sense of becomes Unrecognized.
func Decode(call oracle.ToolCall) Invocation {
	switch call.Name {
	case oracle.ToolUpdateHP:
		return decodeInto[UpdateHP](call, nil)
	case oracle.ToolModifyInventory:
		return decodeInto(call, func(v *ModifyInventory) error {
			v.Action = strings.ToLower(v.Action)
			if v.Action != "add" && v.Action != "remove" {
				return fmt.Errorf("unknown action %q", v.Action)
			}
			if strings.TrimSpace(v.Item) == "" {
				return fmt.Errorf("item is required")
			}
			return nil
		})
	case oracle.ToolRequestRoll:
		return decodeInto[RequestRoll](call, nil)
	case oracle.ToolUpdateLocation:
		return decodeInto[UpdateLocation](call, nil)
	case oracle.ToolUpdateQuest:
		return decodeInto(call, func(v *UpdateQuest) error {
			if !v.Status.Valid() {
				return fmt.Errorf("unknown status %q", v.Status)
			}
			if v.ID == "" {
				v.ID = game.NewQuestSentinel
			}
			return nil
		})
	case oracle.ToolAddNote:
		return decodeInto(call, func(v *AddNote) error {
			if !v.Category.Valid() {
				v.Category = game.NoteOther
			}
			return nil
		})
	case oracle.ToolManageCombat:
		return decodeInto(call, func(v *ManageCombat) error {
			switch v.Action {
			case "start", "end", "update":
			default:
				return fmt.Errorf("unknown action %q", v.Action)
			}
			for i := range v.Combatants {
				if !v.Combatants[i].Faction.Valid() {
					v.Combatants[i].Faction = game.FactionEnemy
				}
			}
			return nil
		})
	}
	return Unrecognized{Name: call.Name, Reason: "unknown tool"}
}

func decodeInto[T Invocation](call oracle.ToolCall, check func(*T) error) Invocation {
	var v T
	data, err := json.Marshal(call.Args)
	if err == nil {
		err = json.Unmarshal(data, &v)
	}
	if err == nil && check != nil {
		err = check(&v)
	}
	if err != nil {
		return Unrecognized{Name: call.Name, Reason: err.Error()}
	}
	return v
}

// ImageEffect asks for a location image to be generated outside the turn.
type ImageEffect struct {
	Location string
	Prompt   string
}

// Outcome is the result of executing one Invocation.
type Outcome struct {
	Result string       // returned to the oracle
	Log    string       // user-facing system entry, empty when there is none
	Effect *ImageEffect // deferred side effect, never run by the executor
}

// ToolExecutor applies invocations to a GameState. It never blocks.
type ToolExecutor struct {
	logger Logger
	now    func() time.Time
}

// NewToolExecutor creates an executor.
func NewToolExecutor(logger Logger) *ToolExecutor {
	return &ToolExecutor{logger: logger, now: time.Now}
}

// Execute applies inv to state. RequestRoll is not an auto-tool and is
// reported as unrecognized here; the turn engine routes it to the roll resolver.
func (x *ToolExecutor) Execute(state *game.GameState, inv Invocation) Outcome {
	switch v := inv.(type) {
	case UpdateHP:
		c := &state.Character
		c.HP = game.ClampHP(c.HP, v.Amount, c.MaxHP)
		return Outcome{
			Result: fmt.Sprintf("Success, current hp %d/%d", c.HP, c.MaxHP),
			Log:    fmt.Sprintf("HP changed: %s (%s)", signed(v.Amount), v.Reason),
		}

	case ModifyInventory:
		c := &state.Character
		if v.Action == "add" {
			c.Inventory = append(c.Inventory, v.Item)
			return Outcome{Result: "Success", Log: fmt.Sprintf("Item gained: %s", v.Item)}
		}
		needle := strings.ToLower(v.Item)
		for i, item := range c.Inventory {
			if strings.Contains(strings.ToLower(item), needle) {
				c.Inventory = append(c.Inventory[:i:i], c.Inventory[i+1:]...)
				break
			}
		}
		return Outcome{Result: "Success", Log: fmt.Sprintf("Item lost: %s", v.Item)}

	case UpdateLocation:
		state.Location.Name = v.Name
		state.Location.Description = v.Description
		state.Location.IsGenerating = true
		return Outcome{
			Result: "Location updated; generation triggered",
			Log:    fmt.Sprintf("Location: %s", v.Name),
			Effect: &ImageEffect{Location: v.Name, Prompt: oracle.BuildLocationImagePrompt(v.Description)},
		}

	case UpdateQuest:
		return x.upsertQuest(state, v)

	case AddNote:
		id, err := game.NewNoteID()
		if err != nil {
			return x.failed("add_note", err)
		}
		note := game.Note{ID: id, Title: v.Title, Content: v.Content, Category: v.Category, CreatedAt: x.now()}
		state.Notes = append([]game.Note{note}, state.Notes...)
		return Outcome{Result: "Note added", Log: fmt.Sprintf("Journal: new entry about %s", v.Title)}

	case ManageCombat:
		return x.manageCombat(state, v)

	case RequestRoll:
		x.logger.Warn("request_roll reached the executor", "ability", v.Ability)
		return Outcome{Result: "Success"}

	case Unrecognized:
		x.logger.Warn("Unrecognized tool call", "tool", v.Name, "reason", v.Reason)
		return Outcome{Result: "Success"}
	}
	return Outcome{Result: "Success"}
}

func (x *ToolExecutor) upsertQuest(state *game.GameState, v UpdateQuest) Outcome {
	idx := -1
	for i, q := range state.Quests {
		if q.ID == v.ID || q.Title == v.Title || (v.ID != game.NewQuestSentinel && q.Title == v.ID) {
			idx = i
			break
		}
	}

	if idx >= 0 {
		q := &state.Quests[idx]
		q.Title = v.Title
		q.Status = v.Status
		if v.Description != nil {
			q.Description = *v.Description
		}
	} else {
		id, err := game.NewQuestID()
		if err != nil {
			return x.failed("update_quest", err)
		}
		q := game.Quest{ID: id, Title: v.Title, Status: v.Status}
		if v.Description != nil {
			q.Description = *v.Description
		}
		state.Quests = append([]game.Quest{q}, state.Quests...)
	}

	return Outcome{
		Result: fmt.Sprintf("Quest %s is now %s", v.Title, v.Status),
		Log:    fmt.Sprintf("%s: %s", questHeadline(v.Status, idx < 0), v.Title),
	}
}

func questHeadline(s game.QuestStatus, isNew bool) string {
	switch s {
	case game.QuestCompleted:
		return "Quest completed"
	case game.QuestFailed:
		return "Quest failed"
	}
	if isNew {
		return "New quest"
	}
	return "Quest updated"
}

func (x *ToolExecutor) manageCombat(state *game.GameState, v ManageCombat) Outcome {
	switch v.Action {
	case "start":
		state.Combat = game.CombatState{Active: true, Combatants: make([]game.Combatant, 0)}
		return Outcome{Result: "Combat start", Log: "Combat started! Roll initiative!"}
	case "end":
		state.Combat = game.CombatState{Combatants: make([]game.Combatant, 0)}
		state.MapTokens = make([]game.MapToken, 0)
		return Outcome{Result: "Combat end", Log: "Combat ended"}
	}

	state.Combat = game.CombatState{Active: true, Combatants: uniqueNames(v.Combatants)}
	reconcileTokens(state)
	return Outcome{Result: "Combat update"}
}

// uniqueNames suffixes repeated names ("Goblin", "Goblin 2") so combatant
// names stay unique while combat is active.
func uniqueNames(in []game.Combatant) []game.Combatant {
	out := make([]game.Combatant, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, c := range in {
		name := c.Name
		for n := 2; seen[name]; n++ {
			name = fmt.Sprintf("%s %d", c.Name, n)
		}
		seen[name] = true
		c.Name = name
		out = append(out, c)
	}
	return out
}

// reconcileTokens spawns a token for every combatant without one and removes
// tokens that no longer name a combatant.
func reconcileTokens(state *game.GameState) {
	names := make(map[string]game.Faction, len(state.Combat.Combatants))
	for _, c := range state.Combat.Combatants {
		names[c.Name] = c.Faction
	}

	kept := make([]game.MapToken, 0, len(state.MapTokens))
	for _, t := range state.MapTokens {
		if _, ok := names[t.ID]; ok {
			kept = append(kept, t)
		}
	}
	state.MapTokens = kept

	for _, c := range state.Combat.Combatants {
		if state.FindToken(c.Name) >= 0 {
			continue
		}
		state.MapTokens = append(state.MapTokens, game.MapToken{
			ID:       c.Name,
			Faction:  c.Faction,
			Position: freeCell(state.MapTokens, c.Faction),
			Size:     1,
		})
	}
}

func spawnColumn(f game.Faction) int {
	switch f {
	case game.FactionPlayer:
		return 1
	case game.FactionAlly:
		return 2
	default:
		return game.GridColumns - 2
	}
}

// freeCell returns the first unoccupied cell scanning down the faction's
// column, then outward column by column.
func freeCell(tokens []game.MapToken, f game.Faction) game.GridPosition {
	taken := make(map[game.GridPosition]bool, len(tokens))
	for _, t := range tokens {
		taken[t.Position] = true
	}
	start := spawnColumn(f)
	for offset := 0; offset < game.GridColumns; offset++ {
		for _, col := range []int{start - offset, start + offset} {
			if col < 0 || col >= game.GridColumns {
				continue
			}
			for row := 0; row < game.GridRows; row++ {
				p := game.GridPosition{X: col, Y: row}
				if !taken[p] {
					return p
				}
			}
		}
	}
	return game.GridPosition{X: start, Y: 0}
}

func (x *ToolExecutor) failed(tool string, err error) Outcome {
	x.logger.Error("Tool execution failed", "tool", tool, "error", err)
	return Outcome{Result: fmt.Sprintf("Error: %v", err)}
}

func signed(n int) string {
	if n > 0 {
		return fmt.Sprintf("+%d", n)
	}
	return fmt.Sprintf("%d", n)
}
