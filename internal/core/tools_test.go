package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tavern/internal/oracle"
	"tavern/pkg/game"
)

func call(name string, args map[string]any) oracle.ToolCall {
	return oracle.ToolCall{ID: "call-" + name, Name: name, Args: args}
}

func TestExecuteUpdateHPClamps(t *testing.T) {
	tests := []struct {
		name   string
		hp     int
		amount int
		want   int
	}{
		{"overheal", 5, 999, 20},
		{"massive damage", 5, -999, 0},
		{"ordinary damage", 12, -4, 8},
		{"no change", 20, 0, 20},
	}

	x := NewToolExecutor(NopLogger{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := game.NewGameState(game.DefaultCharacter())
			state.Character.HP = tt.hp
			state.Character.MaxHP = 20

			out := x.Execute(state, Decode(call(oracle.ToolUpdateHP, map[string]any{"amount": tt.amount, "reason": "test"})))

			assert.Equal(t, tt.want, state.Character.HP)
			assert.GreaterOrEqual(t, state.Character.HP, 0)
			assert.LessOrEqual(t, state.Character.HP, state.Character.MaxHP)
			assert.True(t, strings.HasPrefix(out.Result, "Success, current hp"))
		})
	}
}

func TestExecuteModifyInventory(t *testing.T) {
	x := NewToolExecutor(NopLogger{})
	state := game.NewGameState(game.DefaultCharacter())
	state.Character.Inventory = []string{"Rope", "torch", "Dagger"}

	out := x.Execute(state, Decode(call(oracle.ToolModifyInventory, map[string]any{"item": "Torch", "action": "remove"})))
	assert.Equal(t, "Success", out.Result)
	assert.Equal(t, []string{"Rope", "Dagger"}, state.Character.Inventory)

	x.Execute(state, Decode(call(oracle.ToolModifyInventory, map[string]any{"item": "Lantern", "action": "remove"})))
	assert.Equal(t, []string{"Rope", "Dagger"}, state.Character.Inventory)

	out = x.Execute(state, Decode(call(oracle.ToolModifyInventory, map[string]any{"item": "Healing potion", "action": "add"})))
	assert.Equal(t, "Item gained: Healing potion", out.Log)
	assert.Equal(t, []string{"Rope", "Dagger", "Healing potion"}, state.Character.Inventory)
}

func TestExecuteUpdateQuestUpserts(t *testing.T) {
	x := NewToolExecutor(NopLogger{})
	state := game.NewGameState(game.DefaultCharacter())

	x.Execute(state, Decode(call(oracle.ToolUpdateQuest, map[string]any{
		"id": "new", "title": "Find the Relic", "description": "It lies beneath the abbey.", "status": "active",
	})))
	require.Len(t, state.Quests, 1)
	first := state.Quests[0]
	assert.True(t, strings.HasPrefix(first.ID, "QST-"))
	assert.Equal(t, game.QuestActive, first.Status)

	out := x.Execute(state, Decode(call(oracle.ToolUpdateQuest, map[string]any{
		"id": "new", "title": "Find the Relic", "status": "completed",
	})))
	require.Len(t, state.Quests, 1)
	assert.Equal(t, first.ID, state.Quests[0].ID)
	assert.Equal(t, game.QuestCompleted, state.Quests[0].Status)
	assert.Equal(t, "It lies beneath the abbey.", state.Quests[0].Description)
	assert.Equal(t, "Quest Find the Relic is now completed", out.Result)
	assert.Equal(t, "Quest completed: Find the Relic", out.Log)

	x.Execute(state, Decode(call(oracle.ToolUpdateQuest, map[string]any{"title": "Escort the merchant", "status": "active"})))
	require.Len(t, state.Quests, 2)
	assert.Equal(t, "Escort the merchant", state.Quests[0].Title, "new quests go first")
}

func TestExecuteAddNote(t *testing.T) {
	x := NewToolExecutor(NopLogger{})
	state := game.NewGameState(game.DefaultCharacter())

	x.Execute(state, Decode(call(oracle.ToolAddNote, map[string]any{"title": "Old Tom", "content": "Innkeeper", "type": "npc"})))
	x.Execute(state, Decode(call(oracle.ToolAddNote, map[string]any{"title": "Rumor", "content": "A dragon", "type": "gossip"})))

	require.Len(t, state.Notes, 2)
	assert.Equal(t, "Rumor", state.Notes[0].Title)
	assert.Equal(t, game.NoteOther, state.Notes[0].Category)
	assert.Equal(t, game.NoteNPC, state.Notes[1].Category)
	assert.NotEqual(t, state.Notes[0].ID, state.Notes[1].ID)
}

func TestExecuteUpdateLocation(t *testing.T) {
	x := NewToolExecutor(NopLogger{})
	state := game.NewGameState(game.DefaultCharacter())

	out := x.Execute(state, Decode(call(oracle.ToolUpdateLocation, map[string]any{"name": "Crypt", "description": "Cold and dark"})))

	assert.Equal(t, "Crypt", state.Location.Name)
	assert.True(t, state.Location.IsGenerating)
	require.NotNil(t, out.Effect)
	assert.Equal(t, "Crypt", out.Effect.Location)
	assert.Contains(t, out.Effect.Prompt, "Cold and dark")
}

func TestExecuteManageCombat(t *testing.T) {
	x := NewToolExecutor(NopLogger{})
	state := game.NewGameState(game.DefaultCharacter())

	out := x.Execute(state, Decode(call(oracle.ToolManageCombat, map[string]any{"action": "start"})))
	assert.Equal(t, "Combat start", out.Result)
	assert.True(t, state.Combat.Active)

	x.Execute(state, Decode(call(oracle.ToolManageCombat, map[string]any{
		"action": "update",
		"combatants": []any{
			map[string]any{"name": "Aragorn", "initiative": 15, "type": "player", "isCurrentTurn": true},
			map[string]any{"name": "Goblin", "initiative": 12, "type": "enemy"},
			map[string]any{"name": "Goblin", "initiative": 8, "type": "monster"},
		},
	})))

	require.Len(t, state.Combat.Combatants, 3)
	assert.Equal(t, "Goblin 2", state.Combat.Combatants[2].Name)
	assert.Equal(t, game.FactionEnemy, state.Combat.Combatants[2].Faction)
	require.Len(t, state.MapTokens, 3)

	seen := map[game.GridPosition]bool{}
	for _, tok := range state.MapTokens {
		assert.False(t, seen[tok.Position], "tokens must not share a cell")
		seen[tok.Position] = true
	}
	assert.Equal(t, 1, state.MapTokens[state.FindToken("Aragorn")].Position.X)
	assert.Equal(t, game.GridColumns-2, state.MapTokens[state.FindToken("Goblin")].Position.X)

	// A combatant leaving removes its token; survivors keep their cells.
	goblinPos := state.MapTokens[state.FindToken("Goblin")].Position
	x.Execute(state, Decode(call(oracle.ToolManageCombat, map[string]any{
		"action": "update",
		"combatants": []any{
			map[string]any{"name": "Aragorn", "initiative": 15, "type": "player"},
			map[string]any{"name": "Goblin", "initiative": 12, "type": "enemy"},
		},
	})))
	require.Len(t, state.MapTokens, 2)
	assert.Equal(t, -1, state.FindToken("Goblin 2"))
	assert.Equal(t, goblinPos, state.MapTokens[state.FindToken("Goblin")].Position)

	out = x.Execute(state, Decode(call(oracle.ToolManageCombat, map[string]any{"action": "end"})))
	assert.Equal(t, "Combat end", out.Result)
	assert.False(t, state.Combat.Active)
	assert.Empty(t, state.MapTokens)
}

func TestDecodeUnrecognized(t *testing.T) {
	tests := []struct {
		name string
		call oracle.ToolCall
	}{
		{"unknown tool", call("cast_spell", map[string]any{"spell": "fireball"})},
		{"bad inventory action", call(oracle.ToolModifyInventory, map[string]any{"item": "Rope", "action": "steal"})},
		{"bad quest status", call(oracle.ToolUpdateQuest, map[string]any{"title": "X", "status": "paused"})},
		{"wrong argument type", call(oracle.ToolUpdateHP, map[string]any{"amount": "lots"})},
		{"bad combat action", call(oracle.ToolManageCombat, map[string]any{"action": "flee"})},
	}

	x := NewToolExecutor(NopLogger{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := Decode(tt.call)
			_, ok := inv.(Unrecognized)
			require.True(t, ok, "got %T", inv)

			state := game.NewGameState(game.DefaultCharacter())
			before := state.Clone()
			out := x.Execute(state, inv)
			assert.Equal(t, "Success", out.Result)
			assert.Equal(t, before, state)
		})
	}
}

func TestDecodeRequestRoll(t *testing.T) {
	inv := Decode(call(oracle.ToolRequestRoll, map[string]any{"ability": "wisdom", "skill": "perception", "dc": 12, "reason": "spot the trap"}))

	roll, ok := inv.(RequestRoll)
	require.True(t, ok)
	assert.Equal(t, RequestRoll{Ability: "wisdom", Skill: "perception", DC: 12, Reason: "spot the trap"}, roll)
}
