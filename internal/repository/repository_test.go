package repository

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tavern/pkg/game"
)

func sampleDocument(t *testing.T, savedAt time.Time) game.Document {
	t.Helper()
	state := game.NewGameState(game.DefaultCharacter())
	state.Location = game.Location{Name: "The Prancing Pony", Description: "A crowded inn"}
	state.AppendMessage(game.Message{ID: "MSG-1", Author: game.AuthorAgent, Text: "Welcome, traveller."})
	state.AppendMessage(game.Message{ID: "MSG-2", Author: game.AuthorUser, Text: "I order an ale."})
	state.Quests = []game.Quest{{ID: "QST-1", Title: "Find Gandalf", Status: game.QuestActive}}
	state.Notes = []game.Note{{ID: "NOTE-1", Title: "Butterbur", Content: "Innkeeper", Category: game.NoteNPC}}
	return game.ToDocument(state, savedAt)
}

func TestSaveStore_SaveLoad(t *testing.T) {
	store := NewSaveStore(filepath.Join(t.TempDir(), "saves"))
	doc := sampleDocument(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	require.NoError(t, store.Save("bree", doc))

	loaded, err := store.Load("bree")
	require.NoError(t, err)
	assert.Equal(t, doc.Transcript, loaded.Transcript)
	assert.Equal(t, "QST-1", loaded.Quests[0].ID)
	assert.Equal(t, "NOTE-1", loaded.Notes[0].ID)
	require.NotNil(t, loaded.Character)
	assert.Equal(t, "Aragorn", loaded.Character.Name)

	// No temp files are left behind.
	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bree.json", entries[0].Name())
}

func TestSaveStore_Overwrite(t *testing.T) {
	store := NewSaveStore(t.TempDir())
	doc := sampleDocument(t, time.Now())
	require.NoError(t, store.Save(AutosaveSlot, doc))

	doc.Transcript = append(doc.Transcript, game.Message{ID: "MSG-3", Author: game.AuthorSystem, Text: "HP changed: -2 (trap)"})
	require.NoError(t, store.Save(AutosaveSlot, doc))

	loaded, err := store.Load(AutosaveSlot)
	require.NoError(t, err)
	assert.Len(t, loaded.Transcript, 3)
}

func TestSaveStore_RejectsInvalid(t *testing.T) {
	store := NewSaveStore(t.TempDir())

	doc := sampleDocument(t, time.Now())
	doc.Transcript = append(doc.Transcript, doc.Transcript[0])
	err := store.Save("dupe", doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")

	_, err = store.Load("dupe")
	assert.ErrorIs(t, err, ErrSaveNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "broken.json"), []byte(`{"messages":[{"id":"MSG-1","sender":"narrator"}]}`), 0644))
	_, err = store.Load("broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid author")

	assert.Error(t, store.Save("../escape", doc))
	assert.Error(t, store.Save("", doc))
}

func TestSaveStore_ListAndDelete(t *testing.T) {
	store := NewSaveStore(t.TempDir())

	infos, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, infos)

	older := sampleDocument(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := sampleDocument(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.Save("first", older))
	require.NoError(t, store.Save("second", newer))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "garbage.json"), []byte("not json"), 0644))

	infos, err = store.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "second", infos[0].Slot)
	assert.Equal(t, "first", infos[1].Slot)
	assert.Equal(t, "Aragorn", infos[0].Character)
	assert.Equal(t, "The Prancing Pony", infos[0].Location)
	assert.Equal(t, 2, infos[0].Messages)

	require.NoError(t, store.Delete("first"))
	assert.ErrorIs(t, store.Delete("first"), ErrSaveNotFound)

	infos, err = store.List()
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestReadCharacter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gimli.yaml")
	sheet := `name: Gimli
race: Dwarf
class: Fighter
level: 2
maxHp: 24
ac: 18
stats:
  strength: 17
  dexterity: 10
  constitution: 16
  intelligence: 9
  wisdom: 11
  charisma: 8
inventory:
  - Battleaxe
  - Chain mail
`
	require.NoError(t, os.WriteFile(path, []byte(sheet), 0644))

	c, err := ReadCharacter(path)
	require.NoError(t, err)
	assert.Equal(t, "Gimli", c.Name)
	assert.Equal(t, 24, c.HP, "hp defaults to maxHp")
	assert.Equal(t, 17, c.Stats.Strength)
	assert.Equal(t, []string{"Battleaxe", "Chain mail"}, c.Inventory)

	out := filepath.Join(dir, "copy.yaml")
	require.NoError(t, WriteCharacter(out, c))
	again, err := ReadCharacter(out)
	require.NoError(t, err)
	assert.Equal(t, c, again)
}

func TestReadCharacter_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: Ghost\nmaxHp: 10\nhp: 40\n"), 0644))

	_, err := ReadCharacter(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hp must be between")
}
