package game

import (
	"strings"
	"time"
)

// AbilityScores holds the six ability scores of a character.
type AbilityScores struct {
	Strength     int `json:"strength" bson:"strength" yaml:"strength"`
	Dexterity    int `json:"dexterity" bson:"dexterity" yaml:"dexterity"`
	Constitution int `json:"constitution" bson:"constitution" yaml:"constitution"`
	Intelligence int `json:"intelligence" bson:"intelligence" yaml:"intelligence"`
	Wisdom       int `json:"wisdom" bson:"wisdom" yaml:"wisdom"`
	Charisma     int `json:"charisma" bson:"charisma" yaml:"charisma"`
}

// Score returns the score backing a named check. "initiative" uses dexterity.
// ok is false when the name is not an ability.
func (a AbilityScores) Score(name string) (score int, ok bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "strength", "str":
		return a.Strength, true
	case "dexterity", "dex", "initiative":
		return a.Dexterity, true
	case "constitution", "con":
		return a.Constitution, true
	case "intelligence", "int":
		return a.Intelligence, true
	case "wisdom", "wis":
		return a.Wisdom, true
	case "charisma", "cha":
		return a.Charisma, true
	}
	return 0, false
}

// Character is the player character bound to the oracle session.
type Character struct {
	Name       string        `json:"name" bson:"name" yaml:"name"`
	Race       string        `json:"race" bson:"race" yaml:"race"`
	Class      string        `json:"class" bson:"class" yaml:"class"`
	Level      int           `json:"level" bson:"level" yaml:"level"`
	Stats      AbilityScores `json:"stats" bson:"stats" yaml:"stats"`
	Inventory  []string      `json:"inventory" bson:"inventory" yaml:"inventory"`
	Appearance string        `json:"appearance" bson:"appearance" yaml:"appearance"`
	HP         int           `json:"hp" bson:"hp" yaml:"hp"`
	MaxHP      int           `json:"maxHp" bson:"maxHp" yaml:"maxHp"`
	AC         int           `json:"ac" bson:"ac" yaml:"ac"`
	AvatarURL  string        `json:"avatarUrl,omitempty" bson:"avatarUrl,omitempty" yaml:"avatarUrl,omitempty"`
}

// Location is the current scene.
type Location struct {
	Name         string `json:"name" bson:"name"`
	Description  string `json:"description" bson:"description"`
	ImageURL     string `json:"imageUrl,omitempty" bson:"imageUrl,omitempty"`
	IsGenerating bool   `json:"isGenerating" bson:"isGenerating"`
}

// Quest is one tracked objective.
type Quest struct {
	ID          string      `json:"id" bson:"id"`
	Title       string      `json:"title" bson:"title"`
	Description string      `json:"description" bson:"description"`
	Status      QuestStatus `json:"status" bson:"status"`
}

// Note is an immutable journal entry.
type Note struct {
	ID        string       `json:"id" bson:"id"`
	Title     string       `json:"title" bson:"title"`
	Content   string       `json:"content" bson:"content"`
	Category  NoteCategory `json:"type" bson:"type"`
	CreatedAt time.Time    `json:"timestamp" bson:"timestamp"`
}

// Combatant is one entry of the initiative order.
type Combatant struct {
	Name          string  `json:"name" bson:"name"`
	Initiative    int     `json:"initiative" bson:"initiative"`
	Faction       Faction `json:"type" bson:"type"`
	IsCurrentTurn bool    `json:"isCurrentTurn" bson:"isCurrentTurn"`
	HealthStatus  string  `json:"hpStatus,omitempty" bson:"hpStatus,omitempty"`
}

// CombatState is the combat tracker. Combatant names are unique while Active.
type CombatState struct {
	Active     bool        `json:"isActive" bson:"isActive"`
	Combatants []Combatant `json:"combatants" bson:"combatants"`
}

// GridPosition is a cell on the battle map.
type GridPosition struct {
	X int `json:"x" bson:"x"`
	Y int `json:"y" bson:"y"`
}

// MapToken is a piece on the battle map. Combat-spawned tokens share the combatant's name as ID.
type MapToken struct {
	ID       string       `json:"id" bson:"id"`
	Faction  Faction      `json:"type" bson:"type"`
	Position GridPosition `json:"position" bson:"position"`
	Size     int          `json:"size" bson:"size"`
}

// Message is one transcript entry. The transcript is append-only.
type Message struct {
	ID            string    `json:"id" bson:"id"`
	Text          string    `json:"text" bson:"text"`
	Author        Author    `json:"sender" bson:"sender"`
	CreatedAt     time.Time `json:"timestamp" bson:"timestamp"`
	IsError       bool      `json:"isError,omitempty" bson:"isError,omitempty"`
	ParticipantID string    `json:"participantId,omitempty" bson:"participantId,omitempty"`
}

// GameState is the root aggregate owned by the local process.
type GameState struct {
	Character    Character
	Location     Location
	Quests       []Quest // newest first
	Notes        []Note  // newest first
	StorySummary string
	Combat       CombatState
	MapTokens    []MapToken
	Transcript   []Message
}

// NewGameState creates the empty state a session starts from.
func NewGameState(character Character) *GameState {
	return &GameState{
		Character: character,
		Location: Location{
			Name:        "Unknown Location",
			Description: "Dim torchlight flickers over damp stone.",
		},
		Quests:     make([]Quest, 0),
		Notes:      make([]Note, 0),
		Combat:     CombatState{Combatants: make([]Combatant, 0)},
		MapTokens:  make([]MapToken, 0),
		Transcript: make([]Message, 0),
	}
}

// AppendMessage appends a transcript entry.
func (s *GameState) AppendMessage(msg Message) {
	s.Transcript = append(s.Transcript, msg)
}

// FindToken returns the index of the token with id, or -1.
func (s *GameState) FindToken(id string) int {
	for i, t := range s.MapTokens {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// Clone creates a deep copy of the game state.
func (s *GameState) Clone() *GameState {
	clone := *s
	clone.Character = s.Character.Clone()
	clone.Quests = cloneSlice(s.Quests)
	clone.Notes = cloneSlice(s.Notes)
	clone.Combat = s.Combat.Clone()
	clone.MapTokens = cloneSlice(s.MapTokens)
	clone.Transcript = cloneSlice(s.Transcript)
	return &clone
}

// Clone copies the character including its inventory.
func (c Character) Clone() Character {
	c.Inventory = cloneSlice(c.Inventory)
	return c
}

// Clone copies the combat state including its combatants.
func (c CombatState) Clone() CombatState {
	c.Combatants = cloneSlice(c.Combatants)
	return c
}

func cloneSlice[T any](in []T) []T {
	out := make([]T, len(in))
	copy(out, in)
	return out
}

// DefaultCharacter is the pre-built ranger used when no character sheet is supplied.
func DefaultCharacter() Character {
	return Character{
		Name:  "Aragorn",
		Race:  "Human",
		Class: "Ranger",
		Level: 1,
		Stats: AbilityScores{
			Strength:     12,
			Dexterity:    15,
			Constitution: 13,
			Intelligence: 10,
			Wisdom:       14,
			Charisma:     8,
		},
		Inventory:  []string{"Scale mail", "Two shortswords", "Explorer's pack", "Longbow", "Arrows (20)"},
		Appearance: "Tall, dark-haired, stern gaze, wears a green hooded cloak.",
		HP:         11, // d10 + 1 (CON 13)
		MaxHP:      11,
		AC:         16, // scale mail 14 + DEX capped at 2
	}
}
