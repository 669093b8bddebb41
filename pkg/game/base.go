package game

// Author identifies who produced a transcript entry.
type Author string

const (
	AuthorUser   Author = "user"   // A human participant
	AuthorAgent  Author = "agent"  // The narrative oracle
	AuthorSystem Author = "system" // Game mechanics (tool logs, roll results, errors)
)

// QuestStatus is the lifecycle state of a quest.
type QuestStatus string

const (
	QuestActive    QuestStatus = "active"
	QuestCompleted QuestStatus = "completed"
	QuestFailed    QuestStatus = "failed"
)

// NoteCategory classifies a journal entry.
type NoteCategory string

const (
	NoteNPC      NoteCategory = "npc"
	NoteLocation NoteCategory = "location"
	NoteLore     NoteCategory = "lore"
	NoteOther    NoteCategory = "other"
)

// Faction is the side a combatant or map token belongs to.
type Faction string

const (
	FactionPlayer Faction = "player"
	FactionEnemy  Faction = "enemy"
	FactionAlly   Faction = "ally"
)

// NewQuestSentinel is the quest id the oracle sends to request a fresh id.
const NewQuestSentinel = "new"

// Map grid bounds used when spawning tokens.
const (
	GridColumns = 20
	GridRows    = 15
)

// Valid reports whether s is a known quest status.
func (s QuestStatus) Valid() bool {
	switch s {
	case QuestActive, QuestCompleted, QuestFailed:
		return true
	}
	return false
}

// Valid reports whether c is a known note category.
func (c NoteCategory) Valid() bool {
	switch c {
	case NoteNPC, NoteLocation, NoteLore, NoteOther:
		return true
	}
	return false
}

// Valid reports whether f is a known faction.
func (f Faction) Valid() bool {
	switch f {
	case FactionPlayer, FactionEnemy, FactionAlly:
		return true
	}
	return false
}

// Valid reports whether a is a known author.
func (a Author) Valid() bool {
	switch a {
	case AuthorUser, AuthorAgent, AuthorSystem:
		return true
	}
	return false
}
