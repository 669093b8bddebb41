package game

import (
	"fmt"
	"strings"
)

// ValidateCharacter validates a character sheet.
func ValidateCharacter(c *Character) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("character name is required")
	}
	if c.MaxHP < 1 {
		return fmt.Errorf("maxHp must be at least 1")
	}
	if c.HP < 0 || c.HP > c.MaxHP {
		return fmt.Errorf("hp must be between 0 and maxHp (%d), got %d", c.MaxHP, c.HP)
	}
	if c.Level < 1 {
		return fmt.Errorf("level must be at least 1")
	}
	return nil
}

// ValidateDocument checks every invariant of a persisted document.
func ValidateDocument(d *Document) error {
	if d.Character != nil {
		if err := ValidateCharacter(d.Character); err != nil {
			return fmt.Errorf("character: %w", err)
		}
	}

	seen := make(map[string]bool, len(d.Transcript))
	for i, m := range d.Transcript {
		if m.ID == "" {
			return fmt.Errorf("message %d: id is required", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("message %d: duplicate id %s", i, m.ID)
		}
		seen[m.ID] = true
		if !m.Author.Valid() {
			return fmt.Errorf("message %s: invalid author: %s", m.ID, m.Author)
		}
	}

	questIDs := make(map[string]bool, len(d.Quests))
	for _, q := range d.Quests {
		if q.ID == "" || q.ID == NewQuestSentinel {
			return fmt.Errorf("quest %q: invalid id %q", q.Title, q.ID)
		}
		if questIDs[q.ID] {
			return fmt.Errorf("quest %q: duplicate id %s", q.Title, q.ID)
		}
		questIDs[q.ID] = true
		if !q.Status.Valid() {
			return fmt.Errorf("quest %s: invalid status: %s", q.ID, q.Status)
		}
	}

	noteIDs := make(map[string]bool, len(d.Notes))
	for _, n := range d.Notes {
		if n.ID == "" {
			return fmt.Errorf("note %q: id is required", n.Title)
		}
		if noteIDs[n.ID] {
			return fmt.Errorf("note %q: duplicate id %s", n.Title, n.ID)
		}
		noteIDs[n.ID] = true
		if !n.Category.Valid() {
			return fmt.Errorf("note %s: invalid category: %s", n.ID, n.Category)
		}
	}

	if d.Combat.Active {
		names := make(map[string]bool, len(d.Combat.Combatants))
		for _, c := range d.Combat.Combatants {
			if names[c.Name] {
				return fmt.Errorf("combatant %q appears twice", c.Name)
			}
			names[c.Name] = true
			if !c.Faction.Valid() {
				return fmt.Errorf("combatant %q: invalid faction: %s", c.Name, c.Faction)
			}
		}
	}

	tokenIDs := make(map[string]bool, len(d.MapTokens))
	for _, t := range d.MapTokens {
		if t.ID == "" {
			return fmt.Errorf("map token: id is required")
		}
		if tokenIDs[t.ID] {
			return fmt.Errorf("map token %q appears twice", t.ID)
		}
		tokenIDs[t.ID] = true
	}

	return nil
}
