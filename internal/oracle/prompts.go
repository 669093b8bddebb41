package oracle

import (
	"fmt"
	"strings"

	"tavern/pkg/game"
)

// OpeningPrompt starts a fresh adventure.
const OpeningPrompt = "Begin the adventure. Describe where my character is and what they see."

// BuildSystemInstruction creates the narrator's standing instructions for a character.
func BuildSystemInstruction(c game.Character, summary string) string {
	var sb strings.Builder

	sb.WriteString(`You are a professional Dungeon Master running a Dungeons & Dragons 5th Edition (SRD) game.
Your style is atmospheric and fair, but strict about the rules.
`)

	if summary != "" {
		sb.WriteString(fmt.Sprintf(`
### 0. STORY SO FAR
A short summary of what happened earlier. Use it to remember past events:
%s
`, summary))
	}

	s := c.Stats
	sb.WriteString(fmt.Sprintf(`
### 1. CHARACTER
The player controls:
- **Name:** %s
- **Race/Class:** %s %s (level %d)
- **Appearance:** %s
- **Health:** HP %d/%d (current/max). At 0 HP the character is unconscious.
- **Armor Class:** %d
- **Abilities:** STR %d (%s), DEX %d (%s), CON %d (%s), INT %d (%s), WIS %d (%s), CHA %d (%s).
- **Inventory:** %s.
`,
		c.Name, c.Race, c.Class, c.Level, c.Appearance, c.HP, c.MaxHP, c.AC,
		s.Strength, game.FormatModifier(game.Modifier(s.Strength)),
		s.Dexterity, game.FormatModifier(game.Modifier(s.Dexterity)),
		s.Constitution, game.FormatModifier(game.Modifier(s.Constitution)),
		s.Intelligence, game.FormatModifier(game.Modifier(s.Intelligence)),
		s.Wisdom, game.FormatModifier(game.Modifier(s.Wisdom)),
		s.Charisma, game.FormatModifier(game.Modifier(s.Charisma)),
		strings.Join(c.Inventory, ", "),
	))

	sb.WriteString(`
### 2. GAME STATE (tools)
You control the world through tools. USE THEM ACTIVELY.
- HP and inventory: update_hp, modify_inventory.
- Rolls: request_roll (attacks, checks, saving throws). Wait for the result.
- World: update_location whenever the scene changes.
- Quests: update_quest to give or update objectives.
- Journal: add_note. When the player learns an important NPC, place or piece of lore, ALWAYS record it.
- Combat: manage_combat for initiative and turn order.

### 3. RULES
- Never play for the player. Describe the situation and ask "What do you do?".
- Use Markdown for formatting.

### 4. COMBAT
1. Start: manage_combat(action='start').
2. Initiative: request_roll(ability="initiative").
3. Update: manage_combat(action='update', combatants=[...]).
4. End: manage_combat(action='end').
`)

	return sb.String()
}

// BuildSummaryPrompt asks for a rolling summary that folds recent events into the previous one.
func BuildSummaryPrompt(previous string, recent []game.Message) string {
	if previous == "" {
		previous = "The adventure has just begun."
	}

	var sb strings.Builder
	sb.WriteString("Act as a scribe summarizing a D&D session.\n\n")
	sb.WriteString(fmt.Sprintf("PREVIOUS SUMMARY:\n%s\n\nNEW EVENTS:\n", previous))
	for _, m := range recent {
		sb.WriteString(fmt.Sprintf("%s: %s\n", speaker(m.Author), m.Text))
	}
	sb.WriteString(`
TASK:
Update the summary to include the new events. Keep it concise (max 200 words).
Focus on key plot points, decisions, and character status changes.
Write in a literary chronicle style.`)
	return sb.String()
}

// BuildLocationImagePrompt describes a top-down battle map for a scene.
func BuildLocationImagePrompt(description string) string {
	return fmt.Sprintf(`Top-down tabletop RPG battle map.
Scene: %s.

Perspective: orthographic top-down view (90 degrees), suitable for a 2D grid.
Style: high quality fantasy digital art, detailed textures, neutral lighting, realistic scale.
Constraint: NO grid lines on the image. NO UI elements.`, description)
}

// BuildAvatarPrompt describes a portrait of the character with their current gear.
func BuildAvatarPrompt(c game.Character) string {
	items := c.Inventory
	if len(items) > 4 {
		items = items[:4]
	}
	appearance := c.Appearance
	if appearance == "" {
		appearance = "Heroic, detailed face"
	}
	return fmt.Sprintf(`Dungeons and Dragons character portrait.
Race: %s.
Class: %s.

PHYSICAL APPEARANCE (must preserve): %s.
CURRENT EQUIPMENT (must display): %s.

Style: high quality digital fantasy painting, semi-realistic, dramatic lighting.
Shot: upper body or portrait.`, c.Race, c.Class, appearance, strings.Join(items, ", "))
}

func speaker(a game.Author) string {
	switch a {
	case game.AuthorUser:
		return "Player"
	case game.AuthorAgent:
		return "DM"
	default:
		return "System"
	}
}
