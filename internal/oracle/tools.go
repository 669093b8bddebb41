package oracle

import (
	"github.com/firebase/genkit/go/ai"
	"google.golang.org/genai"
)

// Tool wire names. These are part of the oracle contract and must not change.
const (
	ToolUpdateHP        = "update_hp"
	ToolModifyInventory = "modify_inventory"
	ToolRequestRoll     = "request_roll"
	ToolUpdateLocation  = "update_location"
	ToolUpdateQuest     = "update_quest"
	ToolAddNote         = "add_note"
	ToolManageCombat    = "manage_combat"
)

// param describes one tool argument. It converts to both the Gemini schema and
// the JSON schema map genkit expects.
type param struct {
	Type        string // object, string, integer, boolean, array
	Description string
	Enum        []string
	Properties  map[string]param
	Required    []string
	Items       *param
}

type toolSpec struct {
	Name        string
	Description string
	Params      param
}

func str(desc string, enum ...string) param {
	return param{Type: "string", Description: desc, Enum: enum}
}

func integer(desc string) param {
	return param{Type: "integer", Description: desc}
}

var narratorTools = []toolSpec{
	{
		Name:        ToolUpdateHP,
		Description: "Updates the character's current HP. Use negative numbers for damage, positive for healing.",
		Params: param{
			Type: "object",
			Properties: map[string]param{
				"amount": integer("The amount of HP to change. E.g., -5 for damage, 5 for healing."),
				"reason": str(`Short explanation for the log (e.g., "Goblin arrow", "Healing potion").`),
			},
			Required: []string{"amount", "reason"},
		},
	},
	{
		Name:        ToolModifyInventory,
		Description: "Adds or removes an item from the character's inventory.",
		Params: param{
			Type: "object",
			Properties: map[string]param{
				"item":   str("The name of the item."),
				"action": str("Whether to add or remove the item.", "add", "remove"),
			},
			Required: []string{"item", "action"},
		},
	},
	{
		Name:        ToolRequestRoll,
		Description: "Requests the player to make a die roll (ability check, saving throw or attack roll). Use this when the outcome is uncertain. The game pauses until the player rolls.",
		Params: param{
			Type: "object",
			Properties: map[string]param{
				"ability": str(`The ability score to use (strength, dexterity, constitution, intelligence, wisdom, charisma) or "initiative".`),
				"skill":   str("Optional skill (athletics, perception, stealth, etc.)."),
				"dc":      integer("Target Difficulty Class (DC)."),
				"reason":  str(`Short explanation for the player (e.g., "To lift the rock").`),
			},
			Required: []string{"ability", "reason"},
		},
	},
	{
		Name:        ToolUpdateLocation,
		Description: "Updates the current location. Use this when the characters move to a new significant area to generate a new background.",
		Params: param{
			Type: "object",
			Properties: map[string]param{
				"name":        str(`Name of the location (e.g. "The Prancing Pony").`),
				"description": str("Visual description for image generation."),
			},
			Required: []string{"name", "description"},
		},
	},
	{
		Name:        ToolUpdateQuest,
		Description: "Adds a new quest or updates an existing one. Use this to track objectives.",
		Params: param{
			Type: "object",
			Properties: map[string]param{
				"title":       str("Short title of the quest."),
				"description": str("Brief description of the objective."),
				"status":      str("Current status of the quest.", "active", "completed", "failed"),
				"id":          str(`Unique ID for the quest. Use "new" for a new quest, or pass the existing title to update it.`),
			},
			Required: []string{"title", "status", "id"},
		},
	},
	{
		Name:        ToolAddNote,
		Description: "Adds a note to the player's journal about an important NPC, location or lore fact.",
		Params: param{
			Type: "object",
			Properties: map[string]param{
				"title":   str(`Title of the note (e.g., "The Golden Key").`),
				"content": str("The details to remember."),
				"type":    str("Category of the note.", "npc", "location", "lore", "other"),
			},
			Required: []string{"title", "content", "type"},
		},
	},
	{
		Name:        ToolManageCombat,
		Description: "Manages the combat tracker. Use this to start combat, update initiative order and health status, or end combat.",
		Params: param{
			Type: "object",
			Properties: map[string]param{
				"action": str("start: opens tracker. end: closes tracker. update: refreshes the list of combatants.", "start", "end", "update"),
				"combatants": {
					Type:        "array",
					Description: `List of combatants. Required for "update".`,
					Items: &param{
						Type: "object",
						Properties: map[string]param{
							"name":          {Type: "string"},
							"initiative":    {Type: "integer"},
							"type":          str("", "player", "enemy", "ally"),
							"isCurrentTurn": {Type: "boolean"},
							"hpStatus":      str(`Optional status like "Healthy", "Wounded", "Near death".`),
						},
						Required: []string{"name", "initiative", "type"},
					},
				},
			},
			Required: []string{"action"},
		},
	},
}

// ToolNames lists every tool the narrator can call, in declaration order.
func ToolNames() []string {
	names := make([]string, len(narratorTools))
	for i, t := range narratorTools {
		names[i] = t.Name
	}
	return names
}

// FunctionDeclarations returns the narrator tools as Gemini function declarations.
func FunctionDeclarations() []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(narratorTools))
	for _, t := range narratorTools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Params.genaiSchema(),
		})
	}
	return decls
}

// ToolDefinitions returns the narrator tools as genkit tool definitions.
func ToolDefinitions() []*ai.ToolDefinition {
	defs := make([]*ai.ToolDefinition, 0, len(narratorTools))
	for _, t := range narratorTools {
		defs = append(defs, &ai.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Params.jsonSchema(),
		})
	}
	return defs
}

var genaiTypes = map[string]genai.Type{
	"object":  genai.TypeObject,
	"string":  genai.TypeString,
	"integer": genai.TypeInteger,
	"boolean": genai.TypeBoolean,
	"array":   genai.TypeArray,
}

func (p param) genaiSchema() *genai.Schema {
	s := &genai.Schema{
		Type:        genaiTypes[p.Type],
		Description: p.Description,
		Enum:        p.Enum,
		Required:    p.Required,
	}
	if len(p.Properties) > 0 {
		s.Properties = make(map[string]*genai.Schema, len(p.Properties))
		for name, prop := range p.Properties {
			s.Properties[name] = prop.genaiSchema()
		}
	}
	if p.Items != nil {
		s.Items = p.Items.genaiSchema()
	}
	return s
}

func (p param) jsonSchema() map[string]any {
	s := map[string]any{"type": p.Type}
	if p.Description != "" {
		s["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		s["enum"] = p.Enum
	}
	if len(p.Required) > 0 {
		s["required"] = p.Required
	}
	if len(p.Properties) > 0 {
		props := make(map[string]any, len(p.Properties))
		for name, prop := range p.Properties {
			props[name] = prop.jsonSchema()
		}
		s["properties"] = props
	}
	if p.Items != nil {
		s["items"] = p.Items.jsonSchema()
	}
	return s
}
