package repository

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tavern/pkg/game"
)

// ReadCharacter loads a YAML character sheet. Omitted fields fall back to the
// default character, and HP defaults to MaxHP.
func ReadCharacter(path string) (game.Character, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return game.Character{}, fmt.Errorf("read character sheet: %w", err)
	}

	c := game.DefaultCharacter()
	c.HP = 0
	if err := yaml.Unmarshal(data, &c); err != nil {
		return game.Character{}, fmt.Errorf("parse character sheet: %w", err)
	}
	if c.HP == 0 {
		c.HP = c.MaxHP
	}
	if err := game.ValidateCharacter(&c); err != nil {
		return game.Character{}, fmt.Errorf("invalid character sheet: %w", err)
	}
	return c, nil
}

// WriteCharacter writes c as a YAML character sheet.
func WriteCharacter(path string, c game.Character) error {
	if err := game.ValidateCharacter(&c); err != nil {
		return fmt.Errorf("invalid character: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal character: %w", err)
	}
	return writeAtomic(path, data)
}
