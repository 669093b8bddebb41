package game

import "time"

// Document is the persisted subset of GameState. The same shape is written to local
// saves and to the multiplayer relay store.
type Document struct {
	HostID       string      `json:"hostId,omitempty" bson:"hostId,omitempty"`
	Character    *Character  `json:"character,omitempty" bson:"character,omitempty"`
	Transcript   []Message   `json:"messages" bson:"messages"`
	Location     Location    `json:"location" bson:"location"`
	Quests       []Quest     `json:"quests" bson:"quests"`
	Notes        []Note      `json:"notes" bson:"notes"`
	StorySummary string      `json:"storySummary" bson:"storySummary"`
	Combat       CombatState `json:"combatState" bson:"combatState"`
	MapTokens    []MapToken  `json:"mapTokens" bson:"mapTokens"`
	Timestamp    time.Time   `json:"timestamp" bson:"timestamp"`
}

// Patch is a partial Document for field-level last-write-wins updates.
// Nil fields are left untouched.
type Patch struct {
	Location     *Location    `json:"location,omitempty"`
	Combat       *CombatState `json:"combatState,omitempty"`
	MapTokens    *[]MapToken  `json:"mapTokens,omitempty"`
	Quests       *[]Quest     `json:"quests,omitempty"`
	Notes        *[]Note      `json:"notes,omitempty"`
	StorySummary *string      `json:"storySummary,omitempty"`
}

// Empty reports whether the patch writes nothing.
func (p Patch) Empty() bool {
	return p.Location == nil && p.Combat == nil && p.MapTokens == nil &&
		p.Quests == nil && p.Notes == nil && p.StorySummary == nil
}

// Apply writes the patch's fields onto d.
func (p Patch) Apply(d *Document) {
	if p.Location != nil {
		d.Location = *p.Location
	}
	if p.Combat != nil {
		d.Combat = p.Combat.Clone()
	}
	if p.MapTokens != nil {
		d.MapTokens = cloneSlice(*p.MapTokens)
	}
	if p.Quests != nil {
		d.Quests = cloneSlice(*p.Quests)
	}
	if p.Notes != nil {
		d.Notes = cloneSlice(*p.Notes)
	}
	if p.StorySummary != nil {
		d.StorySummary = *p.StorySummary
	}
}

// WorldPatch builds a patch carrying every host-owned world field of s.
func WorldPatch(s *GameState) Patch {
	loc := s.Location
	combat := s.Combat.Clone()
	quests := cloneSlice(s.Quests)
	notes := cloneSlice(s.Notes)
	summary := s.StorySummary
	return Patch{
		Location:     &loc,
		Combat:       &combat,
		Quests:       &quests,
		Notes:        &notes,
		StorySummary: &summary,
	}
}

// TokensPatch builds a patch carrying only the map tokens of s.
func TokensPatch(s *GameState) Patch {
	tokens := cloneSlice(s.MapTokens)
	return Patch{MapTokens: &tokens}
}

// ToDocument snapshots s into its persisted shape.
func ToDocument(s *GameState, now time.Time) Document {
	c := s.Character.Clone()
	return Document{
		Character:    &c,
		Transcript:   cloneSlice(s.Transcript),
		Location:     s.Location,
		Quests:       cloneSlice(s.Quests),
		Notes:        cloneSlice(s.Notes),
		StorySummary: s.StorySummary,
		Combat:       s.Combat.Clone(),
		MapTokens:    cloneSlice(s.MapTokens),
		Timestamp:    now,
	}
}

// FromDocument validates d and rebuilds a GameState from it. Nothing is returned
// unless the whole document is valid. fallback is used when d carries no character.
func FromDocument(d Document, fallback Character) (*GameState, error) {
	if err := ValidateDocument(&d); err != nil {
		return nil, err
	}
	character := fallback
	if d.Character != nil {
		character = *d.Character
	}
	s := NewGameState(character.Clone())
	s.Location = d.Location
	s.StorySummary = d.StorySummary
	s.Combat = d.Combat.Clone()
	if d.Quests != nil {
		s.Quests = cloneSlice(d.Quests)
	}
	if d.Notes != nil {
		s.Notes = cloneSlice(d.Notes)
	}
	if d.MapTokens != nil {
		s.MapTokens = cloneSlice(d.MapTokens)
	}
	if d.Transcript != nil {
		s.Transcript = cloneSlice(d.Transcript)
	}
	if s.Combat.Combatants == nil {
		s.Combat.Combatants = make([]Combatant, 0)
	}
	return s, nil
}
