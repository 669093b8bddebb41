// Package repository persists session documents and character sheets on the local disk.
package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"tavern/pkg/game"
)

// AutosaveSlot is the slot written after every completed turn.
const AutosaveSlot = "autosave"

var (
	// ErrSaveNotFound is returned when a slot has no save file.
	ErrSaveNotFound = errors.New("save not found")

	slotPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// SaveInfo describes one save without loading it into a session.
type SaveInfo struct {
	Slot      string
	Character string
	Location  string
	Messages  int
	SavedAt   time.Time
}

// SaveStore keeps one JSON document per slot under a directory.
type SaveStore struct {
	dir string
}

// NewSaveStore creates a store rooted at dir. The directory is created on first save.
func NewSaveStore(dir string) *SaveStore {
	return &SaveStore{dir: dir}
}

// Dir returns the save directory.
func (s *SaveStore) Dir() string {
	return s.dir
}

// Lock returns the lock guarding this save directory.
func (s *SaveStore) Lock(owner string) (*FileLock, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("create save directory: %w", err)
	}
	return NewFileLock(filepath.Join(s.dir, ".lock"), owner), nil
}

// Save validates doc and writes it to slot atomically.
func (s *SaveStore) Save(slot string, doc game.Document) error {
	path, err := s.path(slot)
	if err != nil {
		return err
	}
	if err := game.ValidateDocument(&doc); err != nil {
		return fmt.Errorf("refusing to save invalid document: %w", err)
	}
	if doc.Timestamp.IsZero() {
		doc.Timestamp = time.Now()
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("write save %s: %w", slot, err)
	}
	return nil
}

// Load reads and validates the document in slot. Nothing is returned unless
// the whole document is valid.
func (s *SaveStore) Load(slot string) (game.Document, error) {
	path, err := s.path(slot)
	if err != nil {
		return game.Document{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return game.Document{}, fmt.Errorf("%w: %s", ErrSaveNotFound, slot)
		}
		return game.Document{}, fmt.Errorf("read save %s: %w", slot, err)
	}

	var doc game.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return game.Document{}, fmt.Errorf("parse save %s: %w", slot, err)
	}
	if err := game.ValidateDocument(&doc); err != nil {
		return game.Document{}, fmt.Errorf("invalid save %s: %w", slot, err)
	}
	return doc, nil
}

// List returns every readable save, newest first. Unreadable files are skipped.
func (s *SaveStore) List() ([]SaveInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []SaveInfo{}, nil
		}
		return nil, fmt.Errorf("read save directory: %w", err)
	}

	infos := make([]SaveInfo, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		slot := strings.TrimSuffix(name, ".json")
		doc, err := s.Load(slot)
		if err != nil {
			slog.Warn("skipping unreadable save", "slot", slot, "error", err)
			continue
		}
		info := SaveInfo{
			Slot:     slot,
			Location: doc.Location.Name,
			Messages: len(doc.Transcript),
			SavedAt:  doc.Timestamp,
		}
		if doc.Character != nil {
			info.Character = doc.Character.Name
		}
		infos = append(infos, info)
	}

	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].SavedAt.After(infos[j].SavedAt)
	})
	return infos, nil
}

// Delete removes slot. Deleting a missing slot returns ErrSaveNotFound.
func (s *SaveStore) Delete(slot string) error {
	path, err := s.path(slot)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSaveNotFound, slot)
		}
		return fmt.Errorf("delete save %s: %w", slot, err)
	}
	return nil
}

func (s *SaveStore) path(slot string) (string, error) {
	if !slotPattern.MatchString(slot) {
		return "", fmt.Errorf("invalid slot name %q: use letters, digits, '-' or '_'", slot)
	}
	return filepath.Join(s.dir, slot+".json"), nil
}
