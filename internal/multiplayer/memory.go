package multiplayer

import (
	"context"
	"fmt"
	"sync"

	"tavern/pkg/game"
)

// MemoryStore is a process-local Store. Subscribers are called synchronously,
// outside the store lock, by the goroutine that made the change.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
	nextSub  int
}

type memorySession struct {
	doc  game.Document
	subs map[int]func(game.Document)
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memorySession)}
}

func (m *MemoryStore) Create(ctx context.Context, id string, doc game.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	m.sessions[id] = &memorySession{doc: CloneDocument(doc), subs: make(map[int]func(game.Document))}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (game.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return game.Document{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return CloneDocument(s.doc), nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, id string, fn func(game.Document)) (func(), error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	key := m.nextSub
	m.nextSub++
	s.subs[key] = fn
	current := CloneDocument(s.doc)
	m.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(s.subs, key)
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)

	fn(current)
	return func() {
		stop()
		unsubscribe()
	}, nil
}

func (m *MemoryStore) AppendToTranscript(ctx context.Context, id string, msg game.Message) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if HasMessage(s.doc.Transcript, msg.ID) {
		m.mu.Unlock()
		return nil
	}
	s.doc.Transcript = append(s.doc.Transcript, msg)
	doc, subs := m.snapshot(s)
	m.mu.Unlock()

	deliver(subs, doc)
	return nil
}

func (m *MemoryStore) UpdateFields(ctx context.Context, id string, patch game.Patch) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if patch.Empty() {
		m.mu.Unlock()
		return nil
	}
	patch.Apply(&s.doc)
	doc, subs := m.snapshot(s)
	m.mu.Unlock()

	deliver(subs, doc)
	return nil
}

// snapshot must be called with m.mu held.
func (m *MemoryStore) snapshot(s *memorySession) (game.Document, []func(game.Document)) {
	subs := make([]func(game.Document), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return CloneDocument(s.doc), subs
}

func deliver(subs []func(game.Document), doc game.Document) {
	for _, fn := range subs {
		fn(CloneDocument(doc))
	}
}
