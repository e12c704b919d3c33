package store

import (
	"context"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
)

// DefaultMemoryCapacity is the number of transcripts kept by a memory store
const DefaultMemoryCapacity = 100

type inMemory struct {
	mu       sync.RWMutex
	capacity int
	// order holds session IDs, oldest first
	order   []string
	storage map[string]*Transcript
}

// NewMemoryStore returns a store that keeps the most recent transcripts in memory
func NewMemoryStore(capacity int) Store {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &inMemory{
		capacity: capacity,
		storage:  make(map[string]*Transcript),
	}
}

func (m *inMemory) Save(_ context.Context, t *Transcript) error {
	if t == nil || t.SessionID == "" {
		return errors.New("session ID is required")
	}
	cp := *t
	cp.Messages = slices.Clone(t.Messages)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.storage[t.SessionID]; ok {
		m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == t.SessionID })
	}
	m.order = append(m.order, t.SessionID)
	m.storage[t.SessionID] = &cp

	for len(m.order) > m.capacity {
		delete(m.storage, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

func (m *inMemory) Get(_ context.Context, sessionID string) (*Transcript, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.storage[sessionID]
	if !ok {
		return nil, errors.WithMessagef(ErrNotFound, "%s", sessionID)
	}
	cp := *t
	cp.Messages = slices.Clone(t.Messages)
	return &cp, nil
}

func (m *inMemory) List(_ context.Context, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := slices.Clone(m.order)
	slices.Reverse(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *inMemory) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.storage[sessionID]; ok {
		delete(m.storage, sessionID)
		m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == sessionID })
	}
	return nil
}
