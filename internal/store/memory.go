package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory DocumentStore used in tests and when no
// database is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Record)}
}

// Get fetches a record by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Create inserts a new record with version 0 and returns its id.
func (s *MemoryStore) Create(ctx context.Context, content string) (string, error) {
	id := uuid.New().String()

	s.mu.Lock()
	s.docs[id] = Record{ID: id, Content: content, Version: 0, UpdatedAt: time.Now()}
	s.mu.Unlock()

	return id, nil
}

// UpsertByID writes the latest content and version for a document.
func (s *MemoryStore) UpsertByID(ctx context.Context, id string, content string, version int) error {
	s.mu.Lock()
	s.docs[id] = Record{ID: id, Content: content, Version: version, UpdatedAt: time.Now()}
	s.mu.Unlock()
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// Seed inserts a record with a fixed id, for tests.
func (s *MemoryStore) Seed(id, content string, version int) {
	s.mu.Lock()
	s.docs[id] = Record{ID: id, Content: content, Version: version, UpdatedAt: time.Now()}
	s.mu.Unlock()
}
