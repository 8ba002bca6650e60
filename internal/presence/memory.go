package presence

import (
	"context"
	"sync"
	"time"
)

// entry is a user's cursor with its last write time, used for TTL reaping.
type entry struct {
	Position  int
	UpdatedAt time.Time
}

// MemoryRegistry is an in-memory Registry used in tests and when no Redis
// is configured. A background janitor reaps entries older than the TTL.
type MemoryRegistry struct {
	mu   sync.RWMutex
	ttl  time.Duration
	docs map[string]map[string]*entry

	done chan struct{}
	once sync.Once
}

// NewMemoryRegistry creates an in-memory registry and starts its janitor.
func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	r := &MemoryRegistry{
		ttl:  ttl,
		docs: make(map[string]map[string]*entry),
		done: make(chan struct{}),
	}
	go r.janitor()
	return r
}

// Join records the user with an initial cursor at 0.
func (r *MemoryRegistry) Join(ctx context.Context, docID, userID string) error {
	return r.UpdateCursor(ctx, docID, userID, 0)
}

// Leave removes the user's entry.
func (r *MemoryRegistry) Leave(ctx context.Context, docID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if users, ok := r.docs[docID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(r.docs, docID)
		}
	}
	return nil
}

// UpdateCursor upserts the cursor and refreshes the entry's TTL.
func (r *MemoryRegistry) UpdateCursor(ctx context.Context, docID, userID string, position int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.docs[docID]
	if !ok {
		users = make(map[string]*entry)
		r.docs[docID] = users
	}
	users[userID] = &entry{Position: position, UpdatedAt: time.Now()}
	return nil
}

// ListUsers returns the users currently present on the document.
func (r *MemoryRegistry) ListUsers(ctx context.Context, docID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var users []string
	for user := range r.docs[docID] {
		users = append(users, user)
	}
	return users, nil
}

// GetCursors returns userID → cursor position for the document.
func (r *MemoryRegistry) GetCursors(ctx context.Context, docID string) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cursors := make(map[string]int, len(r.docs[docID]))
	for user, e := range r.docs[docID] {
		cursors[user] = e.Position
	}
	return cursors, nil
}

// Close stops the janitor.
func (r *MemoryRegistry) Close() error {
	r.once.Do(func() { close(r.done) })
	return nil
}

// janitor periodically removes entries that have not been written within
// the TTL.
func (r *MemoryRegistry) janitor() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.reapStale()
		}
	}
}

func (r *MemoryRegistry) reapStale() {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for docID, users := range r.docs {
		for user, e := range users {
			if now.Sub(e.UpdatedAt) > r.ttl {
				delete(users, user)
			}
		}
		if len(users) == 0 {
			delete(r.docs, docID)
		}
	}
}
