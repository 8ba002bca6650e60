package editor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"collabtext/internal/store"
)

// Registry holds one Authority per document id, created lazily on first
// reference from the durable store. Creation is serialized so at most one
// authority exists per document.
type Registry struct {
	cfg   AuthorityConfig
	store store.DocumentStore

	mu   sync.Mutex
	docs map[string]*Authority

	done chan struct{}
	once sync.Once
}

// NewRegistry creates a registry and starts its background flush loop.
func NewRegistry(st store.DocumentStore, cfg AuthorityConfig) *Registry {
	r := &Registry{
		cfg:   cfg,
		store: st,
		docs:  make(map[string]*Authority),
		done:  make(chan struct{}),
	}
	go r.flushLoop()
	return r
}

// Get returns the authority for a document, loading it from the durable
// store on first reference. Returns ErrNotFound if no record exists.
func (r *Registry) Get(ctx context.Context, docID string) (*Authority, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.docs[docID]; ok {
		return a, nil
	}

	rec, err := r.store.Get(ctx, docID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, docID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	a := newAuthority(docID, rec.Content, rec.Version, r.cfg, r.store)
	r.docs[docID] = a
	log.Printf("[REGISTRY] attached document %s at version %d", docID, rec.Version)
	return a, nil
}

// Snapshot returns (content, version) for a document if its authority is
// loaded, falling back to the durable record otherwise.
func (r *Registry) Snapshot(ctx context.Context, docID string) (string, int, error) {
	r.mu.Lock()
	a, ok := r.docs[docID]
	r.mu.Unlock()

	if ok {
		content, version := a.Snapshot()
		return content, version, nil
	}

	rec, err := r.store.Get(ctx, docID)
	if errors.Is(err, store.ErrNotFound) {
		return "", 0, fmt.Errorf("%w: %s", ErrNotFound, docID)
	}
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return rec.Content, rec.Version, nil
}

// flushLoop persists idle dirty documents once their interval elapses.
func (r *Registry) flushLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			for _, a := range r.snapshotAuthorities() {
				a.FlushIfDue()
			}
		}
	}
}

func (r *Registry) snapshotAuthorities() []*Authority {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Authority, 0, len(r.docs))
	for _, a := range r.docs {
		out = append(out, a)
	}
	return out
}

// Close stops the flush loop and persists all dirty documents.
func (r *Registry) Close() {
	r.once.Do(func() { close(r.done) })
	for _, a := range r.snapshotAuthorities() {
		a.Flush()
	}
}
