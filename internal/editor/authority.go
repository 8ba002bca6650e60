package editor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"collabtext/internal/store"
	"collabtext/pkg/ot"
)

// appliedOp is a tail entry: an operation tagged with the version it produced.
type appliedOp struct {
	Op      ot.Operation
	Version int
}

// AuthorityConfig tunes a document authority.
type AuthorityConfig struct {
	// TailWindow is how many applied operations are retained for
	// transforming stale client operations. A larger window reduces
	// TooStale failures under bursty version skew.
	TailWindow int

	// PersistOps triggers a write-back after this many applied operations.
	PersistOps int

	// PersistInterval triggers a write-back once the oldest unpersisted
	// change is this old.
	PersistInterval time.Duration

	// PersistTimeout bounds a single durable-store write.
	PersistTimeout time.Duration
}

// withDefaults fills unset fields.
func (c AuthorityConfig) withDefaults() AuthorityConfig {
	if c.TailWindow < 10 {
		c.TailWindow = 50
	}
	if c.PersistOps <= 0 {
		c.PersistOps = 20
	}
	if c.PersistInterval <= 0 {
		c.PersistInterval = 2 * time.Second
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 5 * time.Second
	}
	return c
}

// Authority is the single in-memory owner of a document's mutable state.
// All mutations and snapshots run under its mutex: operations on a given
// document are FIFO, documents are independent of each other.
type Authority struct {
	docID string
	cfg   AuthorityConfig
	store store.DocumentStore

	mu              sync.Mutex
	content         string
	version         int
	recentOps       []appliedOp
	dirtySince      time.Time
	opsSincePersist int
}

// newAuthority builds an authority around already-loaded document state.
func newAuthority(docID, content string, version int, cfg AuthorityConfig, st store.DocumentStore) *Authority {
	return &Authority{
		docID:   docID,
		cfg:     cfg.withDefaults(),
		store:   st,
		content: content,
		version: version,
	}
}

// Snapshot returns a consistent (content, version) pair.
func (a *Authority) Snapshot() (string, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.content, a.version
}

// Apply validates, transforms, applies and versions one client operation.
// It returns the new authoritative version and the post-transform op.
// onApplied, when non-nil, runs under the document lock for an effective
// apply, so downstream broadcast order matches apply order.
//
// Failure classes: ErrFromTheFuture when the op references a version the
// document has not produced, ErrTooStale when its base predates the
// retained tail, ErrInvalid when validation fails post-transform.
func (a *Authority) Apply(op ot.Operation, onApplied func(op ot.Operation, version int)) (int, ot.Operation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if op.BaseVersion > a.version {
		return a.version, op, fmt.Errorf("%w: base %d > version %d", ErrFromTheFuture, op.BaseVersion, a.version)
	}

	// A zero-length delete straight from the client is malformed. Only a
	// delete that collapses during transformation below is a noop.
	if op.IsNoop() {
		return a.version, op, fmt.Errorf("%w: zero-length delete", ErrInvalid)
	}

	if op.BaseVersion < a.version {
		if op.BaseVersion < a.version-len(a.recentOps) {
			return a.version, op, fmt.Errorf("%w: base %d, oldest retained %d", ErrTooStale, op.BaseVersion, a.version-len(a.recentOps))
		}
		for _, applied := range a.recentOps {
			if applied.Version > op.BaseVersion {
				op = ot.Transform(op, applied.Op)
			}
		}
	}

	// An op whose length collapsed to zero during transformation is
	// acknowledged at the current version but neither validated, applied,
	// nor broadcast.
	if op.IsNoop() {
		log.Printf("[AUTHORITY] doc %s: op %s transformed to noop at version %d", a.docID, op.OpID, a.version)
		return a.version, op, nil
	}

	if err := ot.Validate(a.content, op); err != nil {
		return a.version, op, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	a.content = ot.Apply(a.content, op)
	a.version++
	a.recentOps = append(a.recentOps, appliedOp{Op: op, Version: a.version})
	if len(a.recentOps) > a.cfg.TailWindow {
		a.recentOps = a.recentOps[len(a.recentOps)-a.cfg.TailWindow:]
	}

	a.opsSincePersist++
	if a.dirtySince.IsZero() {
		a.dirtySince = time.Now()
	}
	opsApplied.Inc()
	if a.opsSincePersist >= a.cfg.PersistOps || time.Since(a.dirtySince) >= a.cfg.PersistInterval {
		a.persistLocked()
	}

	if onApplied != nil {
		onApplied(op, a.version)
	}

	return a.version, op, nil
}

// FlushIfDue persists the document if it has been dirty longer than the
// configured interval. Called by the registry's background flush loop.
func (a *Authority) FlushIfDue() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.dirtySince.IsZero() && time.Since(a.dirtySince) >= a.cfg.PersistInterval {
		a.persistLocked()
	}
}

// Flush persists the document if it has any unpersisted changes.
func (a *Authority) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.dirtySince.IsZero() {
		a.persistLocked()
	}
}

// persistLocked writes {content, version} to the durable store. Counters
// reset only on success; on failure the document stays dirty and the next
// trigger retries.
func (a *Authority) persistLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.PersistTimeout)
	defer cancel()

	if err := a.store.UpsertByID(ctx, a.docID, a.content, a.version); err != nil {
		log.Printf("[AUTHORITY] doc %s: persist failed at version %d: %v", a.docID, a.version, err)
		persistFailures.Inc()
		return
	}

	persists.Inc()
	a.opsSincePersist = 0
	a.dirtySince = time.Time{}
}
