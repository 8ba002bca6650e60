// Package store provides the durable document store behind the editor:
// a key→record store supporting get, create and upsert by document id.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("document record not found")

// Record is the persisted shape of a document.
type Record struct {
	ID        string    `db:"id" json:"id"`
	Content   string    `db:"content" json:"content"`
	Version   int       `db:"version" json:"version"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// DocumentStore is the durable store contract used by the document
// authority and the HTTP surface.
type DocumentStore interface {
	// Get fetches a record by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// Create inserts a new record with version 0 and returns its id.
	Create(ctx context.Context, content string) (string, error)

	// UpsertByID writes the latest {content, version} for a document.
	UpsertByID(ctx context.Context, id string, content string, version int) error

	// Close releases the underlying connection.
	Close() error
}
