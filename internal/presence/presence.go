// Package presence tracks which users are attached to a document and
// where their cursors sit. Entries expire after an inactivity TTL, so
// crashed clients are reaped without explicit cleanup.
package presence

import "context"

// Registry is the presence store contract. Cursor positions are advisory
// metadata: they are never validated against document content.
type Registry interface {
	// Join records the user with an initial cursor at 0 and refreshes the TTL.
	Join(ctx context.Context, docID, userID string) error

	// Leave removes the user's entry.
	Leave(ctx context.Context, docID, userID string) error

	// UpdateCursor upserts the user's cursor and refreshes the TTL.
	UpdateCursor(ctx context.Context, docID, userID string, position int) error

	// ListUsers returns the users currently present on the document.
	ListUsers(ctx context.Context, docID string) ([]string, error)

	// GetCursors returns userID → cursor position for the document.
	GetCursors(ctx context.Context, docID string) (map[string]int, error)
}
