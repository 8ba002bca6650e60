// Package ot implements Operational Transformation for real-time collaborative editing
package ot

import (
	"fmt"
	"unicode/utf8"
)

// OpType represents the type of operation
type OpType string

const (
	OpInsert OpType = "insert"
	OpDelete OpType = "delete"
)

// Operation represents a single edit operation.
// Positions and lengths are Unicode code point offsets, not bytes.
type Operation struct {
	OpID        string `json:"opId"`
	DocID       string `json:"docId"`
	UserID      string `json:"userId"`
	BaseVersion int    `json:"baseVersion"`
	Type        OpType `json:"type"`
	Position    int    `json:"position"`
	Content     string `json:"text,omitempty"`   // For insert
	Length      int    `json:"length,omitempty"` // For delete
}

// TextLen returns the code point length of the insert payload.
func (op Operation) TextLen() int {
	return utf8.RuneCountInString(op.Content)
}

// IsNoop reports whether the operation has no effect. A delete whose
// length collapsed to zero during transformation is a noop: it is
// acknowledged but never applied or broadcast.
func (op Operation) IsNoop() bool {
	return op.Type == OpDelete && op.Length == 0
}

// Validate checks the operation against the given content.
func Validate(content string, op Operation) error {
	length := utf8.RuneCountInString(content)

	if op.Position < 0 || op.Position > length {
		return fmt.Errorf("invalid position: %d (content length: %d)", op.Position, length)
	}

	switch op.Type {
	case OpInsert:
		if op.Content == "" {
			return fmt.Errorf("insert with empty text")
		}
	case OpDelete:
		if op.Length <= 0 {
			return fmt.Errorf("delete with non-positive length: %d", op.Length)
		}
		if op.Position+op.Length > length {
			return fmt.Errorf("invalid delete range: %d-%d (content length: %d)",
				op.Position, op.Position+op.Length, length)
		}
	default:
		return fmt.Errorf("unknown operation type: %q", op.Type)
	}

	return nil
}

// Apply applies an operation to the content and returns the new content.
// The operation must have been validated first.
func Apply(content string, op Operation) string {
	runes := []rune(content)

	switch op.Type {
	case OpInsert:
		return string(runes[:op.Position]) + op.Content + string(runes[op.Position:])
	case OpDelete:
		return string(runes[:op.Position]) + string(runes[op.Position+op.Length:])
	}

	return content
}

// Transform rewrites op so that its intent survives after other has
// already been applied on the same baseline. The server is the sole
// transformer: clients receive already-transformed operations and apply
// them verbatim, so the tie-break below never runs on two sides at once.
//
// Tie-break: an insert by other at or before op's position is treated as
// having happened first, shifting op right.
func Transform(op, other Operation) Operation {
	t := op

	switch other.Type {
	case OpInsert:
		if other.Position <= t.Position {
			t.Position += other.TextLen()
		}

	case OpDelete:
		otherEnd := other.Position + other.Length

		if t.Type == OpDelete {
			opEnd := t.Position + t.Length
			switch {
			case otherEnd <= t.Position:
				// other deletes entirely before op
				t.Position -= other.Length
			case opEnd <= other.Position:
				// other deletes entirely after op
			case other.Position <= t.Position && otherEnd >= opEnd:
				// other fully covers op's range
				t.Position = other.Position
				t.Length = 0
			default:
				// partial overlap: subtract the overlapped portion
				overlap := min(opEnd, otherEnd) - max(t.Position, other.Position)
				t.Length -= overlap
				if other.Position <= t.Position {
					t.Position = other.Position
				}
			}
		} else {
			switch {
			case otherEnd <= t.Position:
				t.Position -= other.Length
			case other.Position < t.Position && t.Position < otherEnd:
				// op's anchor was inside the removed region
				t.Position = other.Position
			}
		}
	}

	return t
}
