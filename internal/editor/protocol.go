package editor

import (
	"encoding/json"
	"fmt"

	"collabtext/pkg/ot"
)

// Message tags, client → server.
const (
	MsgJoinDocument = "JOIN_DOCUMENT"
	MsgApplyOp      = "APPLY_OP"
	MsgCursorUpdate = "CURSOR_UPDATE"
	MsgPing         = "ping"
)

// Message tags, server → client.
const (
	MsgSyncState   = "SYNC_STATE"
	MsgAckOp       = "ACK_OP"
	MsgBroadcastOp = "BROADCAST_OP"
	MsgUserJoined  = "USER_JOINED"
	MsgUserLeft    = "USER_LEFT"
	MsgError       = "ERROR"
)

// Message is the tagged union carried on the wire, one per text frame.
// Only the fields relevant to a given tag are populated.
type Message struct {
	Type  string        `json:"type"`
	DocID string        `json:"docId,omitempty"`
	Op    *ot.Operation `json:"op,omitempty"`

	// ACK_OP
	OpID       string `json:"opId,omitempty"`
	NewVersion int    `json:"newVersion,omitempty"`

	// BROADCAST_OP carries the version the operation produced so that a
	// client whose SYNC_STATE already contains the op can discard it.
	// SYNC_STATE carries the authoritative version.
	Version int `json:"version,omitempty"`

	// SYNC_STATE
	Content string         `json:"content,omitempty"`
	Cursors map[string]int `json:"cursors,omitempty"`

	// CURSOR_UPDATE / USER_JOINED / USER_LEFT
	UserID   string `json:"userId,omitempty"`
	Position *int   `json:"position,omitempty"`

	// ERROR
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// DecodeMessage decodes exactly one message from a transport frame.
func DecodeMessage(frame []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("decoding message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("decoding message: missing type tag")
	}
	return msg, nil
}

// EncodeMessage encodes a message into a transport frame.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
