package editor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/internal/auth"
	"collabtext/internal/presence"
	"collabtext/internal/store"
	"collabtext/pkg/ot"
)

func newTestService(t *testing.T, cfg ServiceConfig) *Service {
	t.Helper()
	st := store.NewMemoryStore()
	st.Seed("doc-1", "hello world", 0)

	pres := presence.NewMemoryRegistry(30 * time.Second)
	t.Cleanup(func() { pres.Close() })

	svc := NewService(cfg, st, pres, auth.NewTokenService("test-secret", time.Hour))
	t.Cleanup(svc.registry.Close)
	return svc
}

func attachedSession(svc *Service, userID, docID string) *Session {
	s := newSession(svc.hub, svc, nil, userID)
	s.docID = docID
	return s
}

// recvBroadcast pops one queued fan-out request without running the hub
// loop.
func recvBroadcast(t *testing.T, svc *Service) docMessage {
	t.Helper()
	select {
	case msg := <-svc.hub.broadcast:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast enqueued")
		return docMessage{}
	}
}

func TestApplyOpOverwritesClientIdentity(t *testing.T) {
	svc := newTestService(t, ServiceConfig{})
	s := attachedSession(svc, "alice", "doc-1")

	s.handleApplyOp(Message{
		Type: MsgApplyOp,
		Op: &ot.Operation{
			OpID:     "op-1",
			UserID:   "mallory",
			Type:     ot.OpInsert,
			Position: 5,
			Content:  ",",
		},
	})

	msg := recvBroadcast(t, svc)
	assert.Equal(t, "doc-1", msg.docID)
	assert.Same(t, s, msg.exclude)

	var broadcast Message
	require.NoError(t, json.Unmarshal(msg.frame, &broadcast))
	assert.Equal(t, MsgBroadcastOp, broadcast.Type)
	assert.Equal(t, 1, broadcast.Version)
	require.NotNil(t, broadcast.Op)
	assert.Equal(t, "alice", broadcast.Op.UserID)

	ack := recvFrame(t, s)
	assert.Equal(t, MsgAckOp, ack.Type)
	assert.Equal(t, "op-1", ack.OpID)
	assert.Equal(t, 1, ack.NewVersion)

	snapshot, _, err := svc.registry.Snapshot(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "hello, world", snapshot)
}

// A delete collapsed to nothing by a concurrent delete is acked at the
// current version without a broadcast; a zero-length delete straight
// from the client is rejected instead.
func TestApplyOpNoopAckedWithoutBroadcast(t *testing.T) {
	svc := newTestService(t, ServiceConfig{})
	s := attachedSession(svc, "alice", "doc-1")

	authority, err := svc.registry.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	_, _, err = authority.Apply(ot.Operation{
		OpID: "op-0", DocID: "doc-1", UserID: "bob",
		Type: ot.OpDelete, Position: 2, Length: 4,
	}, nil)
	require.NoError(t, err)

	s.handleApplyOp(Message{
		Type: MsgApplyOp,
		Op:   &ot.Operation{OpID: "op-1", Type: ot.OpDelete, Position: 3, Length: 3},
	})

	ack := recvFrame(t, s)
	assert.Equal(t, MsgAckOp, ack.Type)
	assert.Equal(t, 1, ack.NewVersion)
	assert.Empty(t, svc.hub.broadcast)
}

func TestApplyOpZeroLengthDeleteRejected(t *testing.T) {
	svc := newTestService(t, ServiceConfig{})
	s := attachedSession(svc, "alice", "doc-1")

	s.handleApplyOp(Message{
		Type: MsgApplyOp,
		Op:   &ot.Operation{OpID: "op-1", Type: ot.OpDelete, Position: 3, Length: 0},
	})

	errMsg := recvFrame(t, s)
	assert.Equal(t, MsgError, errMsg.Type)
	assert.Equal(t, "Invalid", errMsg.Kind)
	assert.Empty(t, svc.hub.broadcast)
}

func TestApplyOpInvalidRejected(t *testing.T) {
	svc := newTestService(t, ServiceConfig{})
	s := attachedSession(svc, "alice", "doc-1")

	s.handleApplyOp(Message{
		Type: MsgApplyOp,
		Op:   &ot.Operation{OpID: "op-1", Type: ot.OpDelete, Position: 0, Length: 99},
	})

	errMsg := recvFrame(t, s)
	assert.Equal(t, MsgError, errMsg.Type)
	assert.Equal(t, "Invalid", errMsg.Kind)
	assert.Empty(t, svc.hub.broadcast)
}

func TestApplyOpUnknownDocument(t *testing.T) {
	svc := newTestService(t, ServiceConfig{})
	s := newSession(svc.hub, svc, nil, "alice")

	s.handleApplyOp(Message{
		Type: MsgApplyOp,
		Op:   &ot.Operation{DocID: "missing", Type: ot.OpInsert, Position: 0, Content: "x"},
	})

	errMsg := recvFrame(t, s)
	assert.Equal(t, MsgError, errMsg.Type)
	assert.Equal(t, "NotFound", errMsg.Kind)
}

func TestApplyOpWithoutJoinedDocument(t *testing.T) {
	svc := newTestService(t, ServiceConfig{})
	s := newSession(svc.hub, svc, nil, "alice")

	s.handleApplyOp(Message{
		Type: MsgApplyOp,
		Op:   &ot.Operation{Type: ot.OpInsert, Position: 0, Content: "x"},
	})

	errMsg := recvFrame(t, s)
	assert.Equal(t, MsgError, errMsg.Type)
	assert.Equal(t, "Invalid", errMsg.Kind)
}

func TestProcessMessageMalformed(t *testing.T) {
	svc := newTestService(t, ServiceConfig{})
	s := newSession(svc.hub, svc, nil, "alice")

	s.processMessage([]byte(`{"type":`))

	errMsg := recvFrame(t, s)
	assert.Equal(t, MsgError, errMsg.Type)
	assert.Equal(t, "MalformedMessage", errMsg.Kind)

	s.processMessage([]byte(`{"type":"SHOUT"}`))
	errMsg = recvFrame(t, s)
	assert.Equal(t, "MalformedMessage", errMsg.Kind)
}

func TestCursorUpdatesCoalesced(t *testing.T) {
	svc := newTestService(t, ServiceConfig{CursorCoalesce: 40 * time.Millisecond})
	s := attachedSession(svc, "alice", "doc-1")
	require.NoError(t, svc.presence.Join(context.Background(), "doc-1", "alice"))

	s.handleCursorUpdate(Message{Type: MsgCursorUpdate, Position: intPtr(3)})
	// Inside the window: dropped wholesale.
	s.handleCursorUpdate(Message{Type: MsgCursorUpdate, Position: intPtr(4)})

	msg := recvBroadcast(t, svc)
	var cursor Message
	require.NoError(t, json.Unmarshal(msg.frame, &cursor))
	assert.Equal(t, MsgCursorUpdate, cursor.Type)
	assert.Equal(t, "alice", cursor.UserID)
	require.NotNil(t, cursor.Position)
	assert.Equal(t, 3, *cursor.Position)
	assert.Empty(t, svc.hub.broadcast)

	time.Sleep(60 * time.Millisecond)
	s.handleCursorUpdate(Message{Type: MsgCursorUpdate, Position: intPtr(7)})
	assert.Len(t, svc.hub.broadcast, 1)

	cursors, err := svc.presence.GetCursors(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 7, cursors["alice"])
}

func TestCursorUpdateRequiresJoinedDocument(t *testing.T) {
	svc := newTestService(t, ServiceConfig{})
	s := newSession(svc.hub, svc, nil, "alice")

	s.handleCursorUpdate(Message{Type: MsgCursorUpdate, Position: intPtr(3)})

	assert.Empty(t, s.send)
	assert.Empty(t, svc.hub.broadcast)
}

// TestJoinUnaffectedByBusyAuthority: the hub loop takes no document
// locks, so a session can join one document while another document's
// authority is stuck mid-apply (for example in a slow persist).
func TestJoinUnaffectedByBusyAuthority(t *testing.T) {
	st := store.NewMemoryStore()
	st.Seed("doc-1", "one", 0)
	st.Seed("doc-2", "two", 0)
	pres := presence.NewMemoryRegistry(30 * time.Second)
	t.Cleanup(func() { pres.Close() })
	svc := NewService(ServiceConfig{}, st, pres, auth.NewTokenService("test-secret", time.Hour))
	t.Cleanup(svc.registry.Close)
	go svc.hub.Run()

	busy, err := svc.registry.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	busy.mu.Lock()
	defer busy.mu.Unlock()

	s := newSession(svc.hub, svc, nil, "alice")
	svc.hub.register <- s
	go s.processMessage([]byte(`{"type":"JOIN_DOCUMENT","docId":"doc-2"}`))

	sync := recvFrame(t, s)
	assert.Equal(t, MsgSyncState, sync.Type)
	assert.Equal(t, "two", sync.Content)
}

// TestEditFlow runs the full join/edit exchange through the hub loop: the
// second joiner syncs, edits, and the first session observes the
// broadcast while the editor gets only the ack.
func TestEditFlow(t *testing.T) {
	svc := newTestService(t, ServiceConfig{})
	go svc.hub.Run()

	s1 := newSession(svc.hub, svc, nil, "alice")
	s2 := newSession(svc.hub, svc, nil, "bob")
	svc.hub.register <- s1
	svc.hub.register <- s2

	s1.processMessage([]byte(`{"type":"JOIN_DOCUMENT","docId":"doc-1"}`))
	sync := recvFrame(t, s1)
	assert.Equal(t, MsgSyncState, sync.Type)
	assert.Equal(t, "hello world", sync.Content)

	s2.processMessage([]byte(`{"type":"JOIN_DOCUMENT","docId":"doc-1"}`))
	sync = recvFrame(t, s2)
	assert.Equal(t, MsgSyncState, sync.Type)

	joined := recvFrame(t, s1)
	assert.Equal(t, MsgUserJoined, joined.Type)
	assert.Equal(t, "bob", joined.UserID)

	s2.processMessage([]byte(`{"type":"APPLY_OP","op":{"opId":"op-1","baseVersion":0,"type":"insert","position":11,"text":"!"}}`))

	ack := recvFrame(t, s2)
	assert.Equal(t, MsgAckOp, ack.Type)
	assert.Equal(t, 1, ack.NewVersion)

	broadcast := recvFrame(t, s1)
	assert.Equal(t, MsgBroadcastOp, broadcast.Type)
	assert.Equal(t, 1, broadcast.Version)
	require.NotNil(t, broadcast.Op)
	assert.Equal(t, "bob", broadcast.Op.UserID)
	assert.Equal(t, "!", broadcast.Op.Content)

	// The editor never sees its own broadcast.
	assert.Empty(t, s2.send)
}
