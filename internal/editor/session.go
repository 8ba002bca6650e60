package editor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"collabtext/pkg/ot"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB
)

// Session represents one connected client. The user identity comes from
// the verified bearer token and is immutable for the session's lifetime.
type Session struct {
	// Server-generated identifier
	id string

	// Authenticated identity; never taken from client payloads
	userID string

	// Currently joined document. Written by the hub loop during a join
	// while the read loop is blocked on the join reply; read elsewhere
	// only from the session's own goroutines.
	docID string

	hub     *Hub
	service *Service

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound frames; the write pump is the sole
	// writer on the connection. sendMu guards the channel against a send
	// racing the hub's drop path: once sendClosed is set every enqueue is
	// silently discarded.
	send       chan []byte
	sendMu     sync.Mutex
	sendClosed bool

	// Last forwarded cursor update, for coalescing bursts
	lastCursor time.Time
}

// newSession creates a session for a verified user.
func newSession(hub *Hub, service *Service, conn *websocket.Conn, userID string) *Session {
	return &Session{
		id:      uuid.New().String(),
		userID:  userID,
		hub:     hub,
		service: service,
		conn:    conn,
		send:    make(chan []byte, 256),
	}
}

// readPump pumps messages from the websocket connection into the dispatcher.
func (s *Session) readPump() {
	defer func() {
		s.leavePresence()
		s.hub.unregister <- s
		s.conn.Close()
		activeConnections.Dec()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[SESSION] %s websocket error: %v", s.id, err)
			}
			break
		}
		s.processMessage(frame)
	}
}

// writePump pumps frames from the send channel to the websocket connection.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage decodes and dispatches one inbound frame.
func (s *Session) processMessage(frame []byte) {
	msg, err := DecodeMessage(frame)
	if err != nil {
		log.Printf("[SESSION] %s malformed frame: %v", s.id, err)
		s.sendError("MalformedMessage", "Invalid message format")
		return
	}

	messagesReceived.Inc()

	switch msg.Type {
	case MsgJoinDocument:
		s.handleJoin(msg)

	case MsgApplyOp:
		s.handleApplyOp(msg)

	case MsgCursorUpdate:
		s.handleCursorUpdate(msg)

	case MsgPing:
		// Keepalive, no action needed

	default:
		log.Printf("[SESSION] %s unknown message type: %s", s.id, msg.Type)
		s.sendError("MalformedMessage", "Unknown message type: "+msg.Type)
	}
}

// handleJoin attaches the session to a document: load the authority,
// record presence, snapshot document state, then hand off to the hub,
// which syncs state to this session and notifies peers. Blocks until the
// hub has processed the join, so a subsequent APPLY_OP is always against
// a synced document.
//
// The snapshot is taken here rather than in the hub loop so the loop
// never blocks on a document mutex. An op applied between this snapshot
// and the hub processing the join shows up as a version gap on the
// client, which resyncs by rejoining.
func (s *Session) handleJoin(msg Message) {
	if msg.DocID == "" {
		s.sendError("Invalid", "Missing document id")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	authority, err := s.service.registry.Get(ctx, msg.DocID)
	if err != nil {
		s.sendAuthorityError(err)
		return
	}

	// Switching documents leaves the old one; the hub handles the peer
	// notification, presence is ours.
	s.leavePresence()

	if err := s.service.presence.Join(ctx, msg.DocID, s.userID); err != nil {
		log.Printf("[SESSION] %s presence join failed for %s: %v", s.id, msg.DocID, err)
	}

	cursors, err := s.service.presence.GetCursors(ctx, msg.DocID)
	if err != nil {
		log.Printf("[SESSION] %s cursor snapshot failed for %s: %v", s.id, msg.DocID, err)
		cursors = map[string]int{}
	}

	content, version := authority.Snapshot()

	done := make(chan struct{})
	s.hub.join <- joinRequest{
		session: s,
		docID:   msg.DocID,
		content: content,
		version: version,
		cursors: cursors,
		done:    done,
	}
	<-done
}

// handleApplyOp routes an edit to the document authority and reports the
// outcome: ACK_OP to the origin, BROADCAST_OP to peers, ERROR to the
// origin only.
func (s *Session) handleApplyOp(msg Message) {
	if msg.Op == nil {
		s.sendError("MalformedMessage", "Missing operation payload")
		return
	}

	op := *msg.Op
	// Never trust the client on identity.
	op.UserID = s.userID

	docID := s.docID
	if docID == "" {
		docID = op.DocID
	}
	if docID == "" {
		s.sendError("Invalid", "No document joined")
		return
	}
	op.DocID = docID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	authority, err := s.service.registry.Get(ctx, docID)
	if err != nil {
		s.sendAuthorityError(err)
		return
	}

	// The broadcast is enqueued under the document lock so the stream
	// every peer sees follows apply order. Encoding and recipient fan-out
	// happen in the hub loop, outside the lock.
	newVersion, applied, err := authority.Apply(op, func(applied ot.Operation, version int) {
		frame, err := EncodeMessage(Message{
			Type:    MsgBroadcastOp,
			DocID:   docID,
			Op:      &applied,
			Version: version,
		})
		if err != nil {
			log.Printf("[SESSION] %s error marshaling broadcast: %v", s.id, err)
			return
		}
		s.hub.broadcast <- docMessage{docID: docID, frame: frame, exclude: s}
	})
	if err != nil {
		opFailures.WithLabelValues(ErrorKind(err)).Inc()
		s.sendAuthorityError(err)
		return
	}

	s.trySend(Message{
		Type:       MsgAckOp,
		DocID:      docID,
		OpID:       applied.OpID,
		NewVersion: newVersion,
	})
}

// handleCursorUpdate records and fans out an advisory cursor position.
// Bursts within the coalesce window are dropped wholesale; clients resend
// continuously, so the next update repairs any gap.
func (s *Session) handleCursorUpdate(msg Message) {
	if s.docID == "" || msg.Position == nil {
		return
	}

	now := time.Now()
	if now.Sub(s.lastCursor) < s.service.cursorCoalesce {
		return
	}
	s.lastCursor = now

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.service.presence.UpdateCursor(ctx, s.docID, s.userID, *msg.Position); err != nil {
		log.Printf("[SESSION] %s cursor update failed: %v", s.id, err)
	}

	frame, err := EncodeMessage(Message{
		Type:     MsgCursorUpdate,
		DocID:    s.docID,
		UserID:   s.userID,
		Position: msg.Position,
	})
	if err != nil {
		log.Printf("[SESSION] %s error marshaling cursor update: %v", s.id, err)
		return
	}
	s.hub.broadcast <- docMessage{docID: s.docID, frame: frame, exclude: s}
}

// leavePresence removes this session's presence entry, if any.
func (s *Session) leavePresence() {
	if s.docID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.service.presence.Leave(ctx, s.docID, s.userID); err != nil {
		log.Printf("[SESSION] %s presence leave failed: %v", s.id, err)
	}
}

// sendAuthorityError reports an authority failure to this session only.
func (s *Session) sendAuthorityError(err error) {
	s.sendError(ErrorKind(err), errorMessage(err))
}

// errorMessage strips wrapped detail down to the sentinel's text for
// unexpected failures, keeping store internals off the wire.
func errorMessage(err error) string {
	for _, sentinel := range []error{ErrNotFound, ErrFromTheFuture, ErrTooStale, ErrInvalid} {
		if errors.Is(err, sentinel) {
			return err.Error()
		}
	}
	return "internal error"
}

// sendError sends an ERROR frame to this session.
func (s *Session) sendError(kind, message string) {
	s.trySend(Message{Type: MsgError, Kind: kind, Message: message})
}

// trySend encodes and enqueues a frame without blocking. A full buffer
// means the client is not keeping up; the frame is dropped and the
// connection will be culled by the hub on its next broadcast.
func (s *Session) trySend(msg Message) {
	frame, err := EncodeMessage(msg)
	if err != nil {
		log.Printf("[SESSION] %s error marshaling %s: %v", s.id, msg.Type, err)
		return
	}

	if s.enqueue(frame) {
		messagesSent.Inc()
	} else {
		log.Printf("[SESSION] %s not ready to receive %s", s.id, msg.Type)
	}
}

// enqueue queues a frame for the write pump without blocking. Returns
// false if the session has been closed or its buffer is full.
func (s *Session) enqueue(frame []byte) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.sendClosed {
		return false
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// closeSend closes the outbound channel exactly once. Frames enqueued
// after this are discarded, so a session dropped by the hub while its
// read loop is still running cannot send on a closed channel.
func (s *Session) closeSend() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if !s.sendClosed {
		s.sendClosed = true
		close(s.send)
	}
}
