package editor

import "log"

// joinRequest asks the hub to attach a session to a document. The
// session supplies the document snapshot; the hub queues SYNC_STATE on
// the session, adds it to the document's membership and notifies peers,
// all in one loop iteration, so the sync frame precedes every broadcast
// the session can observe. The loop itself never takes a document mutex
// and does no store I/O. done is closed when the join has been
// processed.
type joinRequest struct {
	session *Session
	docID   string
	content string
	version int
	cursors map[string]int
	done    chan struct{}
}

// docMessage is an encoded frame broadcast to a document's sessions,
// optionally excluding the origin.
type docMessage struct {
	docID   string
	frame   []byte
	exclude *Session
}

// Stats is a point-in-time view of hub membership.
type Stats struct {
	TotalSessions int            `json:"total_sessions"`
	Documents     map[string]int `json:"documents"`
}

// Hub maintains the set of live sessions and per-document membership, and
// fans messages out. All membership state is owned by the run loop; the
// loop does no store or network I/O and takes no document locks, so a
// slow collaborator or a slow persist never stalls membership changes.
type Hub struct {
	register   chan *Session
	unregister chan *Session
	join       chan joinRequest
	broadcast  chan docMessage
	stats      chan chan Stats

	// Registered sessions
	sessions map[*Session]bool

	// Document-specific session tracking
	documentSessions map[string]map[*Session]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		register:         make(chan *Session),
		unregister:       make(chan *Session),
		join:             make(chan joinRequest),
		broadcast:        make(chan docMessage, 256),
		stats:            make(chan chan Stats),
		sessions:         make(map[*Session]bool),
		documentSessions: make(map[string]map[*Session]bool),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case s := <-h.register:
			h.handleRegister(s)

		case s := <-h.unregister:
			h.handleUnregister(s)

		case req := <-h.join:
			h.handleJoin(req)

		case msg := <-h.broadcast:
			h.broadcastToDocument(msg.docID, msg.frame, msg.exclude)

		case reply := <-h.stats:
			reply <- h.snapshotStats()
		}
	}
}

// handleRegister adds a freshly connected session. The session joins a
// document later, via an explicit JOIN_DOCUMENT.
func (h *Hub) handleRegister(s *Session) {
	h.sessions[s] = true
	log.Printf("[HUB] session %s connected (user %s). Total sessions: %d", s.id, s.userID, len(h.sessions))
}

// handleUnregister drops a disconnected session, notifying its document
// peers. Idempotent.
func (h *Hub) handleUnregister(s *Session) {
	if _, ok := h.sessions[s]; !ok {
		return
	}

	delete(h.sessions, s)
	h.detachFromDocument(s, true)
	s.closeSend()

	log.Printf("[HUB] session %s disconnected. Total sessions: %d", s.id, len(h.sessions))
}

// handleJoin processes a join/switch in one loop iteration.
func (h *Hub) handleJoin(req joinRequest) {
	defer close(req.done)
	s := req.session

	// Joining a new document implicitly leaves the previous one.
	h.detachFromDocument(s, true)

	s.docID = req.docID
	if h.documentSessions[req.docID] == nil {
		h.documentSessions[req.docID] = make(map[*Session]bool)
	}
	h.documentSessions[req.docID][s] = true

	s.trySend(Message{
		Type:    MsgSyncState,
		DocID:   req.docID,
		Content: req.content,
		Version: req.version,
		Cursors: req.cursors,
	})

	h.notifyDocument(req.docID, Message{Type: MsgUserJoined, DocID: req.docID, UserID: s.userID}, s)

	log.Printf("[HUB] session %s joined document %s at version %d (%d sessions on doc)",
		s.id, req.docID, req.version, len(h.documentSessions[req.docID]))
}

// detachFromDocument removes a session from its current document and, if
// notify is set, tells the remaining peers.
func (h *Hub) detachFromDocument(s *Session, notify bool) {
	if s.docID == "" {
		return
	}

	docID := s.docID
	s.docID = ""

	sessions := h.documentSessions[docID]
	if sessions == nil {
		return
	}
	delete(sessions, s)
	if len(sessions) == 0 {
		delete(h.documentSessions, docID)
		return
	}

	if notify {
		h.notifyDocument(docID, Message{Type: MsgUserLeft, DocID: docID, UserID: s.userID}, s)
	}
}

// notifyDocument encodes and broadcasts a message to a document's
// sessions, excluding origin.
func (h *Hub) notifyDocument(docID string, msg Message, exclude *Session) {
	frame, err := EncodeMessage(msg)
	if err != nil {
		log.Printf("[HUB] error marshaling %s notification: %v", msg.Type, err)
		return
	}
	h.broadcastToDocument(docID, frame, exclude)
}

// broadcastToDocument sends a frame to all sessions on a document. Sends
// are non-blocking: a session whose buffer is full is dropped, since its
// client will resync on reconnect.
func (h *Hub) broadcastToDocument(docID string, frame []byte, exclude *Session) {
	sessions := h.documentSessions[docID]
	if sessions == nil {
		return
	}

	for s := range sessions {
		if s == exclude {
			continue
		}
		if s.enqueue(frame) {
			messagesSent.Inc()
			continue
		}

		// Unlike a leave, this must not touch s.docID: the session's
		// read loop is still running and owns that read. closeSend marks
		// the session so later enqueues from that loop are discarded
		// instead of hitting a closed channel.
		log.Printf("[HUB] session %s buffer full, dropping session", s.id)
		delete(h.sessions, s)
		delete(sessions, s)
		s.closeSend()
		h.notifyDocument(docID, Message{Type: MsgUserLeft, DocID: docID, UserID: s.userID}, s)
	}
}

// Stats returns a snapshot of hub membership.
func (h *Hub) Stats() Stats {
	reply := make(chan Stats, 1)
	h.stats <- reply
	return <-reply
}

func (h *Hub) snapshotStats() Stats {
	stats := Stats{
		TotalSessions: len(h.sessions),
		Documents:     make(map[string]int, len(h.documentSessions)),
	}
	for docID, sessions := range h.documentSessions {
		stats.Documents[docID] = len(sessions)
	}
	return stats
}

// Shutdown closes every connected session's transport.
func (h *Hub) Shutdown() {
	for s := range h.sessions {
		if s.conn != nil {
			s.conn.Close()
		}
	}
	log.Println("[HUB] shutdown complete")
}
