package server

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/metrics"
	"github.com/parleyhq/parley/protocol"
)

const (
	sendBufferSize = 64
	writeTimeout   = 10 * time.Second
)

// session is one WebSocket connection of one user. Messages to the peer go
// through send; the writePump owns the connection for writing.
type session struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// hubState is the hub's private routing state. Only the run loop touches it,
// so none of it is locked.
type hubState struct {
	sessions     map[*session]struct{}
	userSessions map[string]map[*session]struct{}
	rooms        map[string]map[*session]struct{}
}

// Hub routes events to WebSocket sessions. It is an actor: all map mutations
// and lookups run on the single run goroutine, fed through ops. Fanout
// therefore needs no locks, and events enqueued from one goroutine keep
// their order per room.
type Hub struct {
	ops    chan func(*hubState)
	done   chan struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		ops:    make(chan func(*hubState), 256),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run processes hub operations until Stop. Call it in its own goroutine.
func (h *Hub) Run() {
	state := &hubState{
		sessions:     make(map[*session]struct{}),
		userSessions: make(map[string]map[*session]struct{}),
		rooms:        make(map[string]map[*session]struct{}),
	}
	for {
		select {
		case op := <-h.ops:
			op(state)
		case <-h.done:
			for sess := range state.sessions {
				close(sess.send)
			}
			return
		}
	}
}

func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) do(op func(*hubState)) {
	select {
	case h.ops <- op:
	case <-h.done:
	}
}

// register adds a session and reports whether it is the user's first, so the
// caller can announce user:online exactly once per user.
func (h *Hub) register(sess *session) bool {
	first := make(chan bool, 1)
	h.do(func(st *hubState) {
		st.sessions[sess] = struct{}{}
		if st.userSessions[sess.userID] == nil {
			st.userSessions[sess.userID] = make(map[*session]struct{})
		}
		st.userSessions[sess.userID][sess] = struct{}{}
		first <- len(st.userSessions[sess.userID]) == 1
	})
	select {
	case v := <-first:
		metrics.WSConnections.Inc()
		return v
	case <-h.done:
		return false
	}
}

// unregister pulls the session out of every room and reports whether it was
// the user's last, mirroring register.
func (h *Hub) unregister(sess *session) bool {
	last := make(chan bool, 1)
	h.do(func(st *hubState) {
		if _, ok := st.sessions[sess]; !ok {
			last <- false
			return
		}
		delete(st.sessions, sess)
		close(sess.send)

		for convID, room := range st.rooms {
			delete(room, sess)
			if len(room) == 0 {
				delete(st.rooms, convID)
			}
		}

		userSet := st.userSessions[sess.userID]
		delete(userSet, sess)
		if len(userSet) == 0 {
			delete(st.userSessions, sess.userID)
			last <- true
			return
		}
		last <- false
	})
	select {
	case v := <-last:
		metrics.WSConnections.Dec()
		return v
	case <-h.done:
		return false
	}
}

func (h *Hub) joinRoom(conversationID string, sess *session) {
	h.do(func(st *hubState) {
		if _, ok := st.sessions[sess]; !ok {
			return
		}
		if st.rooms[conversationID] == nil {
			st.rooms[conversationID] = make(map[*session]struct{})
		}
		st.rooms[conversationID][sess] = struct{}{}
	})
}

func (h *Hub) leaveRoom(conversationID string, sess *session) {
	h.do(func(st *hubState) {
		room := st.rooms[conversationID]
		delete(room, sess)
		if len(room) == 0 {
			delete(st.rooms, conversationID)
		}
	})
}

// ToConversation sends an event to every session in the conversation's room.
func (h *Hub) ToConversation(conversationID string, event protocol.EventType, data any) {
	h.toRoom(conversationID, nil, event, data)
}

// ToConversationExcept is ToConversation minus one session, used so typists
// do not receive their own typing events.
func (h *Hub) ToConversationExcept(conversationID string, except *session, event protocol.EventType, data any) {
	h.toRoom(conversationID, except, event, data)
}

func (h *Hub) toRoom(conversationID string, except *session, event protocol.EventType, data any) {
	payload, err := protocol.NewEnvelope(event, conversationID, data).Encode()
	if err != nil {
		h.logger.Error("ws: encode event failed", "event", event, "error", err)
		return
	}
	metrics.WSEvents.WithLabelValues(string(event)).Inc()

	h.do(func(st *hubState) {
		for sess := range st.rooms[conversationID] {
			if sess == except {
				continue
			}
			h.deliver(sess, payload, event)
		}
	})
}

// ToUser sends an event to every session of one user, in or out of rooms.
func (h *Hub) ToUser(userID string, event protocol.EventType, data any) {
	payload, err := protocol.NewEnvelope(event, "", data).Encode()
	if err != nil {
		h.logger.Error("ws: encode event failed", "event", event, "error", err)
		return
	}
	metrics.WSEvents.WithLabelValues(string(event)).Inc()

	h.do(func(st *hubState) {
		for sess := range st.userSessions[userID] {
			h.deliver(sess, payload, event)
		}
	})
}

// Broadcast sends an event to every connected session.
func (h *Hub) Broadcast(event protocol.EventType, data any) {
	payload, err := protocol.NewEnvelope(event, "", data).Encode()
	if err != nil {
		h.logger.Error("ws: encode event failed", "event", event, "error", err)
		return
	}
	metrics.WSEvents.WithLabelValues(string(event)).Inc()

	h.do(func(st *hubState) {
		for sess := range st.sessions {
			h.deliver(sess, payload, event)
		}
	})
}

// deliver enqueues without blocking the run loop. A full buffer means the
// client is too slow; the event is dropped and the client reconciles via
// sequence numbers on its next page load.
func (h *Hub) deliver(sess *session, payload []byte, event protocol.EventType) {
	select {
	case sess.send <- payload:
	default:
		metrics.BroadcastDrops.Inc()
		h.logger.Warn("ws: send buffer full, dropping event",
			"session_id", sess.id, "user_id", sess.userID, "event", event)
	}
}

// HubStats is a point-in-time snapshot for the health endpoint.
type HubStats struct {
	Sessions    int `json:"sessions"`
	OnlineUsers int `json:"online_users"`
	Rooms       int `json:"rooms"`
}

func (h *Hub) Stats() HubStats {
	out := make(chan HubStats, 1)
	h.do(func(st *hubState) {
		out <- HubStats{
			Sessions:    len(st.sessions),
			OnlineUsers: len(st.userSessions),
			Rooms:       len(st.rooms),
		}
	})
	select {
	case stats := <-out:
		return stats
	case <-h.done:
		return HubStats{}
	}
}

// writePump drains the session's send channel onto the connection. It exits
// when the channel closes (unregister) or a write fails.
func (s *session) writePump() {
	defer s.conn.Close()
	for payload := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
