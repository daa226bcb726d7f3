package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/cache"
	"github.com/parleyhq/parley/config"
	"github.com/parleyhq/parley/identity"
	"github.com/parleyhq/parley/protocol"
	"github.com/parleyhq/parley/services"
	"github.com/parleyhq/parley/store"
)

const (
	readLimit = 64 << 10
	// pongWait bounds how long a silent connection is kept. Clients ping
	// more often than this to refresh presence.
	pongWait = 90 * time.Second
)

// WSHandler upgrades authenticated HTTP requests into hub sessions and runs
// the read loop for client events.
type WSHandler struct {
	hub         *Hub
	gateway     *identity.Gateway
	store       *store.Store
	cache       *cache.Cache
	delivery    *services.DeliveryService
	presenceTTL time.Duration
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

func NewWSHandler(hub *Hub, gateway *identity.Gateway, st *store.Store, c *cache.Cache, delivery *services.DeliveryService, cfg config.ServerConfig, presenceTTL time.Duration, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:         hub,
		gateway:     gateway,
		store:       st,
		cache:       c,
		delivery:    delivery,
		presenceTTL: presenceTTL,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg),
		},
		logger: logger,
	}
}

func originChecker(cfg config.ServerConfig) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return cfg.AllowEmptyOrigin
		}
		for _, allowed := range cfg.AllowedOrigins {
			if allowed == "*" || strings.EqualFold(allowed, origin) {
				return true
			}
		}
		return false
	}
}

// wsToken pulls the bearer token from the Authorization header, falling back
// to ?token= for browser WebSocket clients that cannot set headers.
func wsToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := h.gateway.Resolve(r.Context(), wsToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", "error", err, "user_id", user.ID)
		return
	}

	sess := &session{
		id:     uuid.NewString(),
		userID: user.ID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}
	go sess.writePump()

	first := h.hub.register(sess)
	h.logger.Info("ws: connected", "session_id", sess.id, "user_id", user.ID, "first_session", first)

	ctx := r.Context()
	if first {
		h.announceOnline(ctx, user.ID)
	}

	h.readLoop(ctx, sess)

	if h.hub.unregister(sess) {
		h.announceOffline(user.ID)
	}
	h.logger.Info("ws: disconnected", "session_id", sess.id, "user_id", user.ID)
}

func (h *WSHandler) announceOnline(ctx context.Context, userID string) {
	if err := h.cache.SetOnline(ctx, userID, h.presenceTTL); err != nil {
		h.logger.Warn("ws: presence set failed", "error", err, "user_id", userID)
	}
	h.hub.Broadcast(protocol.EventUserOnline, protocol.Presence{UserID: userID})

	// Messages addressed to the user while offline become delivered now.
	if err := h.delivery.PromoteOnConnect(ctx, userID); err != nil {
		h.logger.Warn("ws: delivery promotion failed", "error", err, "user_id", userID)
	}
}

func (h *WSHandler) announceOffline(userID string) {
	// The request context is gone once the read loop exits.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.cache.SetOffline(ctx, userID); err != nil {
		h.logger.Warn("ws: presence clear failed", "error", err, "user_id", userID)
	}
	h.hub.Broadcast(protocol.EventUserOffline, protocol.Presence{UserID: userID})
}

func (h *WSHandler) readLoop(ctx context.Context, sess *session) {
	conn := sess.conn
	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))

	// Client pings double as presence heartbeats.
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := h.cache.SetOnline(ctx, sess.userID, h.presenceTTL); err != nil {
			h.logger.Warn("ws: presence refresh failed", "error", err, "user_id", sess.userID)
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("ws: read error", "error", err, "session_id", sess.id)
			}
			return
		}

		env, err := protocol.DecodeEnvelope(payload)
		if err != nil {
			h.logger.Warn("ws: bad frame", "error", err, "session_id", sess.id)
			continue
		}
		h.handleEvent(ctx, sess, env)
	}
}

// memberOf re-checks membership in the database. Client events are validated
// on every frame, never against prior session state, so a removed member
// cannot keep acting on a conversation through an open socket.
func (h *WSHandler) memberOf(ctx context.Context, conversationID string, sess *session) bool {
	ok, err := h.store.IsMember(ctx, conversationID, sess.userID)
	if err != nil {
		h.logger.Error("ws: membership check failed", "error", err, "conversation_id", conversationID)
		return false
	}
	return ok
}

func (h *WSHandler) handleEvent(ctx context.Context, sess *session, env *protocol.Envelope) {
	switch env.Type {
	case protocol.EventJoinConversation:
		data, err := protocol.DecodeData[protocol.JoinConversation](env)
		if err != nil || data.ConversationID == "" {
			return
		}
		if !h.memberOf(ctx, data.ConversationID, sess) {
			h.logger.Warn("ws: join refused", "conversation_id", data.ConversationID, "user_id", sess.userID)
			return
		}
		h.hub.joinRoom(data.ConversationID, sess)

	case protocol.EventLeaveConversation:
		data, err := protocol.DecodeData[protocol.LeaveConversation](env)
		if err != nil || data.ConversationID == "" {
			return
		}
		h.hub.leaveRoom(data.ConversationID, sess)

	case protocol.EventTypingStart, protocol.EventTypingStop:
		data, err := protocol.DecodeData[protocol.Typing](env)
		if err != nil || data.ConversationID == "" {
			return
		}
		if !h.memberOf(ctx, data.ConversationID, sess) {
			h.logger.Warn("ws: typing refused", "conversation_id", data.ConversationID, "user_id", sess.userID)
			return
		}
		h.hub.ToConversationExcept(data.ConversationID, sess, protocol.EventUserTyping, protocol.UserTyping{
			ConversationID: data.ConversationID,
			UserID:         sess.userID,
			IsTyping:       env.Type == protocol.EventTypingStart,
		})

	default:
		h.logger.Warn("ws: unknown event", "type", env.Type, "session_id", sess.id)
	}
}
