package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parleyhq/parley/cache"
	"github.com/parleyhq/parley/config"
	"github.com/parleyhq/parley/files"
	"github.com/parleyhq/parley/identity"
	"github.com/parleyhq/parley/pkg/otel"
	"github.com/parleyhq/parley/server/handlers"
	"github.com/parleyhq/parley/services"
	"github.com/parleyhq/parley/store"
)

const ReadTimeout = 30 * time.Second

// Deps carries everything the router needs. The hub is built by the caller
// so services can use it as their broadcaster. Optional fields
// (IdentityClient, Storage) may be nil; the affected endpoints then report
// 503.
type Deps struct {
	Hub            *Hub
	Store          *store.Store
	Cache          *cache.Cache
	Gateway        *identity.Gateway
	IdentityClient *identity.Client
	Storage        *files.Storage

	Conversations *services.ConversationService
	Messages      *services.MessageService
	Delivery      *services.DeliveryService
	Reactions     *services.ReactionService
	Polls         *services.PollService
	Encryption    *services.EncryptionService
	Notifications *services.NotificationService
	Users         *services.UserService

	Logger *slog.Logger
}

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	server *http.Server
	hub    *Hub
	logger *slog.Logger
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(logger)
	}
	router := chi.NewRouter()

	router.Use(otel.Middleware("parley-api"))
	router.Use(Recovery)
	router.Use(Logger)
	router.Use(CORS(cfg.Server.AllowedOrigins))

	var identityPing func(context.Context) error
	if deps.IdentityClient != nil {
		identityPing = deps.IdentityClient.Health
	}
	healthH := handlers.NewHealthHandler(handlers.HealthHandlerConfig{
		DBPing:       func(ctx context.Context) error { return deps.Store.Pool().Ping(ctx) },
		RedisPing:    deps.Cache.Ping,
		IdentityPing: identityPing,
		WSStats:      func() any { return hub.Stats() },
	})
	router.Get("/health", healthH.Health)
	router.Get("/health/ready", healthH.Readiness)
	router.Get("/health/live", healthH.Liveness)
	router.Get("/health/websocket", healthH.WebSocket)
	router.Handle("/metrics", promhttp.Handler())

	authH := handlers.NewAuthHandler(deps.IdentityClient)
	router.Post("/api/v1/auth/login", authH.Login)

	wsH := NewWSHandler(hub, deps.Gateway, deps.Store, deps.Cache, deps.Delivery,
		cfg.Server, cfg.Cache.PresenceTTL, logger)
	router.Get("/api/v1/ws", wsH.ServeHTTP)

	limiter := NewRateLimiter(cfg.RateLimit)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(Auth(deps.Gateway))

		convH := handlers.NewConversationHandler(deps.Conversations, deps.Messages, deps.Delivery)
		r.Post("/conversations", convH.Create)
		r.Get("/conversations", convH.List)
		r.Get("/conversations/search", convH.Search)
		r.Get("/conversations/{id}", convH.Get)
		r.Patch("/conversations/{id}", convH.Update)
		r.Post("/conversations/{id}/members", convH.AddMembers)
		r.Delete("/conversations/{id}/members/{userID}", convH.RemoveMember)
		r.Post("/conversations/{id}/leave", convH.Leave)
		r.Put("/conversations/{id}/settings", convH.UpdateSettings)
		r.Post("/conversations/{id}/read", convH.MarkRead)
		r.Get("/conversations/{id}/unread", convH.Unread)
		r.Delete("/conversations/{id}/messages", convH.Clear)

		msgH := handlers.NewMessageHandler(deps.Messages, deps.Delivery)
		r.Group(func(r chi.Router) {
			r.Use(limiter.Limit("messages", cfg.RateLimit.MessagesPerMinute))
			r.Post("/conversations/{id}/messages", msgH.Send)
			r.Post("/conversations/{id}/files", msgH.Upload)
		})
		r.Get("/conversations/{id}/messages", msgH.List)
		r.Get("/messages/search", msgH.Search)
		r.Put("/messages/{id}", msgH.Edit)
		r.Delete("/messages/{id}", msgH.Delete)
		r.Delete("/messages/{id}/me", msgH.DeleteForMe)
		r.Get("/messages/{id}/statuses", msgH.Statuses)
		r.Post("/messages/read", msgH.MarkRead)
		r.Post("/messages/delivered", msgH.MarkDelivered)
		r.Get("/messages/unread", msgH.AllUnread)

		reactH := handlers.NewReactionHandler(deps.Reactions)
		r.Group(func(r chi.Router) {
			r.Use(limiter.Limit("reactions", cfg.RateLimit.ReactionsPerMinute))
			r.Post("/messages/{id}/reactions", reactH.Add)
			r.Delete("/messages/{id}/reactions", reactH.Remove)
		})

		pollH := handlers.NewPollHandler(deps.Polls)
		r.Post("/polls", pollH.Create)
		r.Get("/polls/{id}", pollH.Get)
		r.Post("/polls/{id}/votes", pollH.Vote)
		r.Post("/polls/{id}/close", pollH.Close)
		r.Get("/messages/{id}/poll", pollH.GetByMessage)

		encH := handlers.NewEncryptionHandler(deps.Encryption)
		r.Group(func(r chi.Router) {
			r.Use(limiter.Limit("encryption_writes", cfg.RateLimit.EncryptionWritesPerMinute))
			r.Post("/keys/bundle", encH.UploadBundle)
			r.Post("/keys/prekeys", encH.Replenish)
			r.Post("/keys/backup", encH.SaveBackup)
			r.Post("/conversations/{id}/sender-keys", encH.DistributeSenderKey)
			r.Post("/conversations/{id}/key-backup", encH.SaveConversationBackup)
		})
		r.Group(func(r chi.Router) {
			r.Use(limiter.Limit("encryption_reads", cfg.RateLimit.EncryptionReadsPerMinute))
			r.Get("/keys/bundle/{userID}", encH.GetBundle)
			r.Get("/keys/prekeys/count", encH.PreKeyCount)
			r.Get("/keys/backup", encH.GetBackup)
			r.Get("/keys/backups/conversations", encH.ListConversationBackups)
			r.Get("/conversations/{id}/sender-keys", encH.SenderKeys)
			r.Get("/conversations/{id}/key-backup", encH.GetConversationBackup)
		})

		notifH := handlers.NewNotificationHandler(deps.Notifications)
		r.Get("/notifications/preferences", notifH.Preferences)
		r.Put("/notifications/preferences", notifH.UpdatePreferences)
		r.Get("/notifications/mutes", notifH.Muted)
		r.Post("/conversations/{id}/mute", notifH.Mute)
		r.Delete("/conversations/{id}/mute", notifH.Unmute)

		userH := handlers.NewUserHandler(deps.Users)
		r.Get("/users/me", userH.Me)
		r.Put("/users/me/settings", userH.UpdateSettings)
		r.Get("/users/online", userH.Online)
		r.Get("/users/blocks", userH.Blocked)
		r.Get("/users/{id}", userH.Get)
		r.Post("/users/{id}/block", userH.Block)
		r.Delete("/users/{id}/block", userH.Unblock)
	})

	// Media elements cannot set the Authorization header, so the proxy also
	// accepts the token as a query parameter.
	fileH := handlers.NewFileHandler(deps.Storage)
	router.With(AuthQuery(deps.Gateway)).Get("/api/v1/files/proxy", fileH.Proxy)

	return &Server{
		cfg:    cfg,
		router: router,
		hub:    hub,
		logger: logger,
	}
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	go s.hub.Run()

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: ReadTimeout,
		// WriteTimeout stays zero: WS connections write indefinitely.
		WriteTimeout: 0,
	}
	s.logger.Info("http server listening", "addr", addr)
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.hub.Stop()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
