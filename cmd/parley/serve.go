package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/cache"
	"github.com/parleyhq/parley/files"
	"github.com/parleyhq/parley/identity"
	"github.com/parleyhq/parley/pkg/otel"
	"github.com/parleyhq/parley/server"
	"github.com/parleyhq/parley/services"
	"github.com/parleyhq/parley/store"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the messaging API server",
		Long: `Start the Parley HTTP and WebSocket server.

Required configuration:
  - PostgreSQL database (PARLEY_POSTGRES_URL)
  - JWT signing secret (PARLEY_JWT_SECRET)

Optional:
  - Redis for caching and presence (PARLEY_REDIS_ADDR)
  - External identity provider (PARLEY_IDENTITY_URL, PARLEY_IDENTITY_API_KEY)
  - S3-compatible file storage (PARLEY_S3_ENDPOINT, PARLEY_S3_ACCESS_KEY, PARLEY_S3_SECRET_KEY)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("server mode requires a token secret. Set PARLEY_JWT_SECRET")
	}

	logger := slog.New(otel.NewPrettyHandler())
	if cfg.Otel.Endpoint != "" {
		result, err := otel.Init(otel.Config{
			ServiceName:  "parley-api",
			Environment:  cfg.Otel.Environment,
			OTLPEndpoint: cfg.Otel.Endpoint,
		})
		if err != nil {
			logger.Warn("otel init failed, continuing without export", "error", err)
		} else {
			logger = result.Logger
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = result.Shutdown(shutdownCtx)
			}()
		}
	}
	slog.SetDefault(logger)

	logger.Info("starting parley api server",
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"environment", cfg.Otel.Environment)

	pool, err := store.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	st := store.New(pool)
	logger.Info("database connected")

	var c *cache.Cache
	if cfg.IsRedisConfigured() {
		rdb, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize)
		if err != nil {
			logger.Warn("redis unavailable, running without cache", "error", err)
			c = cache.New(nil)
		} else {
			c = cache.New(rdb)
			defer c.Close()
			logger.Info("redis connected", "addr", cfg.Redis.Addr)
		}
	} else {
		c = cache.New(nil)
		logger.Info("redis not configured, cache and presence disabled")
	}

	var identityClient *identity.Client
	if cfg.IsIdentityConfigured() {
		identityClient = identity.NewClient(cfg.Identity.URL, cfg.Identity.APIKey, cfg.Identity.RequestTimeout)
		logger.Info("identity provider configured", "url", cfg.Identity.URL)
	} else {
		logger.Info("identity provider not configured, login proxy disabled")
	}

	var storage *files.Storage
	if cfg.IsFilesConfigured() {
		storage, err = files.New(ctx, cfg.Files, logger)
		if err != nil {
			logger.Warn("file storage unavailable, uploads disabled", "error", err)
		} else {
			logger.Info("file storage ready", "bucket", cfg.Files.Bucket)
		}
	} else {
		logger.Info("file storage not configured, uploads disabled")
	}

	verifier := identity.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.ClockSkew, cfg.Auth.TokenTTL)
	gateway := identity.NewGateway(verifier, st, c, logger)
	directory := identity.NewDirectory(st, c, identityClient, logger)

	hub := server.NewHub(logger)

	convSvc := services.NewConversationService(st, c, hub, logger)
	msgSvc := services.NewMessageService(st, c, directory, storage, hub, logger)
	deliverySvc := services.NewDeliveryService(st, c, hub, logger, cfg.Cache.UnreadTTL)
	reactionSvc := services.NewReactionService(st, hub, logger)
	pollSvc := services.NewPollService(st, hub, logger)
	encSvc := services.NewEncryptionService(st, c, hub, logger, cfg.Cache.KeyBundleTTL)
	notifSvc := services.NewNotificationService(st)
	userSvc := services.NewUserService(st, c, directory)

	srv := server.NewServer(cfg, server.Deps{
		Hub:            hub,
		Store:          st,
		Cache:          c,
		Gateway:        gateway,
		IdentityClient: identityClient,
		Storage:        storage,
		Conversations:  convSvc,
		Messages:       msgSvc,
		Delivery:       deliverySvc,
		Reactions:      reactionSvc,
		Polls:          pollSvc,
		Encryption:     encSvc,
		Notifications:  notifSvc,
		Users:          userSvc,
		Logger:         logger,
	})

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		logger.Info("shutting down", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("server stopped")
		return nil
	}
}
