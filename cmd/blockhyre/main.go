package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	authsvc "blockhyre/internal/app/services/auth"
	chatsvc "blockhyre/internal/app/services/chat"
	domainauth "blockhyre/internal/domain/auth"
	domainchat "blockhyre/internal/domain/chat"
	domainlistings "blockhyre/internal/domain/listings"
	domainuser "blockhyre/internal/domain/user"
	"blockhyre/internal/feed"
	"blockhyre/internal/infra/config"
	ginserver "blockhyre/internal/infra/http/gin"
	"blockhyre/internal/infra/obs"
	"blockhyre/internal/infra/security"
	"blockhyre/internal/infra/storage/memory"
	mongostore "blockhyre/internal/infra/storage/mongo"
	scyllastore "blockhyre/internal/infra/storage/scylla"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger := obs.NewLogger("dev")
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	stores, cleanup, err := buildStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "error", err, "backend", cfg.ChatStore)
		os.Exit(1)
	}
	defer cleanup()

	broker := feed.NewBroker(cfg.FeedBuffer, logger)
	var publisher feed.Publisher = broker
	if len(cfg.KafkaBrokers) > 0 {
		bridge, err := feed.NewBridge(feed.BridgeConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.FeedTopic,
			GroupID: cfg.FeedGroupID,
		}, broker, logger)
		if err != nil {
			logger.Error("feed bridge init failed", "error", err)
			os.Exit(1)
		}
		defer bridge.Close()
		go func() {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("feed bridge stopped", "error", err)
			}
		}()
		publisher = bridge
		logger.Info("feed bridge enabled", "topic", cfg.FeedTopic, "node_id", bridge.NodeID)
	}

	chatService := &chatsvc.Service{
		Store:  stores.chat,
		Users:  stores.users,
		Feed:   publisher,
		Logger: logger,
	}
	authService := &authsvc.Service{
		Users:      stores.users,
		Sessions:   stores.sessions,
		Passwords:  security.BcryptHasher{},
		Tokens:     security.RandomTokenGenerator{},
		SessionTTL: cfg.SessionTTL,
		Logger:     logger,
	}

	handlers := ginserver.Handlers{
		Auth: ginserver.AuthHandler{Service: authService, Logger: logger},
		Chat: ginserver.ChatHandler{
			Service:  chatService,
			Listings: stores.listings,
			Logger:   logger,
		},
		Listing: ginserver.ListingHandler{Listings: stores.listings, Logger: logger},
		Feed: ginserver.FeedHandler{
			Service: chatService,
			Feed:    broker,
			Quiet:   cfg.UnreadQuiet,
			Logger:  logger,
		},
		Payments: ginserver.PaymentsHandler{
			Service:  chatService,
			Listings: stores.listings,
			Verifier: security.WebhookVerifier{Secret: []byte(cfg.PaymentsWebhookSecret)},
			Logger:   logger,
		},
		AuthMiddleware: ginserver.AuthMiddleware{Service: authService, Logger: logger}.Handle,
	}

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{
		Ready: stores.ready,
	}, handlers)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "chat_store", cfg.ChatStore)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}

type storeSet struct {
	chat     domainchat.Store
	users    domainuser.Repository
	listings domainlistings.Repository
	sessions domainauth.SessionStore
	ready    func() error
}

func buildStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (storeSet, func(), error) {
	// Session tokens stay in memory across all backends; they are cheap to
	// re-issue after a restart.
	sessions := memory.NewSessionStore()
	noop := func() {}

	switch cfg.ChatStore {
	case "mongo":
		client, err := mongostore.New(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return storeSet{}, noop, err
		}
		chat := mongostore.NewChatStore(client.DB, logger)
		users := mongostore.NewUserRepository(client.DB)
		if err := chat.EnsureIndexes(ctx); err != nil {
			_ = client.Close(ctx)
			return storeSet{}, noop, err
		}
		if err := users.EnsureIndexes(ctx); err != nil {
			_ = client.Close(ctx)
			return storeSet{}, noop, err
		}
		cleanup := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Close(closeCtx)
		}
		return storeSet{
			chat:     chat,
			users:    users,
			listings: mongostore.NewListingRepository(client.DB),
			sessions: sessions,
			ready: func() error {
				pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				return client.Ping(pingCtx)
			},
		}, cleanup, nil
	case "scylla":
		session, err := scyllastore.NewSession(cfg, logger)
		if err != nil {
			return storeSet{}, noop, err
		}
		return storeSet{
			chat:     scyllastore.NewChatStore(session, logger),
			users:    memory.NewUserRepository(),
			listings: memory.NewListingRepository(),
			sessions: sessions,
			ready:    func() error { return nil },
		}, session.Close, nil
	default:
		return storeSet{
			chat:     memory.NewChatStore(),
			users:    memory.NewUserRepository(),
			listings: memory.NewListingRepository(),
			sessions: sessions,
			ready:    func() error { return nil },
		}, noop, nil
	}
}
