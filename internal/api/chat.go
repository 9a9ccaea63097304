package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ahanafabid01/Next-Youth-sub000/internal/config"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/database"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/presence"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/server"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/stats"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/store"
	"github.com/gorilla/handlers"
)

const limiterCleanupInterval = time.Minute

type ChatApp struct {
	log            *slog.Logger
	db             database.ChatRepository
	store          *store.Store
	mux            *http.Server
	cs             *server.ChatServer
	presence       *presence.Tracker
	stats          stats.StatsProvider
	limiter        *LimiterStore
	signingKey     []byte
	tokenTTL       time.Duration
	allowedOrigins []string
}

func NewChatApp(mux *http.ServeMux, logger *slog.Logger, cs *server.ChatServer, st *store.Store, db database.ChatRepository, tracker *presence.Tracker, su stats.StatsProvider, cfg *config.Config) *ChatApp {
	s := &ChatApp{
		log:            logger,
		db:             db,
		store:          st,
		cs:             cs,
		presence:       tracker,
		stats:          su,
		signingKey:     cfg.SigningKey,
		tokenTTL:       cfg.TokenTTL,
		allowedOrigins: cfg.AllowedOrigins,
	}

	if s.tokenTTL <= 0 {
		s.tokenTTL = config.DefaultTokenTTL
	}

	if cfg.SendRate > 0 {
		s.limiter = NewLimiterStore(cfg.SendRate, cfg.SendBurst, limiterCleanupInterval)
	}

	if su != nil {
		su.RegisterMetric(stats.MessagesSent)
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.Handle("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("GET /api/conversations", s.authMiddleware(s.listConversations))
	mux.Handle("POST /api/conversations", s.authMiddleware(s.createConversation))
	mux.Handle("GET /api/conversations/{id}/messages", s.authMiddleware(s.listMessages))
	mux.Handle("POST /api/messages", s.authMiddleware(s.rateLimit(s.sendMessage)))
	mux.Handle("POST /api/messages/read", s.authMiddleware(s.markRead))
	mux.Handle("GET /api/messages/unread-count", s.authMiddleware(s.unreadCount))
	mux.Handle("GET /api/users/{id}/presence", s.authMiddleware(s.userPresence))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *ChatApp) Handler() http.Handler {
	return s.mux.Handler
}

func (s *ChatApp) Start() error {
	s.log.Info("starting server", "addr", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *ChatApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if s.limiter != nil {
		s.limiter.Stop()
	}

	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
