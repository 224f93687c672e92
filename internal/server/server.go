// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package server assembles the passkey service, its storage backend, and the
// HTTP surface into a runnable server.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-passkey/internal/config"
	"github.com/jeremyhahn/go-passkey/pkg/metrics"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
	passkeyhttp "github.com/jeremyhahn/go-passkey/pkg/passkey/http"
	"github.com/jeremyhahn/go-passkey/pkg/ratelimit"
	"github.com/jeremyhahn/go-passkey/pkg/storage/postgres"
)

// Server is the assembled passkey server.
type Server struct {
	config  *config.Config
	logger  *slog.Logger
	http    *http.Server
	service *passkey.Service
	limiter *ratelimit.Limiter

	db        *sql.DB // nil for the memory backend
	resources *metrics.ResourceCollector

	// purgeChallenges removes expired challenge entries; backend specific.
	purgeChallenges func(ctx context.Context) (int64, error)
	cleanupCancel   context.CancelFunc
}

// New assembles a server from the configuration: storage backend, verifier,
// session manager, ceremony service, and the HTTP router.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = NewLogger(cfg.Logging)
	}

	s := &Server{
		config: cfg,
		logger: logger,
	}

	var (
		challenges passkey.ChallengeStore
		users      passkey.UserDirectory
		creds      passkey.CredentialRegistry
	)
	switch cfg.Storage.Backend {
	case config.StoragePostgres:
		db, err := postgres.Open(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		if err := postgres.RunMigrations(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		s.db = db
		store := postgres.NewChallengeStore(db)
		challenges = store
		users = postgres.NewUserDirectory(db)
		creds = postgres.NewCredentialRegistry(db)
		s.purgeChallenges = store.PurgeExpired
		logger.Info("using postgres storage backend")

	default:
		store := passkey.NewMemoryChallengeStore()
		challenges = store
		users = passkey.NewMemoryUserDirectory()
		creds = passkey.NewMemoryCredentialRegistry()
		s.purgeChallenges = func(context.Context) (int64, error) {
			return int64(store.Cleanup()), nil
		}
		logger.Info("using memory storage backend")
	}

	verifier, err := passkey.NewWebAuthnVerifier(cfg.PasskeyConfig())
	if err != nil {
		s.closeDB()
		return nil, err
	}

	sessions, err := passkey.NewJWTSessionManager(
		[]byte(cfg.Session.SigningKey), cfg.Session.Issuer, cfg.Session.TTL)
	if err != nil {
		s.closeDB()
		return nil, err
	}
	if cfg.Session.SigningKey == "" {
		logger.Warn("no session signing key configured; sessions will not survive restarts")
	}

	service, err := passkey.NewService(passkey.ServiceParams{
		Config:             cfg.PasskeyConfig(),
		ChallengeStore:     challenges,
		UserDirectory:      users,
		CredentialRegistry: creds,
		Verifier:           verifier,
		SessionSink:        sessions,
		Logger:             logger,
	})
	if err != nil {
		s.closeDB()
		return nil, err
	}
	s.service = service

	s.limiter = ratelimit.New(&ratelimit.Config{
		Enabled:           cfg.RateLimit.Enabled,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMin,
		Burst:             cfg.RateLimit.Burst,
	})

	handler := passkeyhttp.NewHandler(service, sessions).WithLogger(logger)
	router := s.setupRouter(handler)

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter(handler *passkeyhttp.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.logger))
	r.Use(metrics.HTTPMiddleware)
	if s.limiter.IsEnabled() {
		r.Use(ratelimit.Middleware(s.limiter))
	}

	r.Get("/healthz", s.healthHandler)

	if s.config.Metrics.Enabled {
		r.Handle(s.config.Metrics.Path, promhttp.Handler())
	}

	r.Route("/api/v1/passkey", func(r chi.Router) {
		passkeyhttp.MountChi(r, handler)
	})

	return r
}

// healthHandler reports liveness, including database connectivity when a
// database backend is configured.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
			s.logger.Error("health check database ping failed", "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// Start begins serving and blocks until the listener closes. It also starts
// the challenge cleanup loop.
func (s *Server) Start() error {
	cleanupCtx, cancel := context.WithCancel(context.Background())
	s.cleanupCancel = cancel
	go s.cleanupLoop(cleanupCtx)

	if s.config.Metrics.Enabled {
		s.resources = metrics.StartResourceCollector(cleanupCtx, 30*time.Second)
	}

	if s.config.Server.TLS.Enabled {
		s.logger.Info("starting HTTPS server", "addr", s.http.Addr)
		err := s.http.ListenAndServeTLS(s.config.Server.TLS.CertFile, s.config.Server.TLS.KeyFile)
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTPS server: %w", err)
		}
		return nil
	}

	s.logger.Info("starting HTTP server", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the server, the cleanup loop, and the storage backend.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if s.cleanupCancel != nil {
		s.cleanupCancel()
	}
	if s.resources != nil {
		s.resources.Stop()
	}
	s.limiter.Stop()

	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.closeDB()

	s.logger.Info("server stopped")
	return nil
}

// Service returns the assembled ceremony service, for tests and embedding.
func (s *Server) Service() *passkey.Service {
	return s.service
}

// cleanupLoop periodically purges expired challenges so abandoned ceremonies
// do not accumulate.
func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Challenge.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.purgeChallenges(ctx)
			if err != nil {
				s.logger.Error("challenge cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.Debug("purged expired challenges", "count", removed)
			}
		}
	}
}

func (s *Server) closeDB() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("failed to close database", "error", err)
		}
	}
}
