// Package server provides the public entry point for initializing the TARS
// dashboard engine.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	srv.Start(ctx)
//	defer srv.Close(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tars-dashboard/engine/internal/api"
	"github.com/tars-dashboard/engine/internal/api/handlers"
	"github.com/tars-dashboard/engine/internal/chat"
	"github.com/tars-dashboard/engine/internal/clock"
	"github.com/tars-dashboard/engine/internal/config"
	"github.com/tars-dashboard/engine/internal/dashboard"
	"github.com/tars-dashboard/engine/internal/scheduler"
	"github.com/tars-dashboard/engine/internal/sessions"
	"github.com/tars-dashboard/engine/internal/status"
	"github.com/tars-dashboard/engine/internal/telemetry"
)

// Server holds the initialized dashboard engine.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Hub owns one dashboard controller per client session.
	Hub *dashboard.Hub

	// Sessions is the session storage backing every gate.
	Sessions sessions.Store

	// Config is the resolved configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc flushes telemetry on graceful shutdown.
	ShutdownFunc func(context.Context) error

	watcher *status.Watcher
	cancel  context.CancelFunc
}

// New loads configuration from the environment and builds a ready Server.
func New(ctx context.Context) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig builds the engine with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(lvl)
	}

	// Initialize OpenTelemetry (no-op when disabled)
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	// Session storage: SQLite when a path is configured, else in-memory
	store, err := openSessions(cfg.Sessions)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	// Status source with a bounded fetch timeout
	source := status.NewSource(cfg.Status.Endpoint,
		status.WithHTTPClient(&http.Client{Timeout: cfg.Status.Timeout}))
	log.Info().Str("endpoint", source.Endpoint()).Msg("✅ Status source configured")

	// One dashboard controller per client session
	hub := dashboard.NewHub(store, source, dashboard.Config{
		Secret:        cfg.Dashboard.Password,
		StartDate:     cfg.Dashboard.StartDate,
		SessionExpiry: cfg.Sessions.Expiry,
		Scheduler: scheduler.Config{
			RefreshInterval:   cfg.Polling.RefreshInterval,
			JitterInterval:    cfg.Polling.JitterInterval,
			JitterProbability: cfg.Polling.JitterProbability,
			ClockInterval:     cfg.Polling.ClockInterval,
			RefreshCooldown:   cfg.Polling.RefreshCooldown,
		},
	}, cfg.Sessions.IdleTTL)

	// Build HTTP handlers and router
	h := handlers.New(hub, chat.NewComposer(cfg.Chat.TelegramBot), clock.Real{})
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:      router,
		Hub:          hub,
		Sessions:     store,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

func openSessions(cfg config.SessionConfig) (sessions.Store, error) {
	if cfg.DBPath == "" {
		log.Info().Msg("✅ In-memory session store initialized")
		return sessions.NewMemoryStore(), nil
	}
	store, err := sessions.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	log.Info().Str("path", cfg.DBPath).Msg("✅ SQLite session store initialized")
	return store, nil
}

// Start launches background work: the idle-session janitor and, when a
// status file is configured, the watcher that refreshes visible sessions
// whenever the collector rewrites it.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.Hub.Start(ctx, s.Config.Sessions.SweepInterval)

	if path := s.Config.Status.WatchPath; path != "" {
		s.watcher = status.NewWatcher(path, s.Config.Status.Debounce, func() {
			refreshed := 0
			s.Hub.Each(func(c *dashboard.Controller) {
				if c.RefreshNow(ctx) {
					refreshed++
				}
			})
			log.Debug().Int("sessions", refreshed).Msg("Status file changed")
		})
		if err := s.watcher.Start(ctx); err != nil {
			s.watcher = nil
			return fmt.Errorf("watch status file: %w", err)
		}
	}
	return nil
}

// Close stops background work, tears down every session engine and releases
// storage and telemetry.
func (s *Server) Close(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.Hub.Close()
	return errors.Join(s.Sessions.Close(), s.ShutdownFunc(ctx))
}
