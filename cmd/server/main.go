// TARS dashboard engine.
//
// Serves the session-gated dashboard API:
//   - password gate with a 24h session window
//   - periodic status polling with fallback data
//   - derived insights and live jitter
//   - Server-Sent Events for the renderer
//   - Telegram deep links for the chat composer

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tars-dashboard/engine/pkg/server"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("🤖 TARS dashboard engine starting...")

	// Build the engine (config, session store, status source, hub)
	ctx := context.Background()
	srv, err := server.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}
	// Start background workers (janitor, status watcher)
	if err := srv.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start background workers")
	}
	defer func() {
		if err := srv.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}()

	// Start HTTP server. No WriteTimeout: event streams stay open.
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", srv.Port),
		Handler:           srv.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("🛑 Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		// Ends open event streams so Shutdown does not wait on them.
		srv.Hub.Close()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().
		Int("port", srv.Port).
		Str("version", srv.Config.Version).
		Msg("🚀 TARS dashboard is online and ready!")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
