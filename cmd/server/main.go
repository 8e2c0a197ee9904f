package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kaimana/rentalsync/internal/buffer"
	"github.com/kaimana/rentalsync/internal/config"
	"github.com/kaimana/rentalsync/internal/db"
	"github.com/kaimana/rentalsync/internal/httpapi"
	"github.com/kaimana/rentalsync/internal/store"
	"github.com/kaimana/rentalsync/internal/syncer"
	"github.com/kaimana/rentalsync/internal/upstream"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "rentalsync").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	// Pretty logging for local dev
	if cfg.Env == config.EnvDev {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	if cfg.DB.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}
	if cfg.Upstream.BaseURL == "" {
		log.Fatal().Msg("UPSTREAM_BASE_URL is required")
	}

	ctx := context.Background()

	pool, err := db.Open(ctx, cfg.DB.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	st := store.NewPostgres(pool)
	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure schema")
	}

	buf, err := buffer.Open(cfg.Buffer.Dir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Buffer.Dir).Msg("failed to open write buffer")
	}
	defer buf.Close()

	source := upstream.New(cfg.Upstream.BaseURL, cfg.Upstream.AuthToken, cfg.Upstream.Timeout)
	engine := syncer.New(source, buf, st)

	// Crash recovery: writes buffered by an interrupted prior run are
	// committed before any new fetches begin.
	if res, err := engine.Replay(ctx); err != nil {
		log.Error().Err(err).Msg("startup buffer replay failed")
	} else if res.Inserted+res.Replaced > 0 || len(res.Failed) > 0 {
		log.Info().
			Int("inserted", res.Inserted).
			Int("replaced", res.Replaced).
			Int("failed", len(res.Failed)).
			Msg("startup buffer replay finished")
	}

	srv := &httpapi.Server{Source: source, Store: st, Engine: engine}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // exports stream the whole dataset
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
