package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"rank_tracker/internal/aggregate"
	"rank_tracker/internal/config"
	"rank_tracker/internal/notify"
	"rank_tracker/internal/refresh"
	"rank_tracker/internal/scraper"
	"rank_tracker/internal/server"
	"rank_tracker/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()
	store.SetTimeout(time.Duration(cfg.StoreTimeoutSecs) * time.Second)

	agg := aggregate.New(store, cfg.WindowDays, log)
	coord := refresh.NewCoordinator(store, log)
	lookup := scraper.New(http.DefaultClient, cfg.ScraperURL)
	dispatcher := notify.NewDispatcher(http.DefaultClient, cfg.QueueURL, cfg.NotifyDelaySeconds, log)
	runner := refresh.NewRunner(store, coord, lookup, agg, dispatcher, cfg.QueueName, cfg.ScrapeConcurrency, log)

	handler := server.NewHandler(server.Deps{
		Store:  store,
		Agg:    agg,
		Coord:  coord,
		Runner: runner,
		Log:    log,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("starting server", "addr", cfg.ListenAddr, "window_days", cfg.WindowDays)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("serve", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
