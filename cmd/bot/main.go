package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"webwatch_bot/internal/bot"
	"webwatch_bot/internal/config"
	"webwatch_bot/internal/fetcher"
	"webwatch_bot/internal/monitor"
	"webwatch_bot/internal/scheduler"
	"webwatch_bot/internal/storage"
)

func main() {
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

	// The engine is wired to the scheduler before the bot exists, so the
	// scheduler takes the poll function via this indirection.
	var engine *monitor.Engine
	sched := scheduler.New(func(ctx context.Context, chatID int64, url string) {
		engine.PollOnce(ctx, chatID, url)
	}, cfg.Location, log)

	b, err := bot.New(cfg.TelegramBotToken, store, sched, cfg, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	engine = monitor.New(store, fetcher.New(http.DefaultClient, cfg.MaxFileSize), b, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := sched.Restore(ctx, store); err != nil {
		log.Error("restore scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	log.Info("starting bot")

	b.Run(ctx)

	log.Info("bot stopped")
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
