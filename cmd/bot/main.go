package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"kino_bot/internal/bot"
	"kino_bot/internal/config"
	"kino_bot/internal/model"
	"kino_bot/internal/session"
	"kino_bot/internal/storage"
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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := seedPrimaryAdmin(ctx, store, cfg); err != nil {
		log.Error("seed primary admin", "admin_id", cfg.AdminID, "error", err)
		os.Exit(1)
	}

	sessions, closeSessions, err := newSessionStore(ctx, cfg, log)
	if err != nil {
		log.Error("open session store", "error", err)
		os.Exit(1)
	}
	defer closeSessions()

	b, err := bot.New(cfg.TelegramBotToken, store, sessions, cfg, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	log.Info("starting bot", "workers", cfg.Workers, "source_channel_id", cfg.SourceChannelID)

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

func seedPrimaryAdmin(ctx context.Context, store storage.Storage, cfg *config.Config) error {
	err := store.CreateAdmin(ctx, &model.Admin{ID: cfg.AdminID, Username: strings.TrimPrefix(cfg.AdminUsername, "@")})
	if err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		return err
	}
	return nil
}

// newSessionStore keeps sessions in Redis when REDIS_ADDR is set and in
// process memory otherwise.
func newSessionStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (session.Store, func(), error) {
	if !cfg.UseRedis() {
		log.Info("using in-memory session store")
		return session.NewMemory(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info("using redis session store", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	return session.NewRedis(client, cfg.StateTTL), func() { _ = client.Close() }, nil
}
