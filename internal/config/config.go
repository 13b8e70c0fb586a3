// Package config handles application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN,required,notEmpty"`
	DatabasePath     string `env:"DATABASE_PATH" envDefault:"./data/bot.db"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`

	// AdminID is the primary admin. It is seeded on start and cannot be removed.
	AdminID       int64  `env:"ADMIN_ID,required,notEmpty"`
	AdminUsername string `env:"ADMIN_USERNAME"`
	// SourceChannelID is the channel holding the posts codes point to.
	SourceChannelID int64  `env:"SOURCE_CHANNEL_ID,required,notEmpty"`
	MainChannel     string `env:"MAIN_CHANNEL"`
	// OperatorChatID receives error reports and unresolved codes.
	// Defaults to AdminID.
	OperatorChatID int64 `env:"OPERATOR_CHAT_ID"`

	DeliveryPace time.Duration `env:"DELIVERY_PACE" envDefault:"1s"`
	Workers      int           `env:"WORKERS" envDefault:"16"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	StateTTL      time.Duration `env:"STATE_TTL" envDefault:"24h"`
}

// Load reads configuration from environment variables, after loading a
// .env file from the working directory when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.OperatorChatID == 0 {
		cfg.OperatorChatID = cfg.AdminID
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("WORKERS must be positive, got %d", cfg.Workers)
	}
	if cfg.DeliveryPace < 0 {
		return nil, fmt.Errorf("DELIVERY_PACE must not be negative, got %s", cfg.DeliveryPace)
	}
	return &cfg, nil
}

// UseRedis reports whether session state should be kept in Redis.
func (c *Config) UseRedis() bool {
	return c.RedisAddr != ""
}
