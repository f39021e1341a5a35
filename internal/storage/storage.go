// Package storage persists the set of users the bot has seen, so admin
// broadcasts reach them across restarts. Statistics stay in memory; only the
// user set is durable.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"grabbot/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// User is one known bot user.
type User struct {
	ID       int64
	Username string
	LastSeen time.Time
}

// Store is the persistence API used by the bot.
type Store interface {
	UpsertUser(ctx context.Context, u User) error
	ListUsers(ctx context.Context) ([]User, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
