// ABOUTME: Key-value store interface for OAuth clients, grants, codes and tokens
// ABOUTME: Opens the badger or redis backend selected by configuration

package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/bookshelf-gateway/internal/config"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("key not found")

// Store offers atomic per-key reads and writes with optional expiry.
type Store interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes value under key. A zero ttl means the key never expires.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Take atomically reads and deletes key. Used for single-use values.
	Take(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.KVConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case "badger", "":
		bcfg := DefaultBadgerConfig()
		bcfg.Path = cfg.Path
		bcfg.Logger = logger
		return OpenBadger(bcfg)
	case "redis":
		return OpenRedis(ctx, RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return nil, fmt.Errorf("unsupported kv driver %q", cfg.Driver)
	}
}
