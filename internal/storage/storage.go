package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/ikkim/cartsync/config"
)

// ErrNotFound is returned by Get when the key has never been set or was
// deleted.
var ErrNotFound = errors.New("storage: key not found")

// KV is the local persistence interface consumed by the snapshot and queue
// repositories. Values are opaque strings (JSON documents in practice).
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open builds the KV backend selected by configuration.
func Open(cfg *config.StorageConfig) (KV, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryKV(), nil
	case "file":
		return NewFileKV(cfg.FilePath)
	case "redis":
		return NewRedisKV(&cfg.Redis)
	case "sqlite":
		return NewSQLiteKV(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}
