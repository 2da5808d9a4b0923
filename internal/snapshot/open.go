package snapshot

import (
	"context"
	"fmt"

	"github.com/rickgao/chatlink/internal/config"
	"github.com/rickgao/chatlink/internal/database"
)

// Open creates the store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.SnapshotConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil

	case "file":
		codec, err := ParseCodec(cfg.Codec)
		if err != nil {
			return nil, err
		}
		return NewFileStore(cfg.Path, codec, cfg.Compress)

	case "sqlite":
		return OpenSQLite(ctx, cfg.Path, ownerKey(cfg))

	case "postgres":
		pool, err := database.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		store, err := NewPostgresStore(ctx, pool, ownerKey(cfg))
		if err != nil {
			pool.Close()
			return nil, err
		}
		store.owned = true
		return store, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

func ownerKey(cfg config.SnapshotConfig) string {
	if cfg.Key == "" {
		return config.DefaultSnapshotKey
	}
	return cfg.Key
}
