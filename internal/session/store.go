package session

import (
	"context"
	"strings"
)

type StoreConfig struct {
	DatabaseURL string
	// MaxConns caps the pool. Zero keeps the pgx default.
	MaxConns int
	// Migrate applies the embedded schema migrations on connect.
	Migrate bool
}

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return NewManager(), nil
	}
	return NewPostgresStore(ctx, cfg)
}
