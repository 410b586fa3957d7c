package app

import (
	"context"
	"fmt"
	"log"

	"github.com/ent0n29/booktalk/internal/config"
	"github.com/ent0n29/booktalk/internal/httpapi"
	"github.com/ent0n29/booktalk/internal/observability"
	"github.com/ent0n29/booktalk/internal/quota"
	"github.com/ent0n29/booktalk/internal/session"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Store     session.Store
	Authority *quota.Authority
	Metrics   *observability.Metrics

	// Cleanup should be called on shutdown to release external resources (DB pool).
	Cleanup func() error
}

// Build wires the quota authority service. The janitor runs until ctx is
// cancelled.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := session.NewStore(ctx, session.StoreConfig{
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.DatabaseMaxConns,
		Migrate:     cfg.DatabaseMigrate,
	})
	if err != nil {
		return nil, fmt.Errorf("session store init failed: %w", err)
	}

	authority := quota.NewAuthority(store, quota.AuthorityConfig{
		Plans:       cfg.QuotaUserPlans,
		ExpiryGrace: cfg.QuotaExpiryGrace,
		Metrics:     metrics,
	})
	authority.SetExpireHook(func(s *session.Session) {
		log.Printf("session %s for user %s expired after %ds without a close", s.ID, s.UserID, s.DurationSeconds)
	})
	authority.StartJanitor(ctx, cfg.QuotaJanitorInterval)

	api := httpapi.New(cfg, authority, metrics)

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Store:     store,
		Authority: authority,
		Metrics:   metrics,
		Cleanup:   store.Close,
	}, nil
}
