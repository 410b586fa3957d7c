package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real database when BOOKTALK_TEST_DATABASE_URL is set.
func TestPostgresStoreLifecycle(t *testing.T) {
	url := os.Getenv("BOOKTALK_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("BOOKTALK_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := NewPostgresStore(ctx, StoreConfig{DatabaseURL: url, MaxConns: 2, Migrate: true})
	require.NoError(t, err)
	defer store.Close()

	userID := "pg-test-" + time.Now().Format("150405.000000000")
	s, err := store.Create(ctx, CreateRequest{UserID: userID, BookID: "b1", Plan: "free", MaxDurationSeconds: 1})
	require.NoError(t, err)

	n, err := store.CountSince(ctx, userID, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expired, err := store.ExpireOverdue(ctx, time.Now().Add(time.Minute), 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(expired))
	for _, e := range expired {
		ids = append(ids, e.ID)
	}
	assert.Contains(t, ids, s.ID)

	again, err := store.End(ctx, s.ID, 500)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, again.Status, "End() must not reopen an expired session")
	assert.Equal(t, 1, again.DurationSeconds)

	_, err = store.Get(ctx, "missing-"+userID)
	assert.ErrorIs(t, err, ErrNotFound)
}
