package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerCreateGetEnd(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	s, err := m.Create(ctx, CreateRequest{UserID: "u1", BookID: "b1", Plan: "free", MaxDurationSeconds: 900})
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "b1", got.BookID)
	assert.Equal(t, StatusActive, got.Status)

	ended, err := m.End(ctx, s.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, ended.Status)
	assert.Equal(t, 42, ended.DurationSeconds)
	assert.NotNil(t, ended.EndedAt)
}

func TestManagerEndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	s, err := m.Create(ctx, CreateRequest{UserID: "u1", BookID: "b1", MaxDurationSeconds: 900})
	require.NoError(t, err)

	first, err := m.End(ctx, s.ID, 30)
	require.NoError(t, err)
	second, err := m.End(ctx, s.ID, 99)
	require.NoError(t, err)
	assert.Equal(t, 30, second.DurationSeconds)
	assert.True(t, second.EndedAt.Equal(*first.EndedAt), "second End() changed EndedAt")
}

func TestManagerEndUnknown(t *testing.T) {
	_, err := NewManager().End(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerCountSince(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	base := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

	m.now = func() time.Time { return base.AddDate(0, -1, 0) }
	_, _ = m.Create(ctx, CreateRequest{UserID: "u1"})
	m.now = func() time.Time { return base }
	_, _ = m.Create(ctx, CreateRequest{UserID: "u1"})
	_, _ = m.Create(ctx, CreateRequest{UserID: "u1"})
	_, _ = m.Create(ctx, CreateRequest{UserID: "u2"})

	n, err := m.CountSince(ctx, "u1", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestManagerExpireOverdue(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	base := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	short, _ := m.Create(ctx, CreateRequest{UserID: "u1", MaxDurationSeconds: 60})
	long, _ := m.Create(ctx, CreateRequest{UserID: "u2", MaxDurationSeconds: 3600})
	closed, _ := m.Create(ctx, CreateRequest{UserID: "u3", MaxDurationSeconds: 60})
	_, _ = m.End(ctx, closed.ID, 10)

	expired, err := m.ExpireOverdue(ctx, base.Add(90*time.Second), 30*time.Second)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, short.ID, expired[0].ID)
	assert.Equal(t, StatusExpired, expired[0].Status)
	assert.Equal(t, 60, expired[0].DurationSeconds)

	got, err := m.Get(ctx, long.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	active, err := m.ActiveCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, active)
}

func TestNewStoreWithoutDatabaseIsInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), StoreConfig{DatabaseURL: "  ", Migrate: true})
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &Manager{}, s)
}
