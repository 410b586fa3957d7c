package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/booktalk/internal/plan"
	"github.com/ent0n29/booktalk/internal/session"
)

type failingStore struct {
	session.Store
}

func (failingStore) CountSince(context.Context, string, time.Time) (int, error) {
	return 0, errors.New("db down")
}

func TestAuthorityReserveGrants(t *testing.T) {
	a := NewAuthority(session.NewManager(), AuthorityConfig{Plans: plan.StaticDirectory{"u1": plan.Standard}})

	d, err := a.Reserve(context.Background(), "u1", "b1")
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.NotEmpty(t, d.SessionID)
	assert.Equal(t, 30, d.MaxDurationMinutes)

	sess, err := a.Get(context.Background(), d.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "standard", sess.Plan)
	assert.Equal(t, 1800, sess.MaxDurationSeconds)
}

func TestAuthorityReserveMissingInputIsNotBilling(t *testing.T) {
	a := NewAuthority(session.NewManager(), AuthorityConfig{})

	d, err := a.Reserve(context.Background(), "", "b1")
	require.NoError(t, err)
	assert.False(t, d.Granted)
	assert.False(t, d.BillingRelated)
	assert.Equal(t, reasonMissingInput, d.Reason)
}

func TestAuthorityReserveMonthlyLimitIsBilling(t *testing.T) {
	ctx := context.Background()
	a := NewAuthority(session.NewManager(), AuthorityConfig{})

	limit := plan.LimitsFor(plan.Free).MaxSessionsPerMonth
	for i := 0; i < limit; i++ {
		d, err := a.Reserve(ctx, "u1", "b1")
		require.NoError(t, err)
		require.True(t, d.Granted, "reservation %d", i)
	}

	d, err := a.Reserve(ctx, "u1", "b1")
	require.NoError(t, err)
	assert.False(t, d.Granted)
	assert.True(t, d.BillingRelated)
	assert.Contains(t, d.Reason, "monthly session limit (10)")

	other, err := a.Reserve(ctx, "u2", "b1")
	require.NoError(t, err)
	assert.True(t, other.Granted)
}

func TestAuthorityReserveStoreFailureIsNotBilling(t *testing.T) {
	a := NewAuthority(failingStore{session.NewManager()}, AuthorityConfig{})

	d, err := a.Reserve(context.Background(), "u1", "b1")
	require.NoError(t, err)
	assert.False(t, d.Granted)
	assert.False(t, d.BillingRelated)
}

func TestAuthorityCloseClampsAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a := NewAuthority(session.NewManager(), AuthorityConfig{ExpiryGrace: 30 * time.Second})
	d, _ := a.Reserve(ctx, "u1", "b1")

	ended, err := a.End(ctx, d.SessionID, 5000)
	require.NoError(t, err)
	assert.Equal(t, session.StatusEnded, ended.Status)
	assert.Equal(t, 930, ended.DurationSeconds)

	again, err := a.End(ctx, d.SessionID, 12)
	require.NoError(t, err)
	assert.Equal(t, 930, again.DurationSeconds)

	require.NoError(t, a.Close(ctx, d.SessionID, 1))
}

func TestAuthorityCloseNegativeElapsed(t *testing.T) {
	ctx := context.Background()
	a := NewAuthority(session.NewManager(), AuthorityConfig{})
	d, _ := a.Reserve(ctx, "u1", "b1")

	ended, err := a.End(ctx, d.SessionID, -4)
	require.NoError(t, err)
	assert.Zero(t, ended.DurationSeconds)
}

func TestAuthorityCloseUnknown(t *testing.T) {
	a := NewAuthority(session.NewManager(), AuthorityConfig{})
	err := a.Close(context.Background(), "nope", 1)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestAuthorityJanitorExpiresOverdue(t *testing.T) {
	ctx := context.Background()
	a := NewAuthority(session.NewManager(), AuthorityConfig{ExpiryGrace: time.Minute})
	d, _ := a.Reserve(ctx, "u1", "b1")

	expired := make(chan *session.Session, 1)
	a.SetExpireHook(func(s *session.Session) { expired <- s })

	a.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	a.expireOverdue(ctx)
	select {
	case <-expired:
		t.Fatalf("session expired before ceiling plus grace")
	default:
	}

	a.now = func() time.Time { return time.Now().Add(20 * time.Minute) }
	a.expireOverdue(ctx)
	select {
	case s := <-expired:
		assert.Equal(t, d.SessionID, s.ID)
		assert.Equal(t, session.StatusExpired, s.Status)
	default:
		t.Fatalf("session was not expired")
	}

	// Closing after expiry keeps the authority's record.
	ended, err := a.End(ctx, d.SessionID, 3)
	require.NoError(t, err)
	assert.Equal(t, session.StatusExpired, ended.Status)
	assert.Equal(t, 900, ended.DurationSeconds)
}
