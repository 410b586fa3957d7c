package quota

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/booktalk/internal/observability"
	"github.com/ent0n29/booktalk/internal/plan"
	"github.com/ent0n29/booktalk/internal/session"
)

const (
	reasonMissingInput = "Missing user or book."
	reasonUnavailable  = "Voice sessions are temporarily unavailable. Please try again."
)

type AuthorityConfig struct {
	Plans plan.Directory
	// ExpiryGrace is how long past its ceiling an unclosed session survives
	// before the janitor expires it.
	ExpiryGrace time.Duration
	Metrics     *observability.Metrics
}

// Authority is the server side of the quota contract. It owns the session
// ledger and enforces plan limits independently of any client.
type Authority struct {
	store   session.Store
	plans   plan.Directory
	grace   time.Duration
	metrics *observability.Metrics
	now     func() time.Time

	// reserveMu serialises the count-then-create check within this process.
	reserveMu sync.Mutex

	hookMu   sync.RWMutex
	onExpire func(*session.Session)
}

func NewAuthority(store session.Store, cfg AuthorityConfig) *Authority {
	plans := cfg.Plans
	if plans == nil {
		plans = plan.StaticDirectory{}
	}
	if cfg.ExpiryGrace < 0 {
		cfg.ExpiryGrace = 0
	}
	return &Authority{
		store:   store,
		plans:   plans,
		grace:   cfg.ExpiryGrace,
		metrics: cfg.Metrics,
		now:     time.Now,
	}
}

func (a *Authority) SetExpireHook(hook func(*session.Session)) {
	a.hookMu.Lock()
	defer a.hookMu.Unlock()
	a.onExpire = hook
}

// Reserve grants a session when the user's plan allows one more this month.
// Store failures surface as a non-billing denial, never as an error.
func (a *Authority) Reserve(ctx context.Context, userID, bookID string) (Decision, error) {
	userID, bookID = strings.TrimSpace(userID), strings.TrimSpace(bookID)
	if userID == "" || bookID == "" {
		a.event("denied")
		return Denied(reasonMissingInput, false), nil
	}

	tier := a.plans.TierFor(userID)
	limits := plan.LimitsFor(tier)

	a.reserveMu.Lock()
	defer a.reserveMu.Unlock()

	used, err := a.store.CountSince(ctx, userID, plan.PeriodStart(a.now()))
	if err != nil {
		log.Printf("quota: count sessions for %s: %v", userID, err)
		a.event("denied")
		return Denied(reasonUnavailable, false), nil
	}
	if !limits.AllowsSession(used) {
		a.event("denied_billing")
		return Denied(fmt.Sprintf(
			"You have reached your monthly session limit (%d). Upgrade your plan for more sessions.",
			limits.MaxSessionsPerMonth,
		), true), nil
	}

	sess, err := a.store.Create(ctx, session.CreateRequest{
		UserID:             userID,
		BookID:             bookID,
		Plan:               string(tier),
		MaxDurationSeconds: limits.MaxSessionDuration(),
	})
	if err != nil {
		log.Printf("quota: create session for %s: %v", userID, err)
		a.event("denied")
		return Denied(reasonUnavailable, false), nil
	}
	a.event("reserved")
	a.refreshActive(ctx)

	return Decision{
		Granted:            true,
		SessionID:          sess.ID,
		MaxDurationMinutes: limits.MaxSessionMinutes,
	}, nil
}

func (a *Authority) Close(ctx context.Context, sessionID string, elapsedSeconds int) error {
	_, err := a.End(ctx, sessionID, elapsedSeconds)
	return err
}

// End records the reported usage, clamped to the session's ceiling plus
// grace. Ending a closed or expired session returns it unchanged.
func (a *Authority) End(ctx context.Context, sessionID string, elapsedSeconds int) (*session.Session, error) {
	current, err := a.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	if err != nil {
		return nil, err
	}
	if current.Status != session.StatusActive {
		return current, nil
	}

	ended, err := a.store.End(ctx, sessionID, a.clamp(current, elapsedSeconds))
	if err != nil {
		return nil, err
	}
	if ended.Status == session.StatusEnded {
		a.event("closed")
		if a.metrics != nil {
			a.metrics.ObserveSessionDuration(ended.DurationSeconds)
		}
	}
	a.refreshActive(ctx)
	return ended, nil
}

func (a *Authority) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := a.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return sess, err
}

func (a *Authority) clamp(s *session.Session, elapsed int) int {
	if elapsed < 0 {
		return 0
	}
	limit := s.MaxDurationSeconds + int(a.grace/time.Second)
	if s.MaxDurationSeconds > 0 && elapsed > limit {
		return limit
	}
	return elapsed
}

// StartJanitor expires sessions that outlive their ceiling without a close.
func (a *Authority) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.expireOverdue(ctx)
			}
		}
	}()
}

func (a *Authority) expireOverdue(ctx context.Context) {
	expired, err := a.store.ExpireOverdue(ctx, a.now(), a.grace)
	if err != nil {
		log.Printf("quota: expire overdue sessions: %v", err)
		return
	}
	if len(expired) == 0 {
		return
	}
	a.refreshActive(ctx)

	a.hookMu.RLock()
	hook := a.onExpire
	a.hookMu.RUnlock()
	for _, s := range expired {
		a.event("expired")
		if hook != nil {
			hook(s)
		}
	}
}

func (a *Authority) event(name string) {
	if a.metrics == nil {
		return
	}
	a.metrics.SessionEvents.WithLabelValues(name).Inc()
}

func (a *Authority) refreshActive(ctx context.Context) {
	if a.metrics == nil {
		return
	}
	n, err := a.store.ActiveCount(ctx)
	if err != nil {
		return
	}
	a.metrics.ActiveSessions.Set(float64(n))
}
