package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager is the in-process Store used when no database is configured.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

func (m *Manager) Create(_ context.Context, req CreateRequest) (*Session, error) {
	s := &Session{
		ID:                 uuid.NewString(),
		UserID:             req.UserID,
		BookID:             req.BookID,
		Plan:               req.Plan,
		MaxDurationSeconds: req.MaxDurationSeconds,
		Status:             StatusActive,
		StartedAt:          m.now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s), nil
}

func (m *Manager) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) End(_ context.Context, id string, durationSeconds int) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != StatusActive {
		return clone(s), nil
	}
	now := m.now().UTC()
	s.Status = StatusEnded
	s.EndedAt = &now
	s.DurationSeconds = durationSeconds
	return clone(s), nil
}

func (m *Manager) CountSince(_ context.Context, userID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.UserID == userID && !s.StartedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *Manager) ExpireOverdue(_ context.Context, now time.Time, grace time.Duration) ([]*Session, error) {
	now = now.UTC()
	var expired []*Session

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		deadline := s.StartedAt.Add(time.Duration(s.MaxDurationSeconds)*time.Second + grace)
		if now.Before(deadline) {
			continue
		}
		ended := now
		s.Status = StatusExpired
		s.EndedAt = &ended
		s.DurationSeconds = s.MaxDurationSeconds
		expired = append(expired, clone(s))
	}
	return expired, nil
}

func (m *Manager) ActiveCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count, nil
}

func (m *Manager) Close() error { return nil }

func clone(s *Session) *Session {
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}
