package session

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
	StatusExpired Status = "expired"
)

var ErrNotFound = errors.New("session not found")

// Session is the authority's durable record of one voice session.
type Session struct {
	ID                 string     `json:"session_id"`
	UserID             string     `json:"user_id"`
	BookID             string     `json:"book_id"`
	Plan               string     `json:"plan"`
	MaxDurationSeconds int        `json:"max_duration_seconds"`
	Status             Status     `json:"status"`
	StartedAt          time.Time  `json:"started_at"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
	DurationSeconds    int        `json:"duration_seconds"`
}

// CreateRequest holds the fields of a new active session.
type CreateRequest struct {
	UserID             string
	BookID             string
	Plan               string
	MaxDurationSeconds int
}

// Store persists session records.
type Store interface {
	Create(ctx context.Context, req CreateRequest) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	// End marks an active session ended. Ending a session that is no longer
	// active returns the stored record unchanged.
	End(ctx context.Context, id string, durationSeconds int) (*Session, error)
	// CountSince counts a user's sessions started at or after since.
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
	// ExpireOverdue marks active sessions whose ceiling plus grace has passed
	// as expired and returns them.
	ExpireOverdue(ctx context.Context, now time.Time, grace time.Duration) ([]*Session, error)
	ActiveCount(ctx context.Context) (int, error)
	Close() error
}
