// Package quota is the contract with the session quota authority: reserve a
// voice session under the caller's plan limits, and close it with the usage
// actually consumed.
package quota

import (
	"context"
	"errors"
)

// Decision is the authority's answer to a reservation.
type Decision struct {
	Granted   bool   `json:"granted"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"error,omitempty"`
	// BillingRelated marks denials the caller can resolve by upgrading.
	BillingRelated bool `json:"is_billing_error,omitempty"`
	// MaxDurationMinutes is informational; clients enforce their own ceiling.
	MaxDurationMinutes int `json:"max_duration_minutes,omitempty"`
}

// Client reserves and closes sessions. Close is safe to retry.
type Client interface {
	Reserve(ctx context.Context, userID, bookID string) (Decision, error)
	Close(ctx context.Context, sessionID string, elapsedSeconds int) error
}

var ErrUnknownSession = errors.New("unknown session")

func Denied(reason string, billing bool) Decision {
	return Decision{Reason: reason, BillingRelated: billing}
}
