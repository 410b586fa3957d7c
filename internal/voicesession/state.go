package voicesession

import (
	"time"

	"github.com/ent0n29/booktalk/internal/transcript"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusStarting   Status = "starting"
	StatusListening  Status = "listening"
	StatusThinking   Status = "thinking"
	StatusSpeaking   Status = "speaking"
)

// IsActive reports whether a call is bound to the transport.
func (s Status) IsActive() bool {
	switch s {
	case StatusStarting, StatusListening, StatusThinking, StatusSpeaking:
		return true
	default:
		return false
	}
}

// State is an immutable snapshot of the orchestrator.
type State struct {
	Status    Status `json:"status"`
	Active    bool   `json:"is_active"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	BookID    string `json:"book_id,omitempty"`
	// StartedAt is zero until the transport confirms the call.
	StartedAt          time.Time `json:"started_at"`
	ElapsedSeconds     int       `json:"elapsed_seconds"`
	MaxDurationSeconds int       `json:"max_duration_seconds"`

	Messages      []transcript.Message `json:"messages"`
	LiveUser      string               `json:"live_user,omitempty"`
	LiveAssistant string               `json:"live_assistant,omitempty"`

	// Error is the single-slot user-facing error. BillingError marks errors
	// the user resolves by upgrading.
	Error        string `json:"error,omitempty"`
	BillingError bool   `json:"is_billing_error"`
}
