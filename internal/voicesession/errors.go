package voicesession

import (
	"errors"
	"fmt"

	"github.com/ent0n29/booktalk/internal/reliability"
)

var (
	ErrAuthRequired  = errors.New("voice session requires a signed-in user")
	ErrSessionActive = errors.New("voice session already active")
	ErrDenied        = errors.New("voice session denied")
	ErrStopped       = errors.New("voice session stopped before the call started")
	ErrClosed        = errors.New("voice session orchestrator closed")
)

// User-facing messages written to the error slot.
const (
	MsgSignInRequired = "Please sign in to start a voice session."
	MsgSessionLimit   = "Session limit reached. Please upgrade your plan."
	MsgStartFailed    = "Failed to start voice session. Please try again."
	MsgInactivity     = "Session ended due to inactivity. Click the mic to start again."
	MsgConnectionLost = "Connection lost. Please check your internet and try again."
	MsgUnexpectedEnd  = "Session ended unexpectedly. Click the mic to start again."
)

func expiryMessage(ceilingSeconds int) string {
	return fmt.Sprintf("Session time limit (%d minutes) reached. Upgrade your plan for longer sessions.", ceilingSeconds/60)
}

func transportErrorMessage(class reliability.DisconnectClass) string {
	switch class {
	case reliability.DisconnectInactivity:
		return MsgInactivity
	case reliability.DisconnectNetwork:
		return MsgConnectionLost
	default:
		return MsgUnexpectedEnd
	}
}
