package reliability

import (
	"context"
	"strings"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

type DisconnectClass string

const (
	DisconnectInactivity DisconnectClass = "inactivity"
	DisconnectNetwork    DisconnectClass = "network"
	DisconnectUnknown    DisconnectClass = "unknown"
)

// ClassifyDisconnect classifies a voice transport failure by its description.
func ClassifyDisconnect(description string) DisconnectClass {
	d := strings.ToLower(description)
	switch {
	case strings.Contains(d, "timeout"), strings.Contains(d, "silence"):
		return DisconnectInactivity
	case strings.Contains(d, "network"), strings.Contains(d, "connection"):
		return DisconnectNetwork
	default:
		return DisconnectUnknown
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Retry calls fn up to attempts times, sleeping with capped exponential
// backoff between retryable failures. It returns the last error.
func Retry(ctx context.Context, attempts int, base, cap time.Duration, fn func() (retryable bool, err error)) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		var retryable bool
		retryable, err = fn()
		if err == nil || !retryable || attempt == attempts-1 {
			return err
		}
		timer := time.NewTimer(ExponentialBackoff(attempt, base, cap))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
