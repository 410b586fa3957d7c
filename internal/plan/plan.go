// Package plan resolves a subscriber's tier and the limits that come with it.
package plan

import (
	"fmt"
	"strings"
	"time"
)

type Tier string

const (
	Free     Tier = "free"
	Standard Tier = "standard"
	Pro      Tier = "pro"
)

// DefaultSessionMinutes applies when limits carry no per-session minutes.
const DefaultSessionMinutes = 15

// Unlimited marks a limit with no ceiling.
const Unlimited = -1

type Limits struct {
	MaxSessionMinutes   int `json:"max_session_minutes"`
	MaxSessionsPerMonth int `json:"max_sessions_per_month"`
}

// MaxSessionDuration is the per-session ceiling in whole seconds.
func (l Limits) MaxSessionDuration() int {
	if l.MaxSessionMinutes <= 0 {
		return DefaultSessionMinutes * 60
	}
	return l.MaxSessionMinutes * 60
}

// AllowsSession reports whether another session fits within the monthly limit.
func (l Limits) AllowsSession(usedThisMonth int) bool {
	if l.MaxSessionsPerMonth == Unlimited {
		return true
	}
	return usedThisMonth < l.MaxSessionsPerMonth
}

var limitsByTier = map[Tier]Limits{
	Free:     {MaxSessionMinutes: 15, MaxSessionsPerMonth: 10},
	Standard: {MaxSessionMinutes: 30, MaxSessionsPerMonth: 100},
	Pro:      {MaxSessionMinutes: 60, MaxSessionsPerMonth: Unlimited},
}

// Tiers lists tiers from cheapest to most generous.
func Tiers() []Tier {
	return []Tier{Free, Standard, Pro}
}

func LimitsFor(t Tier) Limits {
	if l, ok := limitsByTier[t]; ok {
		return l
	}
	return limitsByTier[Free]
}

// Parse normalises a tier label. Unknown labels resolve to Free.
func Parse(v string) Tier {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case string(Pro):
		return Pro
	case string(Standard):
		return Standard
	default:
		return Free
	}
}

// FromMetadata resolves a tier from identity metadata, preferring "plan" over
// "billingPlan".
func FromMetadata(meta map[string]any) Tier {
	for _, key := range []string{"plan", "billingPlan"} {
		v, ok := meta[key]
		if !ok || v == nil {
			continue
		}
		return Parse(fmt.Sprint(v))
	}
	return Free
}

// PeriodStart is the start of the billing month containing t, in UTC.
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Directory maps users to tiers.
type Directory interface {
	TierFor(userID string) Tier
}

// StaticDirectory is a fixed user to tier table; unknown users are Free.
type StaticDirectory map[string]Tier

func (d StaticDirectory) TierFor(userID string) Tier {
	if t, ok := d[userID]; ok {
		return t
	}
	return Free
}

// ParseDirectory reads "user=tier,user2=tier" pairs.
func ParseDirectory(v string) (StaticDirectory, error) {
	d := StaticDirectory{}
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		user, tier, ok := strings.Cut(pair, "=")
		user = strings.TrimSpace(user)
		if !ok || user == "" {
			return nil, fmt.Errorf("invalid plan entry %q: expected user=tier", pair)
		}
		d[user] = Parse(tier)
	}
	return d, nil
}
