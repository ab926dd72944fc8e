// Package ratelimit sizes enrichment worker pools from a per-domain budget.
// Each rate-limit domain has a static policy (worker ceiling and request pace);
// throttling responses observed during a run are counted in a sliding window
// and shrink the permitted concurrency until the window resets.
package ratelimit

import (
	"time"
)

// Domain names a class of remote operations sharing a rate-limit policy.
type Domain string

const (
	// DomainSearch covers listing and search endpoints, the most limited class.
	DomainSearch Domain = "search"

	// DomainConfiguration covers single-entity configuration reads.
	DomainConfiguration Domain = "configuration"

	// DomainDefault is used when a caller does not name a domain.
	DomainDefault Domain = "default"
)

// RedisKeyPrefix prefixes all throttle state keys stored in Redis.
const RedisKeyPrefix = "backup:rate_limit"

// Thresholds for throttle-driven concurrency decisions.
const (
	// ThrottleThresholdCritical forces a single worker when this many throttling
	// responses were observed inside the current window.
	ThrottleThresholdCritical = 10

	// ThrottleThresholdWarning halves the permitted concurrency.
	ThrottleThresholdWarning = 3
)

// ThrottleLevel classifies a throttle state.
type ThrottleLevel string

const (
	LevelHealthy  ThrottleLevel = "healthy"
	LevelWarning  ThrottleLevel = "warning"
	LevelCritical ThrottleLevel = "critical"
)

// ThrottleState is the number of throttling responses seen for a domain in the
// current window.
type ThrottleState struct {
	Domain Domain `json:"domain"`

	// Throttles counts rate-limit responses since the window opened.
	Throttles int `json:"throttles"`

	// ResetAt is when the window closes and the counter drops back to zero.
	// Zero when no window is open.
	ResetAt time.Time `json:"reset_at"`
}

// Level returns the throttle level for the current counter.
func (s *ThrottleState) Level() ThrottleLevel {
	switch {
	case s.Throttles >= ThrottleThresholdCritical:
		return LevelCritical
	case s.Throttles >= ThrottleThresholdWarning:
		return LevelWarning
	default:
		return LevelHealthy
	}
}

// NeedsSerialization reports whether work in this domain must run on one worker.
func (s *ThrottleState) NeedsSerialization() bool {
	return s.Level() == LevelCritical
}

// NeedsReduction reports whether concurrency should be halved.
func (s *ThrottleState) NeedsReduction() bool {
	return s.Level() == LevelWarning
}

// TimeUntilReset returns the duration until the window closes.
// Returns 0 if the window has already closed or was never opened.
func (s *ThrottleState) TimeUntilReset() time.Duration {
	if s.ResetAt.IsZero() {
		return 0
	}
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}
