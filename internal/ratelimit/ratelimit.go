// Package ratelimit implements the per-key sliding-window rate limiter
// shared by the REST and WebSocket paths: three windows per key (1s, 60s,
// 86400s) checked against a tier's rps/rpm/rpd limits, with a Retry-After
// hint derived from the oldest timestamp in the window that was exceeded.
package ratelimit

import "context"

// Windows checked on every request, shortest first.
const (
	WindowSecond = "rps"
	WindowMinute = "rpm"
	WindowDay    = "rpd"
)

// Limits is the subset of model.TierLimits the limiter needs. Duplicated
// here (rather than importing internal/model) so this package stays usable
// standalone, with no dependency on the gateway's domain types.
type Limits struct {
	RPS int
	RPM int
	RPD int
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	RetryAfter int // seconds; 0 when Allowed, at least 1 when denied
	Exceeded   string
}

// Limiter is implemented by both the in-memory and Redis-backed limiters so
// callers (REST middleware, WebSocket handler) are backend-agnostic.
type Limiter interface {
	Allow(ctx context.Context, key string, limits Limits) (Decision, error)
}

// unlimited treats a zero limit as "no bound".
func unlimited(limit int) bool { return limit == 0 }
