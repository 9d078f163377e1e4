// Package ratelimit implements fixed-window rate limiting over the shared
// counter store. Fixed windows admit up to 2x the limit across a window
// boundary; that is the accepted cost of O(1) state per subject and a single
// atomic store operation per check.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gatekeeperhq/gatekeeper/internal/counter"
)

// ErrUnavailable is returned when the counter store is unreachable and the
// limiter is configured fail-closed.
var ErrUnavailable = errors.New("rate limiter unavailable")

// counterKeyPrefix namespaces limiter windows in the counter store.
const counterKeyPrefix = "rl:"

// Decision is the outcome of one limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter int   // seconds until the current window ends
	Reset      int64 // unix time when the current window ends
}

// Limiter decides allow/deny per subject using one fixed-window counter per
// (subject, window) pair.
type Limiter struct {
	counters counter.Store
	failOpen bool
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// FailOpen makes the limiter allow requests when the counter store is
// unreachable instead of denying them. The default is fail-closed.
func FailOpen() Option {
	return func(l *Limiter) { l.failOpen = true }
}

// New creates a Limiter over the given counter store.
func New(counters counter.Store, logger *slog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		counters: counters,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check records one request for subject and decides whether it fits within
// limit requests per windowSeconds. The counter increment is never rolled
// back: a denied or later-cancelled request still consumed its slot.
func (l *Limiter) Check(ctx context.Context, subject string, limit, windowSeconds int) (Decision, error) {
	now := l.now().Unix()
	window := int64(windowSeconds)
	windowStart := now - (now % window)
	reset := windowStart + window

	key := fmt.Sprintf("%s%s:%d", counterKeyPrefix, subject, windowStart)

	count, err := l.counters.IncrExpire(ctx, key, time.Duration(windowSeconds)*time.Second)
	if err != nil {
		if l.failOpen {
			l.logger.Warn("counter store unreachable, failing open",
				"subject", subject, "error", err)
			return Decision{Allowed: true, Limit: limit, Remaining: limit, Reset: reset}, nil
		}
		l.logger.Error("counter store unreachable, failing closed",
			"subject", subject, "error", err)
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		Reset:     reset,
	}
	if !d.Allowed {
		d.RetryAfter = int(reset - now)
		if d.RetryAfter < 1 {
			d.RetryAfter = 1
		}
	}
	return d, nil
}
