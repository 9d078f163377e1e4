// Package pipeline orchestrates request admission: blocklist check, then
// authentication, then rate limiting, short-circuiting on the first failure.
// Every terminal outcome feeds the usage recorder, blocked traffic included,
// so rejected volume is visible in analytics.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gatekeeperhq/gatekeeper/internal/abuse"
	"github.com/gatekeeperhq/gatekeeper/internal/blocklist"
	"github.com/gatekeeperhq/gatekeeper/internal/model"
	"github.com/gatekeeperhq/gatekeeper/internal/ratelimit"
	"github.com/gatekeeperhq/gatekeeper/internal/service"
	"github.com/gatekeeperhq/gatekeeper/internal/usage"
)

// Outcome is the terminal state of an admission attempt.
type Outcome string

const (
	// OutcomeBlocked: the client IP is on the blocklist.
	OutcomeBlocked Outcome = "blocked"
	// OutcomeUnauthorized: authentication failed.
	OutcomeUnauthorized Outcome = "unauthorized"
	// OutcomeRateLimited: a quota was exceeded.
	OutcomeRateLimited Outcome = "rate_limited"
	// OutcomeUnavailable: a backing store was unreachable and policy is
	// fail-closed.
	OutcomeUnavailable Outcome = "unavailable"
	// OutcomeForwarded: all checks passed; hand off downstream.
	OutcomeForwarded Outcome = "forwarded"
)

// Request carries the per-request inputs the pipeline needs.
type Request struct {
	RequestID  string
	ClientIP   string
	Method     string
	Endpoint   string
	UserAgent  string
	Credential string // raw API key, empty if absent
}

// Verdict is the admission decision for one request.
type Verdict struct {
	Outcome    Outcome
	Status     int    // HTTP status for rejection outcomes
	Message    string // generic, non-diagnostic caller-facing message
	RetryAfter int    // seconds, for rate-limited and blocked outcomes

	Identity *service.Identity   // nil for anonymous traffic
	Decision *ratelimit.Decision // key-subject decision when present, else IP
}

// Config holds the pipeline's tunables.
type Config struct {
	// AllowAnonymous forwards requests with no credential, limited per IP
	// by the anonymous quota. When false a missing key is a 401.
	AllowAnonymous bool

	// AnonLimit and AnonWindowSeconds are the stricter quota applied to
	// unauthenticated traffic.
	AnonLimit         int
	AnonWindowSeconds int

	// IPLimit and IPWindowSeconds cap any single IP even when its key
	// still has quota.
	IPLimit         int
	IPWindowSeconds int

	// FailOpen controls behavior when the blocklist or key directory is
	// unreachable: allow (true) or deny with 503 (false). The limiter
	// carries its own copy of the same switch.
	FailOpen bool

	// BlockedStatus is the status for blocked IPs, 403 by default. Some
	// deployments prefer 429 to avoid acknowledging the block.
	BlockedStatus int
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		AllowAnonymous:    false,
		AnonLimit:         10,
		AnonWindowSeconds: 60,
		IPLimit:           120,
		IPWindowSeconds:   60,
		FailOpen:          false,
		BlockedStatus:     http.StatusForbidden,
	}
}

// genericAuthMessage is the single caller-visible message for every
// authentication failure. Missing, unknown, and revoked keys must be
// indistinguishable from outside.
const genericAuthMessage = "Invalid API key"

// Pipeline runs the admission checks.
type Pipeline struct {
	blocks   blocklist.List
	guard    *service.AuthGuard
	limiter  *ratelimit.Limiter
	monitor  *abuse.Monitor
	recorder *usage.Recorder
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Pipeline.
func New(blocks blocklist.List, guard *service.AuthGuard, limiter *ratelimit.Limiter,
	monitor *abuse.Monitor, recorder *usage.Recorder, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.BlockedStatus == 0 {
		cfg.BlockedStatus = http.StatusForbidden
	}
	return &Pipeline{
		blocks:   blocks,
		guard:    guard,
		limiter:  limiter,
		monitor:  monitor,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Admit runs IpCheck -> Authenticate -> RateLimit and returns the verdict.
// It does not forward and does not record; the caller forwards on
// OutcomeForwarded and then calls Record with the final status.
func (p *Pipeline) Admit(ctx context.Context, req Request) Verdict {
	// --- IpCheck ---
	entry, err := p.blocks.Get(ctx, req.ClientIP)
	if err != nil {
		if !p.cfg.FailOpen {
			p.logger.Error("blocklist unreachable, failing closed",
				"request_id", req.RequestID, "error", err)
			return Verdict{
				Outcome: OutcomeUnavailable,
				Status:  http.StatusServiceUnavailable,
				Message: "Service temporarily unavailable",
			}
		}
		p.logger.Warn("blocklist unreachable, failing open",
			"request_id", req.RequestID, "error", err)
	}
	if entry != nil {
		retryAfter := int(entry.ExpiresAt.Sub(p.now()).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		p.logger.Info("request blocked",
			"request_id", req.RequestID, "client_ip", req.ClientIP,
			"reason_code", entry.ReasonCode)
		return Verdict{
			Outcome:    OutcomeBlocked,
			Status:     p.cfg.BlockedStatus,
			Message:    "Access temporarily blocked",
			RetryAfter: retryAfter,
		}
	}

	// --- Authenticate ---
	var identity *service.Identity
	if req.Credential == "" && p.cfg.AllowAnonymous {
		identity = nil
	} else {
		identity, err = p.guard.Authenticate(ctx, req.Credential, req.ClientIP)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrDirectoryUnavailable):
				if !p.cfg.FailOpen {
					p.logger.Error("key directory unreachable, failing closed",
						"request_id", req.RequestID, "error", err)
					return Verdict{
						Outcome: OutcomeUnavailable,
						Status:  http.StatusServiceUnavailable,
						Message: "Service temporarily unavailable",
					}
				}
				p.logger.Warn("key directory unreachable, failing open",
					"request_id", req.RequestID, "error", err)
				identity = nil
			default:
				// Missing, invalid, and revoked collapse to one message.
				return Verdict{
					Outcome: OutcomeUnauthorized,
					Status:  http.StatusUnauthorized,
					Message: genericAuthMessage,
				}
			}
		}
	}

	// --- RateLimit ---
	if identity != nil {
		keyDec, err := p.limiter.Check(ctx, "key:"+identity.KeyID.String(),
			identity.RateLimit, identity.RateWindow)
		if err != nil {
			return limiterUnavailableVerdict()
		}
		ipDec, err := p.limiter.Check(ctx, "ip:"+req.ClientIP,
			p.cfg.IPLimit, p.cfg.IPWindowSeconds)
		if err != nil {
			return limiterUnavailableVerdict()
		}

		if !keyDec.Allowed || !ipDec.Allowed {
			p.monitor.ObserveRateLimited(ctx, req.ClientIP)
			// When both limits deny, surface the longer wait.
			retryAfter := keyDec.RetryAfter
			if ipDec.RetryAfter > retryAfter {
				retryAfter = ipDec.RetryAfter
			}
			return Verdict{
				Outcome:    OutcomeRateLimited,
				Status:     http.StatusTooManyRequests,
				Message:    "Rate limit exceeded",
				RetryAfter: retryAfter,
				Identity:   identity,
				Decision:   &keyDec,
			}
		}
		return Verdict{Outcome: OutcomeForwarded, Identity: identity, Decision: &keyDec}
	}

	ipDec, err := p.limiter.Check(ctx, "ip:"+req.ClientIP,
		p.cfg.AnonLimit, p.cfg.AnonWindowSeconds)
	if err != nil {
		return limiterUnavailableVerdict()
	}
	if !ipDec.Allowed {
		p.monitor.ObserveRateLimited(ctx, req.ClientIP)
		return Verdict{
			Outcome:    OutcomeRateLimited,
			Status:     http.StatusTooManyRequests,
			Message:    "Rate limit exceeded",
			RetryAfter: ipDec.RetryAfter,
			Decision:   &ipDec,
		}
	}
	return Verdict{Outcome: OutcomeForwarded, Decision: &ipDec}
}

func limiterUnavailableVerdict() Verdict {
	return Verdict{
		Outcome: OutcomeUnavailable,
		Status:  http.StatusServiceUnavailable,
		Message: "Service temporarily unavailable",
	}
}

// Record appends one usage record for a finished request, whatever its
// outcome. Consumed quota is never refunded here: a cancelled or failed
// downstream call still counted.
func (p *Pipeline) Record(req Request, identity *service.Identity, status int, latency time.Duration) {
	rec := &model.UsageRecord{
		RequestID: req.RequestID,
		ClientIP:  req.ClientIP,
		Method:    req.Method,
		Endpoint:  req.Endpoint,
		Status:    status,
		LatencyMs: latency.Milliseconds(),
		UserAgent: req.UserAgent,
		Timestamp: p.now().UTC(),
	}
	if identity != nil {
		tid := identity.TenantID
		kid := identity.KeyID
		rec.TenantID = &tid
		rec.KeyID = &kid
	}
	p.recorder.Append(rec)
}
