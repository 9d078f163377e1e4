// Package abuse watches rejection streams and blocks IPs that cross the
// configured flood thresholds.
package abuse

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gatekeeperhq/gatekeeper/internal/blocklist"
	"github.com/gatekeeperhq/gatekeeper/internal/counter"
)

// counterKeyPrefix namespaces abuse tallies in the counter store, away from
// limiter windows.
const counterKeyPrefix = "abuse:"

// Config holds the detection thresholds.
type Config struct {
	// Threshold is the number of qualifying rejections from one IP within
	// Window that triggers an automatic block.
	Threshold int
	// Window is the trailing observation window.
	Window time.Duration
	// BlockTTL is how long an automatic block lasts.
	BlockTTL time.Duration
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		Threshold: 10,
		Window:    time.Minute,
		BlockTTL:  10 * time.Minute,
	}
}

// Monitor counts invalid-credential rejections and rate-limit denials per
// IP and writes blocklist entries when an IP floods either stream. It is
// advisory: every failure here is logged and swallowed so abuse detection
// can never fail a request.
type Monitor struct {
	counters counter.Store
	blocks   blocklist.List
	cfg      Config
	logger   *slog.Logger
}

// NewMonitor creates a Monitor. The counter store is shared with the rate
// limiter; tallies live under their own key prefix.
func NewMonitor(counters counter.Store, blocks blocklist.List, cfg Config, logger *slog.Logger) *Monitor {
	if cfg.Threshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Monitor{counters: counters, blocks: blocks, cfg: cfg, logger: logger}
}

// Auth rejection kinds reported by the auth guard.
const (
	RejectionMissingCredential = "missing_credential"
	RejectionInvalidCredential = "invalid_credential"
	RejectionRevokedCredential = "revoked_credential"
)

// ObserveAuthRejection records an authentication rejection from ip. Every
// rejection is reported; only invalid-credential rejections carry a
// threshold, since missing headers are usually misconfiguration and revoked
// keys identify a known client.
func (m *Monitor) ObserveAuthRejection(ctx context.Context, ip, kind string) {
	if kind == RejectionInvalidCredential {
		m.ObserveInvalidCredential(ctx, ip)
	}
}

// ObserveInvalidCredential records one invalid-key rejection from ip.
func (m *Monitor) ObserveInvalidCredential(ctx context.Context, ip string) {
	m.observe(ctx, ip, "invalid", blocklist.ReasonInvalidKeyFlood)
}

// ObserveRateLimited records one rate-limit denial from ip.
func (m *Monitor) ObserveRateLimited(ctx context.Context, ip string) {
	m.observe(ctx, ip, "ratelimited", blocklist.ReasonRateLimitFlood)
}

func (m *Monitor) observe(ctx context.Context, ip, stream, reasonCode string) {
	if ip == "" {
		return
	}

	key := fmt.Sprintf("%s%s:%s", counterKeyPrefix, stream, ip)
	count, err := m.counters.IncrExpire(ctx, key, m.cfg.Window)
	if err != nil {
		m.logger.Warn("abuse tally failed", "ip", ip, "stream", stream, "error", err)
		return
	}
	if count < int64(m.cfg.Threshold) {
		return
	}

	// Loopback is exempt from automatic blocking so an operator testing
	// locally cannot lock themselves out. Manual blocks still apply.
	if isLoopback(ip) {
		return
	}

	// An existing entry (manual or automatic) is left alone so an
	// automatic re-trigger never shortens a longer manual block.
	existing, err := m.blocks.Get(ctx, ip)
	if err != nil {
		m.logger.Warn("blocklist read failed", "ip", ip, "error", err)
		return
	}
	if existing != nil {
		return
	}

	reason := fmt.Sprintf("%d rejections within %s", count, m.cfg.Window)
	if err := m.blocks.Block(ctx, ip, m.cfg.BlockTTL, reasonCode, reason); err != nil {
		m.logger.Warn("auto-block failed", "ip", ip, "error", err)
		return
	}
	m.logger.Info("ip auto-blocked",
		"ip", ip, "reason_code", reasonCode, "count", count, "ttl", m.cfg.BlockTTL)
}

func isLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
