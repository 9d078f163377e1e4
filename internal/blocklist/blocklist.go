// Package blocklist maintains the shared set of temporarily blocked client
// IPs. Entries carry a reason and a TTL; at most one entry is active per IP,
// with last write winning.
package blocklist

import (
	"context"
	"time"
)

// Reason codes attached to block entries.
const (
	ReasonManual          = "manual"
	ReasonInvalidKeyFlood = "invalid-key-flood"
	ReasonRateLimitFlood  = "rate-limit-flood"
)

// Entry describes an active block.
type Entry struct {
	IP         string    `json:"ip"`
	ReasonCode string    `json:"reason_code"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// List is the shared TTL'd block set.
type List interface {
	// Get returns the active entry for ip, or nil if the IP is not blocked.
	Get(ctx context.Context, ip string) (*Entry, error)

	// Block upserts an entry for ip expiring after ttl. An existing entry
	// is overwritten (expiry and reason included).
	Block(ctx context.Context, ip string, ttl time.Duration, reasonCode, reason string) error

	// Unblock removes the entry for ip. Removing an absent entry is a
	// no-op, not an error.
	Unblock(ctx context.Context, ip string) error
}
