package model

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is a bearer credential bound to exactly one tenant. The raw key is
// never stored; only a SHA-256 hash and a short prefix for identification
// are persisted.
type APIKey struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	TenantID   uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	KeyHash    string     `json:"-" db:"key_hash"` // never expose
	KeyPrefix  string     `json:"key_prefix" db:"key_prefix"`
	RateLimit  int        `json:"rate_limit" db:"rate_limit"`   // max requests per window
	RateWindow int        `json:"rate_window" db:"rate_window"` // window length in seconds
	RevokedAt  *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Revoked reports whether the key has been revoked. A revoked key fails
// authentication permanently.
func (k *APIKey) Revoked() bool {
	return k.RevokedAt != nil
}
