package model

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord is one append-only row per completed request. TenantID and
// KeyID are nil for requests that never resolved a key (unauthenticated or
// blocked traffic).
type UsageRecord struct {
	RequestID string     `json:"request_id" db:"request_id"`
	TenantID  *uuid.UUID `json:"tenant_id,omitempty" db:"tenant_id"`
	KeyID     *uuid.UUID `json:"key_id,omitempty" db:"key_id"`
	ClientIP  string     `json:"client_ip" db:"client_ip"`
	Method    string     `json:"method" db:"method"`
	Endpoint  string     `json:"endpoint" db:"endpoint"`
	Status    int        `json:"status" db:"status"`
	LatencyMs int64      `json:"latency_ms" db:"latency_ms"`
	UserAgent string     `json:"user_agent" db:"user_agent"`
	Timestamp time.Time  `json:"ts" db:"ts"`
}

// UsageSummary is the on-read aggregation over a tenant's usage records
// within a time window.
type UsageSummary struct {
	From         time.Time        `json:"from_ts"`
	To           time.Time        `json:"to_ts"`
	Total        int64            `json:"total"`
	ByStatus     map[string]int64 `json:"by_status"`
	AvgLatencyMs float64          `json:"avg_latency_ms"`
	Unauthorized int64            `json:"unauthorized"`
	RateLimited  int64            `json:"rate_limited"`
}

// EndpointUsage is one row of the top-endpoints-by-volume report.
type EndpointUsage struct {
	Endpoint  string  `json:"endpoint" db:"endpoint"`
	Count     int64   `json:"count" db:"count"`
	ErrorRate float64 `json:"error_rate" db:"error_rate"`
}

// KeyUsage is one row of the per-key usage breakdown.
type KeyUsage struct {
	KeyID     uuid.UUID `json:"key_id" db:"key_id"`
	Count     int64     `json:"count" db:"count"`
	ErrorRate float64   `json:"error_rate" db:"error_rate"`
}
