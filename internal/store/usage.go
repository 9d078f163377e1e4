package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gatekeeperhq/gatekeeper/internal/model"
)

type usageRow struct {
	RequestID string        `db:"request_id"`
	TenantID  uuid.NullUUID `db:"tenant_id"`
	KeyID     uuid.NullUUID `db:"key_id"`
	ClientIP  string        `db:"client_ip"`
	Method    string        `db:"method"`
	Endpoint  string        `db:"endpoint"`
	Status    int           `db:"status"`
	LatencyMs int64         `db:"latency_ms"`
	UserAgent string        `db:"user_agent"`
	TS        time.Time     `db:"ts"`
}

func usageRowFromModel(rec *model.UsageRecord) usageRow {
	row := usageRow{
		RequestID: rec.RequestID,
		ClientIP:  rec.ClientIP,
		Method:    rec.Method,
		Endpoint:  rec.Endpoint,
		Status:    rec.Status,
		LatencyMs: rec.LatencyMs,
		UserAgent: rec.UserAgent,
		TS:        rec.Timestamp,
	}
	if rec.TenantID != nil {
		row.TenantID = uuid.NullUUID{UUID: *rec.TenantID, Valid: true}
	}
	if rec.KeyID != nil {
		row.KeyID = uuid.NullUUID{UUID: *rec.KeyID, Valid: true}
	}
	return row
}

// InsertUsageRecord appends one usage record. The write is at-least-once
// from the recorder's perspective; the request_id primary key absorbs
// duplicate deliveries so aggregates never double-count.
func (s *Store) InsertUsageRecord(ctx context.Context, rec *model.UsageRecord) error {
	row := usageRowFromModel(rec)

	const q = `INSERT INTO usage_records
		(request_id, tenant_id, key_id, client_ip, method, endpoint, status, latency_ms, user_agent, ts)
		VALUES
		(:request_id, :tenant_id, :key_id, :client_ip, :method, :endpoint, :status, :latency_ms, :user_agent, :ts)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		if isDuplicateErr(err) {
			return nil // already recorded
		}
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// CountUsageRecords returns the number of records for a tenant, for tests
// and the readiness report.
func (s *Store) CountUsageRecords(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var n int64
	q := s.db.Rebind(`SELECT COUNT(*) FROM usage_records WHERE tenant_id = ?`)
	if err := s.db.GetContext(ctx, &n, q, tenantID); err != nil {
		return 0, fmt.Errorf("count usage records: %w", err)
	}
	return n, nil
}

// UsageSummary aggregates a tenant's records within [from, to]: total count,
// per-status breakdown, average latency, and unauthorized / rate-limited
// counts. Everything is computed on read; nothing is materialized.
func (s *Store) UsageSummary(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (*model.UsageSummary, error) {
	type statusRow struct {
		Status     int             `db:"status"`
		Count      int64           `db:"count"`
		AvgLatency sql.NullFloat64 `db:"avg_latency"`
	}

	var rows []statusRow
	q := s.db.Rebind(`SELECT status, COUNT(*) AS count, AVG(latency_ms) AS avg_latency
		FROM usage_records
		WHERE tenant_id = ? AND ts >= ? AND ts <= ?
		GROUP BY status`)
	if err := s.db.SelectContext(ctx, &rows, q, tenantID, from, to); err != nil {
		return nil, fmt.Errorf("usage summary: %w", err)
	}

	sum := &model.UsageSummary{
		From:     from,
		To:       to,
		ByStatus: make(map[string]int64),
	}

	var weightedLatency float64
	for _, r := range rows {
		sum.Total += r.Count
		sum.ByStatus[fmt.Sprintf("%d", r.Status)] = r.Count
		if r.AvgLatency.Valid {
			weightedLatency += r.AvgLatency.Float64 * float64(r.Count)
		}
		switch r.Status {
		case 401:
			sum.Unauthorized += r.Count
		case 429:
			sum.RateLimited += r.Count
		}
	}
	if sum.Total > 0 {
		sum.AvgLatencyMs = weightedLatency / float64(sum.Total)
	}
	return sum, nil
}

// TopEndpoints returns the tenant's busiest endpoints within [from, to],
// with per-endpoint error rates.
func (s *Store) TopEndpoints(ctx context.Context, tenantID uuid.UUID, limit int, from, to time.Time) ([]model.EndpointUsage, error) {
	type row struct {
		Endpoint string `db:"endpoint"`
		Count    int64  `db:"count"`
		Errors   int64  `db:"errors"`
	}

	var rows []row
	q := s.db.Rebind(`SELECT endpoint, COUNT(*) AS count,
			SUM(CASE WHEN status >= 400 THEN 1 ELSE 0 END) AS errors
		FROM usage_records
		WHERE tenant_id = ? AND ts >= ? AND ts <= ?
		GROUP BY endpoint
		ORDER BY count DESC, endpoint
		LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, q, tenantID, from, to, limit); err != nil {
		return nil, fmt.Errorf("top endpoints: %w", err)
	}

	out := make([]model.EndpointUsage, len(rows))
	for i, r := range rows {
		out[i] = model.EndpointUsage{Endpoint: r.Endpoint, Count: r.Count}
		if r.Count > 0 {
			out[i].ErrorRate = float64(r.Errors) / float64(r.Count)
		}
	}
	return out, nil
}

// UsageByKey returns per-key volume and error rates for a tenant within
// [from, to]. Records without a key (unauthenticated traffic attributed to
// the tenant) are excluded.
func (s *Store) UsageByKey(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]model.KeyUsage, error) {
	type row struct {
		KeyID  uuid.UUID `db:"key_id"`
		Count  int64     `db:"count"`
		Errors int64     `db:"errors"`
	}

	var rows []row
	q := s.db.Rebind(`SELECT key_id, COUNT(*) AS count,
			SUM(CASE WHEN status >= 400 THEN 1 ELSE 0 END) AS errors
		FROM usage_records
		WHERE tenant_id = ? AND key_id IS NOT NULL AND ts >= ? AND ts <= ?
		GROUP BY key_id
		ORDER BY count DESC`)
	if err := s.db.SelectContext(ctx, &rows, q, tenantID, from, to); err != nil {
		return nil, fmt.Errorf("usage by key: %w", err)
	}

	out := make([]model.KeyUsage, len(rows))
	for i, r := range rows {
		out[i] = model.KeyUsage{KeyID: r.KeyID, Count: r.Count}
		if r.Count > 0 {
			out[i].ErrorRate = float64(r.Errors) / float64(r.Count)
		}
	}
	return out, nil
}
