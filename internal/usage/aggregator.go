package usage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gatekeeperhq/gatekeeper/internal/model"
)

// Reader is what the aggregator needs from the durable store. All heavy
// lifting stays in SQL; this layer only normalizes time windows.
type Reader interface {
	UsageSummary(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (*model.UsageSummary, error)
	TopEndpoints(ctx context.Context, tenantID uuid.UUID, limit int, from, to time.Time) ([]model.EndpointUsage, error)
	UsageByKey(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]model.KeyUsage, error)
}

// defaultWindow is the lookback applied when the caller gives no range.
const defaultWindow = 24 * time.Hour

// Aggregator computes windowed usage reports on demand. Reads never touch
// the request path and never mutate anything, so two identical queries
// always agree.
type Aggregator struct {
	reader Reader
	now    func() time.Time
}

// NewAggregator creates an Aggregator over the given reader.
func NewAggregator(reader Reader) *Aggregator {
	return &Aggregator{reader: reader, now: time.Now}
}

// window fills in defaults: a zero "to" means now, a zero "from" means one
// default window before "to".
func (a *Aggregator) window(from, to time.Time) (time.Time, time.Time) {
	if to.IsZero() {
		to = a.now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-defaultWindow)
	}
	return from, to
}

// Summary returns totals, status breakdown, latency, and rejection counts
// for a tenant within the window.
func (a *Aggregator) Summary(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (*model.UsageSummary, error) {
	from, to = a.window(from, to)
	return a.reader.UsageSummary(ctx, tenantID, from, to)
}

// TopEndpoints returns the tenant's busiest endpoints within the window.
func (a *Aggregator) TopEndpoints(ctx context.Context, tenantID uuid.UUID, limit int, from, to time.Time) ([]model.EndpointUsage, error) {
	if limit <= 0 {
		limit = 10
	}
	from, to = a.window(from, to)
	return a.reader.TopEndpoints(ctx, tenantID, limit, from, to)
}

// ByKey returns per-key volume and error rates within the window.
func (a *Aggregator) ByKey(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]model.KeyUsage, error) {
	from, to = a.window(from, to)
	return a.reader.UsageByKey(ctx, tenantID, from, to)
}
