package usage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gatekeeperhq/gatekeeper/internal/model"
)

// captureReader records the window it was queried with.
type captureReader struct {
	from, to time.Time
	limit    int
}

func (c *captureReader) UsageSummary(_ context.Context, _ uuid.UUID, from, to time.Time) (*model.UsageSummary, error) {
	c.from, c.to = from, to
	return &model.UsageSummary{From: from, To: to, ByStatus: map[string]int64{}}, nil
}

func (c *captureReader) TopEndpoints(_ context.Context, _ uuid.UUID, limit int, from, to time.Time) ([]model.EndpointUsage, error) {
	c.from, c.to, c.limit = from, to, limit
	return nil, nil
}

func (c *captureReader) UsageByKey(_ context.Context, _ uuid.UUID, from, to time.Time) ([]model.KeyUsage, error) {
	c.from, c.to = from, to
	return nil, nil
}

func TestSummaryDefaultsToTrailingDay(t *testing.T) {
	reader := &captureReader{}
	agg := NewAggregator(reader)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	agg.now = func() time.Time { return now }

	if _, err := agg.Summary(context.Background(), uuid.New(), time.Time{}, time.Time{}); err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if !reader.to.Equal(now) {
		t.Errorf("to: got %v, want %v", reader.to, now)
	}
	if !reader.from.Equal(now.Add(-24 * time.Hour)) {
		t.Errorf("from: got %v, want %v", reader.from, now.Add(-24*time.Hour))
	}
}

func TestExplicitWindowPassedThrough(t *testing.T) {
	reader := &captureReader{}
	agg := NewAggregator(reader)

	from := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)

	if _, err := agg.TopEndpoints(context.Background(), uuid.New(), 0, from, to); err != nil {
		t.Fatalf("TopEndpoints: %v", err)
	}
	if !reader.from.Equal(from) || !reader.to.Equal(to) {
		t.Errorf("window: got [%v, %v], want [%v, %v]", reader.from, reader.to, from, to)
	}
	if reader.limit != 10 {
		t.Errorf("default limit: got %d, want 10", reader.limit)
	}
}
