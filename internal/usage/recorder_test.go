package usage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gatekeeperhq/gatekeeper/internal/model"
)

// memorySink collects records in memory and can be told to fail the first N
// writes per record.
type memorySink struct {
	mu        sync.Mutex
	records   []*model.UsageRecord
	failFirst int
	attempts  map[string]int
}

func newMemorySink(failFirst int) *memorySink {
	return &memorySink{failFirst: failFirst, attempts: make(map[string]int)}
}

func (s *memorySink) InsertUsageRecord(_ context.Context, rec *model.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[rec.RequestID]++
	if s.attempts[rec.RequestID] <= s.failFirst {
		return errors.New("sink unavailable")
	}
	for _, existing := range s.records {
		if existing.RequestID == rec.RequestID {
			return nil // dedupe like the real store
		}
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func record(id string) *model.UsageRecord {
	tid := uuid.New()
	return &model.UsageRecord{
		RequestID: id,
		TenantID:  &tid,
		ClientIP:  "192.0.2.1",
		Method:    "GET",
		Endpoint:  "/api/x",
		Status:    200,
		LatencyMs: 7,
		Timestamp: time.Now().UTC(),
	}
}

func TestRecorderWritesQueuedRecords(t *testing.T) {
	sink := newMemorySink(0)
	r := NewRecorder(sink, discardLogger(), 16)

	r.Append(record("a"))
	r.Append(record("b"))
	r.Append(record("b")) // duplicate delivery
	r.Close()

	if got := sink.count(); got != 2 {
		t.Errorf("records written: got %d, want 2", got)
	}
}

func TestRecorderRetriesTransientFailure(t *testing.T) {
	sink := newMemorySink(1) // first attempt per record fails
	r := NewRecorder(sink, discardLogger(), 16)

	r.Append(record("a"))
	r.Close()

	if got := sink.count(); got != 1 {
		t.Errorf("records written: got %d, want 1", got)
	}
}

func TestRecorderDropsOnFullQueueWithoutBlocking(t *testing.T) {
	// A sink that never succeeds, so the queue backs up.
	sink := newMemorySink(1 << 30)
	r := NewRecorder(sink, discardLogger(), 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			r.Append(record("x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Append blocked on a full queue")
	}
}
