// Package usage records one event per completed request and serves on-read
// aggregation over the recorded events.
package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gatekeeperhq/gatekeeper/internal/model"
)

// Sink is the durable append-only destination for usage records.
type Sink interface {
	InsertUsageRecord(ctx context.Context, rec *model.UsageRecord) error
}

const (
	defaultQueueSize = 1024
	writeAttempts    = 3
	writeTimeout     = 5 * time.Second
	retryDelay       = 250 * time.Millisecond
)

// Recorder buffers usage records and writes them out of band. A sink outage
// never fails or delays a request: writes are retried a few times, and if
// the buffer overflows the record is dropped and the drop is logged.
type Recorder struct {
	sink   Sink
	logger *slog.Logger

	queue chan *model.UsageRecord
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// NewRecorder creates a Recorder and starts its writer goroutine. Call Close
// to drain and stop it. queueSize <= 0 selects the default.
func NewRecorder(sink Sink, logger *slog.Logger, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	r := &Recorder{
		sink:   sink,
		logger: logger,
		queue:  make(chan *model.UsageRecord, queueSize),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Append enqueues a record without blocking the request path. When the
// queue is full the record is dropped; recording is best-effort by
// contract, admission never waits on it.
func (r *Recorder) Append(rec *model.UsageRecord) {
	select {
	case r.queue <- rec:
	default:
		r.logger.Error("usage queue full, dropping record",
			"request_id", rec.RequestID, "endpoint", rec.Endpoint)
	}
}

// Close drains the queue and stops the writer. Records still queued are
// written before Close returns.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() { close(r.queue) })
	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for rec := range r.queue {
		r.write(rec)
	}
}

// write attempts the insert a few times. Duplicate request IDs are absorbed
// by the sink, so retrying a write that may have landed is safe.
func (r *Recorder) write(rec *model.UsageRecord) {
	var lastErr error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := r.sink.InsertUsageRecord(ctx, rec)
		cancel()
		if err == nil {
			return
		}
		lastErr = err
		time.Sleep(retryDelay * time.Duration(attempt))
	}
	r.logger.Error("usage record lost after retries",
		"request_id", rec.RequestID, "error", lastErr)
}
