package abuse

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gatekeeperhq/gatekeeper/internal/blocklist"
	"github.com/gatekeeperhq/gatekeeper/internal/counter"
)

func newTestMonitor(t *testing.T, cfg Config) (*Monitor, *blocklist.Memory) {
	t.Helper()
	counters := counter.NewMemory()
	t.Cleanup(func() { counters.Close() })
	blocks := blocklist.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMonitor(counters, blocks, cfg, logger), blocks
}

func TestInvalidKeyFloodTriggersBlock(t *testing.T) {
	m, blocks := newTestMonitor(t, Config{Threshold: 5, Window: time.Minute, BlockTTL: 10 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		m.ObserveInvalidCredential(ctx, "203.0.113.9")
	}
	e, _ := blocks.Get(ctx, "203.0.113.9")
	if e != nil {
		t.Fatalf("blocked below threshold: %+v", e)
	}

	m.ObserveInvalidCredential(ctx, "203.0.113.9")

	e, err := blocks.Get(ctx, "203.0.113.9")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e == nil {
		t.Fatal("expected IP to be blocked at threshold")
	}
	if e.ReasonCode != blocklist.ReasonInvalidKeyFlood {
		t.Errorf("reason code: got %q, want %q", e.ReasonCode, blocklist.ReasonInvalidKeyFlood)
	}
}

func TestRateLimitFloodTriggersBlock(t *testing.T) {
	m, blocks := newTestMonitor(t, Config{Threshold: 3, Window: time.Minute, BlockTTL: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.ObserveRateLimited(ctx, "198.51.100.7")
	}

	e, _ := blocks.Get(ctx, "198.51.100.7")
	if e == nil {
		t.Fatal("expected IP to be blocked")
	}
	if e.ReasonCode != blocklist.ReasonRateLimitFlood {
		t.Errorf("reason code: got %q, want %q", e.ReasonCode, blocklist.ReasonRateLimitFlood)
	}
}

func TestStreamsCountedSeparately(t *testing.T) {
	m, blocks := newTestMonitor(t, Config{Threshold: 5, Window: time.Minute, BlockTTL: time.Minute})
	ctx := context.Background()

	// 4 of one kind plus 4 of the other must not trip a threshold of 5.
	for i := 0; i < 4; i++ {
		m.ObserveInvalidCredential(ctx, "192.0.2.20")
		m.ObserveRateLimited(ctx, "192.0.2.20")
	}

	e, _ := blocks.Get(ctx, "192.0.2.20")
	if e != nil {
		t.Errorf("expected no block from mixed sub-threshold streams, got %+v", e)
	}
}

func TestLoopbackExemptFromAutoBlock(t *testing.T) {
	m, blocks := newTestMonitor(t, Config{Threshold: 2, Window: time.Minute, BlockTTL: time.Minute})
	ctx := context.Background()

	for _, ip := range []string{"127.0.0.1", "::1"} {
		for i := 0; i < 5; i++ {
			m.ObserveInvalidCredential(ctx, ip)
		}
		e, _ := blocks.Get(ctx, ip)
		if e != nil {
			t.Errorf("loopback %s auto-blocked: %+v", ip, e)
		}
	}

	// Manual blocking of loopback still works.
	blocks.Block(ctx, "127.0.0.1", time.Minute, blocklist.ReasonManual, "operator")
	e, _ := blocks.Get(ctx, "127.0.0.1")
	if e == nil {
		t.Error("manual block of loopback should hold")
	}
}

func TestAutoBlockDoesNotOverwriteExistingEntry(t *testing.T) {
	m, blocks := newTestMonitor(t, Config{Threshold: 2, Window: time.Minute, BlockTTL: time.Minute})
	ctx := context.Background()

	blocks.Block(ctx, "203.0.113.50", time.Hour, blocklist.ReasonManual, "operator block")
	manual, _ := blocks.Get(ctx, "203.0.113.50")

	for i := 0; i < 5; i++ {
		m.ObserveInvalidCredential(ctx, "203.0.113.50")
	}

	after, _ := blocks.Get(ctx, "203.0.113.50")
	if after.ReasonCode != blocklist.ReasonManual {
		t.Errorf("reason code: got %q, want manual entry preserved", after.ReasonCode)
	}
	if after.ExpiresAt.Before(manual.ExpiresAt) {
		t.Error("auto-block shortened a manual block")
	}
}
