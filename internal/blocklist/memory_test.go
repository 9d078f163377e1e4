package blocklist

import (
	"context"
	"testing"
	"time"
)

func TestBlockAndGet(t *testing.T) {
	bl := NewMemory()
	ctx := context.Background()

	if err := bl.Block(ctx, "203.0.113.9", time.Minute, ReasonManual, "abuse report"); err != nil {
		t.Fatalf("Block: %v", err)
	}

	e, err := bl.Get(ctx, "203.0.113.9")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e == nil {
		t.Fatal("expected active entry")
	}
	if e.ReasonCode != ReasonManual {
		t.Errorf("reason code: got %q, want %q", e.ReasonCode, ReasonManual)
	}

	e, err = bl.Get(ctx, "203.0.113.10")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e != nil {
		t.Errorf("expected nil for unblocked IP, got %+v", e)
	}
}

func TestBlockOverwritesAndExtends(t *testing.T) {
	bl := NewMemory()
	ctx := context.Background()

	bl.Block(ctx, "198.51.100.1", time.Minute, ReasonInvalidKeyFlood, "5 invalid keys")
	first, _ := bl.Get(ctx, "198.51.100.1")

	bl.Block(ctx, "198.51.100.1", time.Hour, ReasonManual, "operator block")
	second, _ := bl.Get(ctx, "198.51.100.1")

	if !second.ExpiresAt.After(first.ExpiresAt) {
		t.Errorf("expected extended expiry, got %v then %v", first.ExpiresAt, second.ExpiresAt)
	}
	if second.ReasonCode != ReasonManual {
		t.Errorf("reason code: got %q, want %q", second.ReasonCode, ReasonManual)
	}
}

func TestUnblockIsIdempotent(t *testing.T) {
	bl := NewMemory()
	ctx := context.Background()

	if err := bl.Unblock(ctx, "192.0.2.1"); err != nil {
		t.Fatalf("Unblock of absent IP: %v", err)
	}

	bl.Block(ctx, "192.0.2.1", time.Minute, ReasonManual, "")
	if err := bl.Unblock(ctx, "192.0.2.1"); err != nil {
		t.Fatalf("Unblock: %v", err)
	}

	e, _ := bl.Get(ctx, "192.0.2.1")
	if e != nil {
		t.Errorf("expected nil after unblock, got %+v", e)
	}
}

func TestEntryExpires(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	bl := NewMemoryWithClock(func() time.Time { return now })
	ctx := context.Background()

	bl.Block(ctx, "192.0.2.7", 30*time.Second, ReasonRateLimitFlood, "")

	now = now.Add(31 * time.Second)

	e, err := bl.Get(ctx, "192.0.2.7")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e != nil {
		t.Errorf("expected entry to expire, got %+v", e)
	}
}
