package counter

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestMemory(t *testing.T, now func() time.Time) *Memory {
	t.Helper()
	m := NewMemory(WithClock(now))
	t.Cleanup(func() { m.Close() })
	return m
}

func TestIncrExpireSequential(t *testing.T) {
	m := newTestMemory(t, time.Now)
	ctx := context.Background()

	for want := int64(1); want <= 5; want++ {
		got, err := m.IncrExpire(ctx, "k", time.Minute)
		if err != nil {
			t.Fatalf("IncrExpire: %v", err)
		}
		if got != want {
			t.Errorf("count: got %d, want %d", got, want)
		}
	}

	n, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n != 5 {
		t.Errorf("Get: got %d, want 5", n)
	}
}

func TestIncrExpireNoLostUpdates(t *testing.T) {
	m := newTestMemory(t, time.Now)
	ctx := context.Background()

	const workers = 50
	const perWorker = 20

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := m.IncrExpire(ctx, "shared", time.Minute); err != nil {
					t.Errorf("IncrExpire: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	n, err := m.Get(ctx, "shared")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n != workers*perWorker {
		t.Errorf("total count: got %d, want %d", n, workers*perWorker)
	}
}

func TestIncrExpireResetsAfterTTL(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	m := newTestMemory(t, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := m.IncrExpire(ctx, "k", 60*time.Second); err != nil {
			t.Fatalf("IncrExpire: %v", err)
		}
	}

	now = now.Add(61 * time.Second)

	n, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n != 0 {
		t.Errorf("expired Get: got %d, want 0", n)
	}

	got, err := m.IncrExpire(ctx, "k", 60*time.Second)
	if err != nil {
		t.Fatalf("IncrExpire: %v", err)
	}
	if got != 1 {
		t.Errorf("count after expiry: got %d, want 1", got)
	}
}

func TestGetUnknownKey(t *testing.T) {
	m := newTestMemory(t, time.Now)

	n, err := m.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n != 0 {
		t.Errorf("got %d, want 0", n)
	}
}

func TestIndependentKeys(t *testing.T) {
	m := newTestMemory(t, time.Now)
	ctx := context.Background()

	m.IncrExpire(ctx, "a", time.Minute)
	m.IncrExpire(ctx, "a", time.Minute)
	m.IncrExpire(ctx, "b", time.Minute)

	a, _ := m.Get(ctx, "a")
	b, _ := m.Get(ctx, "b")
	if a != 2 || b != 1 {
		t.Errorf("got a=%d b=%d, want a=2 b=1", a, b)
	}
}
