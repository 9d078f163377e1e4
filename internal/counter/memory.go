package counter

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const stripeCount = 64

type memEntry struct {
	count     int64
	expiresAt time.Time
}

type stripe struct {
	mu      sync.Mutex
	entries map[string]*memEntry
}

// Memory is an in-process Store for single-node deployments. Keys are
// sharded across striped mutexes so concurrent subjects do not contend on
// one lock; the stripe lock is held across increment and expiry bookkeeping,
// which is what makes IncrExpire indivisible here.
type Memory struct {
	stripes [stripeCount]*stripe
	now     func() time.Time

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an in-process counter store and starts its janitor
// goroutine. Call Close to stop it.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:  time.Now,
		done: make(chan struct{}),
	}
	for i := range m.stripes {
		m.stripes[i] = &stripe{entries: make(map[string]*memEntry)}
	}
	for _, opt := range opts {
		opt(m)
	}

	m.wg.Add(1)
	go m.janitor()
	return m
}

func (m *Memory) stripeFor(key string) *stripe {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.stripes[h.Sum32()%stripeCount]
}

// IncrExpire implements Store.
func (m *Memory) IncrExpire(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := m.now()
	s := m.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !e.expiresAt.After(now) {
		s.entries[key] = &memEntry{count: 1, expiresAt: now.Add(ttl)}
		return 1, nil
	}
	e.count++
	return e.count, nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) (int64, error) {
	now := m.now()
	s := m.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !e.expiresAt.After(now) {
		return 0, nil
	}
	return e.count, nil
}

// Ping implements Store. The in-process store is always reachable.
func (m *Memory) Ping(context.Context) error { return nil }

// Close stops the janitor goroutine. Safe to call multiple times.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	m.wg.Wait()
	return nil
}

// janitor evicts expired entries so idle subjects do not leak memory.
// Expiry is enforced on read regardless; this only reclaims space.
func (m *Memory) janitor() {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			now := m.now()
			for _, s := range m.stripes {
				s.mu.Lock()
				for k, e := range s.entries {
					if !e.expiresAt.After(now) {
						delete(s.entries, k)
					}
				}
				s.mu.Unlock()
			}
		}
	}
}
