package blocklist

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process List for single-node deployments.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time
}

// NewMemory creates an in-process blocklist.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*Entry), now: time.Now}
}

// NewMemoryWithClock creates an in-process blocklist with an injected time
// source, for tests.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{entries: make(map[string]*Entry), now: now}
}

// Get implements List. Expired entries are dropped lazily.
func (m *Memory) Get(_ context.Context, ip string) (*Entry, error) {
	m.mu.RLock()
	e, ok := m.entries[ip]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !e.ExpiresAt.After(m.now()) {
		m.mu.Lock()
		if cur, ok := m.entries[ip]; ok && !cur.ExpiresAt.After(m.now()) {
			delete(m.entries, ip)
		}
		m.mu.Unlock()
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

// Block implements List.
func (m *Memory) Block(_ context.Context, ip string, ttl time.Duration, reasonCode, reason string) error {
	now := m.now()
	m.mu.Lock()
	m.entries[ip] = &Entry{
		IP:         ip,
		ReasonCode: reasonCode,
		Reason:     reason,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	m.mu.Unlock()
	return nil
}

// Unblock implements List.
func (m *Memory) Unblock(_ context.Context, ip string) error {
	m.mu.Lock()
	delete(m.entries, ip)
	m.mu.Unlock()
	return nil
}
