package gate

import (
	"context"
	"sync"
	"time"
)

// MemoryGate is an in-process gate with the same TTL staleness behavior
// as the Redis gate, for tests and single-node development.
type MemoryGate struct {
	mu        sync.Mutex
	count     int64
	expiresAt time.Time
	threshold int64
	ttl       time.Duration
	now       func() time.Time
}

// NewMemoryGate creates a gate with the given threshold and counter TTL.
func NewMemoryGate(threshold int64, ttl time.Duration) *MemoryGate {
	if ttl <= 0 {
		ttl = DefaultCounterTTL
	}
	return &MemoryGate{threshold: threshold, ttl: ttl, now: time.Now}
}

// SetClock replaces the time source, for staleness tests.
func (g *MemoryGate) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

func (g *MemoryGate) expireLocked() {
	if !g.expiresAt.IsZero() && g.now().After(g.expiresAt) {
		g.count = 0
	}
}

func (g *MemoryGate) Increment(ctx context.Context) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expireLocked()
	g.count++
	g.expiresAt = g.now().Add(g.ttl)
	return g.count, nil
}

func (g *MemoryGate) Decrement(ctx context.Context) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expireLocked()
	if g.count > 0 {
		g.count--
	}
	return g.count, nil
}

func (g *MemoryGate) Current(ctx context.Context) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expireLocked()
	return g.count, nil
}

func (g *MemoryGate) IsOverloaded(ctx context.Context) (bool, error) {
	current, err := g.Current(ctx)
	if err != nil {
		return false, err
	}
	return current >= g.threshold, nil
}

func (g *MemoryGate) Threshold() int64 { return g.threshold }
