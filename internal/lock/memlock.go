package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memLease struct {
	owner     string
	expiresAt time.Time
}

// MemoryLocker is an in-process Locker with the same lease semantics as
// the Redis one, for tests.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memLease
	now   func() time.Time
}

// NewMemoryLocker creates an empty locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memLease), now: time.Now}
}

// SetClock replaces the time source, for lease-expiry tests.
func (l *MemoryLocker) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func (l *MemoryLocker) tryOnce(key, owner string, lease time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.held[key]
	if ok && l.now().Before(cur.expiresAt) {
		return false
	}
	l.held[key] = memLease{owner: owner, expiresAt: l.now().Add(lease)}
	return true
}

func (l *MemoryLocker) TryAcquire(ctx context.Context, key string, wait, lease time.Duration) (*Handle, error) {
	owner := uuid.NewString()
	deadline := time.Now().Add(wait)
	for {
		if l.tryOnce(key, owner, lease) {
			return &Handle{Key: key, Owner: owner, Lease: lease}, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (l *MemoryLocker) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[h.Key]; ok && cur.owner == h.Owner {
		delete(l.held, h.Key)
	}
	return nil
}
