package lock

import (
	"context"
	"fmt"
	"time"
)

// Handle represents one held lock. Only the acquirer's handle can release
// it; a stale handle (lease expired, lock re-acquired elsewhere) releases
// nothing.
type Handle struct {
	Key   string
	Owner string
	Lease time.Duration
}

// Locker is the injectable distributed mutual-exclusion primitive. Tests
// substitute an in-process implementation; production uses the Redis one.
type Locker interface {
	// TryAcquire waits up to wait for the named lock. It returns a nil
	// handle (and nil error) when the wait times out, which is a normal
	// outcome, not an error. The lease bounds how long the lock survives
	// a crashed holder.
	TryAcquire(ctx context.Context, key string, wait, lease time.Duration) (*Handle, error)
	Release(ctx context.Context, h *Handle) error
}

// Status is the outcome of a WithLock call.
type Status int

const (
	// StatusSuccess means the action ran under the lock.
	StatusSuccess Status = iota
	// StatusLockFailed means the lock was contended for the whole wait
	// window; the action never ran.
	StatusLockFailed
	// StatusError means the lock was held but the action failed; the lock
	// was still released.
	StatusError
)

// Result carries the outcome of a critical section.
type Result struct {
	Status Status
	Err    error
}

// WithLock runs fn exclusively under the named lock. The lock is released
// on every exit path, including a panicking fn. A timed-out acquisition
// yields StatusLockFailed without running fn.
func WithLock(ctx context.Context, l Locker, key string, wait, lease time.Duration, fn func(ctx context.Context) error) Result {
	h, err := l.TryAcquire(ctx, key, wait, lease)
	if err != nil {
		return Result{Status: StatusError, Err: fmt.Errorf("acquire %s: %w", key, err)}
	}
	if h == nil {
		return Result{Status: StatusLockFailed}
	}

	var fnErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				fnErr = fmt.Errorf("panic in locked section: %v", r)
			}
		}()
		fnErr = fn(ctx)
	}()

	if relErr := l.Release(ctx, h); relErr != nil && fnErr == nil {
		fnErr = fmt.Errorf("release %s: %w", key, relErr)
	}
	if fnErr != nil {
		return Result{Status: StatusError, Err: fnErr}
	}
	return Result{Status: StatusSuccess}
}
