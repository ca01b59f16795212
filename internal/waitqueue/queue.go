package waitqueue

import (
	"context"
	"errors"
)

// ReentryPolicy decides what happens when an already-queued user enqueues again.
type ReentryPolicy string

const (
	// ReentryKeep leaves the existing entry untouched (default).
	ReentryKeep ReentryPolicy = "keep"
	// ReentryBack moves the user to the end of the queue.
	ReentryBack ReentryPolicy = "back"
	// ReentryFront moves the user to the head of the queue.
	ReentryFront ReentryPolicy = "front"
)

// Valid reports whether p is a known policy.
func (p ReentryPolicy) Valid() bool {
	switch p {
	case ReentryKeep, ReentryBack, ReentryFront:
		return true
	}
	return false
}

// ErrNotQueued is returned by Rank when the user has no live entry.
var ErrNotQueued = errors.New("waitqueue: user not in queue")

// Entry is one waiting user as seen by the admin surface. EnqueuedAt is
// the logical timestamp used as the ordering key, not a wall clock.
type Entry struct {
	UserID     string `json:"user_id"`
	Rank       int64  `json:"rank"`
	EnqueuedAt int64  `json:"enqueued_at"`
}

// Store is the shared ordered waiting queue. All mutations are atomic at
// the store; concurrent callers from any instance never observe duplicate
// entries or overlapping pops. Ranks are 1-based and dense.
type Store interface {
	// Enqueue inserts the user if absent and returns the resulting 1-based
	// rank. Re-entry by a queued user resolves per the store's policy.
	Enqueue(ctx context.Context, userID string) (int64, error)
	// Rank returns the current 1-based position or ErrNotQueued.
	Rank(ctx context.Context, userID string) (int64, error)
	// PopFront atomically removes and returns up to count of the
	// lowest-ranked users, in ascending rank order.
	PopFront(ctx context.Context, count int64) ([]string, error)
	Size(ctx context.Context) (int64, error)
	Contains(ctx context.Context, userID string) (bool, error)
	// Remove deletes a single user's entry; reports whether one existed.
	Remove(ctx context.Context, userID string) (bool, error)
	// Peek returns the top n entries without removing them.
	Peek(ctx context.Context, n int64) ([]Entry, error)
	// Clear drops every entry. Administrative reset only.
	Clear(ctx context.Context) error
}
