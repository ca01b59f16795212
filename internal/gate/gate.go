package gate

import "context"

// Gate tracks how many requests are currently in flight across all
// instances and decides when the system counts as overloaded. The counter
// is shared state; it must only be touched through these atomic
// operations, never read-modify-written by a caller.
type Gate interface {
	// Increment bumps the in-flight counter, refreshes its staleness TTL
	// and returns the post-increment value.
	Increment(ctx context.Context) (int64, error)
	// Decrement lowers the counter, floored at zero, and returns the
	// post-decrement value.
	Decrement(ctx context.Context) (int64, error)
	Current(ctx context.Context) (int64, error)
	// IsOverloaded reports current() >= threshold from one atomic read.
	IsOverloaded(ctx context.Context) (bool, error)
	Threshold() int64
}
