// Package objectstore is the last-resort sink for dead-letter records
// whose DLQ publish failed: they are dumped as objects so the
// double-failure path still leaves an inspectable trace.
package objectstore

import (
	"context"
	"fmt"
	"time"
)

// Store uploads records to an object storage backend.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// NullStore discards uploads. Used when no fallback bucket is configured.
type NullStore struct{}

func (NullStore) Put(_ context.Context, _ string, _ []byte, _ string) error { return nil }

// DumpKey names a dead-letter dump object, partitioned by day so old
// dumps can be expired with a simple prefix policy.
func DumpKey(token string, at time.Time) string {
	return fmt.Sprintf("deadletter/%s/%s.json", at.UTC().Format("2006-01-02"), token)
}
