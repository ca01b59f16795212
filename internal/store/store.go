// Package store archives dead-lettered requests for manual inspection.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a token has no archived record.
var ErrNotFound = errors.New("dead letter not found")

// DeadLetter is one archived row: the failed request payload plus the
// failure bookkeeping carried over from the dead-letter record.
type DeadLetter struct {
	Token         string
	OriginalTopic string
	FailureReason string
	ExceptionType string
	RetryCount    int
	Payload       []byte
	FailedAt      time.Time
	ArchivedAt    time.Time
}

// Filter narrows dead-letter listings.
type Filter struct {
	Topic  string
	Since  time.Time
	Limit  int
	Offset int
}

// Store abstracts the dead-letter archive.
type Store interface {
	SaveDeadLetter(ctx context.Context, dl DeadLetter) error
	GetDeadLetter(ctx context.Context, token string) (DeadLetter, error)
	ListDeadLetters(ctx context.Context, filter Filter) ([]DeadLetter, error)
	CountDeadLetters(ctx context.Context) (int64, error)
}
