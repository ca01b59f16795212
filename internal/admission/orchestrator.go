// Package admission composes the waiting queue, the concurrency gate and
// the distributed lock into the batch admission flow.
package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/kbyunghoon/ticket-service/internal/broker"
	"github.com/kbyunghoon/ticket-service/internal/lock"
	"github.com/kbyunghoon/ticket-service/internal/waitqueue"
)

// AdmitLockKey serializes batch admission across every service instance.
const AdmitLockKey = "queue:admit:users"

// Event announces that one user left the waiting queue and may proceed.
type Event struct {
	UserID     string    `json:"userId"`
	BatchID    string    `json:"batchId"`
	EventID    string    `json:"eventId"`
	AdmittedAt time.Time `json:"admittedAt"`
}

// Config tunes the orchestrator.
type Config struct {
	AdmittedTopic string
	LockWait      time.Duration
	LockLease     time.Duration
	// PublishRetries bounds the publication retry of an already-popped
	// user's event. Popped entries must never be silently lost.
	PublishRetries int
}

func (c Config) withDefaults() Config {
	if c.AdmittedTopic == "" {
		c.AdmittedTopic = "user-admitted-topic"
	}
	if c.LockWait <= 0 {
		c.LockWait = 10 * time.Second
	}
	if c.LockLease <= 0 {
		c.LockLease = 5 * time.Second
	}
	if c.PublishRetries <= 0 {
		c.PublishRetries = 3
	}
	return c
}

// Orchestrator owns the per-user state machine
// NotQueued -> Queued -> Admitted.
type Orchestrator struct {
	store     waitqueue.Store
	locker    lock.Locker
	publisher broker.Publisher
	cfg       Config
}

// NewOrchestrator wires the admission flow.
func NewOrchestrator(store waitqueue.Store, locker lock.Locker, publisher broker.Publisher, cfg Config) *Orchestrator {
	return &Orchestrator{store: store, locker: locker, publisher: publisher, cfg: cfg.withDefaults()}
}

// EnterQueue puts the user in the waiting queue and returns their rank.
func (o *Orchestrator) EnterQueue(ctx context.Context, userID string) (int64, error) {
	rank, err := o.store.Enqueue(ctx, userID)
	if err != nil {
		log.Printf("admission: enqueue %s failed: %v", userID, err)
		return 0, fmt.Errorf("enter queue: %w", err)
	}
	log.Printf("admission: user %s entered queue at rank %d", userID, rank)
	return rank, nil
}

// GetRank returns the user's current 1-based position.
func (o *Orchestrator) GetRank(ctx context.Context, userID string) (int64, error) {
	return o.store.Rank(ctx, userID)
}

// QueueSize returns the number of waiting users.
func (o *Orchestrator) QueueSize(ctx context.Context) (int64, error) {
	return o.store.Size(ctx)
}

// IsUserInQueue reports whether the user has a live entry.
func (o *Orchestrator) IsUserInQueue(ctx context.Context, userID string) (bool, error) {
	return o.store.Contains(ctx, userID)
}

// AdmitBatch pops up to count users under the shared admission lock and
// publishes one admission event per popped user. Lock contention is a
// normal outcome: another instance is already admitting, so this cycle
// returns an empty batch with no error. Events are published after the
// lock is released; a popped user whose publish fails is retried at the
// publication step, never re-inserted into the queue.
func (o *Orchestrator) AdmitBatch(ctx context.Context, count int64) ([]string, error) {
	batchID := uuid.NewString()

	var popped []string
	res := lock.WithLock(ctx, o.locker, AdmitLockKey, o.cfg.LockWait, o.cfg.LockLease, func(ctx context.Context) error {
		users, err := o.store.PopFront(ctx, count)
		if err != nil {
			return fmt.Errorf("pop front: %w", err)
		}
		popped = users
		return nil
	})

	switch res.Status {
	case lock.StatusLockFailed:
		log.Printf("admission: batch %s skipped, lock busy", batchID)
		return nil, nil
	case lock.StatusError:
		log.Printf("admission: batch %s failed: %v", batchID, res.Err)
		// Anything popped before the failure must still be announced.
		if len(popped) == 0 {
			return nil, res.Err
		}
	}

	if len(popped) == 0 {
		return nil, nil
	}

	log.Printf("admission: batch %s admitting %d users", batchID, len(popped))
	o.publishBatch(ctx, batchID, popped)
	return popped, nil
}

func (o *Orchestrator) publishBatch(ctx context.Context, batchID string, users []string) {
	for _, userID := range users {
		event := Event{
			UserID:     userID,
			BatchID:    batchID,
			EventID:    uuid.NewString(),
			AdmittedAt: time.Now().UTC(),
		}
		payload, err := json.Marshal(event)
		if err != nil {
			log.Printf("admission: marshal event for %s: %v", userID, err)
			continue
		}

		policy := backoff.WithContext(backoff.WithMaxRetries(
			backoff.NewConstantBackOff(100*time.Millisecond), uint64(o.cfg.PublishRetries-1)), ctx)
		err = backoff.Retry(func() error {
			return o.publisher.Publish(ctx, o.cfg.AdmittedTopic, []byte(userID), payload)
		}, policy)
		if err != nil {
			// The user is already out of the queue; losing this event is a
			// bug class that must be visible, not papered over.
			log.Printf("admission: FAILED to publish admission for user %s batch %s: %v", userID, batchID, err)
			continue
		}
	}
}
