package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kbyunghoon/ticket-service/internal/broker"
	"github.com/kbyunghoon/ticket-service/internal/gate"
	"github.com/kbyunghoon/ticket-service/internal/lock"
	"github.com/kbyunghoon/ticket-service/internal/waitqueue"
)

func testOrchestrator(t *testing.T) (*Orchestrator, *broker.MemBroker, waitqueue.Store) {
	t.Helper()
	store := waitqueue.NewMemoryStore(waitqueue.ReentryKeep)
	b := broker.NewMemBroker()
	o := NewOrchestrator(store, lock.NewMemoryLocker(), b, Config{
		AdmittedTopic: "user-admitted-topic",
		LockWait:      100 * time.Millisecond,
		LockLease:     time.Second,
	})
	return o, b, store
}

func TestAdmitBatchScenario(t *testing.T) {
	o, b, _ := testOrchestrator(t)
	ctx := context.Background()

	// Users 1..10 enqueue in order.
	for i := 1; i <= 10; i++ {
		rank, err := o.EnterQueue(ctx, fmt.Sprintf("%d", i))
		require.NoError(t, err)
		require.Equal(t, int64(i), rank)
	}
	r, err := o.GetRank(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, int64(1), r)
	r, err = o.GetRank(ctx, "10")
	require.NoError(t, err)
	require.Equal(t, int64(10), r)

	admitted, err := o.AdmitBatch(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2", "3"}, admitted)

	r, err = o.GetRank(ctx, "4")
	require.NoError(t, err)
	require.Equal(t, int64(1), r)

	size, err := o.QueueSize(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(7), size)

	// One event per admitted user, same batch id.
	records := b.Records("user-admitted-topic")
	require.Len(t, records, 3)
	var batchID string
	for i, raw := range records {
		var ev Event
		require.NoError(t, json.Unmarshal(raw, &ev))
		require.Equal(t, fmt.Sprintf("%d", i+1), ev.UserID)
		require.NotEmpty(t, ev.EventID)
		if i == 0 {
			batchID = ev.BatchID
		} else {
			require.Equal(t, batchID, ev.BatchID)
		}
	}
}

func TestAdmitBatchSkipsWhenLockBusy(t *testing.T) {
	store := waitqueue.NewMemoryStore(waitqueue.ReentryKeep)
	locker := lock.NewMemoryLocker()
	b := broker.NewMemBroker()
	o := NewOrchestrator(store, locker, b, Config{
		LockWait:  20 * time.Millisecond,
		LockLease: time.Minute,
	})
	ctx := context.Background()
	_, err := o.EnterQueue(ctx, "u1")
	require.NoError(t, err)

	// Another instance holds the admission lock.
	h, err := locker.TryAcquire(ctx, AdmitLockKey, 0, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, h)

	admitted, err := o.AdmitBatch(ctx, 5)
	require.NoError(t, err, "lock contention is not an error")
	require.Empty(t, admitted)

	size, _ := store.Size(ctx)
	require.Equal(t, int64(1), size, "queue untouched while lock was busy")
}

func TestConcurrentAdmitBatchPartitionsQueue(t *testing.T) {
	o, b, _ := testOrchestrator(t)
	ctx := context.Background()

	const total = 60
	for i := 0; i < total; i++ {
		_, err := o.EnterQueue(ctx, fmt.Sprintf("u%02d", i))
		require.NoError(t, err)
	}

	var mu sync.Mutex
	admitted := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				users, err := o.AdmitBatch(ctx, 7)
				if err != nil {
					t.Errorf("admit batch: %v", err)
					return
				}
				if len(users) == 0 {
					size, _ := o.QueueSize(ctx)
					if size == 0 {
						return
					}
					continue
				}
				mu.Lock()
				for _, u := range users {
					admitted[u]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, admitted, total, "every user admitted")
	for u, n := range admitted {
		require.Equal(t, 1, n, "user %s admitted more than once", u)
	}
	require.Len(t, b.Records("user-admitted-topic"), total)
}

func TestAdmitBatchRetriesPublication(t *testing.T) {
	store := waitqueue.NewMemoryStore(waitqueue.ReentryKeep)
	b := broker.NewMemBroker()
	o := NewOrchestrator(store, lock.NewMemoryLocker(), b, Config{
		LockWait:       100 * time.Millisecond,
		LockLease:      time.Second,
		PublishRetries: 3,
	})
	ctx := context.Background()
	_, err := o.EnterQueue(ctx, "u1")
	require.NoError(t, err)

	// Publication fails; the user must still be popped, not re-inserted,
	// and the failure must not surface as an admit error.
	b.FailPublishes("user-admitted-topic", errors.New("broker down"))
	admitted, err := o.AdmitBatch(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, admitted)

	size, _ := store.Size(ctx)
	require.Equal(t, int64(0), size)
}

func TestAdmissionConsumerIncrementsGateAndRunsEffect(t *testing.T) {
	b := broker.NewMemBroker()
	g := gate.NewMemoryGate(100, time.Minute)
	ctx := context.Background()

	var effectFor []string
	c := NewConsumer(b.Subscribe("user-admitted-topic"), g, func(ctx context.Context, ev Event) error {
		effectFor = append(effectFor, ev.UserID)
		return nil
	})

	for _, u := range []string{"a", "b"} {
		ev := Event{UserID: u, BatchID: "batch-1", EventID: u + "-ev", AdmittedAt: time.Now()}
		payload, _ := json.Marshal(ev)
		require.NoError(t, b.Publish(ctx, "user-admitted-topic", []byte(u), payload))
	}

	for i := 0; i < 2; i++ {
		m, err := c.source.Fetch(ctx)
		require.NoError(t, err)
		c.handle(ctx, m)
	}

	n, err := g.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.Equal(t, []string{"a", "b"}, effectFor)
	require.Equal(t, 0, b.Depth("user-admitted-topic"), "events always committed")
}

func TestAdmissionConsumerCommitsOnEffectFailure(t *testing.T) {
	b := broker.NewMemBroker()
	ctx := context.Background()
	c := NewConsumer(b.Subscribe("user-admitted-topic"), nil, func(ctx context.Context, ev Event) error {
		return errors.New("side effect failed")
	})

	payload, _ := json.Marshal(Event{UserID: "x"})
	require.NoError(t, b.Publish(ctx, "user-admitted-topic", []byte("x"), payload))

	m, err := c.source.Fetch(ctx)
	require.NoError(t, err)
	c.handle(ctx, m)
	require.Equal(t, 0, b.Depth("user-admitted-topic"))
}
