package broker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemBrokerPublishFetchCommit(t *testing.T) {
	b := NewMemBroker()
	ctx := context.Background()

	if err := b.Publish(ctx, "reqs", []byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := b.Publish(ctx, "reqs", []byte("k2"), []byte("v2")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	c := b.Subscribe("reqs")
	m1, err := c.Fetch(ctx)
	if err != nil || string(m1.Value) != "v1" {
		t.Fatalf("fetch 1 = %q, %v", m1.Value, err)
	}
	m2, err := c.Fetch(ctx)
	if err != nil || string(m2.Value) != "v2" {
		t.Fatalf("fetch 2 = %q, %v", m2.Value, err)
	}

	if err := c.Commit(ctx, m1); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if depth := b.Depth("reqs"); depth != 1 {
		t.Fatalf("depth = %d, want 1", depth)
	}
}

func TestMemBrokerRedeliversUncommitted(t *testing.T) {
	b := NewMemBroker()
	ctx := context.Background()

	_ = b.Publish(ctx, "reqs", []byte("k"), []byte("v"))

	c := b.Subscribe("reqs")
	m, err := c.Fetch(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	// Consumer "crashes" before committing; the record must come back.
	b.Redeliver("reqs")
	again, err := b.Subscribe("reqs").Fetch(ctx)
	if err != nil || string(again.Value) != "v" {
		t.Fatalf("refetch = %q, %v", again.Value, err)
	}

	_ = c.Commit(ctx, m)
	b.Redeliver("reqs")
	ctxShort, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := b.Subscribe("reqs").Fetch(ctxShort); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("committed record redelivered, err = %v", err)
	}
}

func TestMemBrokerFetchBlocksUntilPublish(t *testing.T) {
	b := NewMemBroker()
	ctx := context.Background()
	c := b.Subscribe("reqs")

	got := make(chan Message, 1)
	go func() {
		m, err := c.Fetch(ctx)
		if err == nil {
			got <- m
		}
	}()

	time.Sleep(20 * time.Millisecond)
	_ = b.Publish(ctx, "reqs", nil, []byte("late"))

	select {
	case m := <-got:
		if string(m.Value) != "late" {
			t.Fatalf("fetched %q", m.Value)
		}
	case <-time.After(time.Second):
		t.Fatalf("fetch did not wake on publish")
	}
}

func TestMemBrokerFailPublishes(t *testing.T) {
	b := NewMemBroker()
	ctx := context.Background()
	boom := errors.New("broker down")

	b.FailPublishes("dlq", boom)
	if err := b.Publish(ctx, "dlq", nil, []byte("x")); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	b.FailPublishes("dlq", nil)
	if err := b.Publish(ctx, "dlq", nil, []byte("x")); err != nil {
		t.Fatalf("healed publish: %v", err)
	}
}
