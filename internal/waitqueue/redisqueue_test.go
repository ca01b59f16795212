package waitqueue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newTestStore(t *testing.T, policy ReentryPolicy) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return NewRedisStore("redis://"+mr.Addr(), "test:waiting_queue", policy)
}

func TestRedisStoreEnqueueAndRank(t *testing.T) {
	s := newTestStore(t, ReentryKeep)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		rank, err := s.Enqueue(ctx, fmt.Sprintf("user-%d", i))
		if err != nil {
			t.Fatalf("enqueue user-%d: %v", i, err)
		}
		if rank != int64(i) {
			t.Fatalf("enqueue user-%d: rank %d, want %d", i, rank, i)
		}
	}

	rank, err := s.Rank(ctx, "user-1")
	if err != nil || rank != 1 {
		t.Fatalf("rank user-1 = %d, %v; want 1", rank, err)
	}
	rank, err = s.Rank(ctx, "user-10")
	if err != nil || rank != 10 {
		t.Fatalf("rank user-10 = %d, %v; want 10", rank, err)
	}
	if _, err := s.Rank(ctx, "missing"); !errors.Is(err, ErrNotQueued) {
		t.Fatalf("rank missing: err %v, want ErrNotQueued", err)
	}
}

func TestRedisStoreReentryKeepIsNoop(t *testing.T) {
	s := newTestStore(t, ReentryKeep)
	ctx := context.Background()

	for _, u := range []string{"a", "b", "c"} {
		if _, err := s.Enqueue(ctx, u); err != nil {
			t.Fatalf("enqueue %s: %v", u, err)
		}
	}

	rank, err := s.Enqueue(ctx, "a")
	if err != nil {
		t.Fatalf("re-enqueue a: %v", err)
	}
	if rank != 1 {
		t.Fatalf("re-enqueue a: rank %d, want 1 (original position kept)", rank)
	}
	size, err := s.Size(ctx)
	if err != nil || size != 3 {
		t.Fatalf("size = %d, %v; want 3 (no duplicate)", size, err)
	}
}

func TestRedisStoreReentryBack(t *testing.T) {
	s := newTestStore(t, ReentryBack)
	ctx := context.Background()

	for _, u := range []string{"a", "b", "c"} {
		if _, err := s.Enqueue(ctx, u); err != nil {
			t.Fatalf("enqueue %s: %v", u, err)
		}
	}
	rank, err := s.Enqueue(ctx, "a")
	if err != nil {
		t.Fatalf("re-enqueue a: %v", err)
	}
	if rank != 3 {
		t.Fatalf("re-enqueue a: rank %d, want 3 (moved to back)", rank)
	}
	if r, _ := s.Rank(ctx, "b"); r != 1 {
		t.Fatalf("rank b = %d, want 1", r)
	}
}

func TestRedisStoreReentryFront(t *testing.T) {
	s := newTestStore(t, ReentryFront)
	ctx := context.Background()

	for _, u := range []string{"a", "b", "c"} {
		if _, err := s.Enqueue(ctx, u); err != nil {
			t.Fatalf("enqueue %s: %v", u, err)
		}
	}
	rank, err := s.Enqueue(ctx, "c")
	if err != nil {
		t.Fatalf("re-enqueue c: %v", err)
	}
	if rank != 1 {
		t.Fatalf("re-enqueue c: rank %d, want 1 (moved to front)", rank)
	}
	if size, _ := s.Size(ctx); size != 3 {
		t.Fatalf("size after front re-entry = %d, want 3", size)
	}
}

func TestRedisStoreRankDensity(t *testing.T) {
	s := newTestStore(t, ReentryKeep)
	ctx := context.Background()

	users := []string{"u1", "u2", "u3", "u4", "u5"}
	for _, u := range users {
		if _, err := s.Enqueue(ctx, u); err != nil {
			t.Fatalf("enqueue %s: %v", u, err)
		}
	}
	if _, err := s.PopFront(ctx, 2); err != nil {
		t.Fatalf("pop: %v", err)
	}

	size, _ := s.Size(ctx)
	seen := map[int64]bool{}
	for _, u := range users[2:] {
		r, err := s.Rank(ctx, u)
		if err != nil {
			t.Fatalf("rank %s: %v", u, err)
		}
		if r < 1 || r > size || seen[r] {
			t.Fatalf("rank %s = %d: not dense in 1..%d", u, r, size)
		}
		seen[r] = true
	}
	if int64(len(seen)) != size {
		t.Fatalf("ranks cover %d positions, want %d", len(seen), size)
	}
}

func TestRedisStorePopFront(t *testing.T) {
	s := newTestStore(t, ReentryKeep)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		if _, err := s.Enqueue(ctx, fmt.Sprintf("%d", i)); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	popped, err := s.PopFront(ctx, 3)
	if err != nil {
		t.Fatalf("pop 3: %v", err)
	}
	if len(popped) != 3 || popped[0] != "1" || popped[1] != "2" || popped[2] != "3" {
		t.Fatalf("pop 3 = %v, want [1 2 3]", popped)
	}

	rank, err := s.Rank(ctx, "4")
	if err != nil || rank != 1 {
		t.Fatalf("rank 4 after pop = %d, %v; want 1", rank, err)
	}

	popped, err = s.PopFront(ctx, 100)
	if err != nil {
		t.Fatalf("pop rest: %v", err)
	}
	if len(popped) != 7 {
		t.Fatalf("pop rest = %d entries, want 7", len(popped))
	}
	popped, err = s.PopFront(ctx, 1)
	if err != nil {
		t.Fatalf("pop empty: %v", err)
	}
	if len(popped) != 0 {
		t.Fatalf("pop empty = %v, want []", popped)
	}
}

func TestRedisStorePeekRemoveClear(t *testing.T) {
	s := newTestStore(t, ReentryKeep)
	ctx := context.Background()

	for _, u := range []string{"a", "b", "c"} {
		if _, err := s.Enqueue(ctx, u); err != nil {
			t.Fatalf("enqueue %s: %v", u, err)
		}
	}

	entries, err := s.Peek(ctx, 2)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if len(entries) != 2 || entries[0].UserID != "a" || entries[0].Rank != 1 || entries[1].UserID != "b" {
		t.Fatalf("peek = %+v, want a@1, b@2", entries)
	}
	if size, _ := s.Size(ctx); size != 3 {
		t.Fatalf("peek mutated queue: size %d", size)
	}

	removed, err := s.Remove(ctx, "b")
	if err != nil || !removed {
		t.Fatalf("remove b = %v, %v; want true", removed, err)
	}
	removed, err = s.Remove(ctx, "b")
	if err != nil || removed {
		t.Fatalf("remove b twice = %v, %v; want false", removed, err)
	}
	if r, _ := s.Rank(ctx, "c"); r != 2 {
		t.Fatalf("rank c after remove = %d, want 2", r)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if size, _ := s.Size(ctx); size != 0 {
		t.Fatalf("size after clear = %d, want 0", size)
	}
	if ok, _ := s.Contains(ctx, "a"); ok {
		t.Fatalf("contains a after clear")
	}
}

func TestRedisStoreNotConfigured(t *testing.T) {
	s := NewRedisStore("", "", ReentryKeep)
	if _, err := s.Enqueue(context.Background(), "u"); err == nil {
		t.Fatalf("expected error from unconfigured store")
	}
}
