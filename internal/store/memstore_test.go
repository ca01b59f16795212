package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func sampleDeadLetter(token string, failedAt time.Time) DeadLetter {
	return DeadLetter{
		Token:         token,
		OriginalTopic: "queue-backpressure-requests",
		FailureReason: "replay failed",
		ExceptionType: "connection refused",
		RetryCount:    3,
		Payload:       []byte(`{"requestId":"r1"}`),
		FailedAt:      failedAt,
	}
}

func TestMemoryStoreSaveGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	dl := sampleDeadLetter("TOKEN_aaaa", now)
	if err := s.SaveDeadLetter(ctx, dl); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetDeadLetter(ctx, "TOKEN_aaaa")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RetryCount != 3 || got.FailureReason != "replay failed" {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.ArchivedAt.IsZero() {
		t.Fatal("archived_at not defaulted")
	}

	if _, err := s.GetDeadLetter(ctx, "TOKEN_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreListOrderAndFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		dl := sampleDeadLetter(fmt.Sprintf("TOKEN_%04d", i), base.Add(time.Duration(i)*time.Minute))
		if i == 4 {
			dl.OriginalTopic = "other-topic"
		}
		if err := s.SaveDeadLetter(ctx, dl); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	// Newest first.
	all, err := s.ListDeadLetters(ctx, Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("len = %d, want 5", len(all))
	}
	if all[0].Token != "TOKEN_0004" || all[4].Token != "TOKEN_0000" {
		t.Fatalf("wrong order: first %s last %s", all[0].Token, all[4].Token)
	}

	byTopic, err := s.ListDeadLetters(ctx, Filter{Topic: "queue-backpressure-requests"})
	if err != nil {
		t.Fatalf("list by topic: %v", err)
	}
	if len(byTopic) != 4 {
		t.Fatalf("topic filter len = %d, want 4", len(byTopic))
	}

	since, err := s.ListDeadLetters(ctx, Filter{Since: base.Add(3 * time.Minute)})
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(since) != 2 {
		t.Fatalf("since filter len = %d, want 2", len(since))
	}

	page, err := s.ListDeadLetters(ctx, Filter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 2 || page[0].Token != "TOKEN_0003" {
		t.Fatalf("wrong page: %+v", page)
	}

	n, err := s.CountDeadLetters(ctx)
	if err != nil || n != 5 {
		t.Fatalf("count = %d, %v", n, err)
	}
}

func TestMemoryStoreOverwriteByToken(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	dl := sampleDeadLetter("TOKEN_dup", time.Now().UTC())
	if err := s.SaveDeadLetter(ctx, dl); err != nil {
		t.Fatalf("save: %v", err)
	}
	dl.RetryCount = 5
	if err := s.SaveDeadLetter(ctx, dl); err != nil {
		t.Fatalf("resave: %v", err)
	}

	got, err := s.GetDeadLetter(ctx, "TOKEN_dup")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RetryCount != 5 {
		t.Fatalf("retry count = %d, want 5", got.RetryCount)
	}
	if n, _ := s.CountDeadLetters(ctx); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}
