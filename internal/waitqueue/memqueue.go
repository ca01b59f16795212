package waitqueue

import (
	"context"
	"sync"
)

type memEntry struct {
	userID     string
	enqueuedAt int64
}

// MemoryStore is an in-process queue with the same semantics as the Redis
// store, for tests and single-node development.
type MemoryStore struct {
	mu      sync.Mutex
	entries []memEntry
	seq     int64
	policy  ReentryPolicy
}

// NewMemoryStore creates an empty in-memory queue.
func NewMemoryStore(policy ReentryPolicy) *MemoryStore {
	if !policy.Valid() {
		policy = ReentryKeep
	}
	return &MemoryStore{policy: policy}
}

func (s *MemoryStore) index(userID string) int {
	for i, e := range s.entries {
		if e.userID == userID {
			return i
		}
	}
	return -1
}

func (s *MemoryStore) Enqueue(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(userID)
	if i < 0 {
		s.seq++
		s.entries = append(s.entries, memEntry{userID: userID, enqueuedAt: s.seq})
		return int64(len(s.entries)), nil
	}
	switch s.policy {
	case ReentryBack:
		e := s.entries[i]
		s.seq++
		e.enqueuedAt = s.seq
		s.entries = append(append(s.entries[:i:i], s.entries[i+1:]...), e)
		return int64(len(s.entries)), nil
	case ReentryFront:
		e := s.entries[i]
		rest := append(s.entries[:i:i], s.entries[i+1:]...)
		s.entries = append([]memEntry{e}, rest...)
		return 1, nil
	default:
		return int64(i) + 1, nil
	}
}

func (s *MemoryStore) Rank(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(userID)
	if i < 0 {
		return 0, ErrNotQueued
	}
	return int64(i) + 1, nil
}

func (s *MemoryStore) PopFront(ctx context.Context, count int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if count <= 0 {
		return []string{}, nil
	}
	n := int(count)
	if n > len(s.entries) {
		n = len(s.entries)
	}
	popped := make([]string, 0, n)
	for _, e := range s.entries[:n] {
		popped = append(popped, e.userID)
	}
	s.entries = append([]memEntry(nil), s.entries[n:]...)
	return popped, nil
}

func (s *MemoryStore) Size(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries)), nil
}

func (s *MemoryStore) Contains(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index(userID) >= 0, nil
}

func (s *MemoryStore) Remove(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(userID)
	if i < 0 {
		return false, nil
	}
	s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
	return true, nil
}

func (s *MemoryStore) Peek(ctx context.Context, n int64) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		return []Entry{}, nil
	}
	top := int(n)
	if top > len(s.entries) {
		top = len(s.entries)
	}
	entries := make([]Entry, 0, top)
	for i, e := range s.entries[:top] {
		entries = append(entries, Entry{UserID: e.userID, Rank: int64(i) + 1, EnqueuedAt: e.enqueuedAt})
	}
	return entries, nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.seq = 0
	return nil
}
