package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps the archive in process memory. Used by tests and by
// deployments that run without Postgres.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]DeadLetter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]DeadLetter)}
}

func (m *MemoryStore) SaveDeadLetter(ctx context.Context, dl DeadLetter) error {
	if dl.ArchivedAt.IsZero() {
		dl.ArchivedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.rows[dl.Token] = dl
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetDeadLetter(ctx context.Context, token string) (DeadLetter, error) {
	m.mu.RLock()
	dl, ok := m.rows[token]
	m.mu.RUnlock()
	if !ok {
		return DeadLetter{}, ErrNotFound
	}
	return dl, nil
}

func (m *MemoryStore) ListDeadLetters(ctx context.Context, filter Filter) ([]DeadLetter, error) {
	m.mu.RLock()
	out := make([]DeadLetter, 0, len(m.rows))
	for _, dl := range m.rows {
		if filter.Topic != "" && dl.OriginalTopic != filter.Topic {
			continue
		}
		if !filter.Since.IsZero() && dl.FailedAt.Before(filter.Since) {
			continue
		}
		out = append(out, dl)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].FailedAt.After(out[j].FailedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CountDeadLetters(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.rows)), nil
}
