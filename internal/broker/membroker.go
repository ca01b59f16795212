package broker

import (
	"context"
	"errors"
	"sync"
)

type memRecord struct {
	key   []byte
	value []byte
}

type memTopic struct {
	records   []memRecord
	cursor    int
	committed int
}

// MemBroker is an in-process at-least-once broker for tests and local
// development. Fetched-but-uncommitted records can be pushed back for
// redelivery with Redeliver, which models a consumer crash/restart or a
// group rebalance.
type MemBroker struct {
	mu          sync.Mutex
	cond        *sync.Cond
	topics      map[string]*memTopic
	failPublish map[string]error
	closed      bool
}

// NewMemBroker creates an empty broker.
func NewMemBroker() *MemBroker {
	b := &MemBroker{topics: make(map[string]*memTopic), failPublish: make(map[string]error)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// FailPublishes makes every publish to topic return err (nil to heal).
func (b *MemBroker) FailPublishes(topic string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failPublish, topic)
		return
	}
	b.failPublish[topic] = err
}

func (b *MemBroker) topic(name string) *memTopic {
	t, ok := b.topics[name]
	if !ok {
		t = &memTopic{}
		b.topics[name] = t
	}
	return t
}

// Publish appends a record to topic.
func (b *MemBroker) Publish(ctx context.Context, topic string, key, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failPublish[topic]; err != nil {
		return err
	}
	t := b.topic(topic)
	t.records = append(t.records, memRecord{key: key, value: value})
	b.cond.Broadcast()
	return nil
}

// Close wakes any blocked consumers.
func (b *MemBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
	return nil
}

// Redeliver rewinds topic's fetch cursor to the last committed record, so
// everything fetched but not committed is served again.
func (b *MemBroker) Redeliver(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topic(topic)
	t.cursor = t.committed
	b.cond.Broadcast()
}

// Depth reports records not yet committed on topic.
func (b *MemBroker) Depth(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topic(topic)
	return len(t.records) - t.committed
}

// Records returns a copy of every record ever published to topic.
func (b *MemBroker) Records(topic string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topic(topic)
	out := make([][]byte, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, append([]byte(nil), r.value...))
	}
	return out
}

// ErrClosed is returned by Fetch after the broker is closed.
var ErrClosed = errors.New("broker: closed")

// MemConsumer reads one topic of a MemBroker.
type MemConsumer struct {
	b     *MemBroker
	topic string
}

// Subscribe creates a consumer for topic.
func (b *MemBroker) Subscribe(topic string) *MemConsumer {
	return &MemConsumer{b: b, topic: topic}
}

func (c *MemConsumer) Fetch(ctx context.Context) (Message, error) {
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topic(c.topic)
	for t.cursor >= len(t.records) {
		if b.closed {
			return Message{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		// Wake periodically so context cancellation is noticed.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				b.mu.Lock()
				b.cond.Broadcast()
				b.mu.Unlock()
			case <-done:
			}
		}()
		b.cond.Wait()
		close(done)
	}
	offset := t.cursor
	rec := t.records[offset]
	t.cursor++
	return NewMessage(c.topic, rec.key, rec.value, offset), nil
}

func (c *MemConsumer) Commit(ctx context.Context, m Message) error {
	offset, ok := m.Raw().(int)
	if !ok {
		return errors.New("broker: message was not fetched from membroker")
	}
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topic(c.topic)
	if offset+1 > t.committed {
		t.committed = offset + 1
	}
	return nil
}

func (c *MemConsumer) Close() error { return nil }
