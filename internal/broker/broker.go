package broker

import "context"

// Message is one record fetched from a topic. The raw field carries the
// backend's own handle so Commit can acknowledge exactly this record.
type Message struct {
	Topic string
	Key   []byte
	Value []byte

	raw any
}

// Raw exposes the backend handle; backends use it, callers should not.
func (m Message) Raw() any { return m.raw }

// NewMessage builds a Message around a backend handle. Exported for
// backend implementations in this package and for test doubles.
func NewMessage(topic string, key, value []byte, raw any) Message {
	return Message{Topic: topic, Key: key, Value: value, raw: raw}
}

// Publisher durably appends records to a topic. Publish is synchronous:
// when it returns nil the record is stored broker-side (at-least-once
// from there on).
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
	Close() error
}

// Consumer reads one subscribed topic with manual commits. A fetched but
// uncommitted record is redelivered after a restart; Commit acknowledges
// a record exactly once.
type Consumer interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, m Message) error
	Close() error
}
