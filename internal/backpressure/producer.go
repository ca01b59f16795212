package backpressure

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/kbyunghoon/ticket-service/internal/broker"
)

// DepthFunc reports how many deferred requests are ahead of a new one.
// Wired to the gate's overflow in production; tests inject constants.
type DepthFunc func(ctx context.Context) int64

// Producer defers overloaded requests onto the requests topic.
type Producer struct {
	publisher broker.Publisher
	topic     string
	depth     DepthFunc

	// Per-slot processing estimate used for the wait hint.
	avgProcessingSeconds int64
	capacity             int64
}

// NewProducer builds a producer. capacity is the concurrency threshold,
// used to translate queue position into an estimated wait.
func NewProducer(publisher broker.Publisher, topic string, depth DepthFunc, avgProcessingSeconds, capacity int64) *Producer {
	if avgProcessingSeconds <= 0 {
		avgProcessingSeconds = 5
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Producer{
		publisher:            publisher,
		topic:                topic,
		depth:                depth,
		avgProcessingSeconds: avgProcessingSeconds,
		capacity:             capacity,
	}
}

// Defer durably publishes the message keyed by a fresh token and returns
// the ticket. A publish failure is surfaced to the caller; the request is
// then neither processed nor silently dropped.
func (p *Producer) Defer(ctx context.Context, msg Message) (Ticket, error) {
	token := NewToken()
	payload, err := json.Marshal(msg)
	if err != nil {
		return Ticket{}, fmt.Errorf("marshal deferred request: %w", err)
	}
	if err := p.publisher.Publish(ctx, p.topic, []byte(token), payload); err != nil {
		return Ticket{}, fmt.Errorf("defer request %s: %w", msg.RequestID, err)
	}

	position := int64(1)
	if p.depth != nil {
		if d := p.depth(ctx); d > 0 {
			position = d + 1
		}
	}
	ticket := Ticket{
		Token:                token,
		QueuePosition:        position,
		EstimatedWaitSeconds: p.EstimateWaitSeconds(position),
		Message:              "request queued; it will be replayed automatically when a slot frees up",
	}
	log.Printf("producer: deferred request %s as %s (position %d)", msg.RequestID, token, position)
	return ticket, nil
}

// EstimateWaitSeconds converts a queue position into a rough wait using
// the per-slot processing time and the admission capacity.
func (p *Producer) EstimateWaitSeconds(position int64) int64 {
	if position < 1 {
		position = 1
	}
	return position * p.avgProcessingSeconds / p.capacity
}
