package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/kbyunghoon/ticket-service/internal/broker"
	"github.com/kbyunghoon/ticket-service/internal/gate"
)

// Admitter runs the post-admission effect for one user (session creation,
// notification and so on). Failures are logged; the admission itself is
// already a fact by the time the event exists.
type Admitter func(ctx context.Context, event Event) error

// Consumer applies admission events: it claims the admitted user's
// in-flight slot on the gate and runs the post-admission effect.
type Consumer struct {
	source   broker.Consumer
	gate     gate.Gate
	admitter Admitter
}

// NewConsumer wires the event consumer. admitter may be nil.
func NewConsumer(source broker.Consumer, g gate.Gate, admitter Admitter) *Consumer {
	return &Consumer{source: source, gate: g, admitter: admitter}
}

// Run consumes until ctx is canceled. Every event is committed, even when
// the effect fails: an admitted user is admitted.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.source.Fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, broker.ErrClosed) {
				return nil
			}
			return fmt.Errorf("fetch admission event: %w", err)
		}
		c.handle(ctx, m)
	}
}

func (c *Consumer) handle(ctx context.Context, m broker.Message) {
	defer func() {
		if err := c.source.Commit(ctx, m); err != nil {
			log.Printf("admission consumer: commit: %v", err)
		}
	}()

	var event Event
	if err := json.Unmarshal(m.Value, &event); err != nil {
		log.Printf("admission consumer: undecodable event: %v", err)
		return
	}

	if c.gate != nil {
		if n, err := c.gate.Increment(ctx); err != nil {
			log.Printf("admission consumer: gate increment for %s: %v", event.UserID, err)
		} else {
			log.Printf("admission consumer: user %s admitted (batch %s), in-flight %d", event.UserID, event.BatchID, n)
		}
	}

	if c.admitter != nil {
		if err := c.admitter(ctx, event); err != nil {
			log.Printf("admission consumer: post-admission effect for %s: %v", event.UserID, err)
		}
	}
}
