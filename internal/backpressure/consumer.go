package backpressure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kbyunghoon/ticket-service/internal/broker"
	"github.com/kbyunghoon/ticket-service/internal/deadletter"
	"github.com/kbyunghoon/ticket-service/internal/objectstore"
)

// Processor replays a deferred request against the real handler. A nil
// error means the replay succeeded; any error counts against the retry
// budget.
type Processor interface {
	Process(ctx context.Context, token string, msg Message) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, token string, msg Message) error

func (f ProcessorFunc) Process(ctx context.Context, token string, msg Message) error {
	return f(ctx, token, msg)
}

// SlotReleaser frees the in-flight slot a deferred request still holds.
type SlotReleaser interface {
	Decrement(ctx context.Context) (int64, error)
}

// FallbackSink receives a best-effort dump of dead-letter records whose
// DLQ publish failed, so even the double-failure path leaves a trace.
type FallbackSink interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// ConsumerConfig tunes the retry/dead-letter state machine.
type ConsumerConfig struct {
	RequestsTopic string
	DLQTopic      string
	// MaxRetries is the total number of replay attempts per delivery.
	MaxRetries int
	// RetryBackoff is the initial delay between attempts; it grows
	// exponentially and waits are context-aware.
	RetryBackoff time.Duration
	ServiceName  string
	Environment  string
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.ServiceName == "" {
		c.ServiceName = "ticket-queue-service"
	}
	if c.Environment == "" {
		c.Environment = "default"
	}
	return c
}

// Consumer drains the requests topic. Per message: replay with bounded
// retries; on success commit; on exhaustion publish a dead-letter record
// and commit only if that publish succeeded, otherwise leave the message
// uncommitted so the broker redelivers it. The in-flight slot is released
// once per message no matter which path is taken.
type Consumer struct {
	source    broker.Consumer
	dlq       broker.Publisher
	processor Processor
	releaser  SlotReleaser
	fallback  FallbackSink
	cfg       ConsumerConfig
}

// NewConsumer wires the state machine. fallback may be nil.
func NewConsumer(source broker.Consumer, dlq broker.Publisher, processor Processor,
	releaser SlotReleaser, fallback FallbackSink, cfg ConsumerConfig) *Consumer {
	return &Consumer{
		source:    source,
		dlq:       dlq,
		processor: processor,
		releaser:  releaser,
		fallback:  fallback,
		cfg:       cfg.withDefaults(),
	}
}

// Run fetches and handles messages until ctx is canceled or the source
// closes. Handling failures never stop the loop; at-least-once delivery
// means an unhandled message comes back.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.source.Fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, broker.ErrClosed) {
				return nil
			}
			return fmt.Errorf("fetch: %w", err)
		}
		c.handle(ctx, m)
	}
}

// handle runs the full per-message state machine:
// Received -> Retrying(n) -> Committed | DeadLettered.
func (c *Consumer) handle(ctx context.Context, m broker.Message) {
	token := string(m.Key)

	// The deferred request has been counted as in-flight since the filter
	// accepted it; release that slot exactly when we are done with the
	// message, success or not.
	defer func() {
		if c.releaser == nil {
			return
		}
		// Shutdown may cancel ctx after the message was handled; the
		// release still has to reach the store or the slot leaks.
		remaining, err := c.releaser.Decrement(context.WithoutCancel(ctx))
		if err != nil {
			log.Printf("consumer: release slot for %s: %v", token, err)
			return
		}
		log.Printf("consumer: finished %s, in-flight now %d", token, remaining)
	}()

	var msg Message
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		// Poison payload: replaying is hopeless, dead-letter immediately.
		log.Printf("consumer: undecodable message %s: %v", token, err)
		c.deadLetter(ctx, m, token, fmt.Errorf("decode message: %w", err), 0)
		return
	}

	retryCount, err := c.replayWithRetry(ctx, token, msg)
	if err == nil {
		if cerr := c.source.Commit(ctx, m); cerr != nil {
			log.Printf("consumer: commit %s: %v", token, cerr)
			return
		}
		log.Printf("consumer: replayed %s (attempts %d)", token, retryCount)
		return
	}

	log.Printf("consumer: replay of %s exhausted after %d attempts: %v", token, retryCount, err)
	c.deadLetter(ctx, m, token, err, retryCount)
}

// replayWithRetry attempts the replay up to MaxRetries times with
// exponential, context-aware backoff. It returns the attempt count and
// the last error (nil on success).
func (c *Consumer) replayWithRetry(ctx context.Context, token string, msg Message) (int, error) {
	attempts := 0
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.RetryBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.cfg.MaxRetries-1)), ctx)

	err := backoff.Retry(func() error {
		attempts++
		if perr := c.processor.Process(ctx, token, msg); perr != nil {
			log.Printf("consumer: replay %s attempt %d/%d: %v", token, attempts, c.cfg.MaxRetries, perr)
			return perr
		}
		return nil
	}, policy)
	return attempts, err
}

// deadLetter publishes the record and commits the original only when the
// publish succeeded. A failed publish leaves the original uncommitted for
// redelivery (no silent loss, duplicates possible) and dumps the record
// to the fallback sink best-effort.
func (c *Consumer) deadLetter(ctx context.Context, m broker.Message, token string, lastErr error, retryCount int) {
	rec := deadletter.Record{
		OriginalMessage: json.RawMessage(m.Value),
		FailureInfo: deadletter.FailureInfo{
			Token:            token,
			FailureReason:    lastErr.Error(),
			ExceptionType:    fmt.Sprintf("%T", lastErr),
			RetryCount:       retryCount,
			MaxRetries:       c.cfg.MaxRetries,
			FailureTimestamp: time.Now().UTC(),
		},
		Metadata: deadletter.Metadata{
			OriginalTopic: c.cfg.RequestsTopic,
			ServiceName:   c.cfg.ServiceName,
			Environment:   c.cfg.Environment,
		},
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		log.Printf("consumer: marshal dead-letter for %s: %v", token, err)
		return
	}

	if err := c.dlq.Publish(ctx, c.cfg.DLQTopic, []byte(token), payload); err != nil {
		log.Printf("consumer: dead-letter publish for %s failed, leaving uncommitted: %v", token, err)
		if c.fallback != nil {
			key := objectstore.DumpKey(token, time.Now())
			if ferr := c.fallback.Put(ctx, key, payload, "application/json"); ferr != nil {
				log.Printf("consumer: fallback dump for %s: %v", token, ferr)
			}
		}
		return
	}

	if err := c.source.Commit(ctx, m); err != nil {
		log.Printf("consumer: commit after dead-letter for %s: %v", token, err)
		return
	}
	log.Printf("consumer: dead-lettered %s after %d attempts", token, retryCount)
}
