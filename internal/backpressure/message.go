// Package backpressure defers overloaded requests through a durable
// broker topic and replays them once capacity frees up.
package backpressure

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is the durable snapshot of one deferred request. It is created
// once at deferral time and never mutated; the consumer only reads it.
type Message struct {
	RequestID   string            `json:"requestId"`
	UserID      string            `json:"userId"`
	Endpoint    string            `json:"endpoint"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body,omitempty"`
	QueryParams map[string]string `json:"queryParams"`
	EnqueuedAt  time.Time         `json:"enqueuedAt"`
}

// Ticket is what a deferred caller gets back instead of a response.
type Ticket struct {
	Token                string `json:"token"`
	QueuePosition        int64  `json:"queuePosition"`
	EstimatedWaitSeconds int64  `json:"estimatedWaitSeconds"`
	Message              string `json:"message"`
}

// NewToken mints an opaque admission token. Tokens are never reused and
// carry nothing but uniqueness.
func NewToken() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("TOKEN_%s", raw[:16])
}
