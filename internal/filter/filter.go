// Package filter guards protected endpoints with the concurrency gate.
// Requests that arrive while the service is overloaded are snapshotted
// into the deferral topic and answered with a 202 ticket instead of
// being served.
package filter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kbyunghoon/ticket-service/internal/backpressure"
	"github.com/kbyunghoon/ticket-service/internal/gate"
	"github.com/kbyunghoon/ticket-service/internal/replay"
)

// maxSnapshotBody bounds how much of a deferred request body is carried
// into the broker. Larger bodies are rejected rather than truncated.
const maxSnapshotBody = 1 << 20

var errBodyTooLarge = errors.New("request body too large to defer")

// Filter is the admission middleware. SkipPaths pass through untouched;
// replayed requests (marked with the requeue token header) pass through
// without counting, since their slot was already accounted for at
// deferral time.
type Filter struct {
	gate      gate.Gate
	producer  *backpressure.Producer
	skipPaths []string
}

func New(g gate.Gate, producer *backpressure.Producer, skipPaths []string) *Filter {
	return &Filter{gate: g, producer: producer, skipPaths: skipPaths}
}

func (f *Filter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.skip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get(replay.TokenHeader) != "" {
			// Replayed request: its gate slot is owned by the consumer
			// that sent it here. Counting again would double-book.
			next.ServeHTTP(w, r)
			return
		}

		current, err := f.gate.Increment(r.Context())
		if err != nil {
			// Fail open: an unreachable gate must degrade to "serve
			// everything", never to a hard outage.
			log.Printf("filter: gate unreachable, failing open: %v", err)
			next.ServeHTTP(w, r)
			return
		}

		if current >= f.gate.Threshold() {
			// Over capacity. The increment stays: the slot travels with
			// the deferred message and is released after replay.
			f.deferRequest(w, r)
			return
		}

		defer func() {
			// The slot must be released even when the client has gone
			// away: the request context is canceled on disconnect and
			// would make the store refuse the decrement, leaking the
			// slot for good since every increment refreshes the TTL.
			if _, err := f.gate.Decrement(context.WithoutCancel(r.Context())); err != nil {
				log.Printf("filter: gate decrement: %v", err)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (f *Filter) skip(path string) bool {
	for _, p := range f.skipPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func (f *Filter) deferRequest(w http.ResponseWriter, r *http.Request) {
	msg, err := snapshot(r)
	if err != nil {
		log.Printf("filter: snapshot %s %s: %v", r.Method, r.URL.Path, err)
		if _, derr := f.gate.Decrement(context.WithoutCancel(r.Context())); derr != nil {
			log.Printf("filter: gate decrement: %v", derr)
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "service busy"})
		return
	}

	ticket, err := f.producer.Defer(r.Context(), msg)
	if err != nil {
		// The deferral never reached durable storage, so the caller
		// must not receive a ticket that will never be replayed.
		log.Printf("filter: defer %s %s: %v", r.Method, r.URL.Path, err)
		if _, derr := f.gate.Decrement(context.WithoutCancel(r.Context())); derr != nil {
			log.Printf("filter: gate decrement: %v", derr)
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "service busy"})
		return
	}

	log.Printf("filter: deferred %s %s as %s (position %d)", r.Method, r.URL.Path, ticket.Token, ticket.QueuePosition)
	writeJSON(w, http.StatusAccepted, ticket)
}

// snapshot captures everything needed to replay the request later.
func snapshot(r *http.Request) (backpressure.Message, error) {
	var body string
	if r.Body != nil {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxSnapshotBody+1))
		if err != nil {
			return backpressure.Message{}, err
		}
		if len(raw) > maxSnapshotBody {
			return backpressure.Message{}, errBodyTooLarge
		}
		body = string(raw)
	}

	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}
	params := make(map[string]string)
	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			params[name] = values[0]
		}
	}

	return backpressure.Message{
		RequestID:   uuid.NewString(),
		UserID:      userID(r),
		Endpoint:    r.URL.Path,
		Method:      r.Method,
		Headers:     headers,
		Body:        body,
		QueryParams: params,
		EnqueuedAt:  time.Now().UTC(),
	}, nil
}

// userID attributes the request to a caller for queue bookkeeping. The
// header wins; the remote address is a best-effort fallback.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-Id"); id != "" {
		return id
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
