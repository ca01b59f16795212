package server

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kbyunghoon/ticket-service/internal/admission"
	"github.com/kbyunghoon/ticket-service/internal/api"
	"github.com/kbyunghoon/ticket-service/internal/backpressure"
	"github.com/kbyunghoon/ticket-service/internal/broker"
	"github.com/kbyunghoon/ticket-service/internal/config"
	"github.com/kbyunghoon/ticket-service/internal/filter"
	"github.com/kbyunghoon/ticket-service/internal/gate"
	"github.com/kbyunghoon/ticket-service/internal/lock"
	"github.com/kbyunghoon/ticket-service/internal/waitqueue"
)

func testService(t *testing.T, threshold int64) (*Service, gate.Gate) {
	t.Helper()
	q := waitqueue.NewMemoryStore(waitqueue.ReentryKeep)
	b := broker.NewMemBroker()
	g := gate.NewMemoryGate(threshold, time.Minute)
	h := &api.Handler{
		Orchestrator: admission.NewOrchestrator(q, lock.NewMemoryLocker(), b, admission.Config{
			LockWait:  50 * time.Millisecond,
			LockLease: time.Second,
		}),
		Queue: q,
		Gate:  g,
	}
	producer := backpressure.NewProducer(b, "queue-backpressure-requests", nil, 5, threshold)
	f := filter.New(g, producer, []string{"/api"})
	protected := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"detail":"ok"}`))
	})
	return New(config.Config{HTTPAddr: ":0"}, h, f, protected), g
}

func TestAdminRoutesBypassFilter(t *testing.T) {
	svc, g := testService(t, 1)

	// Saturate the gate; admin routes must still answer.
	if _, err := g.Increment(context.Background()); err != nil {
		t.Fatalf("increment: %v", err)
	}

	rec := httptest.NewRecorder()
	svc.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health code = %d", rec.Code)
	}
}

func TestProtectedRouteDeferredWhenOverloaded(t *testing.T) {
	svc, g := testService(t, 1)
	if _, err := g.Increment(context.Background()); err != nil {
		t.Fatalf("increment: %v", err)
	}

	rec := httptest.NewRecorder()
	svc.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tickets/reserve", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("code = %d, want 202", rec.Code)
	}
	var ticket backpressure.Ticket
	if err := json.Unmarshal(rec.Body.Bytes(), &ticket); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	if ticket.Token == "" {
		t.Fatal("empty token")
	}
}

func TestGzipApplied(t *testing.T) {
	svc, _ := testService(t, 100)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	svc.srv.Handler.ServeHTTP(rec, req)

	if enc := rec.Header().Get("Content-Encoding"); enc != "gzip" {
		t.Fatalf("encoding = %q", enc)
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	body, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != "{\"status\":\"ok\"}\n" {
		t.Fatalf("body = %q", body)
	}
}
