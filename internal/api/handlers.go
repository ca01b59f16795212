package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/kbyunghoon/ticket-service/internal/admission"
	"github.com/kbyunghoon/ticket-service/internal/gate"
	"github.com/kbyunghoon/ticket-service/internal/store"
	"github.com/kbyunghoon/ticket-service/internal/waitqueue"
)

// Handler wires HTTP routes to the admission flow and the dead-letter
// archive. Archive may be nil when the deployment runs without one.
type Handler struct {
	Orchestrator *admission.Orchestrator
	Queue        waitqueue.Store
	Gate         gate.Gate
	Archive      store.Store
}

func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", h.health)
	mux.HandleFunc("/api/queue/enter", h.queueEnter)
	mux.HandleFunc("/api/queue/status", h.queueStatus)
	mux.HandleFunc("/api/queue/size", h.queueSize)
	mux.HandleFunc("/api/queue/peek", h.queuePeek)
	mux.HandleFunc("/api/queue/leave", h.queueLeave)
	mux.HandleFunc("/api/queue/admit", h.queueAdmit)
	mux.HandleFunc("/api/queue/clear", h.queueClear)
	mux.HandleFunc("/api/gate", h.gateStatus)
	mux.HandleFunc("/api/deadletters", h.deadLetters)
	mux.HandleFunc("/api/deadletters/", h.deadLetterByToken)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) queueEnter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId required"})
		return
	}
	rank, err := h.Orchestrator.EnterQueue(r.Context(), req.UserID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": req.UserID, "rank": rank})
}

func (h *Handler) queueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId required"})
		return
	}
	rank, err := h.Orchestrator.GetRank(r.Context(), userID)
	if errors.Is(err, waitqueue.ErrNotQueued) {
		writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "inQueue": false})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "inQueue": true, "rank": rank})
}

func (h *Handler) queueSize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	size, err := h.Orchestrator.QueueSize(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"size": size})
}

func (h *Handler) queuePeek(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	n := parseIntDefault(r.URL.Query().Get("limit"), 10, 100)
	entries, err := h.Queue.Peek(r.Context(), int64(n))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []waitqueue.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) queueLeave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId required"})
		return
	}
	removed, err := h.Queue.Remove(r.Context(), req.UserID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

// queueAdmit triggers one batch admission cycle by hand, outside the
// scheduler cadence. Lock contention returns an empty batch.
func (h *Handler) queueAdmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	count := parseIntDefault(r.URL.Query().Get("count"), 10, 1000)
	admitted, err := h.Orchestrator.AdmitBatch(r.Context(), int64(count))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if admitted == nil {
		admitted = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"admitted": admitted, "count": len(admitted)})
}

func (h *Handler) queueClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if err := h.Queue.Clear(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "cleared"})
}

func (h *Handler) gateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	current, err := h.Gate.Current(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"current":    current,
		"threshold":  h.Gate.Threshold(),
		"overloaded": current >= h.Gate.Threshold(),
	})
}

func (h *Handler) deadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if h.Archive == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "dead-letter archive not configured"})
		return
	}
	filter := store.Filter{
		Topic:  r.URL.Query().Get("topic"),
		Limit:  parseIntDefault(r.URL.Query().Get("limit"), 100, 500),
		Offset: parseIntDefault(r.URL.Query().Get("offset"), 0, 1<<30),
	}
	rows, err := h.Archive.ListDeadLetters(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	total, err := h.Archive.CountDeadLetters(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total, "items": deadLetterViews(rows)})
}

func (h *Handler) deadLetterByToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if h.Archive == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "dead-letter archive not configured"})
		return
	}
	token := r.URL.Path[len("/api/deadletters/"):]
	if token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token required"})
		return
	}
	dl, err := h.Archive.GetDeadLetter(r.Context(), token)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, deadLetterView(dl))
}

type deadLetterJSON struct {
	Token         string          `json:"token"`
	OriginalTopic string          `json:"originalTopic"`
	FailureReason string          `json:"failureReason"`
	ExceptionType string          `json:"exceptionType"`
	RetryCount    int             `json:"retryCount"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	FailedAt      string          `json:"failedAt"`
	ArchivedAt    string          `json:"archivedAt"`
}

func deadLetterView(dl store.DeadLetter) deadLetterJSON {
	var payload json.RawMessage
	if json.Valid(dl.Payload) {
		payload = dl.Payload
	}
	return deadLetterJSON{
		Token:         dl.Token,
		OriginalTopic: dl.OriginalTopic,
		FailureReason: dl.FailureReason,
		ExceptionType: dl.ExceptionType,
		RetryCount:    dl.RetryCount,
		Payload:       payload,
		FailedAt:      dl.FailedAt.UTC().Format(time.RFC3339),
		ArchivedAt:    dl.ArchivedAt.UTC().Format(time.RFC3339),
	}
}

func deadLetterViews(rows []store.DeadLetter) []deadLetterJSON {
	out := make([]deadLetterJSON, 0, len(rows))
	for _, dl := range rows {
		out = append(out, deadLetterView(dl))
	}
	return out
}

func parseIntDefault(val string, def int, max int) int {
	if val == "" {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return def
	}
	if i > max {
		return max
	}
	return i
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
