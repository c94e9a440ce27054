package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/wrenlabs/danmucap/monitor"
)

// StatusSource is the aggregate room view exposed over /status. Implemented
// by the orchestrator.
type StatusSource interface {
	Snapshot() []monitor.RoomSnapshot
}

// Handlers holds dependencies for all HTTP handlers. The db handle is nil
// when the Postgres sink is disabled.
type Handlers struct {
	status StatusSource
	db     *sql.DB
}

// NewHandlers creates a Handlers instance with the given dependencies.
func NewHandlers(status StatusSource, db *sql.DB) *Handlers {
	return &Handlers{status: status, db: db}
}

// HandleHealthz responds to liveness probes. With a database configured it
// also checks connectivity; without one the process being up is the answer.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probes with per-check detail.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.db == nil {
				return nil
			}
			return h.db.PingContext(r.Context())
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

type statusResponse struct {
	Time  time.Time              `json:"time"`
	Rooms []monitor.RoomSnapshot `json:"rooms"`
}

// HandleStatus returns the aggregate per-room snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	snaps := h.status.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statusResponse{Time: time.Now().UTC(), Rooms: snaps})
}
