package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cybercyphers/cyphbeta/internal/connection"
	"github.com/cybercyphers/cyphbeta/internal/periodic"
	"github.com/cybercyphers/cyphbeta/internal/scheduler"
)

type ConnectionStatus interface {
	Snapshot() connection.Session
}

type ScheduleLister interface {
	List(ctx context.Context, channel string) ([]scheduler.Record, error)
}

// Sweeper is the retention loop that can be paused from the API.
type Sweeper interface {
	Start() bool
	Stop() bool
	IsRunning() bool
	Status() periodic.Status
}

type Handler struct {
	conn      ConnectionStatus
	schedules ScheduleLister
	sweeper   Sweeper
}

func NewHandler(conn ConnectionStatus, schedules ScheduleLister, sweeper Sweeper) *Handler {
	return &Handler{conn: conn, schedules: schedules, sweeper: sweeper}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) Connection(w http.ResponseWriter, r *http.Request) {
	s := h.conn.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":    s.State.String(),
		"attempts": s.Attempts,
	})
}

type scheduleView struct {
	ID        string `json:"id"`
	Channel   string `json:"channel"`
	Message   string `json:"message"`
	TimeOfDay string `json:"time,omitempty"`
	FireAt    string `json:"fire_at"`
	Status    string `json:"status"`
}

func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 100)
	recs, err := h.schedules.List(r.Context(), r.URL.Query().Get("channel"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}

	items := make([]scheduleView, 0, len(recs))
	for _, rec := range recs {
		items = append(items, scheduleView{
			ID:        rec.ID,
			Channel:   rec.Target,
			Message:   rec.Payload,
			TimeOfDay: rec.TimeOfDay,
			FireAt:    rec.FireAt().UTC().Format(time.RFC3339),
			Status:    string(rec.Status),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) SweeperStatus(w http.ResponseWriter, r *http.Request) {
	st := h.sweeper.Status()
	body := map[string]any{
		"running":      st.Running,
		"passes":       st.Passes,
		"last_pruned":  st.LastCount,
		"pruned_total": st.Total,
	}
	if !st.LastRun.IsZero() {
		body["last_run"] = st.LastRun.UTC().Format(time.RFC3339)
	}
	if st.LastErr != "" {
		body["last_error"] = st.LastErr
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) SweeperStart(w http.ResponseWriter, r *http.Request) {
	h.sweeper.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sweeper.IsRunning()})
}

func (h *Handler) SweeperStop(w http.ResponseWriter, r *http.Request) {
	h.sweeper.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sweeper.IsRunning()})
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
