package handler

import (
	"net/http"
	"time"
)

// LaneInfo describes one scheduled lane.
type LaneInfo struct {
	GameKind     string `json:"game_kind"`
	DurationSec  int    `json:"duration_sec"`
	Timeline     string `json:"timeline"`
	FreezeBefore string `json:"freeze_before"`
}

// SchedulerInfo reports the scheduler's lanes and backlog. It is nil in
// server-only mode.
type SchedulerInfo interface {
	LaneInfo() []LaneInfo
	Pending() int
}

// StatusHandler serves the process status.
type StatusHandler struct {
	Mode      string
	Backend   string
	StartedAt time.Time
	Scheduler SchedulerInfo
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode, backend string, scheduler SchedulerInfo) *StatusHandler {
	return &StatusHandler{Mode: mode, Backend: backend, StartedAt: time.Now().UTC(), Scheduler: scheduler}
}

// GetStatus responds with the mode, store backend and scheduler state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":           h.Mode,
		"backend":        h.Backend,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	}
	if h.Scheduler != nil {
		body["lanes"] = h.Scheduler.LaneInfo()
		body["pending_periods"] = h.Scheduler.Pending()
	}
	writeJSON(w, http.StatusOK, body)
}
