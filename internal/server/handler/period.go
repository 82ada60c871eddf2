package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/drawcore/internal/domain"
	"github.com/alanyoungcy/drawcore/internal/service"
)

// MonitorService defines the read side the period handler requires.
type MonitorService interface {
	Exposure(ctx context.Context, ref domain.PeriodRef) (domain.ExposureSnapshot, error)
	Status(ctx context.Context, ref domain.PeriodRef) (service.PeriodStatus, error)
	Candidates(ctx context.Context, ref domain.PeriodRef, limit int) (service.CandidateView, error)
	Result(ctx context.Context, ref domain.PeriodRef) (domain.Result, error)
	RecentResults(ctx context.Context, opts domain.ListOpts) ([]domain.Result, error)
}

// PeriodHandler serves the monitoring views of periods and results.
type PeriodHandler struct {
	monitor MonitorService
	logger  *slog.Logger
}

// NewPeriodHandler creates a PeriodHandler.
func NewPeriodHandler(monitor MonitorService, logger *slog.Logger) *PeriodHandler {
	return &PeriodHandler{monitor: monitor, logger: logger}
}

func (h *PeriodHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
	}
	writeError(w, status, err.Error())
}

// GetStatus returns a period's state and participation.
// GET /api/periods/{kind}/{duration}/{timeline}/{period}
func (h *PeriodHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ref, err := periodRef(r)
	if err != nil {
		h.fail(w, r, "period status", err)
		return
	}
	st, err := h.monitor.Status(r.Context(), ref)
	if err != nil {
		h.fail(w, r, "period status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetExposure returns the exposure ledger snapshot.
// GET /api/periods/{kind}/{duration}/{timeline}/{period}/exposure
func (h *PeriodHandler) GetExposure(w http.ResponseWriter, r *http.Request) {
	ref, err := periodRef(r)
	if err != nil {
		h.fail(w, r, "exposure", err)
		return
	}
	snap, err := h.monitor.Exposure(r.Context(), ref)
	if err != nil {
		h.fail(w, r, "exposure", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetCandidates returns candidate set statistics and, with ?members=N, the
// first N remaining outcomes.
// GET /api/periods/{kind}/{duration}/{timeline}/{period}/candidates
func (h *PeriodHandler) GetCandidates(w http.ResponseWriter, r *http.Request) {
	ref, err := periodRef(r)
	if err != nil {
		h.fail(w, r, "candidates", err)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("members"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	view, err := h.monitor.Candidates(r.Context(), ref, limit)
	if err != nil {
		h.fail(w, r, "candidates", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetResult returns the settled result.
// GET /api/periods/{kind}/{duration}/{timeline}/{period}/result
func (h *PeriodHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	ref, err := periodRef(r)
	if err != nil {
		h.fail(w, r, "result", err)
		return
	}
	res, err := h.monitor.Result(r.Context(), ref)
	if err != nil {
		h.fail(w, r, "result", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// listResultsResponse wraps the recent results response.
type listResultsResponse struct {
	Results []domain.Result `json:"results"`
}

// ListRecentResults lists settled results newest first.
// GET /api/results/recent?game_kind=...&since=...&limit=50&offset=0
func (h *PeriodHandler) ListRecentResults(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		h.fail(w, r, "recent results", err)
		return
	}
	results, err := h.monitor.RecentResults(r.Context(), opts)
	if err != nil {
		h.fail(w, r, "recent results", err)
		return
	}
	writeJSON(w, http.StatusOK, listResultsResponse{Results: results})
}
