// Package handler serves the drawcore HTTP API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/drawcore/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPeriodClosed), errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStateUnavailable), errors.Is(err, domain.ErrLockHeld):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// parseListOpts extracts pagination and filters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: 50}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if opts.Limit > 500 {
		opts.Limit = 500
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.Offset = n
		}
	}
	if v := q.Get("game_kind"); v != "" {
		kind, err := domain.ParseGameKind(v)
		if err != nil {
			return opts, err
		}
		opts.Kind = kind
	}
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, errors.Join(domain.ErrValidation, err)
		}
		*dst = &t
	}
	return opts, nil
}

// periodRef reads {kind}/{duration}/{timeline}/{period} from the path.
func periodRef(r *http.Request) (domain.PeriodRef, error) {
	kind, err := domain.ParseGameKind(r.PathValue("kind"))
	if err != nil {
		return domain.PeriodRef{}, err
	}
	dur, err := strconv.Atoi(r.PathValue("duration"))
	if err != nil {
		return domain.PeriodRef{}, errors.Join(domain.ErrValidation, err)
	}
	ref := domain.PeriodRef{
		Kind:        kind,
		DurationSec: dur,
		Timeline:    r.PathValue("timeline"),
		PeriodID:    r.PathValue("period"),
	}
	return ref, ref.Validate()
}
