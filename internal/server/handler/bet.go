package handler

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/alanyoungcy/drawcore/internal/service"
)

//go:embed schemas/place_bet.json
var placeBetSchema string

const maxBetBody = 16 << 10

// BetService defines what the bet handler needs from the service layer.
type BetService interface {
	PlaceBet(ctx context.Context, req service.PlaceBetRequest) (service.PlaceBetResponse, error)
}

// BetHandler serves bet ingestion.
type BetHandler struct {
	bets   BetService
	schema *jsonschema.Schema
	logger *slog.Logger
}

// NewBetHandler compiles the request schema and creates a BetHandler.
func NewBetHandler(bets BetService, logger *slog.Logger) (*BetHandler, error) {
	schema, err := compileSchema("place_bet.json", placeBetSchema)
	if err != nil {
		return nil, err
	}
	return &BetHandler{bets: bets, schema: schema, logger: logger}, nil
}

func compileSchema(name, src string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("handler: add schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("handler: compile schema %s: %w", name, err)
	}
	return schema, nil
}

// PlaceBet records an already-debited bet.
// POST /api/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBetBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":   "request does not match schema",
				"details": verr.BasicOutput().Errors,
			})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req service.PlaceBetRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.bets.PlaceBet(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: place bet failed", slog.String("error", err.Error()))
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}
