// Package service adapts wire requests to the period manager and the exposure
// read models.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/drawcore/internal/domain"
	"github.com/alanyoungcy/drawcore/internal/exposure"
	"github.com/alanyoungcy/drawcore/internal/outcome"
)

// BetRecorder is the slice of the period manager used for ingestion.
type BetRecorder interface {
	PlaceBet(ctx context.Context, ref domain.PeriodRef, bet exposure.Bet) (int64, error)
}

// PlaceBetRequest is an already-debited bet as received from the wallet side.
// BetID is the idempotency key: resending a request with the same id records
// the bet only once. Requests without one are assigned a fresh id and must not
// be retried.
type PlaceBetRequest struct {
	BetID       string `json:"bet_id,omitempty"`
	GameKind    string `json:"game_kind"`
	DurationSec int    `json:"duration_sec"`
	Timeline    string `json:"timeline"`
	PeriodID    string `json:"period_id"`
	UserID      string `json:"user_id"`
	BetType     string `json:"bet_type"`
	BetValue    string `json:"bet_value"`
	Stake       int64  `json:"stake"`
	Multiplier  string `json:"multiplier"`
}

// PlaceBetResponse acknowledges a recorded bet.
type PlaceBetResponse struct {
	BetID     string           `json:"bet_id"`
	Period    domain.PeriodRef `json:"period"`
	Predicate string           `json:"predicate"`
	Liability int64            `json:"liability"`
}

// BetService turns wire bets into ledger entries.
type BetService struct {
	recorder BetRecorder
	logger   *slog.Logger
}

// NewBetService creates a BetService.
func NewBetService(recorder BetRecorder, logger *slog.Logger) *BetService {
	return &BetService{
		recorder: recorder,
		logger:   logger.With(slog.String("component", "bet_service")),
	}
}

// PlaceBet parses the request and records it. Parse failures are
// ErrValidation; a period that is no longer open yields ErrPeriodClosed.
func (s *BetService) PlaceBet(ctx context.Context, req PlaceBetRequest) (PlaceBetResponse, error) {
	ref, bet, err := s.parse(req)
	if err != nil {
		return PlaceBetResponse{}, err
	}

	liability, err := s.recorder.PlaceBet(ctx, ref, bet)
	if err != nil {
		return PlaceBetResponse{}, fmt.Errorf("bet_service: place bet %s: %w", bet.ID, err)
	}

	s.logger.DebugContext(ctx, "bet recorded",
		slog.String("bet_id", bet.ID),
		slog.String("period", ref.Key()),
		slog.String("predicate", bet.Predicate.Key()),
		slog.Int64("liability", liability),
	)
	return PlaceBetResponse{
		BetID:     bet.ID,
		Period:    ref,
		Predicate: bet.Predicate.Key(),
		Liability: liability,
	}, nil
}

func (s *BetService) parse(req PlaceBetRequest) (domain.PeriodRef, exposure.Bet, error) {
	kind, err := domain.ParseGameKind(req.GameKind)
	if err != nil {
		return domain.PeriodRef{}, exposure.Bet{}, err
	}
	ref := domain.PeriodRef{
		Kind:        kind,
		DurationSec: req.DurationSec,
		Timeline:    req.Timeline,
		PeriodID:    req.PeriodID,
	}
	if err := ref.Validate(); err != nil {
		return ref, exposure.Bet{}, err
	}

	pred, err := outcome.ParsePredicate(kind, req.BetType, req.BetValue)
	if err != nil {
		return ref, exposure.Bet{}, err
	}

	mult, err := decimal.NewFromString(strings.TrimSpace(req.Multiplier))
	if err != nil {
		return ref, exposure.Bet{}, fmt.Errorf("%w: bad multiplier %q", domain.ErrValidation, req.Multiplier)
	}

	id := req.BetID
	if id == "" {
		id = uuid.NewString()
	}
	return ref, exposure.Bet{
		ID:         id,
		UserID:     req.UserID,
		Predicate:  pred,
		Stake:      req.Stake,
		Multiplier: mult,
	}, nil
}
