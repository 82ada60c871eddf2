package service

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/drawcore/internal/domain"
	"github.com/alanyoungcy/drawcore/internal/exposure"
)

// maxMembers caps how many candidate outcomes a single request may list.
const maxMembers = 1000

// PeriodStatus is the participation view of one period.
type PeriodStatus struct {
	Period           domain.PeriodRef   `json:"period"`
	State            domain.PeriodState `json:"state"`
	Bets             int64              `json:"bets"`
	UniqueUsers      int64              `json:"unique_users"`
	Threshold        int64              `json:"threshold"`
	ProtectionActive bool               `json:"protection_active"`
}

// CandidateView is the candidate set statistics plus a prefix of its members.
type CandidateView struct {
	domain.CandidateStats
	Members []domain.Outcome `json:"members,omitempty"`
}

// MonitorService serves read-only views of live periods and settled results.
type MonitorService struct {
	ledger     *exposure.Ledger
	candidates *exposure.CandidateTracker
	gate       *exposure.Gate
	results    domain.ResultStore
}

// NewMonitorService creates a MonitorService.
func NewMonitorService(
	ledger *exposure.Ledger,
	candidates *exposure.CandidateTracker,
	gate *exposure.Gate,
	results domain.ResultStore,
) *MonitorService {
	return &MonitorService{
		ledger:     ledger,
		candidates: candidates,
		gate:       gate,
		results:    results,
	}
}

// Exposure returns the ledger snapshot of a period.
func (s *MonitorService) Exposure(ctx context.Context, ref domain.PeriodRef) (domain.ExposureSnapshot, error) {
	if err := ref.Validate(); err != nil {
		return domain.ExposureSnapshot{}, err
	}
	snap, err := s.ledger.Snapshot(ctx, ref)
	if err != nil {
		return domain.ExposureSnapshot{}, fmt.Errorf("monitor_service: exposure: %w", err)
	}
	return snap, nil
}

// Status returns the state and participation of a period.
func (s *MonitorService) Status(ctx context.Context, ref domain.PeriodRef) (PeriodStatus, error) {
	snap, err := s.Exposure(ctx, ref)
	if err != nil {
		return PeriodStatus{}, err
	}
	return PeriodStatus{
		Period:           ref,
		State:            snap.State,
		Bets:             snap.Bets,
		UniqueUsers:      snap.UniqueUsers,
		Threshold:        s.gate.Threshold(),
		ProtectionActive: snap.UniqueUsers < s.gate.Threshold(),
	}, nil
}

// Candidates returns the candidate set statistics and up to limit members in
// canonical order. Untracked game kinds report Tracked=false and no members.
func (s *MonitorService) Candidates(ctx context.Context, ref domain.PeriodRef, limit int) (CandidateView, error) {
	if err := ref.Validate(); err != nil {
		return CandidateView{}, err
	}
	stats, err := s.candidates.Stats(ctx, ref)
	if err != nil {
		return CandidateView{}, fmt.Errorf("monitor_service: candidates: %w", err)
	}
	view := CandidateView{CandidateStats: stats}
	if !stats.Tracked || limit <= 0 {
		return view, nil
	}
	if limit > maxMembers {
		limit = maxMembers
	}
	view.Members, err = s.candidates.Members(ctx, ref, limit)
	if err != nil {
		return CandidateView{}, fmt.Errorf("monitor_service: candidate members: %w", err)
	}
	return view, nil
}

// Result returns the stored result of a settled period.
func (s *MonitorService) Result(ctx context.Context, ref domain.PeriodRef) (domain.Result, error) {
	if err := ref.Validate(); err != nil {
		return domain.Result{}, err
	}
	r, err := s.results.Get(ctx, ref)
	if err != nil {
		return domain.Result{}, fmt.Errorf("monitor_service: result %s: %w", ref, err)
	}
	return r, nil
}

// RecentResults lists settled results newest first.
func (s *MonitorService) RecentResults(ctx context.Context, opts domain.ListOpts) ([]domain.Result, error) {
	out, err := s.results.ListRecent(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("monitor_service: recent results: %w", err)
	}
	if out == nil {
		out = []domain.Result{}
	}
	return out, nil
}
