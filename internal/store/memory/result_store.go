// Package memory implements the domain store interfaces in process memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/drawcore/internal/domain"
)

// ResultStore is an in-memory implementation of domain.ResultStore.
type ResultStore struct {
	mu   sync.RWMutex
	data map[string]domain.Result // keyed by PeriodRef.Key
}

// NewResultStore creates an empty ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{data: make(map[string]domain.Result)}
}

// Record stores r. Returns ErrAlreadyExists if the period has a result.
func (s *ResultStore) Record(_ context.Context, r domain.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.Period.Key()
	if _, exists := s.data[key]; exists {
		return fmt.Errorf("memory: result %s: %w", key, domain.ErrAlreadyExists)
	}
	s.data[key] = r
	return nil
}

func (s *ResultStore) Get(_ context.Context, ref domain.PeriodRef) (domain.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data[ref.Key()]
	if !ok {
		return domain.Result{}, fmt.Errorf("memory: result %s: %w", ref, domain.ErrNotFound)
	}
	return r, nil
}

// ListRecent returns results newest first.
func (s *ResultStore) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.Result, error) {
	s.mu.RLock()
	var out []domain.Result
	for _, r := range s.data {
		if opts.Kind != "" && r.Period.Kind != opts.Kind {
			continue
		}
		if opts.Since != nil && r.SettledAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && r.SettledAt.After(*opts.Until) {
			continue
		}
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SettledAt.Equal(out[j].SettledAt) {
			return out[i].SettledAt.After(out[j].SettledAt)
		}
		return out[i].Period.Key() > out[j].Period.Key()
	})
	return paginate(out, opts), nil
}

// ListBefore returns results settled strictly before the cutoff, oldest first.
func (s *ResultStore) ListBefore(_ context.Context, before time.Time) ([]domain.Result, error) {
	s.mu.RLock()
	var out []domain.Result
	for _, r := range s.data {
		if r.SettledAt.Before(before) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SettledAt.Before(out[j].SettledAt) })
	return out, nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

var _ domain.ResultStore = (*ResultStore)(nil)
