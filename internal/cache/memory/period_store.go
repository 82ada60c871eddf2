// Package memory implements the domain cache interfaces in process memory for
// single-node runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/drawcore/internal/domain"
)

type period struct {
	meta      domain.PeriodMeta
	ttl       time.Duration
	expiresAt time.Time
	exposure  map[string]int64
	users     map[string]struct{}
	betIDs    map[string]struct{}
	excl      []byte
}

// PeriodStore is an in-memory implementation of domain.PeriodStore. A single
// mutex serialises every operation, which gives each call the same atomicity
// as the Lua scripts of the redis store.
type PeriodStore struct {
	mu      sync.Mutex
	periods map[string]*period
	now     func() time.Time
}

// NewPeriodStore creates an empty PeriodStore.
func NewPeriodStore() *PeriodStore {
	return &PeriodStore{
		periods: make(map[string]*period),
		now:     time.Now,
	}
}

// get returns the live period, evicting it when the retention has passed.
// Callers must hold mu.
func (s *PeriodStore) get(key string) (*period, bool) {
	p, ok := s.periods[key]
	if !ok {
		return nil, false
	}
	if !p.expiresAt.IsZero() && !s.now().Before(p.expiresAt) {
		delete(s.periods, key)
		return nil, false
	}
	return p, true
}

func (s *PeriodStore) Open(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.get(key); ok {
		return false, nil
	}
	now := s.now()
	p := &period{
		meta:     domain.PeriodMeta{State: domain.PeriodOpen, OpenedAt: now.UnixMilli()},
		ttl:      ttl,
		exposure: make(map[string]int64),
		users:    make(map[string]struct{}),
		betIDs:   make(map[string]struct{}),
	}
	if ttl > 0 {
		p.expiresAt = now.Add(ttl)
	}
	s.periods[key] = p
	return true, nil
}

func (s *PeriodStore) Meta(_ context.Context, key string) (domain.PeriodMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.get(key)
	if !ok {
		return domain.PeriodMeta{}, fmt.Errorf("memory: period %s: %w", key, domain.ErrNotFound)
	}
	return p.meta, nil
}

func (s *PeriodStore) Transition(_ context.Context, key string, from, to domain.PeriodState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.get(key)
	if !ok {
		return fmt.Errorf("memory: period %s: %w", key, domain.ErrNotFound)
	}
	if p.meta.State != from {
		return fmt.Errorf("memory: period %s is %s, not %s: %w", key, p.meta.State, from, domain.ErrInvalidTransition)
	}
	p.meta.State = to
	return nil
}

func (s *PeriodStore) Record(_ context.Context, key string, u domain.LiabilityUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.get(key)
	if !ok {
		return fmt.Errorf("memory: period %s: %w", key, domain.ErrNotFound)
	}
	if _, dup := p.betIDs[u.BetID]; dup && u.BetID != "" {
		return fmt.Errorf("memory: period %s bet %s: %w", key, u.BetID, domain.ErrAlreadyExists)
	}
	if p.meta.State != domain.PeriodOpen {
		return fmt.Errorf("memory: period %s is %s: %w", key, p.meta.State, domain.ErrPeriodClosed)
	}
	if u.BetID != "" {
		p.betIDs[u.BetID] = struct{}{}
	}

	p.exposure[u.PredicateKey] += u.Liability
	p.users[u.UserID] = struct{}{}
	p.meta.Bets++
	if len(u.Exclusion) > 0 {
		if len(p.excl) < len(u.Exclusion) {
			grown := make([]byte, len(u.Exclusion))
			copy(grown, p.excl)
			p.excl = grown
		}
		for i, b := range u.Exclusion {
			p.excl[i] |= b
		}
	}
	return nil
}

func (s *PeriodStore) Exposure(_ context.Context, key string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64)
	if p, ok := s.get(key); ok {
		for k, v := range p.exposure {
			out[k] = v
		}
	}
	return out, nil
}

func (s *PeriodStore) UniqueUsers(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.get(key); ok {
		return int64(len(p.users)), nil
	}
	return 0, nil
}

func (s *PeriodStore) Exclusions(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.get(key)
	if !ok || len(p.excl) == 0 {
		return nil, nil
	}
	out := make([]byte, len(p.excl))
	copy(out, p.excl)
	return out, nil
}

func (s *PeriodStore) DropExclusions(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.get(key); ok {
		p.excl = nil
	}
	return nil
}

var _ domain.PeriodStore = (*PeriodStore)(nil)
