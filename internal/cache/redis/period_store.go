package redis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/drawcore/internal/domain"
)

var (
	//go:embed scripts/open_period.lua
	openPeriodLua string
	//go:embed scripts/record_bet.lua
	recordBetLua string
	//go:embed scripts/transition.lua
	transitionLua string
)

// PeriodStore implements domain.PeriodStore. Every mutation is a single Lua
// script, so the state check, the ledger increment, the user set and the
// candidate exclusion of one bet are applied atomically.
//
// Keys share a hash tag per period so the scripts also work on a cluster:
//
//	period:{<key>}:meta      hash   state, bets, opened_at, ttl
//	period:{<key>}:exposure  hash   predicate -> liability
//	period:{<key>}:users     set    user ids
//	period:{<key>}:excl      string exclusion bitmap
//	period:{<key>}:bet_ids   set    recorded bet ids
type PeriodStore struct {
	rdb        *redis.Client
	open       *redis.Script
	record     *redis.Script
	transition *redis.Script
}

// NewPeriodStore creates a PeriodStore backed by the given Client.
func NewPeriodStore(c *Client) *PeriodStore {
	return &PeriodStore{
		rdb:        c.Underlying(),
		open:       redis.NewScript(openPeriodLua),
		record:     redis.NewScript(recordBetLua),
		transition: redis.NewScript(transitionLua),
	}
}

func periodKey(key, part string) string {
	return "period:{" + key + "}:" + part
}

// unavailable marks a driver failure so selection fails closed.
func unavailable(op, key string, err error) error {
	return fmt.Errorf("redis: %s %s: %w: %w", op, key, domain.ErrStateUnavailable, err)
}

func (s *PeriodStore) Open(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	created, err := s.open.Run(ctx, s.rdb,
		[]string{periodKey(key, "meta")},
		time.Now().UnixMilli(), ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, unavailable("open", key, err)
	}
	return created == 1, nil
}

func (s *PeriodStore) Meta(ctx context.Context, key string) (domain.PeriodMeta, error) {
	vals, err := s.rdb.HGetAll(ctx, periodKey(key, "meta")).Result()
	if err != nil {
		return domain.PeriodMeta{}, unavailable("meta", key, err)
	}
	if len(vals) == 0 {
		return domain.PeriodMeta{}, fmt.Errorf("redis: period %s: %w", key, domain.ErrNotFound)
	}
	bets, _ := strconv.ParseInt(vals["bets"], 10, 64)
	opened, _ := strconv.ParseInt(vals["opened_at"], 10, 64)
	return domain.PeriodMeta{
		State:    domain.PeriodState(vals["state"]),
		Bets:     bets,
		OpenedAt: opened,
	}, nil
}

func (s *PeriodStore) Transition(ctx context.Context, key string, from, to domain.PeriodState) error {
	res, err := s.transition.Run(ctx, s.rdb,
		[]string{periodKey(key, "meta")},
		string(from), string(to),
	).Int64()
	if err != nil {
		return unavailable("transition", key, err)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return fmt.Errorf("redis: period %s is not %s: %w", key, from, domain.ErrInvalidTransition)
	default:
		return fmt.Errorf("redis: period %s: %w", key, domain.ErrNotFound)
	}
}

func (s *PeriodStore) Record(ctx context.Context, key string, u domain.LiabilityUpdate) error {
	res, err := s.record.Run(ctx, s.rdb,
		[]string{
			periodKey(key, "meta"),
			periodKey(key, "exposure"),
			periodKey(key, "users"),
			periodKey(key, "excl"),
			periodKey(key, "excl:in"),
			periodKey(key, "bet_ids"),
		},
		u.UserID, u.PredicateKey, u.Liability, u.Exclusion, u.BetID,
	).Int64()
	if err != nil {
		return unavailable("record", key, err)
	}
	switch res {
	case 1:
		return nil
	case 2:
		return fmt.Errorf("redis: period %s bet %s: %w", key, u.BetID, domain.ErrAlreadyExists)
	case 0:
		return fmt.Errorf("redis: period %s: %w", key, domain.ErrPeriodClosed)
	default:
		return fmt.Errorf("redis: period %s: %w", key, domain.ErrNotFound)
	}
}

func (s *PeriodStore) Exposure(ctx context.Context, key string) (map[string]int64, error) {
	vals, err := s.rdb.HGetAll(ctx, periodKey(key, "exposure")).Result()
	if err != nil {
		return nil, unavailable("exposure", key, err)
	}
	out := make(map[string]int64, len(vals))
	for k, v := range vals {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: exposure %s field %s = %q", domain.ErrInvariantViolation, key, k, v)
		}
		out[k] = n
	}
	return out, nil
}

func (s *PeriodStore) UniqueUsers(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.SCard(ctx, periodKey(key, "users")).Result()
	if err != nil {
		return 0, unavailable("users", key, err)
	}
	return n, nil
}

func (s *PeriodStore) Exclusions(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, periodKey(key, "excl")).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, unavailable("exclusions", key, err)
	}
	return b, nil
}

func (s *PeriodStore) DropExclusions(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, periodKey(key, "excl")).Err(); err != nil {
		return unavailable("drop exclusions", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PeriodStore = (*PeriodStore)(nil)
