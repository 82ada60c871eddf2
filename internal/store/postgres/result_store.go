package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/drawcore/internal/domain"
)

// ResultStore implements domain.ResultStore using PostgreSQL. Rows are
// insert-only; the primary key on period_key makes the first write win.
type ResultStore struct {
	pool *pgxpool.Pool
}

// NewResultStore creates a new ResultStore backed by the given connection pool.
func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

const resultSelectCols = `game_kind, duration_sec, timeline, period_id, outcome,
	attributes, branch, seed, protection_active, unique_users, liability,
	candidates_remaining, settled_at`

// Record inserts r. It returns domain.ErrAlreadyExists when the period already
// has a result.
func (s *ResultStore) Record(ctx context.Context, r domain.Result) error {
	attrs, err := json.Marshal(r.Attributes)
	if err != nil {
		return fmt.Errorf("postgres: marshal attributes: %w", err)
	}

	const query = `
		INSERT INTO results (
			period_key, game_kind, duration_sec, timeline, period_id,
			outcome, sum, sum_size, sum_parity, attributes,
			branch, seed, protection_active, unique_users, liability,
			candidates_remaining, settled_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17
		) ON CONFLICT (period_key) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		r.Period.Key(), string(r.Period.Kind), r.Period.DurationSec, r.Period.Timeline, r.Period.PeriodID,
		r.Outcome.String(), r.Attributes.Sum, string(r.Attributes.SumSize), string(r.Attributes.SumParity), attrs,
		r.Decision.Branch, r.Decision.Seed, r.Decision.ProtectionActive, r.Decision.UniqueUsers, r.Decision.Liability,
		r.Decision.CandidatesRemaining, r.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record result %s: %w: %w", r.Period, domain.ErrStateUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: result %s: %w", r.Period, domain.ErrAlreadyExists)
	}
	return nil
}

// Get returns the result of ref or domain.ErrNotFound.
func (s *ResultStore) Get(ctx context.Context, ref domain.PeriodRef) (domain.Result, error) {
	query := `SELECT ` + resultSelectCols + ` FROM results WHERE period_key = $1`
	r, err := scanResult(s.pool.QueryRow(ctx, query, ref.Key()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Result{}, fmt.Errorf("postgres: result %s: %w", ref, domain.ErrNotFound)
		}
		if errors.Is(err, domain.ErrInvariantViolation) {
			return domain.Result{}, err
		}
		return domain.Result{}, fmt.Errorf("postgres: get result %s: %w: %w", ref, domain.ErrStateUnavailable, err)
	}
	return r, nil
}

// ListRecent returns results newest first with optional kind and time filters.
func (s *ResultStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Result, error) {
	query := `SELECT ` + resultSelectCols + ` FROM results WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Kind != "" {
		query += fmt.Sprintf(" AND game_kind = $%d", argIdx)
		args = append(args, string(opts.Kind))
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND settled_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND settled_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY settled_at DESC, period_key DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.query(ctx, query, args...)
}

// ListBefore returns results settled before the cutoff, oldest first.
func (s *ResultStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Result, error) {
	query := `SELECT ` + resultSelectCols + ` FROM results WHERE settled_at < $1 ORDER BY settled_at ASC`
	return s.query(ctx, query, before)
}

func (s *ResultStore) query(ctx context.Context, query string, args ...any) ([]domain.Result, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list results: %w: %w", domain.ErrStateUnavailable, err)
	}
	defer rows.Close()

	var out []domain.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan result: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list results rows: %w", err)
	}
	return out, nil
}

// scanResult reads one row and re-checks the stored attributes against the
// digits. A mismatch is reported, never corrected.
func scanResult(row pgx.Row) (domain.Result, error) {
	var (
		r       domain.Result
		kind    string
		outcome string
		attrs   []byte
	)
	if err := row.Scan(
		&kind, &r.Period.DurationSec, &r.Period.Timeline, &r.Period.PeriodID, &outcome,
		&attrs, &r.Decision.Branch, &r.Decision.Seed, &r.Decision.ProtectionActive,
		&r.Decision.UniqueUsers, &r.Decision.Liability, &r.Decision.CandidatesRemaining, &r.SettledAt,
	); err != nil {
		return domain.Result{}, err
	}
	r.Period.Kind = domain.GameKind(kind)
	r.SettledAt = r.SettledAt.UTC()

	o, err := domain.ParseOutcome(outcome)
	if err != nil {
		return domain.Result{}, fmt.Errorf("%w: stored outcome %q: %v", domain.ErrInvariantViolation, outcome, err)
	}
	r.Outcome = o
	if err := json.Unmarshal(attrs, &r.Attributes); err != nil {
		return domain.Result{}, fmt.Errorf("%w: stored attributes: %v", domain.ErrInvariantViolation, err)
	}
	if err := r.Verify(); err != nil {
		return domain.Result{}, err
	}
	return r, nil
}

// Compile-time interface check.
var _ domain.ResultStore = (*ResultStore)(nil)
