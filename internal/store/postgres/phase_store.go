package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mintforge/dropmarket/internal/domain"
)

// PhaseStore implements domain.PhaseStore using PostgreSQL. The
// phases_single_active partial unique index backstops the one-active-phase
// invariant; version predicates make every update a compare-and-swap.
type PhaseStore struct {
	pool *pgxpool.Pool
}

// NewPhaseStore creates a PhaseStore backed by the given connection pool.
func NewPhaseStore(pool *pgxpool.Pool) *PhaseStore {
	return &PhaseStore{pool: pool}
}

const phaseSelectCols = `id, phase_index, rate_cents, capacity, sold,
	start_time, duration_seconds, paused_total_ns,
	is_active, is_paused, paused_at, increase_percent_at_creation,
	version, created_at`

func scanPhase(scanner interface{ Scan(dest ...any) error }) (domain.Phase, error) {
	var p domain.Phase
	var rate, durationSec, pausedNs int64
	var startTime *time.Time

	err := scanner.Scan(
		&p.ID, &p.Index, &rate, &p.Capacity, &p.Sold,
		&startTime, &durationSec, &pausedNs,
		&p.Active, &p.Paused, &p.PausedAt, &p.IncreasePercent,
		&p.Version, &p.CreatedAt,
	)
	if err != nil {
		return domain.Phase{}, err
	}

	p.RateCents = domain.Cents(rate)
	p.Duration = time.Duration(durationSec) * time.Second
	// Stored as nanoseconds; a pause ended mid-second must keep its
	// full credit or the countdown drifts on every re-read.
	p.PausedTotal = time.Duration(pausedNs)
	if startTime != nil {
		p.StartTime = *startTime
	}
	return p, nil
}

// CreateBatch inserts the schedule skeleton. Called once at catalog setup.
func (s *PhaseStore) CreateBatch(ctx context.Context, phases []domain.Phase) error {
	if len(phases) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin phase batch: %w", err)
	}
	defer tx.Rollback(ctx)

	const query = `
		INSERT INTO phases (
			id, phase_index, rate_cents, capacity, duration_seconds,
			increase_percent_at_creation, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())`

	for _, p := range phases {
		if _, err := tx.Exec(ctx, query,
			p.ID, p.Index, int64(p.RateCents), p.Capacity,
			int64(p.Duration/time.Second), p.IncreasePercent,
		); err != nil {
			return fmt.Errorf("postgres: insert phase %d: %w", p.Index, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit phase batch: %w", err)
	}
	return nil
}

// List returns the full schedule in index order.
func (s *PhaseStore) List(ctx context.Context) ([]domain.Phase, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+phaseSelectCols+` FROM phases ORDER BY phase_index`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list phases: %w", err)
	}
	defer rows.Close()

	var phases []domain.Phase
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan phase: %w", err)
		}
		phases = append(phases, p)
	}
	return phases, rows.Err()
}

// GetByID retrieves a single phase.
func (s *PhaseStore) GetByID(ctx context.Context, id string) (domain.Phase, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+phaseSelectCols+` FROM phases WHERE id = $1`, id)
	return s.one(row, "get phase "+id)
}

// GetByIndex retrieves a phase by its schedule position.
func (s *PhaseStore) GetByIndex(ctx context.Context, index int) (domain.Phase, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+phaseSelectCols+` FROM phases WHERE phase_index = $1`, index)
	return s.one(row, fmt.Sprintf("get phase index %d", index))
}

// Active returns the single active phase, or domain.ErrNotFound.
func (s *PhaseStore) Active(ctx context.Context) (domain.Phase, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+phaseSelectCols+` FROM phases WHERE is_active`)
	return s.one(row, "get active phase")
}

// NextAfter returns the lowest-index never-activated phase above index.
func (s *PhaseStore) NextAfter(ctx context.Context, index int) (domain.Phase, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+phaseSelectCols+` FROM phases
		 WHERE phase_index > $1 AND start_time IS NULL
		 ORDER BY phase_index LIMIT 1`, index)
	return s.one(row, fmt.Sprintf("next phase after %d", index))
}

func (s *PhaseStore) one(row pgx.Row, op string) (domain.Phase, error) {
	p, err := scanPhase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Phase{}, domain.ErrNotFound
		}
		return domain.Phase{}, fmt.Errorf("postgres: %s: %w", op, err)
	}
	return p, nil
}

const phaseUpdateSQL = `
	UPDATE phases SET
		sold = $2, start_time = $3, paused_total_ns = $4,
		is_active = $5, is_paused = $6, paused_at = $7,
		version = version + 1
	WHERE id = $1 AND version = $8`

func phaseUpdateArgs(p domain.Phase) []any {
	var startTime *time.Time
	if !p.StartTime.IsZero() {
		t := p.StartTime
		startTime = &t
	}
	return []any{
		p.ID, p.Sold, startTime, int64(p.PausedTotal),
		p.Active, p.Paused, p.PausedAt, p.Version,
	}
}

// Update writes the mutable fields guarded by p.Version. A missed guard
// (someone else updated the row first) returns domain.ErrConflict.
func (s *PhaseStore) Update(ctx context.Context, p domain.Phase) error {
	tag, err := s.pool.Exec(ctx, phaseUpdateSQL, phaseUpdateArgs(p)...)
	if err != nil {
		return fmt.Errorf("postgres: update phase %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// Swap deactivates cur (when non-nil) and activates next in one transaction.
// Both writes are version-guarded; either guard missing aborts the whole
// swap with domain.ErrConflict.
func (s *PhaseStore) Swap(ctx context.Context, cur *domain.Phase, next domain.Phase) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin phase swap: %w", err)
	}
	defer tx.Rollback(ctx)

	if cur != nil {
		tag, err := tx.Exec(ctx, phaseUpdateSQL, phaseUpdateArgs(*cur)...)
		if err != nil {
			return fmt.Errorf("postgres: deactivate phase %s: %w", cur.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrConflict
		}
	}

	tag, err := tx.Exec(ctx, phaseUpdateSQL, phaseUpdateArgs(next)...)
	if err != nil {
		return fmt.Errorf("postgres: activate phase %s: %w", next.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit phase swap: %w", err)
	}
	return nil
}

const increasePercentKey = "increase_percent"

// IncreasePercent reads the durably stored global increase percent.
// domain.ErrNotFound means no rate change has ever been recorded and the
// caller should fall back to its configured default.
func (s *PhaseStore) IncreasePercent(ctx context.Context) (float64, error) {
	var raw string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM settings WHERE key = $1`, increasePercentKey,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: read increase percent: %w", err)
	}
	percent, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("postgres: parse increase percent %q: %w", raw, err)
	}
	return percent, nil
}

// SetIncreasePercent upserts the global increase percent settings row.
func (s *PhaseStore) SetIncreasePercent(ctx context.Context, percent float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		increasePercentKey, strconv.FormatFloat(percent, 'g', -1, 64),
	)
	if err != nil {
		return fmt.Errorf("postgres: set increase percent: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PhaseStore = (*PhaseStore)(nil)
