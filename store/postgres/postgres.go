/*
Package postgres implements the engine's storage on PostgreSQL via pgxpool.

PURPOSE:
  Production backend for multi-instance deployments. Same contract as
  store/sqlite: generic.Store for the earnings ledger, engine.Store for the
  rest.

CONCURRENCY:
  WithTx runs at SERIALIZABLE isolation. Two deposit transactions for the
  same agent and day that both read the cumulative total cannot both
  commit; the loser fails with SQLSTATE 40001, reported as
  generic.ErrConcurrentModification, and the engine retries it. Unique
  violations (23505) on idempotency keys become ErrDuplicateIdempotencyKey.

TYPES:
  Money is NUMERIC, sent and read as text so no precision is lost between
  decimal.Decimal and the database. Times are TIMESTAMPTZ.
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/umbra/earnings-engine/bonus"
	"github.com/umbra/earnings-engine/engine"
	"github.com/umbra/earnings-engine/generic"
	"github.com/umbra/earnings-engine/shifts"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
	q    querier
	tx   pgx.Tx
}

var (
	_ generic.Store = (*Store)(nil)
	_ engine.Store  = (*Store)(nil)
)

// New connects, pings and migrates.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{pool: pool, q: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS earnings (
		id TEXT PRIMARY KEY,
		processor_id TEXT NOT NULL,
		earning_type TEXT NOT NULL,
		effective_at TIMESTAMPTZ NOT NULL,
		amount_value NUMERIC NOT NULL,
		amount_unit TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		metadata_json JSONB,
		created_by TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_earnings_processor_date ON earnings(processor_id, effective_at)`,
	`CREATE TABLE IF NOT EXISTS processors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bonus_grid_tiers (
		id TEXT PRIMARY KEY,
		min_amount NUMERIC NOT NULL,
		max_amount NUMERIC,
		bonus_percentage NUMERIC NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS monthly_bonus_tiers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		min_amount NUMERIC NOT NULL,
		bonus_percent NUMERIC NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS salary_settings (
		id TEXT PRIMARY KEY,
		hourly_rate NUMERIC NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS deposits (
		id TEXT PRIMARY KEY,
		processor_id TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		currency TEXT NOT NULL,
		base_amount NUMERIC NOT NULL,
		bonus_amount NUMERIC NOT NULL,
		applied_tier_id TEXT,
		status TEXT NOT NULL DEFAULT 'RECORDED',
		void_reason TEXT,
		voided_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deposits_processor_date ON deposits(processor_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS bonus_payments (
		id TEXT PRIMARY KEY,
		processor_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		status TEXT NOT NULL,
		hold_until TIMESTAMPTZ NOT NULL,
		period TEXT NOT NULL,
		burn_reason TEXT,
		source_id TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bonus_payments_status_hold ON bonus_payments(status, hold_until)`,
	`CREATE INDEX IF NOT EXISTS idx_bonus_payments_processor_period ON bonus_payments(processor_id, period)`,
	`CREATE TABLE IF NOT EXISTS shifts (
		id TEXT PRIMARY KEY,
		processor_id TEXT NOT NULL,
		shift_type TEXT NOT NULL,
		scheduled_start TIMESTAMPTZ NOT NULL,
		scheduled_end TIMESTAMPTZ NOT NULL,
		actual_start TIMESTAMPTZ,
		actual_end TIMESTAMPTZ,
		status TEXT NOT NULL,
		notes_json JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_shifts_status_end ON shifts(status, scheduled_end)`,
	`CREATE INDEX IF NOT EXISTS idx_shifts_processor_start ON shifts(processor_id, scheduled_start)`,
	`CREATE TABLE IF NOT EXISTS batch_runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		trigger_source TEXT,
		processed INTEGER DEFAULT 0,
		changed INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		error TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(tx engine.Store) error) error {
	return s.atomic(ctx, func(tx *Store) error { return fn(tx) })
}

func (s *Store) atomic(ctx context.Context, fn func(tx *Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapError(fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := fn(&Store{pool: s.pool, q: tx, tx: tx}); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit(ctx))
}

// =============================================================================
// EARNINGS (generic.Store)
// =============================================================================

func (s *Store) Append(ctx context.Context, e generic.Earning) error {
	meta, _ := json.Marshal(e.Metadata)
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO earnings (id, processor_id, earning_type, effective_at, amount_value, amount_unit,
			reference_id, reason, idempotency_key, metadata_json, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10::jsonb, $11, $12)
	`, string(e.ID), string(e.ProcessorID), string(e.Type), e.EffectiveAt, e.Amount.Value.String(),
		string(e.Amount.Unit), nullable(e.ReferenceID), nullable(e.Reason), nullable(e.IdempotencyKey),
		string(meta), nullable(e.CreatedBy), createdAt)
	return mapError(err)
}

func (s *Store) AppendBatch(ctx context.Context, es []generic.Earning) error {
	keys := make(map[string]bool)
	for _, e := range es {
		if e.IdempotencyKey != "" {
			if keys[e.IdempotencyKey] {
				return generic.ErrDuplicateIdempotencyKey
			}
			keys[e.IdempotencyKey] = true
		}
	}
	return s.atomic(ctx, func(tx *Store) error {
		for _, e := range es {
			if err := tx.Append(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

const earningColumns = `
	SELECT id, processor_id, earning_type, effective_at, amount_value::text, amount_unit,
	       reference_id, reason, idempotency_key, metadata_json::text, created_by, created_at
	FROM earnings`

func (s *Store) Load(ctx context.Context, pid generic.ProcessorID) ([]generic.Earning, error) {
	return s.queryEarnings(ctx, earningColumns+` WHERE processor_id = $1 ORDER BY effective_at, created_at`, string(pid))
}

func (s *Store) LoadRange(ctx context.Context, pid generic.ProcessorID, from, to time.Time) ([]generic.Earning, error) {
	return s.queryEarnings(ctx, earningColumns+`
		WHERE processor_id = $1 AND effective_at >= $2 AND effective_at < $3
		ORDER BY effective_at, created_at
	`, string(pid), from, to)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM earnings WHERE idempotency_key = $1)`, key).Scan(&exists)
	return exists, mapError(err)
}

func (s *Store) queryEarnings(ctx context.Context, query string, args ...any) ([]generic.Earning, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []generic.Earning
	for rows.Next() {
		var (
			e                            generic.Earning
			value, unit                  string
			refID, reason, key, meta, by *string
		)
		if err := rows.Scan(&e.ID, &e.ProcessorID, &e.Type, &e.EffectiveAt, &value, &unit,
			&refID, &reason, &key, &meta, &by, &e.CreatedAt); err != nil {
			return nil, err
		}
		var cols generic.DecimalColumns
		e.Amount = generic.Amount{Value: cols.Parse("value", value), Unit: generic.Unit(unit)}
		if err := cols.Err(); err != nil {
			return nil, fmt.Errorf("earning %s: %w", e.ID, err)
		}
		e.ReferenceID, e.Reason, e.IdempotencyKey, e.CreatedBy = deref(refID), deref(reason), deref(key), deref(by)
		if m := deref(meta); m != "" && m != "null" {
			_ = json.Unmarshal([]byte(m), &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// PROCESSORS
// =============================================================================

func (s *Store) SaveProcessor(ctx context.Context, p generic.Processor) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO processors (id, name, role, is_active, created_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role, is_active = EXCLUDED.is_active
	`, string(p.ID), p.Name, p.Role, p.IsActive, p.CreatedAt)
	return mapError(err)
}

func (s *Store) GetProcessor(ctx context.Context, id generic.ProcessorID) (generic.Processor, error) {
	var p generic.Processor
	err := s.q.QueryRow(ctx, `SELECT id, name, role, is_active, created_at FROM processors WHERE id = $1`, string(id)).
		Scan(&p.ID, &p.Name, &p.Role, &p.IsActive, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, fmt.Errorf("%w: %s", generic.ErrProcessorNotFound, id)
	}
	return p, mapError(err)
}

func (s *Store) ListProcessors(ctx context.Context, activeOnly bool) ([]generic.Processor, error) {
	query := `SELECT id, name, role, is_active, created_at FROM processors`
	if activeOnly {
		query += ` WHERE is_active`
	}
	rows, err := s.q.Query(ctx, query+` ORDER BY id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []generic.Processor
	for rows.Next() {
		var p generic.Processor
		if err := rows.Scan(&p.ID, &p.Name, &p.Role, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func (s *Store) ActiveBonusGrid(ctx context.Context) ([]bonus.GridTier, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, min_amount::text, max_amount::text, bonus_percentage::text
		FROM bonus_grid_tiers WHERE is_active ORDER BY min_amount
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []bonus.GridTier
	for rows.Next() {
		var (
			t         bonus.GridTier
			minA, pct string
			maxA      *string
		)
		if err := rows.Scan(&t.ID, &minA, &maxA, &pct); err != nil {
			return nil, err
		}
		var cols generic.DecimalColumns
		t.MinAmount = cols.Parse("min_amount", minA)
		t.BonusPercentage = cols.Parse("bonus_percentage", pct)
		if maxA != nil {
			m := cols.Parse("max_amount", *maxA)
			t.MaxAmount = &m
		}
		if err := cols.Err(); err != nil {
			return nil, fmt.Errorf("grid tier %s: %w", t.ID, err)
		}
		t.IsActive = true
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceBonusGrid(ctx context.Context, tiers []bonus.GridTier) error {
	now := time.Now()
	return s.atomic(ctx, func(tx *Store) error {
		if _, err := tx.q.Exec(ctx, `UPDATE bonus_grid_tiers SET is_active = FALSE WHERE is_active`); err != nil {
			return err
		}
		for _, t := range tiers {
			var maxA *string
			if t.MaxAmount != nil {
				v := t.MaxAmount.String()
				maxA = &v
			}
			_, err := tx.q.Exec(ctx, `
				INSERT INTO bonus_grid_tiers (id, min_amount, max_amount, bonus_percentage, is_active, created_at)
				VALUES ($1, $2::numeric, $3::numeric, $4::numeric, TRUE, $5)
				ON CONFLICT (id) DO UPDATE SET min_amount = EXCLUDED.min_amount, max_amount = EXCLUDED.max_amount,
					bonus_percentage = EXCLUDED.bonus_percentage, is_active = TRUE
			`, t.ID, t.MinAmount.String(), maxA, t.BonusPercentage.String(), now)
			if err != nil {
				return fmt.Errorf("insert grid tier %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) ActiveMonthlyTiers(ctx context.Context) ([]bonus.MonthlyTier, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, name, min_amount::text, bonus_percent::text
		FROM monthly_bonus_tiers WHERE is_active ORDER BY min_amount DESC
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []bonus.MonthlyTier
	for rows.Next() {
		var (
			t         bonus.MonthlyTier
			minA, pct string
		)
		if err := rows.Scan(&t.ID, &t.Name, &minA, &pct); err != nil {
			return nil, err
		}
		var cols generic.DecimalColumns
		t.MinAmount = cols.Parse("min_amount", minA)
		t.BonusPercent = cols.Parse("bonus_percent", pct)
		if err := cols.Err(); err != nil {
			return nil, fmt.Errorf("monthly tier %s: %w", t.ID, err)
		}
		t.IsActive = true
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceMonthlyTiers(ctx context.Context, tiers []bonus.MonthlyTier) error {
	now := time.Now()
	return s.atomic(ctx, func(tx *Store) error {
		if _, err := tx.q.Exec(ctx, `UPDATE monthly_bonus_tiers SET is_active = FALSE WHERE is_active`); err != nil {
			return err
		}
		for _, t := range tiers {
			_, err := tx.q.Exec(ctx, `
				INSERT INTO monthly_bonus_tiers (id, name, min_amount, bonus_percent, is_active, created_at)
				VALUES ($1, $2, $3::numeric, $4::numeric, TRUE, $5)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, min_amount = EXCLUDED.min_amount,
					bonus_percent = EXCLUDED.bonus_percent, is_active = TRUE
			`, t.ID, t.Name, t.MinAmount.String(), t.BonusPercent.String(), now)
			if err != nil {
				return fmt.Errorf("insert monthly tier %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) ActiveSalarySettings(ctx context.Context) (*shifts.SalarySettings, error) {
	var (
		st   shifts.SalarySettings
		rate string
	)
	err := s.q.QueryRow(ctx, `
		SELECT id, hourly_rate::text, created_at FROM salary_settings
		WHERE is_active ORDER BY created_at DESC LIMIT 1
	`).Scan(&st.ID, &rate, &st.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	var cols generic.DecimalColumns
	st.HourlyRate = cols.Parse("hourly_rate", rate)
	if err := cols.Err(); err != nil {
		return nil, fmt.Errorf("salary settings %s: %w", st.ID, err)
	}
	st.IsActive = true
	return &st, nil
}

func (s *Store) SalaryHistory(ctx context.Context) ([]shifts.SalarySettings, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, hourly_rate::text, is_active, created_at FROM salary_settings ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []shifts.SalarySettings
	for rows.Next() {
		var (
			st   shifts.SalarySettings
			rate string
		)
		if err := rows.Scan(&st.ID, &rate, &st.IsActive, &st.CreatedAt); err != nil {
			return nil, err
		}
		var cols generic.DecimalColumns
		st.HourlyRate = cols.Parse("hourly_rate", rate)
		if err := cols.Err(); err != nil {
			return nil, fmt.Errorf("salary settings %s: %w", st.ID, err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) SupersedeSalarySettings(ctx context.Context, st shifts.SalarySettings) error {
	return s.atomic(ctx, func(tx *Store) error {
		if _, err := tx.q.Exec(ctx, `UPDATE salary_settings SET is_active = FALSE WHERE is_active`); err != nil {
			return err
		}
		_, err := tx.q.Exec(ctx, `
			INSERT INTO salary_settings (id, hourly_rate, is_active, created_at) VALUES ($1, $2::numeric, TRUE, $3)
		`, st.ID, st.HourlyRate.String(), st.CreatedAt)
		return err
	})
}

// =============================================================================
// DEPOSITS
// =============================================================================

const depositColumns = `
	SELECT id, processor_id, amount::text, currency, base_amount::text, bonus_amount::text,
	       applied_tier_id, status, void_reason, created_at
	FROM deposits`

func (s *Store) InsertDeposit(ctx context.Context, d bonus.Deposit) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO deposits (id, processor_id, amount, currency, base_amount, bonus_amount,
			applied_tier_id, status, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5::numeric, $6::numeric, $7, $8, $9)
	`, d.ID, string(d.ProcessorID), d.Amount.String(), d.Currency, d.BaseAmount.String(),
		d.BonusAmount.String(), nullable(d.AppliedTierID), string(d.Status), d.CreatedAt)
	return mapError(err)
}

func (s *Store) GetDeposit(ctx context.Context, id string) (bonus.Deposit, error) {
	list, err := s.queryDeposits(ctx, depositColumns+` WHERE id = $1`, id)
	if err != nil {
		return bonus.Deposit{}, err
	}
	if len(list) == 0 {
		return bonus.Deposit{}, fmt.Errorf("%w: %s", generic.ErrDepositNotFound, id)
	}
	return list[0], nil
}

func (s *Store) ListDeposits(ctx context.Context, f bonus.DepositFilter) ([]bonus.Deposit, error) {
	var w where
	if f.ProcessorID != "" {
		w.add("processor_id = ?", string(f.ProcessorID))
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if !f.From.IsZero() {
		w.add("created_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		w.add("created_at < ?", f.To)
	}
	return s.queryDeposits(ctx, depositColumns+w.sql()+` ORDER BY created_at DESC`+limitClause(f.Limit), w.args...)
}

func (s *Store) DepositTotals(ctx context.Context, pid generic.ProcessorID, from, to time.Time) (engine.DepositTotals, error) {
	var (
		volume, bonusSum string
		count            int
	)
	err := s.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(base_amount), 0)::text, COALESCE(SUM(bonus_amount), 0)::text, COUNT(*)
		FROM deposits
		WHERE processor_id = $1 AND status = 'RECORDED' AND created_at >= $2 AND created_at < $3
	`, string(pid), from, to).Scan(&volume, &bonusSum, &count)
	if err != nil {
		return engine.DepositTotals{}, mapError(err)
	}
	var cols generic.DecimalColumns
	totals := engine.DepositTotals{
		Volume: cols.Parse("base_amount", volume),
		Bonus:  cols.Parse("bonus_amount", bonusSum),
		Count:  count,
	}
	if err := cols.Err(); err != nil {
		return engine.DepositTotals{}, fmt.Errorf("deposit totals for %s: %w", pid, err)
	}
	return totals, nil
}

func (s *Store) VoidDeposit(ctx context.Context, id, reason string, at time.Time) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE deposits SET status = 'VOIDED', void_reason = $1, voided_at = $2
		WHERE id = $3 AND status = 'RECORDED'
	`, reason, at, id)
	if err != nil {
		return mapError(err)
	}
	return s.checkCAS(ctx, tag, "deposits", id, generic.ErrDepositNotFound)
}

func (s *Store) queryDeposits(ctx context.Context, query string, args ...any) ([]bonus.Deposit, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []bonus.Deposit
	for rows.Next() {
		var (
			d                         bonus.Deposit
			amount, base, bonusAmount string
			tier, voidReason          *string
		)
		if err := rows.Scan(&d.ID, &d.ProcessorID, &amount, &d.Currency, &base, &bonusAmount,
			&tier, &d.Status, &voidReason, &d.CreatedAt); err != nil {
			return nil, err
		}
		var cols generic.DecimalColumns
		d.Amount = cols.Parse("amount", amount)
		d.BaseAmount = cols.Parse("base_amount", base)
		d.BonusAmount = cols.Parse("bonus_amount", bonusAmount)
		if err := cols.Err(); err != nil {
			return nil, fmt.Errorf("deposit %s: %w", d.ID, err)
		}
		d.AppliedTierID = deref(tier)
		d.VoidReason = deref(voidReason)
		out = append(out, d)
	}
	return out, rows.Err()
}

// =============================================================================
// BONUS PAYMENTS
// =============================================================================

const paymentColumns = `
	SELECT id, processor_id, kind, amount::text, status, hold_until, period,
	       burn_reason, source_id, idempotency_key, created_at, updated_at
	FROM bonus_payments`

func (s *Store) InsertPayment(ctx context.Context, p bonus.Payment) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO bonus_payments (id, processor_id, kind, amount, status, hold_until, period,
			burn_reason, source_id, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.ID, string(p.ProcessorID), string(p.Kind), p.Amount.String(), string(p.Status), p.HoldUntil,
		p.Period, nullable(p.BurnReason), nullable(p.SourceID), nullable(p.IdempotencyKey), p.CreatedAt, p.UpdatedAt)
	return mapError(err)
}

func (s *Store) GetPayment(ctx context.Context, id string) (bonus.Payment, error) {
	return s.getPayment(ctx, paymentColumns+` WHERE id = $1`, id)
}

func (s *Store) GetPaymentByKey(ctx context.Context, key string) (bonus.Payment, error) {
	return s.getPayment(ctx, paymentColumns+` WHERE idempotency_key = $1`, key)
}

func (s *Store) getPayment(ctx context.Context, query, arg string) (bonus.Payment, error) {
	list, err := s.queryPayments(ctx, query, arg)
	if err != nil {
		return bonus.Payment{}, err
	}
	if len(list) == 0 {
		return bonus.Payment{}, fmt.Errorf("%w: %s", generic.ErrBonusPaymentNotFound, arg)
	}
	return list[0], nil
}

func (s *Store) ListPayments(ctx context.Context, f bonus.PaymentFilter) ([]bonus.Payment, error) {
	var w where
	if f.ProcessorID != "" {
		w.add("processor_id = ?", string(f.ProcessorID))
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.Kind != "" {
		w.add("kind = ?", string(f.Kind))
	}
	if f.Period != "" {
		w.add("period = ?", f.Period)
	}
	return s.queryPayments(ctx, paymentColumns+w.sql()+` ORDER BY created_at DESC, id`+limitClause(f.Limit), w.args...)
}

func (s *Store) DuePayments(ctx context.Context, now time.Time, limit int) ([]bonus.Payment, error) {
	return s.queryPayments(ctx, paymentColumns+`
		WHERE status = 'HELD' AND hold_until <= $1 ORDER BY hold_until, id
	`+limitClause(limit), now)
}

func (s *Store) TransitionPayment(ctx context.Context, p bonus.Payment, from bonus.Status) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE bonus_payments SET status = $1, burn_reason = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`, string(p.Status), nullable(p.BurnReason), p.UpdatedAt, p.ID, string(from))
	if err != nil {
		return mapError(err)
	}
	return s.checkCAS(ctx, tag, "bonus_payments", p.ID, generic.ErrBonusPaymentNotFound)
}

func (s *Store) queryPayments(ctx context.Context, query string, args ...any) ([]bonus.Payment, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []bonus.Payment
	for rows.Next() {
		var (
			p                       bonus.Payment
			amount                  string
			burnReason, source, key *string
		)
		if err := rows.Scan(&p.ID, &p.ProcessorID, &p.Kind, &amount, &p.Status, &p.HoldUntil, &p.Period,
			&burnReason, &source, &key, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		var cols generic.DecimalColumns
		p.Amount = cols.Parse("amount", amount)
		if err := cols.Err(); err != nil {
			return nil, fmt.Errorf("bonus payment %s: %w", p.ID, err)
		}
		p.BurnReason, p.SourceID, p.IdempotencyKey = deref(burnReason), deref(source), deref(key)
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// SHIFTS
// =============================================================================

const shiftColumns = `
	SELECT id, processor_id, shift_type, scheduled_start, scheduled_end,
	       actual_start, actual_end, status, notes_json::text, created_at, updated_at
	FROM shifts`

func (s *Store) InsertShift(ctx context.Context, sh shifts.Shift) error {
	notes, _ := json.Marshal(sh.Notes)
	_, err := s.q.Exec(ctx, `
		INSERT INTO shifts (id, processor_id, shift_type, scheduled_start, scheduled_end,
			actual_start, actual_end, status, notes_json, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11)
	`, sh.ID, string(sh.ProcessorID), string(sh.Type), sh.ScheduledStart, sh.ScheduledEnd,
		sh.ActualStart, sh.ActualEnd, string(sh.Status), string(notes), sh.CreatedAt, sh.UpdatedAt)
	return mapError(err)
}

func (s *Store) GetShift(ctx context.Context, id string) (shifts.Shift, error) {
	list, err := s.queryShifts(ctx, shiftColumns+` WHERE id = $1`, id)
	if err != nil {
		return shifts.Shift{}, err
	}
	if len(list) == 0 {
		return shifts.Shift{}, fmt.Errorf("%w: %s", generic.ErrShiftNotFound, id)
	}
	return list[0], nil
}

func (s *Store) ListShifts(ctx context.Context, f shifts.Filter) ([]shifts.Shift, error) {
	var w where
	if f.ProcessorID != "" {
		w.add("processor_id = ?", string(f.ProcessorID))
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if !f.From.IsZero() {
		w.add("scheduled_start >= ?", f.From)
	}
	if !f.To.IsZero() {
		w.add("scheduled_start < ?", f.To)
	}
	if !f.EndBefore.IsZero() {
		w.add("scheduled_end < ?", f.EndBefore)
	}
	return s.queryShifts(ctx, shiftColumns+w.sql()+` ORDER BY scheduled_start, id`+limitClause(f.Limit), w.args...)
}

func (s *Store) UpdateShift(ctx context.Context, sh shifts.Shift, from shifts.Status) error {
	notes, _ := json.Marshal(sh.Notes)
	tag, err := s.q.Exec(ctx, `
		UPDATE shifts SET status = $1, actual_start = $2, actual_end = $3, notes_json = $4::jsonb, updated_at = $5
		WHERE id = $6 AND status = $7
	`, string(sh.Status), sh.ActualStart, sh.ActualEnd, string(notes), sh.UpdatedAt, sh.ID, string(from))
	if err != nil {
		return mapError(err)
	}
	return s.checkCAS(ctx, tag, "shifts", sh.ID, generic.ErrShiftNotFound)
}

func (s *Store) queryShifts(ctx context.Context, query string, args ...any) ([]shifts.Shift, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []shifts.Shift
	for rows.Next() {
		var (
			sh    shifts.Shift
			notes *string
		)
		if err := rows.Scan(&sh.ID, &sh.ProcessorID, &sh.Type, &sh.ScheduledStart, &sh.ScheduledEnd,
			&sh.ActualStart, &sh.ActualEnd, &sh.Status, &notes, &sh.CreatedAt, &sh.UpdatedAt); err != nil {
			return nil, err
		}
		if n := deref(notes); n != "" && n != "null" {
			_ = json.Unmarshal([]byte(n), &sh.Notes)
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

// =============================================================================
// BATCH RUNS
// =============================================================================

func (s *Store) SaveRun(ctx context.Context, r engine.Run) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO batch_runs (id, kind, status, trigger_source, processed, changed, failed, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, processed = EXCLUDED.processed,
			changed = EXCLUDED.changed, failed = EXCLUDED.failed, error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at
	`, r.ID, string(r.Kind), string(r.Status), r.Trigger, r.Processed, r.Changed, r.Failed,
		nullable(r.Error), r.StartedAt, r.CompletedAt)
	return mapError(err)
}

func (s *Store) ListRuns(ctx context.Context, kind engine.RunKind, limit int) ([]engine.Run, error) {
	var w where
	if kind != "" {
		w.add("kind = ?", string(kind))
	}
	rows, err := s.q.Query(ctx, `
		SELECT id, kind, status, trigger_source, processed, changed, failed, error, started_at, completed_at
		FROM batch_runs`+w.sql()+` ORDER BY started_at DESC`+limitClause(limit), w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var runs []engine.Run
	for rows.Next() {
		var (
			run             engine.Run
			trigger, runErr *string
		)
		if err := rows.Scan(&run.ID, &run.Kind, &run.Status, &trigger, &run.Processed, &run.Changed,
			&run.Failed, &runErr, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, err
		}
		run.Trigger, run.Error = deref(trigger), deref(runErr)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Reset removes all data. Used by demo scenario loading and tests.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.q.Exec(ctx, `TRUNCATE earnings, processors, bonus_grid_tiers, monthly_bonus_tiers,
		salary_settings, deposits, bonus_payments, shifts, batch_runs`)
	return mapError(err)
}

// =============================================================================
// HELPERS
// =============================================================================

// where builds a WHERE clause with numbered placeholders.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1))
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

func (s *Store) checkCAS(ctx context.Context, tag pgconn.CommandTag, table, id string, notFound error) error {
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := s.q.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM "+table+" WHERE id = $1)", id).Scan(&exists); err != nil {
		return mapError(err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return fmt.Errorf("%w: %s %s changed concurrently", generic.ErrConcurrentModification, table, id)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// mapError translates PostgreSQL error codes into engine sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", generic.ErrConcurrentModification, pgErr.Message)
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", generic.ErrDuplicateIdempotencyKey, pgErr.ConstraintName)
		}
	}
	return err
}
