/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.Store (the earnings ledger) and engine.Store (processors,
  reference data, deposits, bonus payments, shifts, batch runs) on SQLite.
  It is the default backend and the one every test runs against.

INTERFACES IMPLEMENTED:
  generic.Store: Append-only earnings ledger
  engine.Store:  Everything else the engine reads and writes

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements touch the earnings table
  - Corrections are ADJUSTMENT earnings

KEY TABLES:
  earnings:            Immutable ledger of money owed
  deposits:            Recorded deposits and their bonus
  bonus_payments:      HELD / APPROVED / PAID / BURNED payments
  shifts:              Scheduled and tracked shifts
  bonus_grid_tiers:    Daily grid (history kept, is_active marks the live set)
  monthly_bonus_tiers: Monthly tiers (same)
  salary_settings:     Hourly rate (superseded, never edited)
  processors:          Agents
  batch_runs:          Audit of sweeps, auto-close and monthly passes

CONCURRENCY:
  Transactions are opened with _txlock=immediate, so BEGIN takes the write
  lock up front and two deposit transactions for the same agent serialize
  instead of both reading the same total. _busy_timeout makes the second
  writer wait; if it still cannot get the lock, SQLITE_BUSY is reported as
  generic.ErrConcurrentModification. State changes are compare-and-swap
  ("WHERE status = ?") so a lost race is detected, never overwritten.

  An in-memory database exists per connection, so ":memory:" is limited to a
  single connection.

TIME STORAGE:
  Timestamps are stored as fixed-width UTC text with nanoseconds, so string
  comparison in SQL is chronological comparison.

USAGE:
  store, err := sqlite.New("./data/earnings.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - engine/store.go: Interface definition and CAS contract
  - generic/store/memory.go: In-memory ledger for unit tests
  - store/postgres: Same interfaces on PostgreSQL
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/umbra/earnings-engine/bonus"
	"github.com/umbra/earnings-engine/engine"
	"github.com/umbra/earnings-engine/generic"
	"github.com/umbra/earnings-engine/shifts"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements generic.Store and engine.Store using SQLite.
type Store struct {
	db *sql.DB
	q  querier
	tx *sql.Tx // set on transaction-bound children
}

var (
	_ generic.Store = (*Store)(nil)
	_ engine.Store  = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, q: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Earnings (append-only ledger)
	CREATE TABLE IF NOT EXISTS earnings (
		id TEXT PRIMARY KEY,
		processor_id TEXT NOT NULL,
		earning_type TEXT NOT NULL,
		effective_at TEXT NOT NULL,
		amount_value TEXT NOT NULL,
		amount_unit TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		metadata_json TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	-- Period totals per agent (hot path)
	CREATE INDEX IF NOT EXISTS idx_earnings_processor_date
		ON earnings(processor_id, effective_at);
	CREATE INDEX IF NOT EXISTS idx_earnings_reference
		ON earnings(reference_id) WHERE reference_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS processors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bonus_grid_tiers (
		id TEXT PRIMARY KEY,
		min_amount TEXT NOT NULL,
		max_amount TEXT,
		bonus_percentage TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS monthly_bonus_tiers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		min_amount TEXT NOT NULL,
		bonus_percent TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS salary_settings (
		id TEXT PRIMARY KEY,
		hourly_rate TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS deposits (
		id TEXT PRIMARY KEY,
		processor_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		base_amount TEXT NOT NULL,
		bonus_amount TEXT NOT NULL,
		applied_tier_id TEXT,
		status TEXT NOT NULL DEFAULT 'RECORDED',
		void_reason TEXT,
		voided_at TEXT,
		created_at TEXT NOT NULL
	);

	-- Cumulative daily and monthly totals (hot path)
	CREATE INDEX IF NOT EXISTS idx_deposits_processor_date
		ON deposits(processor_id, created_at);

	CREATE TABLE IF NOT EXISTS bonus_payments (
		id TEXT PRIMARY KEY,
		processor_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		hold_until TEXT NOT NULL,
		period TEXT NOT NULL,
		burn_reason TEXT,
		source_id TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Sweep selection
	CREATE INDEX IF NOT EXISTS idx_bonus_payments_status_hold
		ON bonus_payments(status, hold_until);
	CREATE INDEX IF NOT EXISTS idx_bonus_payments_processor_period
		ON bonus_payments(processor_id, period);

	CREATE TABLE IF NOT EXISTS shifts (
		id TEXT PRIMARY KEY,
		processor_id TEXT NOT NULL,
		shift_type TEXT NOT NULL,
		scheduled_start TEXT NOT NULL,
		scheduled_end TEXT NOT NULL,
		actual_start TEXT,
		actual_end TEXT,
		status TEXT NOT NULL,
		notes_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Auto-close selection
	CREATE INDEX IF NOT EXISTS idx_shifts_status_end
		ON shifts(status, scheduled_end);
	CREATE INDEX IF NOT EXISTS idx_shifts_processor_start
		ON shifts(processor_id, scheduled_start);

	CREATE TABLE IF NOT EXISTS batch_runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		trigger_source TEXT,
		processed INTEGER DEFAULT 0,
		changed INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_batch_runs_kind_started
		ON batch_runs(kind, started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn inside one IMMEDIATE transaction. On a transaction-bound
// store it reuses the open transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx engine.Store) error) error {
	return s.atomic(ctx, func(tx *Store) error { return fn(tx) })
}

func (s *Store) atomic(ctx context.Context, fn func(tx *Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&Store{db: s.db, q: sqlTx, tx: sqlTx}); err != nil {
		return err
	}
	return mapError(sqlTx.Commit())
}

// =============================================================================
// EARNINGS STORE (generic.Store interface)
// =============================================================================

// Append adds an earning to the ledger.
func (s *Store) Append(ctx context.Context, e generic.Earning) error {
	return s.appendEarning(ctx, e)
}

func (s *Store) appendEarning(ctx context.Context, e generic.Earning) error {
	metadataJSON, _ := json.Marshal(e.Metadata)
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO earnings
		(id, processor_id, earning_type, effective_at, amount_value, amount_unit,
		 reference_id, reason, idempotency_key, metadata_json, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.q.ExecContext(ctx, query,
		string(e.ID),
		string(e.ProcessorID),
		string(e.Type),
		formatTime(e.EffectiveAt),
		e.Amount.Value.String(),
		string(e.Amount.Unit),
		nullString(e.ReferenceID),
		nullString(e.Reason),
		nullString(e.IdempotencyKey),
		string(metadataJSON),
		nullString(e.CreatedBy),
		formatTime(createdAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		return mapError(fmt.Errorf("failed to append earning: %w", err))
	}
	return nil
}

// AppendBatch adds multiple earnings atomically.
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
			if err := tx.appendEarning(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load returns all earnings for a processor.
func (s *Store) Load(ctx context.Context, pid generic.ProcessorID) ([]generic.Earning, error) {
	return s.queryEarnings(ctx, earningColumns+`
		WHERE processor_id = ?
		ORDER BY effective_at ASC, created_at ASC
	`, string(pid))
}

// LoadRange returns earnings with effective_at in [from, to).
func (s *Store) LoadRange(ctx context.Context, pid generic.ProcessorID, from, to time.Time) ([]generic.Earning, error) {
	return s.queryEarnings(ctx, earningColumns+`
		WHERE processor_id = ? AND effective_at >= ? AND effective_at < ?
		ORDER BY effective_at ASC, created_at ASC
	`, string(pid), formatTime(from), formatTime(to))
}

// Exists checks if an idempotency key exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM earnings WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, mapError(err)
}

const earningColumns = `
	SELECT id, processor_id, earning_type, effective_at, amount_value, amount_unit,
	       reference_id, reason, idempotency_key, metadata_json, created_by, created_at
	FROM earnings`

func (s *Store) queryEarnings(ctx context.Context, query string, args ...any) ([]generic.Earning, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query earnings: %w", err))
	}
	defer rows.Close()

	var out []generic.Earning
	for rows.Next() {
		var (
			e                                   generic.Earning
			effectiveAt, value, unit, createdAt string
			referenceID, reason, key, meta, by  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ProcessorID, &e.Type, &effectiveAt, &value, &unit,
			&referenceID, &reason, &key, &meta, &by, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan earning: %w", err)
		}
		var cols generic.DecimalColumns
		e.EffectiveAt = parseTime(effectiveAt)
		e.Amount = generic.Amount{Value: cols.Parse("value", value), Unit: generic.Unit(unit)}
		if err := cols.Err(); err != nil {
			return nil, fmt.Errorf("earning %s: %w", e.ID, err)
		}
		e.ReferenceID = referenceID.String
		e.Reason = reason.String
		e.IdempotencyKey = key.String
		e.CreatedBy = by.String
		e.CreatedAt = parseTime(createdAt)
		if meta.Valid && meta.String != "" && meta.String != "null" {
			_ = json.Unmarshal([]byte(meta.String), &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// PROCESSORS
// =============================================================================

func (s *Store) SaveProcessor(ctx context.Context, p generic.Processor) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO processors (id, name, role, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			is_active = excluded.is_active
	`, string(p.ID), p.Name, p.Role, boolInt(p.IsActive), formatTime(p.CreatedAt))
	return mapError(err)
}

func (s *Store) GetProcessor(ctx context.Context, id generic.ProcessorID) (generic.Processor, error) {
	var (
		p         generic.Processor
		active    int
		createdAt string
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name, role, is_active, created_at FROM processors WHERE id = ?`, string(id),
	).Scan(&p.ID, &p.Name, &p.Role, &active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("%w: %s", generic.ErrProcessorNotFound, id)
	}
	if err != nil {
		return p, mapError(err)
	}
	p.IsActive = active == 1
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

func (s *Store) ListProcessors(ctx context.Context, activeOnly bool) ([]generic.Processor, error) {
	query := `SELECT id, name, role, is_active, created_at FROM processors`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []generic.Processor
	for rows.Next() {
		var (
			p         generic.Processor
			active    int
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Role, &active, &createdAt); err != nil {
			return nil, err
		}
		p.IsActive = active == 1
		p.CreatedAt = parseTime(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func (s *Store) ActiveBonusGrid(ctx context.Context) ([]bonus.GridTier, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, min_amount, max_amount, bonus_percentage, is_active
		FROM bonus_grid_tiers WHERE is_active = 1
		ORDER BY CAST(min_amount AS REAL) ASC
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
			maxA      sql.NullString
			active    int
		)
		if err := rows.Scan(&t.ID, &minA, &maxA, &pct, &active); err != nil {
			return nil, err
		}
		var cols generic.DecimalColumns
		t.MinAmount = cols.Parse("min_amount", minA)
		t.BonusPercentage = cols.Parse("bonus_percentage", pct)
		if maxA.Valid {
			m := cols.Parse("max_amount", maxA.String)
			t.MaxAmount = &m
		}
		if err := cols.Err(); err != nil {
			return nil, fmt.Errorf("grid tier %s: %w", t.ID, err)
		}
		t.IsActive = active == 1
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceBonusGrid(ctx context.Context, tiers []bonus.GridTier) error {
	now := formatTime(time.Now())
	return s.atomic(ctx, func(tx *Store) error {
		if _, err := tx.q.ExecContext(ctx, `UPDATE bonus_grid_tiers SET is_active = 0 WHERE is_active = 1`); err != nil {
			return mapError(err)
		}
		for _, t := range tiers {
			var maxA sql.NullString
			if t.MaxAmount != nil {
				maxA = sql.NullString{String: t.MaxAmount.String(), Valid: true}
			}
			_, err := tx.q.ExecContext(ctx, `
				INSERT INTO bonus_grid_tiers (id, min_amount, max_amount, bonus_percentage, is_active, created_at)
				VALUES (?, ?, ?, ?, 1, ?)
				ON CONFLICT(id) DO UPDATE SET
					min_amount = excluded.min_amount,
					max_amount = excluded.max_amount,
					bonus_percentage = excluded.bonus_percentage,
					is_active = 1
			`, t.ID, t.MinAmount.String(), maxA, t.BonusPercentage.String(), now)
			if err != nil {
				return mapError(fmt.Errorf("insert grid tier %s: %w", t.ID, err))
			}
		}
		return nil
	})
}

func (s *Store) ActiveMonthlyTiers(ctx context.Context) ([]bonus.MonthlyTier, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, min_amount, bonus_percent, is_active
		FROM monthly_bonus_tiers WHERE is_active = 1
		ORDER BY CAST(min_amount AS REAL) DESC
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
			active    int
		)
		if err := rows.Scan(&t.ID, &t.Name, &minA, &pct, &active); err != nil {
			return nil, err
		}
		var cols generic.DecimalColumns
		t.MinAmount = cols.Parse("min_amount", minA)
		t.BonusPercent = cols.Parse("bonus_percent", pct)
		if err := cols.Err(); err != nil {
			return nil, fmt.Errorf("monthly tier %s: %w", t.ID, err)
		}
		t.IsActive = active == 1
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceMonthlyTiers(ctx context.Context, tiers []bonus.MonthlyTier) error {
	now := formatTime(time.Now())
	return s.atomic(ctx, func(tx *Store) error {
		if _, err := tx.q.ExecContext(ctx, `UPDATE monthly_bonus_tiers SET is_active = 0 WHERE is_active = 1`); err != nil {
			return mapError(err)
		}
		for _, t := range tiers {
			_, err := tx.q.ExecContext(ctx, `
				INSERT INTO monthly_bonus_tiers (id, name, min_amount, bonus_percent, is_active, created_at)
				VALUES (?, ?, ?, ?, 1, ?)
				ON CONFLICT(id) DO UPDATE SET
					name = excluded.name,
					min_amount = excluded.min_amount,
					bonus_percent = excluded.bonus_percent,
					is_active = 1
			`, t.ID, t.Name, t.MinAmount.String(), t.BonusPercent.String(), now)
			if err != nil {
				return mapError(fmt.Errorf("insert monthly tier %s: %w", t.ID, err))
			}
		}
		return nil
	})
}

func (s *Store) ActiveSalarySettings(ctx context.Context) (*shifts.SalarySettings, error) {
	var (
		st              shifts.SalarySettings
		rate, createdAt string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, hourly_rate, created_at FROM salary_settings
		WHERE is_active = 1 ORDER BY created_at DESC LIMIT 1
	`).Scan(&st.ID, &rate, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
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
	st.CreatedAt = parseTime(createdAt)
	return &st, nil
}

func (s *Store) SalaryHistory(ctx context.Context) ([]shifts.SalarySettings, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, hourly_rate, is_active, created_at FROM salary_settings
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []shifts.SalarySettings
	for rows.Next() {
		var (
			st              shifts.SalarySettings
			rate, createdAt string
			active          int
		)
		if err := rows.Scan(&st.ID, &rate, &active, &createdAt); err != nil {
			return nil, err
		}
		var cols generic.DecimalColumns
		st.HourlyRate = cols.Parse("hourly_rate", rate)
		if err := cols.Err(); err != nil {
			return nil, fmt.Errorf("salary settings %s: %w", st.ID, err)
		}
		st.IsActive = active == 1
		st.CreatedAt = parseTime(createdAt)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) SupersedeSalarySettings(ctx context.Context, st shifts.SalarySettings) error {
	return s.atomic(ctx, func(tx *Store) error {
		if _, err := tx.q.ExecContext(ctx, `UPDATE salary_settings SET is_active = 0 WHERE is_active = 1`); err != nil {
			return mapError(err)
		}
		_, err := tx.q.ExecContext(ctx, `
			INSERT INTO salary_settings (id, hourly_rate, is_active, created_at) VALUES (?, ?, 1, ?)
		`, st.ID, st.HourlyRate.String(), formatTime(st.CreatedAt))
		return mapError(err)
	})
}

// =============================================================================
// DEPOSITS
// =============================================================================

const depositColumns = `
	SELECT id, processor_id, amount, currency, base_amount, bonus_amount,
	       applied_tier_id, status, void_reason, created_at
	FROM deposits`

func (s *Store) InsertDeposit(ctx context.Context, d bonus.Deposit) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO deposits (id, processor_id, amount, currency, base_amount, bonus_amount,
			applied_tier_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, string(d.ProcessorID), d.Amount.String(), d.Currency, d.BaseAmount.String(),
		d.BonusAmount.String(), nullString(d.AppliedTierID), string(d.Status), formatTime(d.CreatedAt))
	return mapError(err)
}

func (s *Store) GetDeposit(ctx context.Context, id string) (bonus.Deposit, error) {
	list, err := s.queryDeposits(ctx, depositColumns+` WHERE id = ?`, id)
	if err != nil {
		return bonus.Deposit{}, err
	}
	if len(list) == 0 {
		return bonus.Deposit{}, fmt.Errorf("%w: %s", generic.ErrDepositNotFound, id)
	}
	return list[0], nil
}

func (s *Store) ListDeposits(ctx context.Context, f bonus.DepositFilter) ([]bonus.Deposit, error) {
	var (
		where []string
		args  []any
	)
	if f.ProcessorID != "" {
		where = append(where, "processor_id = ?")
		args = append(args, string(f.ProcessorID))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, formatTime(f.To))
	}
	query := depositColumns + whereClause(where) + ` ORDER BY created_at DESC` + limitClause(f.Limit)
	return s.queryDeposits(ctx, query, args...)
}

func (s *Store) DepositTotals(ctx context.Context, pid generic.ProcessorID, from, to time.Time) (engine.DepositTotals, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT base_amount, bonus_amount FROM deposits
		WHERE processor_id = ? AND status = 'RECORDED' AND created_at >= ? AND created_at < ?
	`, string(pid), formatTime(from), formatTime(to))
	if err != nil {
		return engine.DepositTotals{}, mapError(err)
	}
	defer rows.Close()

	totals := engine.DepositTotals{Volume: decimal.Zero, Bonus: decimal.Zero}
	var cols generic.DecimalColumns
	for rows.Next() {
		var baseAmount, bonusAmount string
		if err := rows.Scan(&baseAmount, &bonusAmount); err != nil {
			return engine.DepositTotals{}, err
		}
		totals.Volume = totals.Volume.Add(cols.Parse("base_amount", baseAmount))
		totals.Bonus = totals.Bonus.Add(cols.Parse("bonus_amount", bonusAmount))
		totals.Count++
	}
	if err := cols.Err(); err != nil {
		return engine.DepositTotals{}, fmt.Errorf("deposit totals for %s: %w", pid, err)
	}
	return totals, mapError(rows.Err())
}

func (s *Store) VoidDeposit(ctx context.Context, id, reason string, at time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE deposits SET status = 'VOIDED', void_reason = ?, voided_at = ?
		WHERE id = ? AND status = 'RECORDED'
	`, reason, formatTime(at), id)
	if err != nil {
		return mapError(err)
	}
	return s.checkCAS(ctx, res, "deposits", id, generic.ErrDepositNotFound)
}

func (s *Store) queryDeposits(ctx context.Context, query string, args ...any) ([]bonus.Deposit, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query deposits: %w", err))
	}
	defer rows.Close()

	var out []bonus.Deposit
	for rows.Next() {
		var (
			d                                   bonus.Deposit
			amount, baseAmount, bonusAmount, at string
			tier, voidReason                    sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.ProcessorID, &amount, &d.Currency, &baseAmount, &bonusAmount,
			&tier, &d.Status, &voidReason, &at); err != nil {
			return nil, fmt.Errorf("failed to scan deposit: %w", err)
		}
		var cols generic.DecimalColumns
		d.Amount = cols.Parse("amount", amount)
		d.BaseAmount = cols.Parse("base_amount", baseAmount)
		d.BonusAmount = cols.Parse("bonus_amount", bonusAmount)
		if err := cols.Err(); err != nil {
			return nil, fmt.Errorf("deposit %s: %w", d.ID, err)
		}
		d.AppliedTierID = tier.String
		d.VoidReason = voidReason.String
		d.CreatedAt = parseTime(at)
		out = append(out, d)
	}
	return out, rows.Err()
}

// =============================================================================
// BONUS PAYMENTS
// =============================================================================

const paymentColumns = `
	SELECT id, processor_id, kind, amount, status, hold_until, period,
	       burn_reason, source_id, idempotency_key, created_at, updated_at
	FROM bonus_payments`

func (s *Store) InsertPayment(ctx context.Context, p bonus.Payment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO bonus_payments (id, processor_id, kind, amount, status, hold_until, period,
			burn_reason, source_id, idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, string(p.ProcessorID), string(p.Kind), p.Amount.String(), string(p.Status),
		formatTime(p.HoldUntil), p.Period, nullString(p.BurnReason), nullString(p.SourceID),
		nullString(p.IdempotencyKey), formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if isUniqueConstraintError(err) {
		return generic.ErrDuplicateIdempotencyKey
	}
	return mapError(err)
}

func (s *Store) GetPayment(ctx context.Context, id string) (bonus.Payment, error) {
	return s.getPayment(ctx, paymentColumns+` WHERE id = ?`, id)
}

func (s *Store) GetPaymentByKey(ctx context.Context, key string) (bonus.Payment, error) {
	return s.getPayment(ctx, paymentColumns+` WHERE idempotency_key = ?`, key)
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
	var (
		where []string
		args  []any
	)
	if f.ProcessorID != "" {
		where = append(where, "processor_id = ?")
		args = append(args, string(f.ProcessorID))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Period != "" {
		where = append(where, "period = ?")
		args = append(args, f.Period)
	}
	query := paymentColumns + whereClause(where) + ` ORDER BY created_at DESC, id` + limitClause(f.Limit)
	return s.queryPayments(ctx, query, args...)
}

func (s *Store) DuePayments(ctx context.Context, now time.Time, limit int) ([]bonus.Payment, error) {
	return s.queryPayments(ctx, paymentColumns+`
		WHERE status = 'HELD' AND hold_until <= ?
		ORDER BY hold_until ASC, id
	`+limitClause(limit), formatTime(now))
}

func (s *Store) TransitionPayment(ctx context.Context, p bonus.Payment, from bonus.Status) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE bonus_payments SET status = ?, burn_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(p.Status), nullString(p.BurnReason), formatTime(p.UpdatedAt), p.ID, string(from))
	if err != nil {
		return mapError(err)
	}
	return s.checkCAS(ctx, res, "bonus_payments", p.ID, generic.ErrBonusPaymentNotFound)
}

func (s *Store) queryPayments(ctx context.Context, query string, args ...any) ([]bonus.Payment, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query bonus payments: %w", err))
	}
	defer rows.Close()

	var out []bonus.Payment
	for rows.Next() {
		var (
			p                                       bonus.Payment
			amount, holdUntil, createdAt, updatedAt string
			burnReason, sourceID, key               sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.ProcessorID, &p.Kind, &amount, &p.Status, &holdUntil, &p.Period,
			&burnReason, &sourceID, &key, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bonus payment: %w", err)
		}
		var cols generic.DecimalColumns
		p.Amount = cols.Parse("amount", amount)
		if err := cols.Err(); err != nil {
			return nil, fmt.Errorf("bonus payment %s: %w", p.ID, err)
		}
		p.HoldUntil = parseTime(holdUntil)
		p.BurnReason = burnReason.String
		p.SourceID = sourceID.String
		p.IdempotencyKey = key.String
		p.CreatedAt = parseTime(createdAt)
		p.UpdatedAt = parseTime(updatedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// SHIFTS
// =============================================================================

const shiftColumns = `
	SELECT id, processor_id, shift_type, scheduled_start, scheduled_end,
	       actual_start, actual_end, status, notes_json, created_at, updated_at
	FROM shifts`

func (s *Store) InsertShift(ctx context.Context, sh shifts.Shift) error {
	notes, _ := json.Marshal(sh.Notes)
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO shifts (id, processor_id, shift_type, scheduled_start, scheduled_end,
			actual_start, actual_end, status, notes_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sh.ID, string(sh.ProcessorID), string(sh.Type), formatTime(sh.ScheduledStart), formatTime(sh.ScheduledEnd),
		nullTime(sh.ActualStart), nullTime(sh.ActualEnd), string(sh.Status), string(notes),
		formatTime(sh.CreatedAt), formatTime(sh.UpdatedAt))
	return mapError(err)
}

func (s *Store) GetShift(ctx context.Context, id string) (shifts.Shift, error) {
	list, err := s.queryShifts(ctx, shiftColumns+` WHERE id = ?`, id)
	if err != nil {
		return shifts.Shift{}, err
	}
	if len(list) == 0 {
		return shifts.Shift{}, fmt.Errorf("%w: %s", generic.ErrShiftNotFound, id)
	}
	return list[0], nil
}

func (s *Store) ListShifts(ctx context.Context, f shifts.Filter) ([]shifts.Shift, error) {
	var (
		where []string
		args  []any
	)
	if f.ProcessorID != "" {
		where = append(where, "processor_id = ?")
		args = append(args, string(f.ProcessorID))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.From.IsZero() {
		where = append(where, "scheduled_start >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "scheduled_start < ?")
		args = append(args, formatTime(f.To))
	}
	if !f.EndBefore.IsZero() {
		where = append(where, "scheduled_end < ?")
		args = append(args, formatTime(f.EndBefore))
	}
	query := shiftColumns + whereClause(where) + ` ORDER BY scheduled_start ASC, id` + limitClause(f.Limit)
	return s.queryShifts(ctx, query, args...)
}

func (s *Store) UpdateShift(ctx context.Context, sh shifts.Shift, from shifts.Status) error {
	notes, _ := json.Marshal(sh.Notes)
	res, err := s.q.ExecContext(ctx, `
		UPDATE shifts SET status = ?, actual_start = ?, actual_end = ?, notes_json = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(sh.Status), nullTime(sh.ActualStart), nullTime(sh.ActualEnd), string(notes),
		formatTime(sh.UpdatedAt), sh.ID, string(from))
	if err != nil {
		return mapError(err)
	}
	return s.checkCAS(ctx, res, "shifts", sh.ID, generic.ErrShiftNotFound)
}

func (s *Store) queryShifts(ctx context.Context, query string, args ...any) ([]shifts.Shift, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query shifts: %w", err))
	}
	defer rows.Close()

	var out []shifts.Shift
	for rows.Next() {
		var (
			sh                                               shifts.Shift
			scheduledStart, scheduledEnd, createdAt, updated string
			actualStart, actualEnd, notes                    sql.NullString
		)
		if err := rows.Scan(&sh.ID, &sh.ProcessorID, &sh.Type, &scheduledStart, &scheduledEnd,
			&actualStart, &actualEnd, &sh.Status, &notes, &createdAt, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan shift: %w", err)
		}
		sh.ScheduledStart = parseTime(scheduledStart)
		sh.ScheduledEnd = parseTime(scheduledEnd)
		sh.ActualStart = parseNullTime(actualStart)
		sh.ActualEnd = parseNullTime(actualEnd)
		sh.CreatedAt = parseTime(createdAt)
		sh.UpdatedAt = parseTime(updated)
		if notes.Valid && notes.String != "" && notes.String != "null" {
			_ = json.Unmarshal([]byte(notes.String), &sh.Notes)
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

// =============================================================================
// BATCH RUNS
// =============================================================================

func (s *Store) SaveRun(ctx context.Context, r engine.Run) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO batch_runs (id, kind, status, trigger_source, processed, changed, failed,
			error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			processed = excluded.processed,
			changed = excluded.changed,
			failed = excluded.failed,
			error = excluded.error,
			completed_at = excluded.completed_at
	`, r.ID, string(r.Kind), string(r.Status), r.Trigger, r.Processed, r.Changed, r.Failed,
		nullString(r.Error), formatTime(r.StartedAt), nullTime(r.CompletedAt))
	return mapError(err)
}

func (s *Store) ListRuns(ctx context.Context, kind engine.RunKind, limit int) ([]engine.Run, error) {
	query := `
		SELECT id, kind, status, trigger_source, processed, changed, failed, error, started_at, completed_at
		FROM batch_runs`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY started_at DESC` + limitClause(limit)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var runs []engine.Run
	for rows.Next() {
		var (
			r                       engine.Run
			trigger, runErr, doneAt sql.NullString
			startedAt               string
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.Status, &trigger, &r.Processed, &r.Changed, &r.Failed,
			&runErr, &startedAt, &doneAt); err != nil {
			return nil, err
		}
		r.Trigger = trigger.String
		r.Error = runErr.String
		r.StartedAt = parseTime(startedAt)
		r.CompletedAt = parseNullTime(doneAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	return s.atomic(ctx, func(tx *Store) error {
		tables := []string{"earnings", "bonus_payments", "deposits", "shifts", "batch_runs",
			"bonus_grid_tiers", "monthly_bonus_tiers", "salary_settings", "processors"}
		for _, table := range tables {
			if _, err := tx.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return mapError(err)
			}
		}
		return nil
	})
}

// checkCAS turns zero affected rows into not-found or a lost race.
func (s *Store) checkCAS(ctx context.Context, res sql.Result, table, id string, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var count int
	if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&count); err != nil {
		return mapError(err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return fmt.Errorf("%w: %s %s changed concurrently", generic.ErrConcurrentModification, table, id)
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// mapError reports lock contention as a retryable conflict.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", generic.ErrConcurrentModification, err)
	}
	return err
}
