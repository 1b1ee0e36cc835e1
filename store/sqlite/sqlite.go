/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.TxStore and assess.Store using SQLite. In
  production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

CONCURRENCY CONTROL:
  Envelopes and funds carry a version column. Saves are
  compare-and-swap UPDATEs guarded by "AND version = ?"; zero rows
  affected means a concurrent writer won and the caller receives
  ledger.ErrConcurrentModification to retry. Multi-record mutations
  (expenditure approval, two-envelope transfer) run inside a database
  transaction via WithTx, so partial application is impossible.

APPEND-ONLY PARTS:
  - expenditures: rows are inserted and their status advanced; no
    DELETE statement exists in this package for them.
  - audit_log: INSERT only. No update, no delete, ever.

MONEY:
  Amounts are stored as TEXT in decimal string form and parsed back
  with shopspring/decimal. They are never round-tripped through
  floating point.

WAL MODE:
  The database is opened with WAL for better read concurrency and
  crash recovery.

SEE ALSO:
  - ledger/store.go: interface contracts
  - ledger/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/relief-engine/assess"
	"github.com/warp/relief-engine/ledger"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements every store interface against a dbtx. The same
// code serves the plain store and the transactional view.
type queries struct {
	db dbtx
}

// Store implements ledger.TxStore and assess.Store using SQLite.
type Store struct {
	queries
	sqlDB *sql.DB
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; serializing Go-side connections avoids
	// spurious SQLITE_BUSY under concurrent CAS retries.
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{db: db}, sqlDB: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Reset wipes every table. Demo and test use only.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"allocation_plans", "assessments", "audit_log",
		"adjustments", "expenditures", "funds", "envelopes",
	}
	for _, t := range tables {
		if _, err := s.sqlDB.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("reset %s: %w", t, err)
		}
	}
	return nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS envelopes (
		disaster_type TEXT PRIMARY KEY,
		fiscal_year INTEGER NOT NULL,
		allocated TEXT NOT NULL,
		committed TEXT NOT NULL,
		spent TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS funds (
		id TEXT PRIMARY KEY,
		disaster_id TEXT NOT NULL UNIQUE,
		disaster_type TEXT NOT NULL,
		base_budget TEXT NOT NULL,
		adjusted_budget TEXT NOT NULL,
		committed TEXT NOT NULL,
		spent TEXT NOT NULL,
		planned TEXT NOT NULL,
		households_affected INTEGER NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		closed_at TEXT,
		released_at_close TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_funds_type ON funds(disaster_type);

	-- Expenditures are inserted and their status advanced. Never deleted.
	CREATE TABLE IF NOT EXISTS expenditures (
		id TEXT PRIMARY KEY,
		fund_id TEXT NOT NULL,
		disaster_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		category TEXT NOT NULL,
		override_approved INTEGER NOT NULL,
		receipt_ref TEXT,
		status TEXT NOT NULL,
		recorded_by TEXT NOT NULL,
		decided_by TEXT,
		void_reason TEXT,
		recorded_at TEXT NOT NULL,
		decided_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_expenditures_fund ON expenditures(fund_id, recorded_at);
	CREATE INDEX IF NOT EXISTS idx_expenditures_type ON expenditures(disaster_type, recorded_at);

	CREATE TABLE IF NOT EXISTS adjustments (
		id TEXT PRIMARY KEY,
		from_type TEXT NOT NULL,
		to_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		reason TEXT,
		status TEXT NOT NULL,
		requested_by TEXT NOT NULL,
		decided_by TEXT,
		created_at TEXT NOT NULL,
		decided_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_adjustments_status ON adjustments(status, created_at);

	-- Audit log: INSERT only.
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		before_json TEXT,
		after_json TEXT,
		detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_log(subject_id, at);
	CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor_id, at);

	CREATE TABLE IF NOT EXISTS assessments (
		id TEXT PRIMARY KEY,
		household_id TEXT NOT NULL,
		disaster_id TEXT NOT NULL,
		monthly_income TEXT NOT NULL,
		household_size INTEGER NOT NULL,
		children_under_5 INTEGER NOT NULL,
		disaster_type TEXT NOT NULL,
		damage_severity INTEGER NOT NULL,
		housing_tier TEXT,
		housing_damage TEXT,
		damaged_land_hectares TEXT NOT NULL,
		livestock_units INTEGER NOT NULL,
		farming_household INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		scored_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_assessments_disaster ON assessments(disaster_id, created_at);

	CREATE TABLE IF NOT EXISTS allocation_plans (
		id TEXT PRIMARY KEY,
		assessment_id TEXT NOT NULL,
		fund_id TEXT NOT NULL,
		vulnerability_score INTEGER NOT NULL,
		composite_score INTEGER NOT NULL,
		tier TEXT NOT NULL,
		packages_json TEXT NOT NULL,
		total_cost TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_plans_fund ON allocation_plans(fund_id, created_at);
	`
	_, err := s.sqlDB.Exec(schema)
	return err
}

// WithTx runs fn inside a database transaction. A returned error rolls
// everything back.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&queries{db: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// =============================================================================
// ENVELOPES
// =============================================================================

func (q *queries) GetEnvelope(ctx context.Context, t ledger.DisasterType) (*ledger.BudgetEnvelope, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT disaster_type, fiscal_year, allocated, committed, spent, version, updated_at
		FROM envelopes WHERE disaster_type = ?`, string(t))
	return scanEnvelope(row)
}

func (q *queries) ListEnvelopes(ctx context.Context) ([]ledger.BudgetEnvelope, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT disaster_type, fiscal_year, allocated, committed, spent, version, updated_at
		FROM envelopes ORDER BY disaster_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.BudgetEnvelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *env)
	}
	return out, rows.Err()
}

func (q *queries) PutEnvelope(ctx context.Context, env ledger.BudgetEnvelope) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO envelopes (disaster_type, fiscal_year, allocated, committed, spent, version, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(disaster_type) DO UPDATE SET
			fiscal_year = excluded.fiscal_year,
			allocated = excluded.allocated,
			committed = excluded.committed,
			spent = excluded.spent,
			version = 0,
			updated_at = excluded.updated_at`,
		string(env.DisasterType), env.FiscalYear,
		env.Allocated.String(), env.Committed.String(), env.Spent.String(),
		formatTime(time.Now().UTC()))
	return err
}

func (q *queries) SaveEnvelope(ctx context.Context, env ledger.BudgetEnvelope, expectedVersion int64) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE envelopes
		SET allocated = ?, committed = ?, spent = ?, version = version + 1, updated_at = ?
		WHERE disaster_type = ? AND version = ?`,
		env.Allocated.String(), env.Committed.String(), env.Spent.String(),
		formatTime(time.Now().UTC()), string(env.DisasterType), expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := q.GetEnvelope(ctx, env.DisasterType); getErr != nil {
			return getErr
		}
		return ledger.ErrConcurrentModification
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(row rowScanner) (*ledger.BudgetEnvelope, error) {
	var env ledger.BudgetEnvelope
	var t, allocated, committed, spent, updatedAt string
	err := row.Scan(&t, &env.FiscalYear, &allocated, &committed, &spent, &env.Version, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrEnvelopeNotFound
	}
	if err != nil {
		return nil, err
	}
	env.DisasterType = ledger.DisasterType(t)
	if env.Allocated, err = parseMoney(allocated); err != nil {
		return nil, err
	}
	if env.Committed, err = parseMoney(committed); err != nil {
		return nil, err
	}
	if env.Spent, err = parseMoney(spent); err != nil {
		return nil, err
	}
	env.UpdatedAt, _ = parseTime(updatedAt)
	return &env, nil
}

// =============================================================================
// FUNDS
// =============================================================================

const fundColumns = `id, disaster_id, disaster_type, base_budget, adjusted_budget,
	committed, spent, planned, households_affected, status, version,
	created_at, closed_at, released_at_close`

func (q *queries) GetFund(ctx context.Context, id ledger.FundID) (*ledger.IncidentFund, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+fundColumns+` FROM funds WHERE id = ?`, string(id))
	return scanFund(row)
}

func (q *queries) GetFundByDisaster(ctx context.Context, disasterID ledger.DisasterID) (*ledger.IncidentFund, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+fundColumns+` FROM funds WHERE disaster_id = ?`, string(disasterID))
	return scanFund(row)
}

func (q *queries) ListFunds(ctx context.Context, t *ledger.DisasterType) ([]ledger.IncidentFund, error) {
	query := `SELECT ` + fundColumns + ` FROM funds`
	var args []any
	if t != nil {
		query += ` WHERE disaster_type = ?`
		args = append(args, string(*t))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.IncidentFund
	for rows.Next() {
		fund, err := scanFund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *fund)
	}
	return out, rows.Err()
}

func (q *queries) PutFund(ctx context.Context, fund ledger.IncidentFund) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO funds (`+fundColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		string(fund.ID), string(fund.DisasterID), string(fund.DisasterType),
		fund.BaseBudget.String(), fund.AdjustedBudget.String(),
		fund.Committed.String(), fund.Spent.String(), fund.Planned.String(),
		fund.HouseholdsAffected, string(fund.Status),
		formatTime(fund.CreatedAt), nullTime(fund.ClosedAt), fund.ReleasedAtClose.String())
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ledger.ErrDuplicateFund
	}
	return err
}

func (q *queries) SaveFund(ctx context.Context, fund ledger.IncidentFund, expectedVersion int64) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE funds
		SET committed = ?, spent = ?, planned = ?, status = ?, version = version + 1,
			closed_at = ?, released_at_close = ?
		WHERE id = ? AND version = ?`,
		fund.Committed.String(), fund.Spent.String(), fund.Planned.String(),
		string(fund.Status), nullTime(fund.ClosedAt), fund.ReleasedAtClose.String(),
		string(fund.ID), expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := q.GetFund(ctx, fund.ID); getErr != nil {
			return getErr
		}
		return ledger.ErrConcurrentModification
	}
	return nil
}

func scanFund(row rowScanner) (*ledger.IncidentFund, error) {
	var fund ledger.IncidentFund
	var id, disasterID, t, base, adjusted, committed, spent, planned, status, createdAt, released string
	var closedAt sql.NullString
	err := row.Scan(&id, &disasterID, &t, &base, &adjusted,
		&committed, &spent, &planned, &fund.HouseholdsAffected, &status, &fund.Version,
		&createdAt, &closedAt, &released)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrFundNotFound
	}
	if err != nil {
		return nil, err
	}
	fund.ID = ledger.FundID(id)
	fund.DisasterID = ledger.DisasterID(disasterID)
	fund.DisasterType = ledger.DisasterType(t)
	fund.Status = ledger.FundStatus(status)
	for _, f := range []struct {
		dst *ledger.Money
		src string
	}{
		{&fund.BaseBudget, base}, {&fund.AdjustedBudget, adjusted},
		{&fund.Committed, committed}, {&fund.Spent, spent},
		{&fund.Planned, planned}, {&fund.ReleasedAtClose, released},
	} {
		if *f.dst, err = parseMoney(f.src); err != nil {
			return nil, err
		}
	}
	fund.CreatedAt, _ = parseTime(createdAt)
	if closedAt.Valid {
		tm, _ := parseTime(closedAt.String)
		fund.ClosedAt = &tm
	}
	return &fund, nil
}

// =============================================================================
// EXPENDITURES
// =============================================================================

const expenditureColumns = `id, fund_id, disaster_type, amount, category,
	override_approved, receipt_ref, status, recorded_by, decided_by, void_reason,
	recorded_at, decided_at`

func (q *queries) GetExpenditure(ctx context.Context, id ledger.ExpenditureID) (*ledger.Expenditure, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+expenditureColumns+` FROM expenditures WHERE id = ?`, string(id))
	exp, err := scanExpenditure(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrExpenditureNotFound
	}
	return exp, err
}

func (q *queries) ListExpenditures(ctx context.Context, fundID ledger.FundID) ([]ledger.Expenditure, error) {
	return q.queryExpenditures(ctx,
		`SELECT `+expenditureColumns+` FROM expenditures WHERE fund_id = ? ORDER BY recorded_at`,
		string(fundID))
}

func (q *queries) ListExpendituresByType(ctx context.Context, t ledger.DisasterType) ([]ledger.Expenditure, error) {
	return q.queryExpenditures(ctx,
		`SELECT `+expenditureColumns+` FROM expenditures WHERE disaster_type = ? ORDER BY recorded_at`,
		string(t))
}

func (q *queries) queryExpenditures(ctx context.Context, query string, args ...any) ([]ledger.Expenditure, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Expenditure
	for rows.Next() {
		exp, err := scanExpenditure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *exp)
	}
	return out, rows.Err()
}

func (q *queries) PutExpenditure(ctx context.Context, exp ledger.Expenditure) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO expenditures (`+expenditureColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(exp.ID), string(exp.FundID), string(exp.DisasterType),
		exp.Amount.String(), exp.Category, boolInt(exp.OverrideApproved),
		nullString(exp.ReceiptRef), string(exp.Status), exp.RecordedBy,
		nullString(exp.DecidedBy), nullString(exp.VoidReason),
		formatTime(exp.RecordedAt), nullTime(exp.DecidedAt))
	return err
}

func (q *queries) SaveExpenditure(ctx context.Context, exp ledger.Expenditure) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE expenditures
		SET status = ?, decided_by = ?, void_reason = ?, decided_at = ?
		WHERE id = ?`,
		string(exp.Status), nullString(exp.DecidedBy), nullString(exp.VoidReason),
		nullTime(exp.DecidedAt), string(exp.ID))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrExpenditureNotFound
	}
	return nil
}

func scanExpenditure(row rowScanner) (*ledger.Expenditure, error) {
	var exp ledger.Expenditure
	var id, fundID, t, amount, status, recordedAt string
	var override int
	var receipt, decidedBy, voidReason, decidedAt sql.NullString
	err := row.Scan(&id, &fundID, &t, &amount, &exp.Category,
		&override, &receipt, &status, &exp.RecordedBy, &decidedBy, &voidReason,
		&recordedAt, &decidedAt)
	if err != nil {
		return nil, err
	}
	exp.ID = ledger.ExpenditureID(id)
	exp.FundID = ledger.FundID(fundID)
	exp.DisasterType = ledger.DisasterType(t)
	exp.Status = ledger.ApprovalStatus(status)
	exp.OverrideApproved = override != 0
	exp.ReceiptRef = receipt.String
	exp.DecidedBy = decidedBy.String
	exp.VoidReason = voidReason.String
	if exp.Amount, err = parseMoney(amount); err != nil {
		return nil, err
	}
	exp.RecordedAt, _ = parseTime(recordedAt)
	if decidedAt.Valid {
		tm, _ := parseTime(decidedAt.String)
		exp.DecidedAt = &tm
	}
	return &exp, nil
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

const adjustmentColumns = `id, from_type, to_type, amount, reason, status,
	requested_by, decided_by, created_at, decided_at`

func (q *queries) GetAdjustment(ctx context.Context, id ledger.AdjustmentID) (*ledger.AdjustmentRequest, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+adjustmentColumns+` FROM adjustments WHERE id = ?`, string(id))
	req, err := scanAdjustment(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrAdjustmentNotFound
	}
	return req, err
}

func (q *queries) ListAdjustments(ctx context.Context, status *ledger.ApprovalStatus) ([]ledger.AdjustmentRequest, error) {
	query := `SELECT ` + adjustmentColumns + ` FROM adjustments`
	var args []any
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.AdjustmentRequest
	for rows.Next() {
		req, err := scanAdjustment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func (q *queries) PutAdjustment(ctx context.Context, req ledger.AdjustmentRequest) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO adjustments (`+adjustmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(req.ID), string(req.FromType), string(req.ToType),
		req.Amount.String(), nullString(req.Reason), string(req.Status),
		req.RequestedBy, nullString(req.DecidedBy),
		formatTime(req.CreatedAt), nullTime(req.DecidedAt))
	return err
}

func (q *queries) SaveAdjustment(ctx context.Context, req ledger.AdjustmentRequest) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE adjustments
		SET status = ?, decided_by = ?, decided_at = ?
		WHERE id = ?`,
		string(req.Status), nullString(req.DecidedBy), nullTime(req.DecidedAt), string(req.ID))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrAdjustmentNotFound
	}
	return nil
}

func scanAdjustment(row rowScanner) (*ledger.AdjustmentRequest, error) {
	var req ledger.AdjustmentRequest
	var id, from, to, amount, status, createdAt string
	var reason, decidedBy, decidedAt sql.NullString
	err := row.Scan(&id, &from, &to, &amount, &reason, &status,
		&req.RequestedBy, &decidedBy, &createdAt, &decidedAt)
	if err != nil {
		return nil, err
	}
	req.ID = ledger.AdjustmentID(id)
	req.FromType = ledger.DisasterType(from)
	req.ToType = ledger.DisasterType(to)
	req.Status = ledger.ApprovalStatus(status)
	req.Reason = reason.String
	req.DecidedBy = decidedBy.String
	if req.Amount, err = parseMoney(amount); err != nil {
		return nil, err
	}
	req.CreatedAt, _ = parseTime(createdAt)
	if decidedAt.Valid {
		tm, _ := parseTime(decidedAt.String)
		req.DecidedAt = &tm
	}
	return &req, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (q *queries) AppendAudit(ctx context.Context, entry ledger.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	beforeJSON, err := marshalBalances(entry.Before)
	if err != nil {
		return err
	}
	afterJSON, err := marshalBalances(entry.After)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, actor_id, action, subject_id, before_json, after_json, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, formatTime(entry.At), entry.ActorID, string(entry.Action),
		entry.SubjectID, beforeJSON, afterJSON, nullString(entry.Detail))
	return err
}

func (q *queries) QueryAudit(ctx context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	query := `SELECT id, at, actor_id, action, subject_id, before_json, after_json, detail
		FROM audit_log WHERE 1=1`
	var args []any
	if filter.ActorID != nil {
		query += ` AND actor_id = ?`
		args = append(args, *filter.ActorID)
	}
	if filter.SubjectID != nil {
		query += ` AND subject_id = ?`
		args = append(args, *filter.SubjectID)
	}
	if filter.From != nil {
		query += ` AND at >= ?`
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		query += ` AND at <= ?`
		args = append(args, formatTime(*filter.To))
	}
	if len(filter.Actions) > 0 {
		placeholders := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			placeholders[i] = "?"
			args = append(args, string(a))
		}
		query += ` AND action IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY at`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.AuditEntry
	for rows.Next() {
		var e ledger.AuditEntry
		var at, action string
		var beforeJSON, afterJSON, detail sql.NullString
		if err := rows.Scan(&e.ID, &at, &e.ActorID, &action, &e.SubjectID,
			&beforeJSON, &afterJSON, &detail); err != nil {
			return nil, err
		}
		e.Action = ledger.AuditAction(action)
		e.Detail = detail.String
		e.At, _ = parseTime(at)
		if e.Before, err = unmarshalBalances(beforeJSON); err != nil {
			return nil, err
		}
		if e.After, err = unmarshalBalances(afterJSON); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// ASSESSMENTS AND ALLOCATION PLANS
// =============================================================================

const assessmentColumns = `id, household_id, disaster_id, monthly_income,
	household_size, children_under_5, disaster_type, damage_severity,
	housing_tier, housing_damage, damaged_land_hectares, livestock_units,
	farming_household, created_at, scored_at`

func (q *queries) PutAssessment(ctx context.Context, a assess.HouseholdAssessment) error {
	if existing, err := q.GetAssessment(ctx, a.ID); err == nil && existing.Locked() {
		return assess.ErrAssessmentLocked
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO assessments (`+assessmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			household_id = excluded.household_id,
			monthly_income = excluded.monthly_income,
			household_size = excluded.household_size,
			children_under_5 = excluded.children_under_5,
			disaster_type = excluded.disaster_type,
			damage_severity = excluded.damage_severity,
			housing_tier = excluded.housing_tier,
			housing_damage = excluded.housing_damage,
			damaged_land_hectares = excluded.damaged_land_hectares,
			livestock_units = excluded.livestock_units,
			farming_household = excluded.farming_household`,
		string(a.ID), a.HouseholdID, string(a.DisasterID), a.MonthlyIncome.String(),
		a.HouseholdSize, a.ChildrenUnder5, string(a.DisasterType), a.DamageSeverity,
		nullString(string(a.HousingTier)), nullString(string(a.HousingDamage)),
		a.DamagedLandHectares.String(), a.LivestockUnits, boolInt(a.FarmingHousehold),
		formatTime(a.CreatedAt), nullTime(a.ScoredAt))
	return err
}

func (q *queries) GetAssessment(ctx context.Context, id assess.AssessmentID) (*assess.HouseholdAssessment, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE id = ?`, string(id))
	a, err := scanAssessment(row)
	if err == sql.ErrNoRows {
		return nil, assess.ErrAssessmentNotFound
	}
	return a, err
}

func (q *queries) ListAssessments(ctx context.Context, disasterID ledger.DisasterID) ([]assess.HouseholdAssessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM assessments`
	var args []any
	if disasterID != "" {
		query += ` WHERE disaster_id = ?`
		args = append(args, string(disasterID))
	}
	query += ` ORDER BY created_at`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []assess.HouseholdAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (q *queries) MarkScored(ctx context.Context, id assess.AssessmentID, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE assessments SET scored_at = ? WHERE id = ? AND scored_at IS NULL`,
		formatTime(at), string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := q.GetAssessment(ctx, id); getErr != nil {
			return getErr
		}
		return assess.ErrAssessmentLocked
	}
	return nil
}

func scanAssessment(row rowScanner) (*assess.HouseholdAssessment, error) {
	var a assess.HouseholdAssessment
	var id, householdID, disasterID, income, t, land, createdAt string
	var tier, damage, scoredAt sql.NullString
	var farming int
	err := row.Scan(&id, &householdID, &disasterID, &income,
		&a.HouseholdSize, &a.ChildrenUnder5, &t, &a.DamageSeverity,
		&tier, &damage, &land, &a.LivestockUnits, &farming, &createdAt, &scoredAt)
	if err != nil {
		return nil, err
	}
	a.ID = assess.AssessmentID(id)
	a.HouseholdID = householdID
	a.DisasterID = ledger.DisasterID(disasterID)
	a.DisasterType = ledger.DisasterType(t)
	a.HousingTier = ledger.HousingTier(tier.String)
	a.HousingDamage = ledger.HousingDamage(damage.String)
	a.FarmingHousehold = farming != 0
	if a.MonthlyIncome, err = parseMoney(income); err != nil {
		return nil, err
	}
	if a.DamagedLandHectares, err = parseMoney(land); err != nil {
		return nil, err
	}
	a.CreatedAt, _ = parseTime(createdAt)
	if scoredAt.Valid {
		tm, _ := parseTime(scoredAt.String)
		a.ScoredAt = &tm
	}
	return &a, nil
}

func (q *queries) PutPlan(ctx context.Context, plan assess.AllocationPlan) error {
	packages, err := json.Marshal(plan.Packages)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO allocation_plans (id, assessment_id, fund_id, vulnerability_score,
			composite_score, tier, packages_json, total_cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID, string(plan.AssessmentID), string(plan.FundID),
		plan.VulnerabilityScore, plan.CompositeScore, string(plan.Tier),
		string(packages), plan.TotalCost.String(), formatTime(plan.CreatedAt))
	return err
}

func (q *queries) DeletePlan(ctx context.Context, planID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM allocation_plans WHERE id = ?`, planID)
	return err
}

func (q *queries) ListPlans(ctx context.Context, fundID ledger.FundID) ([]assess.AllocationPlan, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, assessment_id, fund_id, vulnerability_score, composite_score,
			tier, packages_json, total_cost, created_at
		FROM allocation_plans WHERE fund_id = ? ORDER BY created_at`, string(fundID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []assess.AllocationPlan
	for rows.Next() {
		var p assess.AllocationPlan
		var assessmentID, fID, tier, packages, cost, createdAt string
		if err := rows.Scan(&p.ID, &assessmentID, &fID, &p.VulnerabilityScore,
			&p.CompositeScore, &tier, &packages, &cost, &createdAt); err != nil {
			return nil, err
		}
		p.AssessmentID = assess.AssessmentID(assessmentID)
		p.FundID = ledger.FundID(fID)
		p.Tier = assess.Tier(tier)
		if err := json.Unmarshal([]byte(packages), &p.Packages); err != nil {
			return nil, err
		}
		if p.TotalCost, err = parseMoney(cost); err != nil {
			return nil, err
		}
		p.CreatedAt, _ = parseTime(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func parseMoney(s string) (ledger.Money, error) {
	m, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt money value %q: %w", s, err)
	}
	return m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalBalances(m map[string]ledger.Money) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalBalances(s sql.NullString) (map[string]ledger.Money, error) {
	if !s.Valid {
		return nil, nil
	}
	var m map[string]ledger.Money
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}
