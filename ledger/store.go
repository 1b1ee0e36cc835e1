/*
store.go - Persistence interface for the ledgers

PURPOSE:
  Defines the interface between the ledger services and the database.
  Different implementations can use SQLite or in-memory storage.

OPTIMISTIC CONCURRENCY:
  Envelopes and funds carry a Version token. SaveEnvelope/SaveFund are
  compare-and-swap writes: they succeed only when the stored version
  equals expectedVersion, incrementing it on success, and return
  ErrConcurrentModification otherwise. Services retry on conflict. This
  is what makes the non-negativity invariant enforceable under
  concurrent commits and spends.

TRANSACTIONS:
  TxStore.WithTx runs a function against a transactional view. Every
  multi-record mutation (expenditure approval's double entry, the
  two-envelope transfer) goes through WithTx so it is all-or-nothing.

APPEND-ONLY PARTS:
  Expenditures are never deleted; they only move through the approval
  state machine. The audit log is strictly append-only: no update, no
  delete, ever.

IMPLEMENTATIONS:
  - store/sqlite: production store, SQL transactions + version columns
  - ledger/store: in-memory store for tests and demos
*/
package ledger

import "context"

// =============================================================================
// PER-RECORD STORES
// =============================================================================

// EnvelopeStore persists budget envelopes with compare-and-swap saves.
type EnvelopeStore interface {
	// GetEnvelope returns the envelope for a type, or ErrEnvelopeNotFound.
	GetEnvelope(ctx context.Context, t DisasterType) (*BudgetEnvelope, error)

	ListEnvelopes(ctx context.Context) ([]BudgetEnvelope, error)

	// PutEnvelope inserts a new envelope at version 0.
	PutEnvelope(ctx context.Context, env BudgetEnvelope) error

	// SaveEnvelope writes env only if the stored version equals
	// expectedVersion, incrementing it. Returns ErrConcurrentModification
	// on mismatch.
	SaveEnvelope(ctx context.Context, env BudgetEnvelope, expectedVersion int64) error
}

// FundStore persists incident funds with compare-and-swap saves.
type FundStore interface {
	GetFund(ctx context.Context, id FundID) (*IncidentFund, error)

	// GetFundByDisaster returns the fund opened for a disaster, or
	// ErrFundNotFound. Used to enforce exactly-once creation.
	GetFundByDisaster(ctx context.Context, disasterID DisasterID) (*IncidentFund, error)

	// ListFunds returns funds, newest first. Nil type matches all.
	ListFunds(ctx context.Context, t *DisasterType) ([]IncidentFund, error)

	PutFund(ctx context.Context, fund IncidentFund) error

	// SaveFund is the CAS counterpart of SaveEnvelope.
	SaveFund(ctx context.Context, fund IncidentFund, expectedVersion int64) error
}

// ExpenditureStore persists expenditures. Records are never removed;
// SaveExpenditure only advances the approval state machine.
type ExpenditureStore interface {
	GetExpenditure(ctx context.Context, id ExpenditureID) (*Expenditure, error)
	ListExpenditures(ctx context.Context, fundID FundID) ([]Expenditure, error)

	// ListExpendituresByType returns expenditures across all funds of a
	// type, used by the forecast engine's depletion math.
	ListExpendituresByType(ctx context.Context, t DisasterType) ([]Expenditure, error)

	PutExpenditure(ctx context.Context, exp Expenditure) error
	SaveExpenditure(ctx context.Context, exp Expenditure) error
}

// AdjustmentStore persists adjustment requests.
type AdjustmentStore interface {
	GetAdjustment(ctx context.Context, id AdjustmentID) (*AdjustmentRequest, error)

	// ListAdjustments returns requests, newest first. Nil status matches all.
	ListAdjustments(ctx context.Context, status *ApprovalStatus) ([]AdjustmentRequest, error)

	PutAdjustment(ctx context.Context, req AdjustmentRequest) error
	SaveAdjustment(ctx context.Context, req AdjustmentRequest) error
}

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// =============================================================================
// COMBINED STORE
// =============================================================================

// Store is the full persistence surface the ledger services need.
type Store interface {
	EnvelopeStore
	FundStore
	ExpenditureStore
	AdjustmentStore
	AuditLog
}

// TxStore wraps Store with transaction support. If fn returns an error
// the transaction is rolled back; otherwise it is committed.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
