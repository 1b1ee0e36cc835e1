/*
Package ledger provides the core aid-budget accounting engine.

PURPOSE:
  This package contains the multi-level financial ledger for disaster
  relief: annual budget envelopes per disaster type, per-incident funds
  drawn from those envelopes, expenditures drawn from funds, and the
  dual-authorization workflow that moves capacity between envelopes.

KEY CONCEPTS IN THIS FILE (types.go):
  - DisasterType: The key for a budget envelope (drought, flood, ...)
  - Money: Fixed-point currency amounts (decimal.Decimal, never float)
  - Actor: An already-authenticated user performing a mutation
  - Identifiers: Type-safe IDs for funds, expenditures, adjustments

DESIGN PRINCIPLES:
  1. Conservation: Money is never created or destroyed by an operation;
     it only moves between allocated/committed/spent buckets.
  2. Precision: Uses decimal.Decimal to avoid floating-point drift
     across the many additive operations in the ledgers.
  3. Single writer per key: All envelope/fund mutation goes through the
     named operations; optimistic version tokens detect races.
  4. Auditability: Every workflow transition appends an audit entry.

SEE ALSO:
  - envelope.go: BudgetEnvelope aggregate and its four operations
  - fund.go: IncidentFund lifecycle (create on verification, close)
  - expenditure.go: Expenditure recording and dual-actor approval
  - adjustment.go: Inter-envelope transfer state machine
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point currency amounts
// =============================================================================

// Money is a fixed-point currency amount. All ledger math uses
// decimal.Decimal; floats are confined to config parsing and DTOs.
type Money = decimal.Decimal

// NewMoney returns a Money from whole currency units.
func NewMoney(value int64) Money {
	return decimal.NewFromInt(value)
}

// MustParseMoney parses a decimal string, returning zero on failure.
// Intended for constants and seed data, not user input.
func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// DISASTER TYPE - Envelope key
// =============================================================================

// DisasterType keys a budget envelope. One envelope exists per disaster
// type per fiscal year; incident funds inherit the type of their parent.
type DisasterType string

const (
	DisasterDrought       DisasterType = "drought"
	DisasterHeavyRainfall DisasterType = "heavy_rainfall"
	DisasterFlood         DisasterType = "flood"
	DisasterLandslide     DisasterType = "landslide"
	DisasterStorm         DisasterType = "storm"
)

// KnownDisasterTypes lists the types seeded by default. Envelopes for
// other types can still be created administratively; the ledger treats
// the type as an opaque key.
func KnownDisasterTypes() []DisasterType {
	return []DisasterType{
		DisasterDrought,
		DisasterHeavyRainfall,
		DisasterFlood,
		DisasterLandslide,
		DisasterStorm,
	}
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type FundID string
type ExpenditureID string
type AdjustmentID string
type DisasterID string

// Actor identifies an authenticated user performing a mutation. Identity
// and role resolution happen outside this package; the ledger only needs
// a stable ID for audit entries and separation-of-duties checks.
type Actor struct {
	ID   string
	Role string
}

// =============================================================================
// APPROVAL STATUS - Shared by expenditures and adjustment requests
// =============================================================================

type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
	StatusVoided   ApprovalStatus = "voided"
)

// Terminal reports whether no further transition is allowed from s.
// Voided is reachable only from Approved; everything else is final.
func (s ApprovalStatus) Terminal() bool {
	return s == StatusRejected || s == StatusVoided
}

// =============================================================================
// HOUSING - Reconstruction reference data keys
// =============================================================================

// HousingTier classifies house construction quality for reconstruction
// cost purposes.
type HousingTier string

const (
	HousingTierA HousingTier = "A"
	HousingTierB HousingTier = "B"
	HousingTierC HousingTier = "C"
)

// HousingDamage classifies the damage level applied as a multiplier on
// the tier reconstruction cost.
type HousingDamage string

const (
	HousingDamagePartial   HousingDamage = "partial"
	HousingDamageSevere    HousingDamage = "severe"
	HousingDamageDestroyed HousingDamage = "destroyed"
)

// =============================================================================
// AUDIT - Immutable trail for workflow transitions
// =============================================================================

type AuditAction string

const (
	AuditEnvelopeAllocated   AuditAction = "envelope_allocated"
	AuditFundCreated         AuditAction = "fund_created"
	AuditFundClosed          AuditAction = "fund_closed"
	AuditExpenditureRecorded AuditAction = "expenditure_recorded"
	AuditExpenditureApproved AuditAction = "expenditure_approved"
	AuditExpenditureRejected AuditAction = "expenditure_rejected"
	AuditExpenditureVoided   AuditAction = "expenditure_voided"
	AuditAdjustmentSubmitted AuditAction = "adjustment_submitted"
	AuditAdjustmentApproved  AuditAction = "adjustment_approved"
	AuditAdjustmentRejected  AuditAction = "adjustment_rejected"
)

// AuditEntry records who did what, when, and the balances before and
// after. Entries are append-only; no transition may be reversed, only
// re-requested.
type AuditEntry struct {
	ID        string
	At        time.Time
	ActorID   string
	Action    AuditAction
	SubjectID string
	// Before/After hold the balances touched by the transition,
	// keyed by a short label (e.g. "drought.allocated").
	Before map[string]Money
	After  map[string]Money
	Detail string
}

// AuditFilter narrows an audit query. Nil fields match everything.
type AuditFilter struct {
	ActorID   *string
	SubjectID *string
	Actions   []AuditAction
	From      *time.Time
	To        *time.Time
}
