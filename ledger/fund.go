/*
fund.go - IncidentFund lifecycle

PURPOSE:
  An IncidentFund is the sub-account for one specific verified disaster,
  drawn from its parent envelope. Creation happens exactly once, as a
  side effect of disaster verification:

    1. Size the fund: adjustedBudget from needs + housing + land.
    2. Reserve that capacity on the parent envelope (Commit).
    3. Open the fund with Committed = AdjustedBudget, Spent = 0.

  If the envelope cannot absorb the commitment, creation fails with
  BudgetExhaustedError and the verification flow is blocked until an
  adjustment request tops up the envelope. There is no partial creation.

FUND BUCKETS:
  Committed: budget reserved from the envelope and not yet spent
  Spent:     consumed by approved expenditures
  Invariant: Committed + Spent == AdjustedBudget while the fund is open.
  Unspent capacity is therefore Committed, and the conservation identity
  AdjustedBudget - Committed - Spent == 0 holds after every operation.

CLOSURE:
  Closing releases the unspent Committed back to the envelope and marks
  the fund closed. Closed funds are terminal and immutable; they remain
  in the store forever as the historical record the forecast engine
  reads. Funds are never deleted.

SEE ALSO:
  - profile.go: budget sizing formula
  - expenditure.go: the only path that moves Committed to Spent
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// INCIDENT FUND - Per-disaster sub-account
// =============================================================================

type FundStatus string

const (
	FundOpen   FundStatus = "open"
	FundClosed FundStatus = "closed"
)

type IncidentFund struct {
	ID           FundID
	DisasterID   DisasterID
	DisasterType DisasterType

	BaseBudget     Money
	AdjustedBudget Money
	Committed      Money
	Spent          Money

	// Planned tracks the cumulative cost of allocation plans reconciled
	// against this fund. Plans reserve nothing on the ledger; they are
	// an early-warning check that household-level assistance packages
	// stay within the fund.
	Planned Money

	// HouseholdsAffected is carried from the impact summary; the
	// forecast engine uses it for cost-per-household history.
	HouseholdsAffected int64

	Status          FundStatus
	Version         int64
	CreatedAt       time.Time
	ClosedAt        *time.Time
	ReleasedAtClose Money
}

// Unspent returns the capacity still available to spend.
func (f *IncidentFund) Unspent() Money { return f.Committed }

// Remaining returns AdjustedBudget - Committed - Spent. Zero while the
// fund is open; used as a conservation check, not a balance.
func (f *IncidentFund) Remaining() Money {
	return f.AdjustedBudget.Sub(f.Committed).Sub(f.Spent)
}

// =============================================================================
// FUND SERVICE - Creation, plan reconciliation, closure
// =============================================================================

// FundService owns the incident-fund lifecycle. Profile lookup failures
// during creation are integrity problems: a verified disaster of a type
// with no envelope or profile means reference data is broken.
type FundService struct {
	Store     Store
	Envelopes *EnvelopeService
	Needs     map[DisasterType]NeedsProfile
	Housing   HousingProfile
}

func NewFundService(store Store, envelopes *EnvelopeService, needs map[DisasterType]NeedsProfile, housing HousingProfile) *FundService {
	return &FundService{Store: store, Envelopes: envelopes, Needs: needs, Housing: housing}
}

// Get returns a fund by ID.
func (s *FundService) Get(ctx context.Context, id FundID) (*IncidentFund, error) {
	return s.Store.GetFund(ctx, id)
}

// List returns all funds, optionally filtered by disaster type.
func (s *FundService) List(ctx context.Context, t *DisasterType) ([]IncidentFund, error) {
	return s.Store.ListFunds(ctx, t)
}

// OnDisasterVerified creates the incident fund for a newly verified
// disaster. Called exactly once per disaster by the verification
// workflow; a second call fails with ErrDuplicateFund.
func (s *FundService) OnDisasterVerified(ctx context.Context, disasterID DisasterID, t DisasterType, impact ImpactSummary, actor Actor) (*IncidentFund, error) {
	if existing, err := s.Store.GetFundByDisaster(ctx, disasterID); err == nil && existing != nil {
		return nil, ErrDuplicateFund
	} else if err != nil && !errors.Is(err, ErrFundNotFound) {
		return nil, err
	}

	needs, ok := s.Needs[t]
	if !ok {
		return nil, &IntegrityViolationError{
			Subject: string(t),
			Detail:  "disaster verified for a type with no needs profile",
		}
	}

	base := needs.BaseBudget(impact)
	adjusted := AdjustedBudget(needs, s.Housing, impact)

	// Reserve the full budget on the parent envelope first. A capacity
	// failure here surfaces as BudgetExhaustedError and nothing is
	// created; the verification flow must resolve it via an adjustment
	// request and retry.
	env, err := s.Envelopes.Commit(ctx, t, adjusted)
	if err != nil {
		var capErr *InsufficientCapacityError
		if errors.As(err, &capErr) {
			return nil, &BudgetExhaustedError{
				DisasterType: t,
				Requested:    adjusted,
				Available:    capErr.Available,
			}
		}
		return nil, err
	}

	fund := IncidentFund{
		ID:                 FundID(uuid.NewString()),
		DisasterID:         disasterID,
		DisasterType:       t,
		BaseBudget:         base,
		AdjustedBudget:     adjusted,
		Committed:          adjusted,
		Spent:              NewMoney(0),
		Planned:            NewMoney(0),
		HouseholdsAffected: impact.Households,
		Status:             FundOpen,
		CreatedAt:          time.Now().UTC(),
	}

	if err := s.Store.PutFund(ctx, fund); err != nil {
		// Compensate the envelope reservation; fund creation must not
		// leave a dangling commitment.
		if _, relErr := s.Envelopes.Release(ctx, t, adjusted); relErr != nil {
			return nil, &IntegrityViolationError{
				Subject: string(fund.ID),
				Detail: fmt.Sprintf("fund persist failed (%v) and envelope release failed (%v): %s committed on %s without a fund",
					err, relErr, adjusted, t),
			}
		}
		return nil, err
	}

	s.auditFund(ctx, actor, AuditFundCreated, fund, env, fmt.Sprintf("fund opened at %s for disaster %s", adjusted, disasterID))
	return &fund, nil
}

// ReconcilePlan records an allocation plan's estimated cost against the
// fund. The plan draws no money; it fails if cumulative planned cost
// would exceed what the fund can still spend.
func (s *FundService) ReconcilePlan(ctx context.Context, id FundID, planCost Money) (*IncidentFund, error) {
	return s.mutateFund(ctx, id, func(f *IncidentFund) error {
		if f.Status != FundOpen {
			return ErrFundClosed
		}
		spendable := f.AdjustedBudget.Sub(f.Spent)
		if f.Planned.Add(planCost).GreaterThan(spendable) {
			return &InsufficientCapacityError{
				DisasterType: f.DisasterType,
				Available:    spendable.Sub(f.Planned),
				Requested:    planCost,
			}
		}
		f.Planned = f.Planned.Add(planCost)
		return nil
	})
}

// ReleasePlan backs a previously reconciled plan cost out of the fund.
// Used when committing a plan fails after the reconcile has applied.
func (s *FundService) ReleasePlan(ctx context.Context, id FundID, planCost Money) (*IncidentFund, error) {
	return s.mutateFund(ctx, id, func(f *IncidentFund) error {
		if f.Planned.LessThan(planCost) {
			return &IntegrityViolationError{
				Subject: string(id),
				Detail:  fmt.Sprintf("cannot release plan cost %s: only %s is planned", planCost, f.Planned),
			}
		}
		f.Planned = f.Planned.Sub(planCost)
		return nil
	})
}

// Close releases any unspent capacity back to the parent envelope and
// marks the fund closed. Terminal; a second close fails.
func (s *FundService) Close(ctx context.Context, id FundID, actor Actor) (*IncidentFund, error) {
	fund, err := s.Store.GetFund(ctx, id)
	if err != nil {
		return nil, err
	}
	if fund.Status == FundClosed {
		return nil, ErrFundClosed
	}

	surplus := fund.Committed
	var env *BudgetEnvelope
	if surplus.IsPositive() {
		env, err = s.Envelopes.Release(ctx, fund.DisasterType, surplus)
		if err != nil {
			return nil, err
		}
	}

	closed, err := s.mutateFund(ctx, id, func(f *IncidentFund) error {
		if f.Status == FundClosed {
			return ErrFundClosed
		}
		now := time.Now().UTC()
		f.Committed = NewMoney(0)
		f.ReleasedAtClose = surplus
		f.Status = FundClosed
		f.ClosedAt = &now
		return nil
	})
	if err != nil {
		// Compensate the envelope release; the fund is still open and
		// still holds its commitment, so the money must stay reserved.
		if surplus.IsPositive() {
			if _, cmpErr := s.Envelopes.Commit(ctx, fund.DisasterType, surplus); cmpErr != nil {
				return nil, &IntegrityViolationError{
					Subject: string(id),
					Detail: fmt.Sprintf("fund close failed (%v) and envelope re-commit failed (%v): %s released on %s while the fund stays open",
						err, cmpErr, surplus, fund.DisasterType),
				}
			}
		}
		return nil, err
	}

	s.auditFund(ctx, actor, AuditFundClosed, *closed, env, fmt.Sprintf("closed with %s returned to envelope", surplus))
	return closed, nil
}

func (s *FundService) mutateFund(ctx context.Context, id FundID, apply func(*IncidentFund) error) (*IncidentFund, error) {
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		fund, err := s.Store.GetFund(ctx, id)
		if err != nil {
			return nil, err
		}
		working := *fund
		if err := apply(&working); err != nil {
			return nil, err
		}
		if err := s.Store.SaveFund(ctx, working, fund.Version); err != nil {
			if IsRetryable(err) {
				lastErr = err
				continue
			}
			return nil, err
		}
		working.Version = fund.Version + 1
		return &working, nil
	}
	return nil, lastErr
}

func (s *FundService) auditFund(ctx context.Context, actor Actor, action AuditAction, fund IncidentFund, env *BudgetEnvelope, detail string) {
	after := map[string]Money{
		"fund.committed": fund.Committed,
		"fund.spent":     fund.Spent,
	}
	if env != nil {
		after[string(env.DisasterType)+".committed"] = env.Committed
		after[string(env.DisasterType)+".remaining"] = env.Remaining()
	}
	_ = s.Store.AppendAudit(ctx, AuditEntry{
		At:        time.Now().UTC(),
		ActorID:   actor.ID,
		Action:    action,
		SubjectID: string(fund.ID),
		After:     after,
		Detail:    detail,
	})
}
