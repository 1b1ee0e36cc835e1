/*
expenditure.go - Expenditure recording and dual-actor approval

PURPOSE:
  Expenditures are the only path that turns reserved budget into spent
  budget. The lifecycle enforces two financial controls:

  CATEGORY CAPS:
    recordExpenditure rejects amounts above the category cap unless the
    override-approval flag is set. Overrides are permanently flagged on
    the record.

  SEPARATION OF DUTIES:
    The recorder cannot decide their own expenditure. A distinct second
    actor approves or rejects.

LEDGER EFFECT:
  Recording has NO ledger effect: the fund's budget was already reserved
  at creation. Approval atomically moves amount from Committed to Spent
  on BOTH the fund and its parent envelope (double entry, all within one
  store transaction). Rejection leaves the ledgers untouched; the record
  stays forever with status Rejected.

VOID:
  Expenditures are never hard-deleted. A pending expenditure can be
  voided with a reason (no ledger effect). An approved expenditure can
  be voided with a reason; the double entry is reversed inside the same
  transaction. Voided is terminal.

SEE ALSO:
  - envelope.go: Spend/Unspend double-entry counterparts
  - store.go: TxStore contract used for atomicity
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// EXPENDITURE - Spend record against an incident fund
// =============================================================================

type Expenditure struct {
	ID           ExpenditureID
	FundID       FundID
	DisasterType DisasterType

	Amount           Money
	Category         string
	OverrideApproved bool
	ReceiptRef       string

	Status     ApprovalStatus
	RecordedBy string
	DecidedBy  string
	VoidReason string

	RecordedAt time.Time
	DecidedAt  *time.Time
}

// =============================================================================
// EXPENDITURE SERVICE
// =============================================================================

// ExpenditureService owns the expenditure lifecycle. Approval requires a
// TxStore so the fund update, envelope update, status change, and audit
// entry commit or roll back together.
type ExpenditureService struct {
	Store TxStore
	Caps  map[string]Money
}

func NewExpenditureService(store TxStore, caps map[string]Money) *ExpenditureService {
	return &ExpenditureService{Store: store, Caps: caps}
}

// Get returns an expenditure by ID.
func (s *ExpenditureService) Get(ctx context.Context, id ExpenditureID) (*Expenditure, error) {
	return s.Store.GetExpenditure(ctx, id)
}

// List returns all expenditures for a fund, oldest first.
func (s *ExpenditureService) List(ctx context.Context, fundID FundID) ([]Expenditure, error) {
	return s.Store.ListExpenditures(ctx, fundID)
}

// Record creates a pending expenditure against a fund. Rejected with
// CapExceededError when the amount exceeds the category cap and no
// override approval was granted. No ledger effect until approval.
func (s *ExpenditureService) Record(ctx context.Context, fundID FundID, amount Money, category string, overrideApproved bool, receiptRef string, recorder Actor) (*Expenditure, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("expenditure amount must be positive, got %s", amount)
	}
	if cap, ok := s.Caps[category]; ok && amount.GreaterThan(cap) && !overrideApproved {
		return nil, &CapExceededError{Category: category, Amount: amount, Cap: cap}
	}

	fund, err := s.Store.GetFund(ctx, fundID)
	if err != nil {
		return nil, err
	}
	if fund.Status != FundOpen {
		return nil, ErrFundClosed
	}

	exp := Expenditure{
		ID:               ExpenditureID(uuid.NewString()),
		FundID:           fundID,
		DisasterType:     fund.DisasterType,
		Amount:           amount,
		Category:         category,
		OverrideApproved: overrideApproved,
		ReceiptRef:       receiptRef,
		Status:           StatusPending,
		RecordedBy:       recorder.ID,
		RecordedAt:       time.Now().UTC(),
	}
	if err := s.Store.PutExpenditure(ctx, exp); err != nil {
		return nil, err
	}

	_ = s.Store.AppendAudit(ctx, AuditEntry{
		At:        exp.RecordedAt,
		ActorID:   recorder.ID,
		Action:    AuditExpenditureRecorded,
		SubjectID: string(exp.ID),
		Detail:    fmt.Sprintf("%s %s against fund %s (override=%v)", amount, category, fundID, overrideApproved),
	})
	return &exp, nil
}

// Approve confirms a pending expenditure and applies the double entry:
// fund Committed -> Spent and envelope Committed -> Spent, atomically.
// The approver must differ from the recorder.
func (s *ExpenditureService) Approve(ctx context.Context, id ExpenditureID, approver Actor) (*Expenditure, error) {
	return s.decide(ctx, id, approver, true, "")
}

// Reject declines a pending expenditure. No ledger mutation; the record
// remains as a permanent audit artifact.
func (s *ExpenditureService) Reject(ctx context.Context, id ExpenditureID, rejecter Actor, reason string) (*Expenditure, error) {
	return s.decide(ctx, id, rejecter, false, reason)
}

func (s *ExpenditureService) decide(ctx context.Context, id ExpenditureID, decider Actor, approve bool, reason string) (*Expenditure, error) {
	var decided *Expenditure
	err := s.withRetry(func() error {
		return s.Store.WithTx(ctx, func(tx Store) error {
			exp, err := tx.GetExpenditure(ctx, id)
			if err != nil {
				return err
			}
			if exp.Status != StatusPending {
				return fmt.Errorf("%w: expenditure %s is %s", ErrInvalidTransition, id, exp.Status)
			}
			if exp.RecordedBy == decider.ID {
				return ErrSelfApproval
			}

			now := time.Now().UTC()
			var before, after map[string]Money
			action := AuditExpenditureRejected
			if approve {
				action = AuditExpenditureApproved
				before, after, err = s.applySpend(ctx, tx, exp)
				if err != nil {
					return err
				}
				exp.Status = StatusApproved
			} else {
				exp.Status = StatusRejected
				exp.VoidReason = reason
			}
			exp.DecidedBy = decider.ID
			exp.DecidedAt = &now

			if err := tx.SaveExpenditure(ctx, *exp); err != nil {
				return err
			}
			if err := tx.AppendAudit(ctx, AuditEntry{
				At:        now,
				ActorID:   decider.ID,
				Action:    action,
				SubjectID: string(id),
				Before:    before,
				After:     after,
				Detail:    reason,
			}); err != nil {
				return err
			}
			decided = exp
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return decided, nil
}

// Void cancels an expenditure with a reason. Pending voids are pure
// status changes; approved voids reverse the double entry inside the
// transaction. Rejected and already-voided records cannot be voided.
func (s *ExpenditureService) Void(ctx context.Context, id ExpenditureID, actor Actor, reason string) (*Expenditure, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: void requires a reason", ErrInvalidTransition)
	}
	var voided *Expenditure
	err := s.withRetry(func() error {
		return s.Store.WithTx(ctx, func(tx Store) error {
			exp, err := tx.GetExpenditure(ctx, id)
			if err != nil {
				return err
			}
			if exp.Status != StatusPending && exp.Status != StatusApproved {
				return fmt.Errorf("%w: expenditure %s is %s", ErrInvalidTransition, id, exp.Status)
			}

			now := time.Now().UTC()
			var before, after map[string]Money
			if exp.Status == StatusApproved {
				before, after, err = s.reverseSpend(ctx, tx, exp)
				if err != nil {
					return err
				}
			}
			exp.Status = StatusVoided
			exp.VoidReason = reason
			exp.DecidedBy = actor.ID
			exp.DecidedAt = &now

			if err := tx.SaveExpenditure(ctx, *exp); err != nil {
				return err
			}
			if err := tx.AppendAudit(ctx, AuditEntry{
				At:        now,
				ActorID:   actor.ID,
				Action:    AuditExpenditureVoided,
				SubjectID: string(id),
				Before:    before,
				After:     after,
				Detail:    reason,
			}); err != nil {
				return err
			}
			voided = exp
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return voided, nil
}

// applySpend performs the Committed -> Spent double entry on the fund
// and its parent envelope within the supplied transactional store.
func (s *ExpenditureService) applySpend(ctx context.Context, tx Store, exp *Expenditure) (before, after map[string]Money, err error) {
	fund, err := tx.GetFund(ctx, exp.FundID)
	if err != nil {
		return nil, nil, err
	}
	if fund.Status != FundOpen {
		return nil, nil, ErrFundClosed
	}
	if fund.Committed.LessThan(exp.Amount) {
		return nil, nil, &OverCommitError{
			DisasterType: fund.DisasterType,
			Committed:    fund.Committed,
			Requested:    exp.Amount,
		}
	}

	env, err := tx.GetEnvelope(ctx, fund.DisasterType)
	if err != nil {
		return nil, nil, &IntegrityViolationError{
			Subject: string(fund.ID),
			Detail:  fmt.Sprintf("fund references %s envelope which cannot be loaded: %v", fund.DisasterType, err),
		}
	}

	before = balancesOf(fund, env)

	updatedFund := *fund
	updatedFund.Committed = updatedFund.Committed.Sub(exp.Amount)
	updatedFund.Spent = updatedFund.Spent.Add(exp.Amount)

	updatedEnv := *env
	if err := updatedEnv.Spend(exp.Amount); err != nil {
		return nil, nil, err
	}

	if err := tx.SaveFund(ctx, updatedFund, fund.Version); err != nil {
		return nil, nil, err
	}
	if err := tx.SaveEnvelope(ctx, updatedEnv, env.Version); err != nil {
		return nil, nil, err
	}

	after = balancesOf(&updatedFund, &updatedEnv)
	return before, after, nil
}

// reverseSpend is the compensation for voiding an approved expenditure:
// Spent -> Committed on both ledgers.
func (s *ExpenditureService) reverseSpend(ctx context.Context, tx Store, exp *Expenditure) (before, after map[string]Money, err error) {
	fund, err := tx.GetFund(ctx, exp.FundID)
	if err != nil {
		return nil, nil, err
	}
	if fund.Status != FundOpen {
		return nil, nil, ErrFundClosed
	}
	env, err := tx.GetEnvelope(ctx, fund.DisasterType)
	if err != nil {
		return nil, nil, err
	}
	if fund.Spent.LessThan(exp.Amount) || env.Spent.LessThan(exp.Amount) {
		return nil, nil, &IntegrityViolationError{
			Subject: string(exp.ID),
			Detail:  fmt.Sprintf("void would drive spent negative (fund %s, envelope %s)", fund.Spent, env.Spent),
		}
	}

	before = balancesOf(fund, env)

	updatedFund := *fund
	updatedFund.Spent = updatedFund.Spent.Sub(exp.Amount)
	updatedFund.Committed = updatedFund.Committed.Add(exp.Amount)

	updatedEnv := *env
	updatedEnv.Spent = updatedEnv.Spent.Sub(exp.Amount)
	updatedEnv.Committed = updatedEnv.Committed.Add(exp.Amount)

	if err := tx.SaveFund(ctx, updatedFund, fund.Version); err != nil {
		return nil, nil, err
	}
	if err := tx.SaveEnvelope(ctx, updatedEnv, env.Version); err != nil {
		return nil, nil, err
	}

	after = balancesOf(&updatedFund, &updatedEnv)
	return before, after, nil
}

// withRetry re-runs the whole transaction on optimistic-lock conflicts.
func (s *ExpenditureService) withRetry(fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func balancesOf(fund *IncidentFund, env *BudgetEnvelope) map[string]Money {
	return map[string]Money{
		"fund.committed":                            fund.Committed,
		"fund.spent":                                fund.Spent,
		string(env.DisasterType) + ".committed":     env.Committed,
		string(env.DisasterType) + ".spent":         env.Spent,
		string(env.DisasterType) + ".remaining":     env.Remaining(),
	}
}
