/*
envelope.go - BudgetEnvelope aggregate and its four operations

PURPOSE:
  A BudgetEnvelope is the top-level budget account for one disaster type
  for a fiscal year. It tracks three buckets:

    Allocated: total budget assigned to the type (administrative)
    Committed: capacity reserved for incident funds not yet spent
    Spent:     capacity consumed by approved expenditures

  Remaining = Allocated - Committed - Spent, and must never go negative.

OPERATIONS:
  Allocate(amount)  increase the allocation (admin, or adjustment credit)
  Commit(amount)    reserve capacity for a new incident fund
  Release(amount)   undo a commitment (fund closure with surplus)
  Spend(amount)     move committed capacity to spent (expenditure approval)

CONCURRENCY:
  The aggregate itself is a plain value; serializability comes from the
  store. Every envelope carries a Version token, stores implement
  compare-and-swap saves, and EnvelopeService retries on conflict. Two
  concurrent commits can therefore never both read a stale Remaining and
  double-reserve capacity.

SEE ALSO:
  - store.go: EnvelopeStore compare-and-swap contract
  - adjustment.go: the only path that decreases Allocated
*/
package ledger

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// BUDGET ENVELOPE - Per-disaster-type account
// =============================================================================

// BudgetEnvelope is the account for one disaster type. All mutation goes
// through Allocate/Commit/Release/Spend; no other code path may touch
// the three buckets directly.
type BudgetEnvelope struct {
	DisasterType DisasterType
	FiscalYear   int

	Allocated Money
	Committed Money
	Spent     Money

	// Version is the optimistic-concurrency token. Incremented by the
	// store on every successful save.
	Version   int64
	UpdatedAt time.Time
}

// Remaining returns Allocated - Committed - Spent.
func (e *BudgetEnvelope) Remaining() Money {
	return e.Allocated.Sub(e.Committed).Sub(e.Spent)
}

// Allocate increases the envelope's allocation.
func (e *BudgetEnvelope) Allocate(amount Money) error {
	if amount.IsNegative() {
		return fmt.Errorf("allocate: negative amount %s", amount)
	}
	e.Allocated = e.Allocated.Add(amount)
	return nil
}

// Deallocate decreases the allocation, as the debit side of an approved
// adjustment transfer. Fails if it would drive Remaining negative.
func (e *BudgetEnvelope) Deallocate(amount Money) error {
	if amount.IsNegative() {
		return fmt.Errorf("deallocate: negative amount %s", amount)
	}
	if e.Remaining().LessThan(amount) {
		return &InsufficientCapacityError{
			DisasterType: e.DisasterType,
			Available:    e.Remaining(),
			Requested:    amount,
		}
	}
	e.Allocated = e.Allocated.Sub(amount)
	return nil
}

// Commit reserves capacity for a pending obligation.
func (e *BudgetEnvelope) Commit(amount Money) error {
	if amount.IsNegative() {
		return fmt.Errorf("commit: negative amount %s", amount)
	}
	if e.Remaining().LessThan(amount) {
		return &InsufficientCapacityError{
			DisasterType: e.DisasterType,
			Available:    e.Remaining(),
			Requested:    amount,
		}
	}
	e.Committed = e.Committed.Add(amount)
	return nil
}

// Release undoes a commitment, e.g. on incident closure with surplus.
func (e *BudgetEnvelope) Release(amount Money) error {
	if amount.IsNegative() {
		return fmt.Errorf("release: negative amount %s", amount)
	}
	if e.Committed.LessThan(amount) {
		return &OverCommitError{
			DisasterType: e.DisasterType,
			Committed:    e.Committed,
			Requested:    amount,
		}
	}
	e.Committed = e.Committed.Sub(amount)
	return nil
}

// Spend moves committed capacity to spent upon expenditure approval.
// Remaining is unchanged: the capacity was already reserved.
func (e *BudgetEnvelope) Spend(amount Money) error {
	if amount.IsNegative() {
		return fmt.Errorf("spend: negative amount %s", amount)
	}
	if e.Committed.LessThan(amount) {
		return &OverCommitError{
			DisasterType: e.DisasterType,
			Committed:    e.Committed,
			Requested:    amount,
		}
	}
	e.Committed = e.Committed.Sub(amount)
	e.Spent = e.Spent.Add(amount)
	return nil
}

// =============================================================================
// ENVELOPE SERVICE - Load-mutate-save with optimistic retry
// =============================================================================

// casRetries bounds optimistic-lock retries before surfacing
// ErrConcurrentModification to the caller.
const casRetries = 5

// EnvelopeService applies envelope operations through the store's
// compare-and-swap contract, retrying on conflict.
type EnvelopeService struct {
	Store EnvelopeStore
	Audit AuditLog
}

func NewEnvelopeService(store EnvelopeStore, audit AuditLog) *EnvelopeService {
	return &EnvelopeService{Store: store, Audit: audit}
}

// Get returns the envelope for a disaster type.
func (s *EnvelopeService) Get(ctx context.Context, t DisasterType) (*BudgetEnvelope, error) {
	return s.Store.GetEnvelope(ctx, t)
}

// List returns all envelopes.
func (s *EnvelopeService) List(ctx context.Context) ([]BudgetEnvelope, error) {
	return s.Store.ListEnvelopes(ctx)
}

// Allocate is the administrative entry point for funding an envelope.
func (s *EnvelopeService) Allocate(ctx context.Context, t DisasterType, amount Money, actor Actor) (*BudgetEnvelope, error) {
	env, err := s.mutate(ctx, t, func(e *BudgetEnvelope) error { return e.Allocate(amount) })
	if err != nil {
		return nil, err
	}
	s.audit(ctx, actor, AuditEnvelopeAllocated, string(t), map[string]Money{
		string(t) + ".allocated": env.Allocated.Sub(amount),
	}, map[string]Money{
		string(t) + ".allocated": env.Allocated,
	}, fmt.Sprintf("allocated %s", amount))
	return env, nil
}

// Commit reserves capacity on the envelope.
func (s *EnvelopeService) Commit(ctx context.Context, t DisasterType, amount Money) (*BudgetEnvelope, error) {
	return s.mutate(ctx, t, func(e *BudgetEnvelope) error { return e.Commit(amount) })
}

// Release undoes a commitment.
func (s *EnvelopeService) Release(ctx context.Context, t DisasterType, amount Money) (*BudgetEnvelope, error) {
	return s.mutate(ctx, t, func(e *BudgetEnvelope) error { return e.Release(amount) })
}

// Spend moves committed capacity to spent.
func (s *EnvelopeService) Spend(ctx context.Context, t DisasterType, amount Money) (*BudgetEnvelope, error) {
	return s.mutate(ctx, t, func(e *BudgetEnvelope) error { return e.Spend(amount) })
}

// mutate runs the load-apply-save cycle under optimistic locking. The
// apply function sees a copy; a failed save reloads and reapplies, so a
// business-rule rejection is always evaluated against fresh balances.
func (s *EnvelopeService) mutate(ctx context.Context, t DisasterType, apply func(*BudgetEnvelope) error) (*BudgetEnvelope, error) {
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		env, err := s.Store.GetEnvelope(ctx, t)
		if err != nil {
			return nil, err
		}
		working := *env
		if err := apply(&working); err != nil {
			return nil, err
		}
		if err := s.Store.SaveEnvelope(ctx, working, env.Version); err != nil {
			if IsRetryable(err) {
				lastErr = err
				continue
			}
			return nil, err
		}
		working.Version = env.Version + 1
		return &working, nil
	}
	return nil, lastErr
}

func (s *EnvelopeService) audit(ctx context.Context, actor Actor, action AuditAction, subject string, before, after map[string]Money, detail string) {
	if s.Audit == nil {
		return
	}
	// Audit append failure must not roll back the ledger mutation; the
	// entry is best-effort outside transactional paths.
	_ = s.Audit.AppendAudit(ctx, AuditEntry{
		At:        time.Now().UTC(),
		ActorID:   actor.ID,
		Action:    action,
		SubjectID: subject,
		Before:    before,
		After:     after,
		Detail:    detail,
	})
}
