/*
adjustment.go - Inter-envelope transfer state machine

PURPOSE:
  An AdjustmentRequest moves allocation from one envelope to another
  under dual authorization:

    Pending -> Approved   atomic two-envelope transfer
    Pending -> Rejected   no ledger effect

  Both outcomes are terminal. A transfer can never be reversed, only
  re-requested in the opposite direction.

ATOMICITY:
  Approval debits allocated on the source and credits allocated on the
  destination inside one store transaction. Partial application would
  create or destroy money, so a failure anywhere rolls the whole
  transfer back. The debit re-checks source Remaining at approval time,
  not submission time.

AUDIT:
  Every transition appends an entry with actor, timestamp, and the
  before/after allocated balances of both envelopes.
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ADJUSTMENT REQUEST
// =============================================================================

type AdjustmentRequest struct {
	ID       AdjustmentID
	FromType DisasterType
	ToType   DisasterType
	Amount   Money
	Reason   string

	Status      ApprovalStatus
	RequestedBy string
	DecidedBy   string

	CreatedAt time.Time
	DecidedAt *time.Time
}

// =============================================================================
// ADJUSTMENT SERVICE
// =============================================================================

type AdjustmentService struct {
	Store TxStore
}

func NewAdjustmentService(store TxStore) *AdjustmentService {
	return &AdjustmentService{Store: store}
}

// Get returns an adjustment request by ID.
func (s *AdjustmentService) Get(ctx context.Context, id AdjustmentID) (*AdjustmentRequest, error) {
	return s.Store.GetAdjustment(ctx, id)
}

// List returns adjustment requests, optionally filtered by status.
func (s *AdjustmentService) List(ctx context.Context, status *ApprovalStatus) ([]AdjustmentRequest, error) {
	return s.Store.ListAdjustments(ctx, status)
}

// Submit creates a pending request. No ledger effect yet; capacity is
// checked at approval time against fresh balances.
func (s *AdjustmentService) Submit(ctx context.Context, from, to DisasterType, amount Money, reason string, requester Actor) (*AdjustmentRequest, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("adjustment amount must be positive, got %s", amount)
	}
	if from == to {
		return nil, fmt.Errorf("adjustment source and destination are both %q", from)
	}
	// Fail fast on unknown envelopes; the transfer itself re-validates.
	if _, err := s.Store.GetEnvelope(ctx, from); err != nil {
		return nil, err
	}
	if _, err := s.Store.GetEnvelope(ctx, to); err != nil {
		return nil, err
	}

	req := AdjustmentRequest{
		ID:          AdjustmentID(uuid.NewString()),
		FromType:    from,
		ToType:      to,
		Amount:      amount,
		Reason:      reason,
		Status:      StatusPending,
		RequestedBy: requester.ID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.Store.PutAdjustment(ctx, req); err != nil {
		return nil, err
	}

	_ = s.Store.AppendAudit(ctx, AuditEntry{
		At:        req.CreatedAt,
		ActorID:   requester.ID,
		Action:    AuditAdjustmentSubmitted,
		SubjectID: string(req.ID),
		Detail:    fmt.Sprintf("transfer %s from %s to %s: %s", amount, from, to, reason),
	})
	return &req, nil
}

// Approve performs the atomic two-envelope transfer. The approver must
// differ from the requester (dual authorization). Fails with
// InsufficientCapacityError if the source's remaining is too small at
// approval time; in that case the request stays Pending.
func (s *AdjustmentService) Approve(ctx context.Context, id AdjustmentID, approver Actor) (*AdjustmentRequest, error) {
	var approved *AdjustmentRequest
	err := s.withRetry(func() error {
		return s.Store.WithTx(ctx, func(tx Store) error {
			req, err := tx.GetAdjustment(ctx, id)
			if err != nil {
				return err
			}
			if req.Status != StatusPending {
				return fmt.Errorf("%w: adjustment %s is %s", ErrInvalidTransition, id, req.Status)
			}
			if req.RequestedBy == approver.ID {
				return ErrSelfApproval
			}

			source, err := tx.GetEnvelope(ctx, req.FromType)
			if err != nil {
				return err
			}
			dest, err := tx.GetEnvelope(ctx, req.ToType)
			if err != nil {
				return err
			}

			before := map[string]Money{
				string(req.FromType) + ".allocated": source.Allocated,
				string(req.ToType) + ".allocated":   dest.Allocated,
			}

			updatedSource := *source
			if err := updatedSource.Deallocate(req.Amount); err != nil {
				return err
			}
			updatedDest := *dest
			if err := updatedDest.Allocate(req.Amount); err != nil {
				return err
			}

			if err := tx.SaveEnvelope(ctx, updatedSource, source.Version); err != nil {
				return err
			}
			if err := tx.SaveEnvelope(ctx, updatedDest, dest.Version); err != nil {
				return err
			}

			now := time.Now().UTC()
			req.Status = StatusApproved
			req.DecidedBy = approver.ID
			req.DecidedAt = &now
			if err := tx.SaveAdjustment(ctx, *req); err != nil {
				return err
			}

			if err := tx.AppendAudit(ctx, AuditEntry{
				At:        now,
				ActorID:   approver.ID,
				Action:    AuditAdjustmentApproved,
				SubjectID: string(id),
				Before:    before,
				After: map[string]Money{
					string(req.FromType) + ".allocated": updatedSource.Allocated,
					string(req.ToType) + ".allocated":   updatedDest.Allocated,
				},
				Detail: req.Reason,
			}); err != nil {
				return err
			}
			approved = req
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// Reject transitions the request to Rejected with no ledger effect.
func (s *AdjustmentService) Reject(ctx context.Context, id AdjustmentID, rejecter Actor, reason string) (*AdjustmentRequest, error) {
	var rejected *AdjustmentRequest
	err := s.Store.WithTx(ctx, func(tx Store) error {
		req, err := tx.GetAdjustment(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return fmt.Errorf("%w: adjustment %s is %s", ErrInvalidTransition, id, req.Status)
		}
		if req.RequestedBy == rejecter.ID {
			return ErrSelfApproval
		}

		now := time.Now().UTC()
		req.Status = StatusRejected
		req.DecidedBy = rejecter.ID
		req.DecidedAt = &now
		if err := tx.SaveAdjustment(ctx, *req); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, AuditEntry{
			At:        now,
			ActorID:   rejecter.ID,
			Action:    AuditAdjustmentRejected,
			SubjectID: string(id),
			Detail:    reason,
		}); err != nil {
			return err
		}
		rejected = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

func (s *AdjustmentService) withRetry(fn func() error) error {
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
