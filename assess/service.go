/*
service.go - Assessment intake and allocation commitment

PURPOSE:
  Orchestrates the assessment lifecycle:

    Submit  validate and store a new assessment
    Score   preview: recompute score/tier/bundle, nothing persisted
    Commit  bind the classification to an incident fund: reconcile the
            bundle cost against the fund, persist the allocation plan,
            and latch the assessment immutable

  Score and Commit run the identical pure classifier, so a preview can
  never disagree with the committed allocation.
*/
package assess

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warp/relief-engine/ledger"
)

// Service wires the assessment store to the classifier policy and the
// incident-fund ledger.
type Service struct {
	Store  Store
	Funds  *ledger.FundService
	Policy ClassifierPolicy
}

func NewService(store Store, funds *ledger.FundService, policy ClassifierPolicy) *Service {
	return &Service{Store: store, Funds: funds, Policy: policy}
}

// Submit validates and stores a new assessment.
func (s *Service) Submit(ctx context.Context, a HouseholdAssessment) (*HouseholdAssessment, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	a.ID = AssessmentID(uuid.NewString())
	a.CreatedAt = time.Now().UTC()
	a.ScoredAt = nil
	if err := s.Store.PutAssessment(ctx, a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Amend creates a new assessment superseding a locked one. The original
// is never modified.
func (s *Service) Amend(ctx context.Context, id AssessmentID, amended HouseholdAssessment) (*HouseholdAssessment, error) {
	original, err := s.Store.GetAssessment(ctx, id)
	if err != nil {
		return nil, err
	}
	amended.HouseholdID = original.HouseholdID
	amended.DisasterID = original.DisasterID
	return s.Submit(ctx, amended)
}

// Get returns an assessment by ID.
func (s *Service) Get(ctx context.Context, id AssessmentID) (*HouseholdAssessment, error) {
	return s.Store.GetAssessment(ctx, id)
}

// Score recomputes the classification for an assessment. Read-only;
// safe to call any number of times, before or after commitment, and
// always derived from the stored assessment fields.
func (s *Service) Score(ctx context.Context, id AssessmentID) (*Classification, error) {
	a, err := s.Store.GetAssessment(ctx, id)
	if err != nil {
		return nil, err
	}
	v := VulnerabilityScore(a.MonthlyIncome, a.HouseholdSize, a.ChildrenUnder5)
	c := Classify(s.Policy, v, a.DamageSeverity, a.DisasterType)
	return &c, nil
}

// Commit binds the assessment's classification to an incident fund.
// The bundle cost is reconciled against the fund's spendable capacity;
// on success the plan is persisted and the assessment becomes
// immutable. An already-committed assessment cannot be committed again.
func (s *Service) Commit(ctx context.Context, id AssessmentID, fundID ledger.FundID, actor ledger.Actor) (*AllocationPlan, error) {
	a, err := s.Store.GetAssessment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Locked() {
		return nil, ErrAssessmentLocked
	}

	fund, err := s.Funds.Get(ctx, fundID)
	if err != nil {
		return nil, err
	}
	if fund.DisasterType != a.DisasterType {
		return nil, fmt.Errorf("assessment is for %s but fund %s is a %s fund",
			a.DisasterType, fundID, fund.DisasterType)
	}

	v := VulnerabilityScore(a.MonthlyIncome, a.HouseholdSize, a.ChildrenUnder5)
	c := Classify(s.Policy, v, a.DamageSeverity, a.DisasterType)

	if _, err := s.Funds.ReconcilePlan(ctx, fundID, c.TotalCost); err != nil {
		return nil, err
	}

	plan := AllocationPlan{
		ID:                 uuid.NewString(),
		AssessmentID:       id,
		FundID:             fundID,
		VulnerabilityScore: c.VulnerabilityScore,
		CompositeScore:     c.CompositeScore,
		Tier:               c.Tier,
		Packages:           c.Packages,
		TotalCost:          c.TotalCost,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.Store.PutPlan(ctx, plan); err != nil {
		// Back the reconcile out; a failed commit must leave the fund's
		// planned total exactly where it was.
		if _, relErr := s.Funds.ReleasePlan(ctx, fundID, c.TotalCost); relErr != nil {
			return nil, &ledger.IntegrityViolationError{
				Subject: string(id),
				Detail: fmt.Sprintf("plan persist failed (%v) and plan release failed (%v): %s planned on fund %s without a plan",
					err, relErr, c.TotalCost, fundID),
			}
		}
		return nil, err
	}
	if err := s.Store.MarkScored(ctx, id, plan.CreatedAt); err != nil {
		delErr := s.Store.DeletePlan(ctx, plan.ID)
		_, relErr := s.Funds.ReleasePlan(ctx, fundID, c.TotalCost)
		if delErr != nil || relErr != nil {
			return nil, &ledger.IntegrityViolationError{
				Subject: string(id),
				Detail: fmt.Sprintf("assessment latch failed (%v); plan delete error: %v, plan release error: %v",
					err, delErr, relErr),
			}
		}
		return nil, err
	}
	return &plan, nil
}

// Plans lists the allocation plans committed against a fund.
func (s *Service) Plans(ctx context.Context, fundID ledger.FundID) ([]AllocationPlan, error) {
	return s.Store.ListPlans(ctx, fundID)
}
