/*
store.go - Assessment and allocation-plan persistence

The assessment store is small: intake, lookup, an immutability latch
(MarkScored), and plan storage. The SQLite store implements this
interface alongside the ledger stores; MemoryStore serves tests.
*/
package assess

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/warp/relief-engine/ledger"
)

var (
	ErrAssessmentNotFound = errors.New("assessment not found")

	// ErrAssessmentLocked is returned for mutations against an
	// assessment that already has a committed allocation.
	ErrAssessmentLocked = errors.New("assessment is immutable once an allocation is committed")
)

// Store persists assessments and allocation plans.
type Store interface {
	PutAssessment(ctx context.Context, a HouseholdAssessment) error
	GetAssessment(ctx context.Context, id AssessmentID) (*HouseholdAssessment, error)
	ListAssessments(ctx context.Context, disasterID ledger.DisasterID) ([]HouseholdAssessment, error)

	// MarkScored latches the assessment immutable. Fails with
	// ErrAssessmentLocked if already latched.
	MarkScored(ctx context.Context, id AssessmentID, at time.Time) error

	PutPlan(ctx context.Context, plan AllocationPlan) error

	// DeletePlan removes a plan by ID. Only the commit path uses it, to
	// back out a plan whose assessment latch failed.
	DeletePlan(ctx context.Context, planID string) error

	ListPlans(ctx context.Context, fundID ledger.FundID) ([]AllocationPlan, error)
}

// =============================================================================
// MEMORY STORE
// =============================================================================

type MemoryStore struct {
	mu          sync.RWMutex
	assessments map[AssessmentID]HouseholdAssessment
	plans       map[ledger.FundID][]AllocationPlan
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assessments: make(map[AssessmentID]HouseholdAssessment),
		plans:       make(map[ledger.FundID][]AllocationPlan),
	}
}

func (m *MemoryStore) PutAssessment(_ context.Context, a HouseholdAssessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.assessments[a.ID]; ok && existing.Locked() {
		return ErrAssessmentLocked
	}
	m.assessments[a.ID] = a
	return nil
}

func (m *MemoryStore) GetAssessment(_ context.Context, id AssessmentID) (*HouseholdAssessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assessments[id]
	if !ok {
		return nil, ErrAssessmentNotFound
	}
	cp := a
	return &cp, nil
}

func (m *MemoryStore) ListAssessments(_ context.Context, disasterID ledger.DisasterID) ([]HouseholdAssessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []HouseholdAssessment
	for _, a := range m.assessments {
		if disasterID != "" && a.DisasterID != disasterID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) MarkScored(_ context.Context, id AssessmentID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assessments[id]
	if !ok {
		return ErrAssessmentNotFound
	}
	if a.Locked() {
		return ErrAssessmentLocked
	}
	a.ScoredAt = &at
	m.assessments[id] = a
	return nil
}

func (m *MemoryStore) PutPlan(_ context.Context, plan AllocationPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.FundID] = append(m.plans[plan.FundID], plan)
	return nil
}

func (m *MemoryStore) DeletePlan(_ context.Context, planID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for fundID, plans := range m.plans {
		for i, p := range plans {
			if p.ID == planID {
				m.plans[fundID] = append(plans[:i], plans[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (m *MemoryStore) ListPlans(_ context.Context, fundID ledger.FundID) ([]AllocationPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AllocationPlan, len(m.plans[fundID]))
	copy(out, m.plans[fundID])
	return out, nil
}
