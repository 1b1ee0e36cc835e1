// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/warp/relief-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.TxStore with maps behind one mutex. The
// compare-and-swap semantics match the SQLite store, so concurrency
// tests against Memory exercise the same conflict paths production sees.
//
// WithTx holds the write lock for its whole body and hands fn a txView
// whose methods call the unexported *Locked variants directly. Plain
// calls lock per operation; nothing else touches the maps unlocked.
type Memory struct {
	mu           sync.RWMutex
	envelopes    map[ledger.DisasterType]ledger.BudgetEnvelope
	funds        map[ledger.FundID]ledger.IncidentFund
	fundID       map[ledger.DisasterID]ledger.FundID
	expenditures map[ledger.ExpenditureID]ledger.Expenditure
	adjustments  map[ledger.AdjustmentID]ledger.AdjustmentRequest
	audit        []ledger.AuditEntry
}

func NewMemory() *Memory {
	return &Memory{
		envelopes:    make(map[ledger.DisasterType]ledger.BudgetEnvelope),
		funds:        make(map[ledger.FundID]ledger.IncidentFund),
		fundID:       make(map[ledger.DisasterID]ledger.FundID),
		expenditures: make(map[ledger.ExpenditureID]ledger.Expenditure),
		adjustments:  make(map[ledger.AdjustmentID]ledger.AdjustmentRequest),
	}
}

// Reset wipes every record. Demo and test use only.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.envelopes = make(map[ledger.DisasterType]ledger.BudgetEnvelope)
	m.funds = make(map[ledger.FundID]ledger.IncidentFund)
	m.fundID = make(map[ledger.DisasterID]ledger.FundID)
	m.expenditures = make(map[ledger.ExpenditureID]ledger.Expenditure)
	m.adjustments = make(map[ledger.AdjustmentID]ledger.AdjustmentRequest)
	m.audit = nil
	return nil
}

// =============================================================================
// ENVELOPES
// =============================================================================

func (m *Memory) GetEnvelope(_ context.Context, t ledger.DisasterType) (*ledger.BudgetEnvelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getEnvelopeLocked(t)
}

func (m *Memory) getEnvelopeLocked(t ledger.DisasterType) (*ledger.BudgetEnvelope, error) {
	env, ok := m.envelopes[t]
	if !ok {
		return nil, ledger.ErrEnvelopeNotFound
	}
	cp := env
	return &cp, nil
}

func (m *Memory) ListEnvelopes(_ context.Context) ([]ledger.BudgetEnvelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listEnvelopesLocked()
}

func (m *Memory) listEnvelopesLocked() ([]ledger.BudgetEnvelope, error) {
	out := make([]ledger.BudgetEnvelope, 0, len(m.envelopes))
	for _, env := range m.envelopes {
		out = append(out, env)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisasterType < out[j].DisasterType })
	return out, nil
}

func (m *Memory) PutEnvelope(_ context.Context, env ledger.BudgetEnvelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putEnvelopeLocked(env)
}

func (m *Memory) putEnvelopeLocked(env ledger.BudgetEnvelope) error {
	env.Version = 0
	m.envelopes[env.DisasterType] = env
	return nil
}

func (m *Memory) SaveEnvelope(_ context.Context, env ledger.BudgetEnvelope, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveEnvelopeLocked(env, expectedVersion)
}

func (m *Memory) saveEnvelopeLocked(env ledger.BudgetEnvelope, expectedVersion int64) error {
	current, ok := m.envelopes[env.DisasterType]
	if !ok {
		return ledger.ErrEnvelopeNotFound
	}
	if current.Version != expectedVersion {
		return ledger.ErrConcurrentModification
	}
	env.Version = expectedVersion + 1
	m.envelopes[env.DisasterType] = env
	return nil
}

// =============================================================================
// FUNDS
// =============================================================================

func (m *Memory) GetFund(_ context.Context, id ledger.FundID) (*ledger.IncidentFund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getFundLocked(id)
}

func (m *Memory) getFundLocked(id ledger.FundID) (*ledger.IncidentFund, error) {
	fund, ok := m.funds[id]
	if !ok {
		return nil, ledger.ErrFundNotFound
	}
	cp := fund
	return &cp, nil
}

func (m *Memory) GetFundByDisaster(_ context.Context, disasterID ledger.DisasterID) (*ledger.IncidentFund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getFundByDisasterLocked(disasterID)
}

func (m *Memory) getFundByDisasterLocked(disasterID ledger.DisasterID) (*ledger.IncidentFund, error) {
	id, ok := m.fundID[disasterID]
	if !ok {
		return nil, ledger.ErrFundNotFound
	}
	return m.getFundLocked(id)
}

func (m *Memory) ListFunds(_ context.Context, t *ledger.DisasterType) ([]ledger.IncidentFund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listFundsLocked(t)
}

func (m *Memory) listFundsLocked(t *ledger.DisasterType) ([]ledger.IncidentFund, error) {
	var out []ledger.IncidentFund
	for _, fund := range m.funds {
		if t != nil && fund.DisasterType != *t {
			continue
		}
		out = append(out, fund)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) PutFund(_ context.Context, fund ledger.IncidentFund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putFundLocked(fund)
}

func (m *Memory) putFundLocked(fund ledger.IncidentFund) error {
	if _, exists := m.fundID[fund.DisasterID]; exists {
		return ledger.ErrDuplicateFund
	}
	fund.Version = 0
	m.funds[fund.ID] = fund
	m.fundID[fund.DisasterID] = fund.ID
	return nil
}

func (m *Memory) SaveFund(_ context.Context, fund ledger.IncidentFund, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveFundLocked(fund, expectedVersion)
}

func (m *Memory) saveFundLocked(fund ledger.IncidentFund, expectedVersion int64) error {
	current, ok := m.funds[fund.ID]
	if !ok {
		return ledger.ErrFundNotFound
	}
	if current.Version != expectedVersion {
		return ledger.ErrConcurrentModification
	}
	fund.Version = expectedVersion + 1
	m.funds[fund.ID] = fund
	return nil
}

// =============================================================================
// EXPENDITURES
// =============================================================================

func (m *Memory) GetExpenditure(_ context.Context, id ledger.ExpenditureID) (*ledger.Expenditure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getExpenditureLocked(id)
}

func (m *Memory) getExpenditureLocked(id ledger.ExpenditureID) (*ledger.Expenditure, error) {
	exp, ok := m.expenditures[id]
	if !ok {
		return nil, ledger.ErrExpenditureNotFound
	}
	cp := exp
	return &cp, nil
}

func (m *Memory) ListExpenditures(_ context.Context, fundID ledger.FundID) ([]ledger.Expenditure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listExpendituresLocked(fundID)
}

func (m *Memory) listExpendituresLocked(fundID ledger.FundID) ([]ledger.Expenditure, error) {
	var out []ledger.Expenditure
	for _, exp := range m.expenditures {
		if exp.FundID == fundID {
			out = append(out, exp)
		}
	}
	sortExpenditures(out)
	return out, nil
}

func (m *Memory) ListExpendituresByType(_ context.Context, t ledger.DisasterType) ([]ledger.Expenditure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listExpendituresByTypeLocked(t)
}

func (m *Memory) listExpendituresByTypeLocked(t ledger.DisasterType) ([]ledger.Expenditure, error) {
	var out []ledger.Expenditure
	for _, exp := range m.expenditures {
		if exp.DisasterType == t {
			out = append(out, exp)
		}
	}
	sortExpenditures(out)
	return out, nil
}

func (m *Memory) PutExpenditure(_ context.Context, exp ledger.Expenditure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putExpenditureLocked(exp)
}

func (m *Memory) putExpenditureLocked(exp ledger.Expenditure) error {
	m.expenditures[exp.ID] = exp
	return nil
}

func (m *Memory) SaveExpenditure(_ context.Context, exp ledger.Expenditure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveExpenditureLocked(exp)
}

func (m *Memory) saveExpenditureLocked(exp ledger.Expenditure) error {
	if _, ok := m.expenditures[exp.ID]; !ok {
		return ledger.ErrExpenditureNotFound
	}
	m.expenditures[exp.ID] = exp
	return nil
}

func sortExpenditures(exps []ledger.Expenditure) {
	sort.Slice(exps, func(i, j int) bool { return exps[i].RecordedAt.Before(exps[j].RecordedAt) })
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func (m *Memory) GetAdjustment(_ context.Context, id ledger.AdjustmentID) (*ledger.AdjustmentRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAdjustmentLocked(id)
}

func (m *Memory) getAdjustmentLocked(id ledger.AdjustmentID) (*ledger.AdjustmentRequest, error) {
	req, ok := m.adjustments[id]
	if !ok {
		return nil, ledger.ErrAdjustmentNotFound
	}
	cp := req
	return &cp, nil
}

func (m *Memory) ListAdjustments(_ context.Context, status *ledger.ApprovalStatus) ([]ledger.AdjustmentRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAdjustmentsLocked(status)
}

func (m *Memory) listAdjustmentsLocked(status *ledger.ApprovalStatus) ([]ledger.AdjustmentRequest, error) {
	var out []ledger.AdjustmentRequest
	for _, req := range m.adjustments {
		if status != nil && req.Status != *status {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) PutAdjustment(_ context.Context, req ledger.AdjustmentRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putAdjustmentLocked(req)
}

func (m *Memory) putAdjustmentLocked(req ledger.AdjustmentRequest) error {
	m.adjustments[req.ID] = req
	return nil
}

func (m *Memory) SaveAdjustment(_ context.Context, req ledger.AdjustmentRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveAdjustmentLocked(req)
}

func (m *Memory) saveAdjustmentLocked(req ledger.AdjustmentRequest) error {
	if _, ok := m.adjustments[req.ID]; !ok {
		return ledger.ErrAdjustmentNotFound
	}
	m.adjustments[req.ID] = req
	return nil
}

// =============================================================================
// AUDIT LOG - Append-only
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry ledger.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendAuditLocked(entry)
}

func (m *Memory) appendAuditLocked(entry ledger.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryAuditLocked(filter)
}

func (m *Memory) queryAuditLocked(filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	var out []ledger.AuditEntry
	for _, e := range m.audit {
		if filter.ActorID != nil && e.ActorID != *filter.ActorID {
			continue
		}
		if filter.SubjectID != nil && e.SubjectID != *filter.SubjectID {
			continue
		}
		if filter.From != nil && e.At.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.At.After(*filter.To) {
			continue
		}
		if len(filter.Actions) > 0 {
			match := false
			for _, a := range filter.Actions {
				if e.Action == a {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONS - Snapshot + rollback
// =============================================================================

// WithTx executes fn against a transactional view while holding the
// write lock. A snapshot taken up front is restored if fn fails, giving
// the same all-or-nothing behavior as a SQL transaction.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	envelopes    map[ledger.DisasterType]ledger.BudgetEnvelope
	funds        map[ledger.FundID]ledger.IncidentFund
	fundID       map[ledger.DisasterID]ledger.FundID
	expenditures map[ledger.ExpenditureID]ledger.Expenditure
	adjustments  map[ledger.AdjustmentID]ledger.AdjustmentRequest
	auditLen     int
}

func (m *Memory) snapshot() memorySnapshot {
	snap := memorySnapshot{
		envelopes:    make(map[ledger.DisasterType]ledger.BudgetEnvelope, len(m.envelopes)),
		funds:        make(map[ledger.FundID]ledger.IncidentFund, len(m.funds)),
		fundID:       make(map[ledger.DisasterID]ledger.FundID, len(m.fundID)),
		expenditures: make(map[ledger.ExpenditureID]ledger.Expenditure, len(m.expenditures)),
		adjustments:  make(map[ledger.AdjustmentID]ledger.AdjustmentRequest, len(m.adjustments)),
		auditLen:     len(m.audit),
	}
	for k, v := range m.envelopes {
		snap.envelopes[k] = v
	}
	for k, v := range m.funds {
		snap.funds[k] = v
	}
	for k, v := range m.fundID {
		snap.fundID[k] = v
	}
	for k, v := range m.expenditures {
		snap.expenditures[k] = v
	}
	for k, v := range m.adjustments {
		snap.adjustments[k] = v
	}
	return snap
}

func (m *Memory) restore(snap memorySnapshot) {
	m.envelopes = snap.envelopes
	m.funds = snap.funds
	m.fundID = snap.fundID
	m.expenditures = snap.expenditures
	m.adjustments = snap.adjustments
	m.audit = m.audit[:snap.auditLen]
}

// txView is the ledger.Store handed to WithTx callbacks. The parent's
// write lock is already held, so every method goes straight to the
// *Locked variants without taking it again.
type txView struct {
	parent *Memory
}

func (tv *txView) GetEnvelope(_ context.Context, t ledger.DisasterType) (*ledger.BudgetEnvelope, error) {
	return tv.parent.getEnvelopeLocked(t)
}

func (tv *txView) ListEnvelopes(_ context.Context) ([]ledger.BudgetEnvelope, error) {
	return tv.parent.listEnvelopesLocked()
}

func (tv *txView) PutEnvelope(_ context.Context, env ledger.BudgetEnvelope) error {
	return tv.parent.putEnvelopeLocked(env)
}

func (tv *txView) SaveEnvelope(_ context.Context, env ledger.BudgetEnvelope, expectedVersion int64) error {
	return tv.parent.saveEnvelopeLocked(env, expectedVersion)
}

func (tv *txView) GetFund(_ context.Context, id ledger.FundID) (*ledger.IncidentFund, error) {
	return tv.parent.getFundLocked(id)
}

func (tv *txView) GetFundByDisaster(_ context.Context, disasterID ledger.DisasterID) (*ledger.IncidentFund, error) {
	return tv.parent.getFundByDisasterLocked(disasterID)
}

func (tv *txView) ListFunds(_ context.Context, t *ledger.DisasterType) ([]ledger.IncidentFund, error) {
	return tv.parent.listFundsLocked(t)
}

func (tv *txView) PutFund(_ context.Context, fund ledger.IncidentFund) error {
	return tv.parent.putFundLocked(fund)
}

func (tv *txView) SaveFund(_ context.Context, fund ledger.IncidentFund, expectedVersion int64) error {
	return tv.parent.saveFundLocked(fund, expectedVersion)
}

func (tv *txView) GetExpenditure(_ context.Context, id ledger.ExpenditureID) (*ledger.Expenditure, error) {
	return tv.parent.getExpenditureLocked(id)
}

func (tv *txView) ListExpenditures(_ context.Context, fundID ledger.FundID) ([]ledger.Expenditure, error) {
	return tv.parent.listExpendituresLocked(fundID)
}

func (tv *txView) ListExpendituresByType(_ context.Context, t ledger.DisasterType) ([]ledger.Expenditure, error) {
	return tv.parent.listExpendituresByTypeLocked(t)
}

func (tv *txView) PutExpenditure(_ context.Context, exp ledger.Expenditure) error {
	return tv.parent.putExpenditureLocked(exp)
}

func (tv *txView) SaveExpenditure(_ context.Context, exp ledger.Expenditure) error {
	return tv.parent.saveExpenditureLocked(exp)
}

func (tv *txView) GetAdjustment(_ context.Context, id ledger.AdjustmentID) (*ledger.AdjustmentRequest, error) {
	return tv.parent.getAdjustmentLocked(id)
}

func (tv *txView) ListAdjustments(_ context.Context, status *ledger.ApprovalStatus) ([]ledger.AdjustmentRequest, error) {
	return tv.parent.listAdjustmentsLocked(status)
}

func (tv *txView) PutAdjustment(_ context.Context, req ledger.AdjustmentRequest) error {
	return tv.parent.putAdjustmentLocked(req)
}

func (tv *txView) SaveAdjustment(_ context.Context, req ledger.AdjustmentRequest) error {
	return tv.parent.saveAdjustmentLocked(req)
}

func (tv *txView) AppendAudit(_ context.Context, entry ledger.AuditEntry) error {
	return tv.parent.appendAuditLocked(entry)
}

func (tv *txView) QueryAudit(_ context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	return tv.parent.queryAuditLocked(filter)
}
