package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/relief-engine/assess"
	"github.com/warp/relief-engine/ledger"
	"github.com/warp/relief-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func putEnvelope(t *testing.T, st *sqlite.Store, dt ledger.DisasterType, allocated int64) {
	t.Helper()
	require.NoError(t, st.PutEnvelope(context.Background(), ledger.BudgetEnvelope{
		DisasterType: dt,
		FiscalYear:   2025,
		Allocated:    ledger.NewMoney(allocated),
		Committed:    ledger.NewMoney(0),
		Spent:        ledger.NewMoney(0),
		UpdatedAt:    time.Now().UTC(),
	}))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	// GIVEN: An envelope persisted with decimal balances
	// WHEN: Reading it back
	// THEN: Balances survive exactly, including fractional amounts

	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.PutEnvelope(ctx, ledger.BudgetEnvelope{
		DisasterType: ledger.DisasterDrought,
		FiscalYear:   2025,
		Allocated:    ledger.MustParseMoney("30242798.55"),
		Committed:    ledger.MustParseMoney("0.01"),
		Spent:        ledger.NewMoney(0),
		UpdatedAt:    time.Now().UTC(),
	}))

	env, err := st.GetEnvelope(ctx, ledger.DisasterDrought)
	require.NoError(t, err)
	assert.True(t, env.Allocated.Equal(ledger.MustParseMoney("30242798.55")))
	assert.True(t, env.Committed.Equal(ledger.MustParseMoney("0.01")))
	assert.Equal(t, int64(0), env.Version)

	_, err = st.GetEnvelope(ctx, ledger.DisasterFlood)
	assert.ErrorIs(t, err, ledger.ErrEnvelopeNotFound)
}

func TestSaveEnvelope_VersionCheck(t *testing.T) {
	// GIVEN: An envelope at version 0
	// WHEN: Saving with the right and then a stale expected version
	// THEN: The stale save fails with ErrConcurrentModification

	ctx := context.Background()
	st := newTestStore(t)
	putEnvelope(t, st, ledger.DisasterStorm, 5000)

	env, err := st.GetEnvelope(ctx, ledger.DisasterStorm)
	require.NoError(t, err)

	updated := *env
	require.NoError(t, updated.Commit(ledger.NewMoney(1000)))
	require.NoError(t, st.SaveEnvelope(ctx, updated, env.Version))

	reread, err := st.GetEnvelope(ctx, ledger.DisasterStorm)
	require.NoError(t, err)
	assert.Equal(t, env.Version+1, reread.Version)

	err = st.SaveEnvelope(ctx, updated, env.Version)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	err = st.SaveEnvelope(ctx, ledger.BudgetEnvelope{DisasterType: ledger.DisasterFlood}, 0)
	assert.ErrorIs(t, err, ledger.ErrEnvelopeNotFound)
}

func TestPutFund_DuplicateDisaster(t *testing.T) {
	// GIVEN: A fund already stored for a disaster
	// WHEN: Inserting a second fund for the same disaster
	// THEN: ErrDuplicateFund via the unique disaster constraint

	ctx := context.Background()
	st := newTestStore(t)

	fund := ledger.IncidentFund{
		ID:             "fund-1",
		DisasterID:     "disaster-1",
		DisasterType:   ledger.DisasterDrought,
		BaseBudget:     ledger.NewMoney(100000),
		AdjustedBudget: ledger.NewMoney(125000),
		Committed:      ledger.NewMoney(125000),
		Spent:          ledger.NewMoney(0),
		Planned:        ledger.NewMoney(0),
		Status:         ledger.FundOpen,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, st.PutFund(ctx, fund))

	dup := fund
	dup.ID = "fund-2"
	err := st.PutFund(ctx, dup)
	assert.ErrorIs(t, err, ledger.ErrDuplicateFund)

	byDisaster, err := st.GetFundByDisaster(ctx, "disaster-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.FundID("fund-1"), byDisaster.ID)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that writes an envelope update, then fails
	// WHEN: WithTx returns the error
	// THEN: The update is not visible afterwards

	ctx := context.Background()
	st := newTestStore(t)
	putEnvelope(t, st, ledger.DisasterFlood, 22000000)

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(tx ledger.Store) error {
		env, err := tx.GetEnvelope(ctx, ledger.DisasterFlood)
		if err != nil {
			return err
		}
		updated := *env
		if err := updated.Commit(ledger.NewMoney(1000000)); err != nil {
			return err
		}
		if err := tx.SaveEnvelope(ctx, updated, env.Version); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	env, err := st.GetEnvelope(ctx, ledger.DisasterFlood)
	require.NoError(t, err)
	assert.True(t, env.Committed.IsZero())
	assert.Equal(t, int64(0), env.Version)
}

func TestAuditLog_FilterQuery(t *testing.T) {
	// GIVEN: Audit entries from two actors with balance maps
	// WHEN: Querying by actor and by action
	// THEN: Filters apply and before/after balances round-trip

	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, st.AppendAudit(ctx, ledger.AuditEntry{
		At:        now,
		ActorID:   "admin-1",
		Action:    ledger.AuditEnvelopeAllocated,
		SubjectID: "drought",
		Before:    map[string]ledger.Money{"drought.allocated": ledger.NewMoney(0)},
		After:     map[string]ledger.Money{"drought.allocated": ledger.NewMoney(30242798)},
		Detail:    "initial allocation",
	}))
	require.NoError(t, st.AppendAudit(ctx, ledger.AuditEntry{
		At:        now.Add(time.Minute),
		ActorID:   "finance-1",
		Action:    ledger.AuditExpenditureRecorded,
		SubjectID: "exp-1",
		Detail:    "food purchase",
	}))

	actor := "admin-1"
	entries, err := st.QueryAudit(ctx, ledger.AuditFilter{ActorID: &actor})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.AuditEnvelopeAllocated, entries[0].Action)
	assert.True(t, entries[0].After["drought.allocated"].Equal(ledger.NewMoney(30242798)))

	entries, err = st.QueryAudit(ctx, ledger.AuditFilter{
		Actions: []ledger.AuditAction{ledger.AuditExpenditureRecorded},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "exp-1", entries[0].SubjectID)

	from := now.Add(30 * time.Second)
	entries, err = st.QueryAudit(ctx, ledger.AuditFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "finance-1", entries[0].ActorID)
}

func TestAssessmentLifecyclePersistence(t *testing.T) {
	// GIVEN: A stored assessment
	// WHEN: Marking it scored
	// THEN: It reads back locked and further writes are refused

	ctx := context.Background()
	st := newTestStore(t)

	a := assess.HouseholdAssessment{
		ID:             "assessment-1",
		HouseholdID:    "hh-104",
		DisasterID:     "disaster-1",
		MonthlyIncome:  ledger.NewMoney(2500),
		HouseholdSize:  5,
		ChildrenUnder5: 1,
		DisasterType:   ledger.DisasterDrought,
		DamageSeverity: 3,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, st.PutAssessment(ctx, a))

	require.NoError(t, st.MarkScored(ctx, a.ID, time.Now().UTC()))

	stored, err := st.GetAssessment(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, stored.Locked())
	assert.True(t, stored.MonthlyIncome.Equal(ledger.NewMoney(2500)))

	err = st.MarkScored(ctx, a.ID, time.Now().UTC())
	assert.ErrorIs(t, err, assess.ErrAssessmentLocked)

	err = st.PutAssessment(ctx, a)
	assert.ErrorIs(t, err, assess.ErrAssessmentLocked)
}

func TestReset_ClearsEverything(t *testing.T) {
	// GIVEN: A store with envelopes and audit entries
	// WHEN: Resetting
	// THEN: All tables are empty

	ctx := context.Background()
	st := newTestStore(t)
	putEnvelope(t, st, ledger.DisasterDrought, 1000)
	require.NoError(t, st.AppendAudit(ctx, ledger.AuditEntry{
		At: time.Now().UTC(), ActorID: "admin-1", Action: ledger.AuditEnvelopeAllocated, SubjectID: "drought",
	}))

	require.NoError(t, st.Reset(ctx))

	envs, err := st.ListEnvelopes(ctx)
	require.NoError(t, err)
	assert.Empty(t, envs)

	entries, err := st.QueryAudit(ctx, ledger.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}
