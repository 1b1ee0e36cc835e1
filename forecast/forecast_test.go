package forecast_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/relief-engine/forecast"
	"github.com/warp/relief-engine/ledger"
	"github.com/warp/relief-engine/ledger/store"
)

var fixedNow = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) (*store.Memory, *forecast.Engine) {
	t.Helper()
	mem := store.NewMemory()
	needs := map[ledger.DisasterType]ledger.NeedsProfile{
		ledger.DisasterDrought: {
			DisasterType:       ledger.DisasterDrought,
			CostPerHousehold:   ledger.NewMoney(1000),
			OperationalRate:    ledger.MustParseMoney("0.25"),
			LandCostPerHectare: ledger.NewMoney(1800),
		},
	}
	eng := forecast.NewEngine(mem, needs, ledger.HousingProfile{})
	eng.Now = func() time.Time { return fixedNow }
	return mem, eng
}

func putEnvelope(t *testing.T, mem *store.Memory, dt ledger.DisasterType, allocated, spent int64) {
	t.Helper()
	err := mem.PutEnvelope(context.Background(), ledger.BudgetEnvelope{
		DisasterType: dt,
		FiscalYear:   2025,
		Allocated:    ledger.NewMoney(allocated),
		Committed:    ledger.NewMoney(0),
		Spent:        ledger.NewMoney(spent),
	})
	require.NoError(t, err)
}

// putApprovedSpend writes an approved expenditure decided at the given
// offset before the engine's pinned clock.
func putApprovedSpend(t *testing.T, mem *store.Memory, dt ledger.DisasterType, id string, amount int64, decidedAgo time.Duration) {
	t.Helper()
	decided := fixedNow.Add(-decidedAgo)
	err := mem.PutExpenditure(context.Background(), ledger.Expenditure{
		ID:           ledger.ExpenditureID(id),
		FundID:       "fund-1",
		DisasterType: dt,
		Amount:       ledger.NewMoney(amount),
		Category:     "food",
		Status:       ledger.StatusApproved,
		RecordedBy:   "field-1",
		DecidedBy:    "finance-1",
		RecordedAt:   decided.Add(-time.Hour),
		DecidedAt:    &decided,
	})
	require.NoError(t, err)
}

// =============================================================================
// DEPLETION TESTS
// =============================================================================

func TestDepletion_InsufficientDataWithoutSpend(t *testing.T) {
	// GIVEN: An envelope with no approved spend in the last 12 months
	// WHEN: Projecting depletion
	// THEN: The sentinel is set instead of a divide-by-zero runway

	mem, eng := newEngine(t)
	putEnvelope(t, mem, ledger.DisasterDrought, 1000000, 0)

	dep, err := eng.Depletion(context.Background(), ledger.DisasterDrought)
	require.NoError(t, err)
	assert.True(t, dep.InsufficientData)
	assert.True(t, dep.TrailingSpend.IsZero())
	assert.True(t, dep.QuartersLeft.IsZero())
	assert.True(t, dep.Remaining.Equal(ledger.NewMoney(1000000)))
}

func TestDepletion_ProjectsQuartersLeft(t *testing.T) {
	// GIVEN: 800,000 remaining and 200,000 approved spend in the
	//        trailing year
	// THEN: Quarterly rate 50,000 and sixteen quarters of runway

	mem, eng := newEngine(t)
	putEnvelope(t, mem, ledger.DisasterDrought, 1000000, 200000)
	putApprovedSpend(t, mem, ledger.DisasterDrought, "exp-1", 120000, 30*24*time.Hour)
	putApprovedSpend(t, mem, ledger.DisasterDrought, "exp-2", 80000, 90*24*time.Hour)

	dep, err := eng.Depletion(context.Background(), ledger.DisasterDrought)
	require.NoError(t, err)
	assert.False(t, dep.InsufficientData)
	assert.True(t, dep.TrailingSpend.Equal(ledger.NewMoney(200000)))
	assert.True(t, dep.QuarterlyRate.Equal(ledger.NewMoney(50000)))
	assert.True(t, dep.QuartersLeft.Equal(ledger.NewMoney(16)))
}

func TestDepletion_TrailingWindowFilters(t *testing.T) {
	// GIVEN: Spend older than a year, pending spend, and recent
	//        approved spend
	// WHEN: Projecting depletion
	// THEN: Only recent approved expenditure counts toward the rate

	ctx := context.Background()
	mem, eng := newEngine(t)
	putEnvelope(t, mem, ledger.DisasterDrought, 500000, 0)

	putApprovedSpend(t, mem, ledger.DisasterDrought, "exp-old", 900000, 400*24*time.Hour)
	putApprovedSpend(t, mem, ledger.DisasterDrought, "exp-recent", 40000, 10*24*time.Hour)
	require.NoError(t, mem.PutExpenditure(ctx, ledger.Expenditure{
		ID:           "exp-pending",
		FundID:       "fund-1",
		DisasterType: ledger.DisasterDrought,
		Amount:       ledger.NewMoney(70000),
		Category:     "food",
		Status:       ledger.StatusPending,
		RecordedBy:   "field-1",
		RecordedAt:   fixedNow.Add(-24 * time.Hour),
	}))

	dep, err := eng.Depletion(ctx, ledger.DisasterDrought)
	require.NoError(t, err)
	assert.True(t, dep.TrailingSpend.Equal(ledger.NewMoney(40000)))
	assert.True(t, dep.QuarterlyRate.Equal(ledger.NewMoney(10000)))
}

// =============================================================================
// INCIDENT COST PREDICTION TESTS
// =============================================================================

func putHistoricalFund(t *testing.T, mem *store.Memory, id, disasterID string, adjusted, households int64) {
	t.Helper()
	err := mem.PutFund(context.Background(), ledger.IncidentFund{
		ID:                 ledger.FundID(id),
		DisasterID:         ledger.DisasterID(disasterID),
		DisasterType:       ledger.DisasterDrought,
		BaseBudget:         ledger.NewMoney(adjusted),
		AdjustedBudget:     ledger.NewMoney(adjusted),
		Committed:          ledger.NewMoney(0),
		Spent:              ledger.NewMoney(adjusted),
		HouseholdsAffected: households,
		Status:             ledger.FundClosed,
		CreatedAt:          fixedNow.AddDate(0, -6, 0),
	})
	require.NoError(t, err)
}

func TestPredictIncidentCost_AveragesHistory(t *testing.T) {
	// GIVEN: Two historical drought funds averaging 1000 per household
	// WHEN: Pricing 500 households at each severity level
	// THEN: 500,000 scaled by 1 / 1.3 / 1.6

	ctx := context.Background()
	mem, eng := newEngine(t)
	putHistoricalFund(t, mem, "fund-a", "disaster-a", 4000000, 4000)
	putHistoricalFund(t, mem, "fund-b", "disaster-b", 2000000, 2000)

	cases := []struct {
		severity forecast.Severity
		want     string
	}{
		{forecast.SeverityLow, "500000"},
		{forecast.SeverityModerate, "650000"},
		{forecast.SeveritySevere, "800000"},
	}
	for _, tc := range cases {
		t.Run(string(tc.severity), func(t *testing.T) {
			p, err := eng.PredictIncidentCost(ctx, forecast.CostScenario{
				DisasterType: ledger.DisasterDrought,
				Households:   500,
				Severity:     tc.severity,
			})
			require.NoError(t, err)
			assert.False(t, p.InsufficientData)
			assert.Equal(t, 2, p.HistoricalFunds)
			assert.True(t, p.AvgCostPerHousehold.Equal(ledger.NewMoney(1000)))
			assert.True(t, p.Predicted.Equal(ledger.MustParseMoney(tc.want)),
				"predicted %s, want %s", p.Predicted, tc.want)
		})
	}
}

func TestPredictIncidentCost_InsufficientHistory(t *testing.T) {
	// GIVEN: No funds of the requested type
	// WHEN: Predicting
	// THEN: The sentinel is set; no prediction is invented

	_, eng := newEngine(t)

	p, err := eng.PredictIncidentCost(context.Background(), forecast.CostScenario{
		DisasterType: ledger.DisasterDrought,
		Households:   500,
		Severity:     forecast.SeveritySevere,
	})
	require.NoError(t, err)
	assert.True(t, p.InsufficientData)
	assert.Zero(t, p.HistoricalFunds)
	assert.True(t, p.Predicted.IsZero())
}

// =============================================================================
// FUNDING GAP TESTS
// =============================================================================

func TestFundingGap_ClampsSurplusAtZero(t *testing.T) {
	// GIVEN: A drought envelope burning faster than its remaining
	//        budget and a flood envelope with no burn at all
	// WHEN: Computing the funding gap
	// THEN: Only the drought shortfall contributes; surplus is not a
	//       negative gap

	ctx := context.Background()
	mem, eng := newEngine(t)
	putEnvelope(t, mem, ledger.DisasterDrought, 10000, 0)
	putEnvelope(t, mem, ledger.DisasterFlood, 1000000, 0)
	putApprovedSpend(t, mem, ledger.DisasterDrought, "exp-1", 200000, 30*24*time.Hour)

	gap, err := eng.FundingGap(ctx)
	require.NoError(t, err)
	require.Len(t, gap.Gaps, 2)

	byType := map[ledger.DisasterType]forecast.Gap{}
	for _, g := range gap.Gaps {
		byType[g.DisasterType] = g
	}

	drought := byType[ledger.DisasterDrought]
	assert.True(t, drought.ExpectedCost.Equal(ledger.NewMoney(50000)))
	assert.True(t, drought.Shortfall.Equal(ledger.NewMoney(40000)))

	flood := byType[ledger.DisasterFlood]
	assert.True(t, flood.Shortfall.IsZero())

	assert.True(t, gap.Total.Equal(ledger.NewMoney(40000)))
}

// =============================================================================
// SIMULATION TESTS
// =============================================================================

func TestSimulate_ReportsShortfallWithoutBlocking(t *testing.T) {
	// GIVEN: A drought envelope with 100,000 remaining
	// WHEN: Simulating an incident requiring 125,000
	// THEN: AfterScenario goes negative; the simulation reports the
	//       hole instead of refusing

	ctx := context.Background()
	mem, eng := newEngine(t)
	putEnvelope(t, mem, ledger.DisasterDrought, 100000, 0)

	sim, err := eng.Simulate(ctx, ledger.DisasterDrought, ledger.ImpactSummary{Households: 100})
	require.NoError(t, err)
	assert.True(t, sim.RequiredFunding.Equal(ledger.NewMoney(125000)))
	assert.True(t, sim.Remaining.Equal(ledger.NewMoney(100000)))
	assert.True(t, sim.AfterScenario.Equal(ledger.NewMoney(-25000)))
}

func TestSimulate_UnknownProfile(t *testing.T) {
	// GIVEN: A disaster type with no needs profile
	// WHEN: Simulating
	// THEN: ErrProfileNotFound

	mem, eng := newEngine(t)
	putEnvelope(t, mem, ledger.DisasterStorm, 100000, 0)

	_, err := eng.Simulate(context.Background(), ledger.DisasterStorm, ledger.ImpactSummary{Households: 1})
	assert.ErrorIs(t, err, ledger.ErrProfileNotFound)
}
