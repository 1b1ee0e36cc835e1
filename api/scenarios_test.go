/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario builds the expected ledger state through
	the real service paths:
	- Envelopes seeded and funded
	- Incident funds opened with the right budgets
	- Expenditures and adjustment requests in the expected states
	- Reloading a scenario resets instead of double-charging
*/
package api

import (
	"context"
	"testing"

	"github.com/warp/relief-engine/assess"
	"github.com/warp/relief-engine/factory"
	"github.com/warp/relief-engine/forecast"
	"github.com/warp/relief-engine/ledger"
	"github.com/warp/relief-engine/store/sqlite"
)

func setupTestHandler(t *testing.T) *Handler {
	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := factory.Default()
	envelopes := ledger.NewEnvelopeService(st, st)
	funds := ledger.NewFundService(st, envelopes, cfg.Needs, cfg.Housing)

	return &Handler{
		Envelopes:    envelopes,
		Funds:        funds,
		Expenditures: ledger.NewExpenditureService(st, cfg.CategoryCaps),
		Adjustments:  ledger.NewAdjustmentService(st),
		Assessments:  assess.NewService(st, funds, cfg.Classifier),
		Forecast:     forecast.NewEngine(st, cfg.Needs, cfg.Housing),
		Audit:        st,
		Resetter:     st,
	}
}

func TestScenario_Empty(t *testing.T) {
	// GIVEN: The empty scenario
	// WHEN: Loading it
	// THEN: Every known disaster type has a zero-allocation envelope

	handler := setupTestHandler(t)
	ctx := context.Background()

	if err := loadEmpty(ctx, handler); err != nil {
		t.Fatalf("Failed to load empty scenario: %v", err)
	}

	envs, err := handler.Envelopes.List(ctx)
	if err != nil {
		t.Fatalf("Failed to list envelopes: %v", err)
	}
	if len(envs) != len(ledger.KnownDisasterTypes()) {
		t.Fatalf("Expected %d envelopes, got %d", len(ledger.KnownDisasterTypes()), len(envs))
	}
	for _, env := range envs {
		if !env.Allocated.IsZero() {
			t.Errorf("Envelope %s should be unfunded, got %s", env.DisasterType, env.Allocated)
		}
	}
}

func TestScenario_FiscalYear(t *testing.T) {
	// GIVEN: The fiscal-year scenario
	// WHEN: Loading it
	// THEN: Each envelope carries its annual allocation, nothing spent

	handler := setupTestHandler(t)
	ctx := context.Background()

	if err := loadFiscalYear(ctx, handler); err != nil {
		t.Fatalf("Failed to load fiscal-year scenario: %v", err)
	}

	env, err := handler.Envelopes.Get(ctx, ledger.DisasterDrought)
	if err != nil {
		t.Fatalf("Failed to get drought envelope: %v", err)
	}
	if !env.Allocated.Equal(ledger.MustParseMoney("30242798")) {
		t.Errorf("Expected drought allocation 30242798, got %s", env.Allocated)
	}
	if !env.Committed.IsZero() || !env.Spent.IsZero() {
		t.Errorf("Fiscal-year start should have no commitments or spend")
	}
}

func TestScenario_DroughtResponse(t *testing.T) {
	// GIVEN: The drought-response scenario
	// WHEN: Loading it
	// THEN: One open drought fund with an approved and a pending
	//       expenditure, and envelope balances that account for both

	handler := setupTestHandler(t)
	ctx := context.Background()

	if err := loadDroughtResponse(ctx, handler); err != nil {
		t.Fatalf("Failed to load drought-response scenario: %v", err)
	}

	dt := ledger.DisasterDrought
	funds, err := handler.Funds.List(ctx, &dt)
	if err != nil {
		t.Fatalf("Failed to list funds: %v", err)
	}
	if len(funds) != 1 {
		t.Fatalf("Expected 1 drought fund, got %d", len(funds))
	}
	fund := funds[0]
	if fund.Status != ledger.FundOpen {
		t.Errorf("Expected open fund, got %s", fund.Status)
	}
	if !fund.AdjustedBudget.Equal(ledger.MustParseMoney("17051000")) {
		t.Errorf("Expected adjusted budget 17051000, got %s", fund.AdjustedBudget)
	}
	if !fund.Spent.Equal(ledger.MustParseMoney("420000")) {
		t.Errorf("Expected 420000 spent, got %s", fund.Spent)
	}

	exps, err := handler.Expenditures.List(ctx, fund.ID)
	if err != nil {
		t.Fatalf("Failed to list expenditures: %v", err)
	}
	if len(exps) != 2 {
		t.Fatalf("Expected 2 expenditures, got %d", len(exps))
	}
	statuses := map[ledger.ApprovalStatus]int{}
	for _, e := range exps {
		statuses[e.Status]++
	}
	if statuses[ledger.StatusApproved] != 1 || statuses[ledger.StatusPending] != 1 {
		t.Errorf("Expected 1 approved + 1 pending, got %v", statuses)
	}

	env, err := handler.Envelopes.Get(ctx, dt)
	if err != nil {
		t.Fatalf("Failed to get envelope: %v", err)
	}
	// 30,242,798 allocated - 17,051,000 reserved for the fund.
	if !env.Remaining().Equal(ledger.MustParseMoney("13191798")) {
		t.Errorf("Expected remaining 13191798, got %s", env.Remaining())
	}
	if !env.Spent.Equal(ledger.MustParseMoney("420000")) {
		t.Errorf("Expected envelope spent 420000, got %s", env.Spent)
	}
}

func TestScenario_StrainedBudgets(t *testing.T) {
	// GIVEN: The strained-budgets scenario
	// WHEN: Loading it
	// THEN: Drought and flood funds are both open and a pending
	//       storm-to-flood transfer awaits approval

	handler := setupTestHandler(t)
	ctx := context.Background()

	if err := loadStrainedBudgets(ctx, handler); err != nil {
		t.Fatalf("Failed to load strained-budgets scenario: %v", err)
	}

	funds, err := handler.Funds.List(ctx, nil)
	if err != nil {
		t.Fatalf("Failed to list funds: %v", err)
	}
	if len(funds) != 2 {
		t.Fatalf("Expected 2 funds, got %d", len(funds))
	}

	pending := ledger.StatusPending
	adjustments, err := handler.Adjustments.List(ctx, &pending)
	if err != nil {
		t.Fatalf("Failed to list adjustments: %v", err)
	}
	if len(adjustments) != 1 {
		t.Fatalf("Expected 1 pending adjustment, got %d", len(adjustments))
	}
	adj := adjustments[0]
	if adj.FromType != ledger.DisasterStorm || adj.ToType != ledger.DisasterFlood {
		t.Errorf("Expected storm->flood transfer, got %s->%s", adj.FromType, adj.ToType)
	}
	if !adj.Amount.Equal(ledger.MustParseMoney("3000000")) {
		t.Errorf("Expected transfer of 3000000, got %s", adj.Amount)
	}
}

func TestScenario_ReloadResetsState(t *testing.T) {
	// GIVEN: A loaded scenario
	// WHEN: Loading it again through the reset path
	// THEN: State matches a fresh load; nothing is double-charged

	handler := setupTestHandler(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := handler.Resetter.Reset(ctx); err != nil {
			t.Fatalf("Failed to reset: %v", err)
		}
		if err := loadDroughtResponse(ctx, handler); err != nil {
			t.Fatalf("Failed to load scenario (round %d): %v", i+1, err)
		}
	}

	funds, err := handler.Funds.List(ctx, nil)
	if err != nil {
		t.Fatalf("Failed to list funds: %v", err)
	}
	if len(funds) != 1 {
		t.Fatalf("Expected 1 fund after reload, got %d", len(funds))
	}
	env, err := handler.Envelopes.Get(ctx, ledger.DisasterDrought)
	if err != nil {
		t.Fatalf("Failed to get envelope: %v", err)
	}
	if !env.Allocated.Equal(ledger.MustParseMoney("30242798")) {
		t.Errorf("Expected allocation 30242798 after reload, got %s", env.Allocated)
	}
}
