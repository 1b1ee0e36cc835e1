/*
scenarios.go - Demo scenario loaders

PURPOSE:
  Seeds the engine with recognizable data sets for demos and manual
  testing. Each scenario resets the store (when a Resetter is wired)
  and replays a sequence of real operations through the services, so
  the resulting state is exactly what the production code paths
  produce - no hand-inserted rows.

SCENARIOS:
  empty              Envelopes seeded at zero, nothing else
  fiscal-year        Funded envelopes for all five disaster types
  drought-response   Funded envelopes + an active drought fund with
                     recorded and approved expenditures
  strained-budgets   Two active funds, heavy spend, a pending
                     adjustment request moving money toward floods

SEE ALSO:
  - handlers.go: Scenario endpoints
  - factory/policy.go: The policy tables the services run under
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/relief-engine/ledger"
)

// Scenario is a named, loadable demo data set.
type Scenario struct {
	ID          string
	Name        string
	Description string
	Load        func(ctx context.Context, h *Handler) error
}

// Scenarios lists all loadable demo scenarios in display order.
func Scenarios() []Scenario {
	return []Scenario{
		{
			ID:          "empty",
			Name:        "Empty Ledger",
			Description: "Envelopes for all disaster types, zero allocation.",
			Load:        loadEmpty,
		},
		{
			ID:          "fiscal-year",
			Name:        "Fiscal Year Start",
			Description: "All five envelopes funded at their annual allocation.",
			Load:        loadFiscalYear,
		},
		{
			ID:          "drought-response",
			Name:        "Drought Response",
			Description: "Active drought fund with approved and pending expenditures.",
			Load:        loadDroughtResponse,
		},
		{
			ID:          "strained-budgets",
			Name:        "Strained Budgets",
			Description: "Two active funds, heavy spend, pending inter-envelope transfer.",
			Load:        loadStrainedBudgets,
		},
	}
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// ListScenarios returns the available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios := Scenarios()
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = ScenarioDTO{ID: s.ID, Name: s.Name, Description: s.Description}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario reports which scenario was loaded last.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": h.currentScenario})
}

// LoadScenario resets the store and replays the selected scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var scenario *Scenario
	for _, s := range Scenarios() {
		if s.ID == req.ScenarioID {
			sc := s
			scenario = &sc
			break
		}
	}
	if scenario == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown scenario %q", req.ScenarioID), nil)
		return
	}

	ctx := r.Context()
	if h.Resetter != nil {
		if err := h.Resetter.Reset(ctx); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
			return
		}
	}
	if err := scenario.Load(ctx, h); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = scenario.ID
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": scenario.ID, "status": "loaded"})
}

// =============================================================================
// LOADERS
// =============================================================================

func seedEnvelopes(ctx context.Context, h *Handler, year int) error {
	for _, t := range ledger.KnownDisasterTypes() {
		env := ledger.BudgetEnvelope{
			DisasterType: t,
			FiscalYear:   year,
			Allocated:    ledger.NewMoney(0),
			Committed:    ledger.NewMoney(0),
			Spent:        ledger.NewMoney(0),
		}
		if err := h.Envelopes.Store.PutEnvelope(ctx, env); err != nil {
			return fmt.Errorf("seed %s envelope: %w", t, err)
		}
	}
	return nil
}

func loadEmpty(ctx context.Context, h *Handler) error {
	return seedEnvelopes(ctx, h, time.Now().Year())
}

var annualAllocations = map[ledger.DisasterType]string{
	ledger.DisasterDrought:       "30242798",
	ledger.DisasterHeavyRainfall: "18500000",
	ledger.DisasterFlood:         "22000000",
	ledger.DisasterLandslide:     "9750000",
	ledger.DisasterStorm:         "14300000",
}

func loadFiscalYear(ctx context.Context, h *Handler) error {
	if err := seedEnvelopes(ctx, h, time.Now().Year()); err != nil {
		return err
	}
	treasury := ledger.Actor{ID: "treasury", Role: "finance"}
	for t, amount := range annualAllocations {
		if _, err := h.Envelopes.Allocate(ctx, t, ledger.MustParseMoney(amount), treasury); err != nil {
			return fmt.Errorf("allocate %s: %w", t, err)
		}
	}
	return nil
}

func loadDroughtResponse(ctx context.Context, h *Handler) error {
	if err := loadFiscalYear(ctx, h); err != nil {
		return err
	}

	coordinator := ledger.Actor{ID: "coordinator-1", Role: "field"}
	finance := ledger.Actor{ID: "finance-1", Role: "finance"}

	fund, err := h.Funds.OnDisasterVerified(ctx, "disaster-drought-2025",
		ledger.DisasterDrought,
		ledger.ImpactSummary{
			Households:          1200,
			People:              5400,
			LivestockUnits:      3800,
			FarmingHouseholds:   700,
			DamagedLandHectares: ledger.MustParseMoney("950"),
		},
		coordinator)
	if err != nil {
		return fmt.Errorf("open drought fund: %w", err)
	}

	// Approved water trucking, pending food parcels.
	water, err := h.Expenditures.Record(ctx, fund.ID,
		ledger.MustParseMoney("420000"), "logistics", false, "RCP-0001", coordinator)
	if err != nil {
		return err
	}
	if _, err := h.Expenditures.Approve(ctx, water.ID, finance); err != nil {
		return err
	}
	_, err = h.Expenditures.Record(ctx, fund.ID,
		ledger.MustParseMoney("680000"), "food", false, "RCP-0002", coordinator)
	return err
}

func loadStrainedBudgets(ctx context.Context, h *Handler) error {
	if err := loadDroughtResponse(ctx, h); err != nil {
		return err
	}

	coordinator := ledger.Actor{ID: "coordinator-2", Role: "field"}
	finance := ledger.Actor{ID: "finance-1", Role: "finance"}

	fund, err := h.Funds.OnDisasterVerified(ctx, "disaster-flood-2025",
		ledger.DisasterFlood,
		ledger.ImpactSummary{
			Households:        800,
			People:            3400,
			FarmingHouseholds: 250,
			Housing: []ledger.HousingImpact{
				{Tier: ledger.HousingTierB, Damage: ledger.HousingDamageSevere, Count: 60},
				{Tier: ledger.HousingTierC, Damage: ledger.HousingDamageDestroyed, Count: 20},
			},
			DamagedLandHectares: ledger.MustParseMoney("120"),
		},
		coordinator)
	if err != nil {
		return fmt.Errorf("open flood fund: %w", err)
	}

	shelter, err := h.Expenditures.Record(ctx, fund.ID,
		ledger.MustParseMoney("2400000"), "shelter", false, "RCP-0101", coordinator)
	if err != nil {
		return err
	}
	if _, err := h.Expenditures.Approve(ctx, shelter.ID, finance); err != nil {
		return err
	}

	// Pending transfer toward the strained flood envelope.
	_, err = h.Adjustments.Submit(ctx, ledger.DisasterStorm, ledger.DisasterFlood,
		ledger.MustParseMoney("3000000"), "flood season heavier than projected", finance)
	return err
}
