/*
Package forecast provides read-only analytics over the budget ledgers:
depletion-rate projection, incident-cost prediction, funding-gap
analysis, and scenario simulation.

Forecasts are recomputed on demand from the ledgers, never cached in
the background, so every answer reflects the balances at the moment of
the question. Nothing in this package writes.

DIVISION DISCIPLINE:
  Every ratio in this package guards its denominator. A type with no
  spend history gets the "insufficient data" sentinel, never an
  Infinity or NaN smuggled through a float.
*/
package forecast

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/relief-engine/ledger"
)

// Engine reads the ledgers and the needs profiles. The clock is
// injectable so tests can pin "now".
type Engine struct {
	Store   ledger.Store
	Needs   map[ledger.DisasterType]ledger.NeedsProfile
	Housing ledger.HousingProfile
	Now     func() time.Time
}

func NewEngine(store ledger.Store, needs map[ledger.DisasterType]ledger.NeedsProfile, housing ledger.HousingProfile) *Engine {
	return &Engine{Store: store, Needs: needs, Housing: housing, Now: time.Now}
}

// =============================================================================
// DEPLETION - How many quarters until the envelope runs dry?
// =============================================================================

// Depletion projects envelope runway from the trailing 12 months of
// approved spend. InsufficientData is set instead of dividing by zero
// when the type has no recent spend.
type Depletion struct {
	DisasterType     ledger.DisasterType
	Remaining        ledger.Money
	TrailingSpend    ledger.Money // approved spend, last 12 months
	QuarterlyRate    ledger.Money
	QuartersLeft     ledger.Money
	InsufficientData bool
}

func (e *Engine) Depletion(ctx context.Context, t ledger.DisasterType) (*Depletion, error) {
	env, err := e.Store.GetEnvelope(ctx, t)
	if err != nil {
		return nil, err
	}

	cutoff := e.Now().UTC().AddDate(-1, 0, 0)
	trailing, err := e.trailingSpend(ctx, t, cutoff)
	if err != nil {
		return nil, err
	}

	d := &Depletion{
		DisasterType:  t,
		Remaining:     env.Remaining(),
		TrailingSpend: trailing,
		QuarterlyRate: trailing.Div(decimal.NewFromInt(4)),
	}
	if !d.QuarterlyRate.IsPositive() {
		d.InsufficientData = true
		return d, nil
	}
	d.QuartersLeft = d.Remaining.Div(d.QuarterlyRate)
	return d, nil
}

func (e *Engine) trailingSpend(ctx context.Context, t ledger.DisasterType, cutoff time.Time) (ledger.Money, error) {
	exps, err := e.Store.ListExpendituresByType(ctx, t)
	if err != nil {
		return decimal.Zero, err
	}
	total := ledger.NewMoney(0)
	for _, exp := range exps {
		if exp.Status != ledger.StatusApproved || exp.DecidedAt == nil {
			continue
		}
		if exp.DecidedAt.Before(cutoff) {
			continue
		}
		total = total.Add(exp.Amount)
	}
	return total, nil
}

// =============================================================================
// INCIDENT COST PREDICTION
// =============================================================================

// Severity scales a cost prediction for how bad the hypothetical
// incident is expected to be.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

func (s Severity) multiplier() ledger.Money {
	switch s {
	case SeverityModerate:
		return ledger.MustParseMoney("1.3")
	case SeveritySevere:
		return ledger.MustParseMoney("1.6")
	default:
		return ledger.NewMoney(1)
	}
}

// CostScenario describes a hypothetical incident to price.
type CostScenario struct {
	DisasterType ledger.DisasterType
	Households   int64
	Severity     Severity
}

// CostPrediction prices a scenario from historical funds of the same
// type: average adjusted budget per affected household, scaled by
// scenario households and a severity multiplier.
type CostPrediction struct {
	Scenario            CostScenario
	HistoricalFunds     int
	AvgCostPerHousehold ledger.Money
	Predicted           ledger.Money
	InsufficientData    bool
}

func (e *Engine) PredictIncidentCost(ctx context.Context, scenario CostScenario) (*CostPrediction, error) {
	funds, err := e.Store.ListFunds(ctx, &scenario.DisasterType)
	if err != nil {
		return nil, err
	}

	totalBudget := ledger.NewMoney(0)
	var totalHouseholds int64
	for _, f := range funds {
		totalBudget = totalBudget.Add(f.AdjustedBudget)
		totalHouseholds += f.HouseholdsAffected
	}

	p := &CostPrediction{Scenario: scenario, HistoricalFunds: len(funds)}
	if totalHouseholds == 0 {
		p.InsufficientData = true
		return p, nil
	}

	p.AvgCostPerHousehold = totalBudget.Div(decimal.NewFromInt(totalHouseholds))
	p.Predicted = p.AvgCostPerHousehold.
		Mul(decimal.NewFromInt(scenario.Households)).
		Mul(scenario.Severity.multiplier())
	return p, nil
}

// =============================================================================
// FUNDING GAP
// =============================================================================

// Gap compares the expected next-quarter cost of one envelope against
// its projected (remaining) budget. Gap is clamped at zero: a surplus
// is not a gap.
type Gap struct {
	DisasterType    ledger.DisasterType
	ExpectedCost    ledger.Money
	ProjectedBudget ledger.Money
	Shortfall       ledger.Money
}

// FundingGap reports the gap for every envelope plus the total
// shortfall across types.
type FundingGap struct {
	Gaps  []Gap
	Total ledger.Money
}

func (e *Engine) FundingGap(ctx context.Context) (*FundingGap, error) {
	envs, err := e.Store.ListEnvelopes(ctx)
	if err != nil {
		return nil, err
	}

	out := &FundingGap{Total: ledger.NewMoney(0)}
	for _, env := range envs {
		dep, err := e.Depletion(ctx, env.DisasterType)
		if err != nil {
			return nil, err
		}
		g := Gap{
			DisasterType:    env.DisasterType,
			ExpectedCost:    dep.QuarterlyRate,
			ProjectedBudget: env.Remaining(),
		}
		shortfall := g.ExpectedCost.Sub(g.ProjectedBudget)
		if shortfall.IsPositive() {
			g.Shortfall = shortfall
		} else {
			g.Shortfall = ledger.NewMoney(0)
		}
		out.Gaps = append(out.Gaps, g)
		out.Total = out.Total.Add(g.Shortfall)
	}
	return out, nil
}

// =============================================================================
// SCENARIO SIMULATION
// =============================================================================

// Simulation applies the incident-fund budget formula to a hypothetical
// impact and reports what it would do to the chosen envelope. The
// after-scenario balance may be negative: the simulation reports the
// hole, it does not block on it.
type Simulation struct {
	DisasterType    ledger.DisasterType
	RequiredFunding ledger.Money
	Remaining       ledger.Money
	AfterScenario   ledger.Money
}

func (e *Engine) Simulate(ctx context.Context, t ledger.DisasterType, impact ledger.ImpactSummary) (*Simulation, error) {
	needs, ok := e.Needs[t]
	if !ok {
		return nil, ledger.ErrProfileNotFound
	}
	env, err := e.Store.GetEnvelope(ctx, t)
	if err != nil {
		return nil, err
	}

	required := ledger.AdjustedBudget(needs, e.Housing, impact)
	return &Simulation{
		DisasterType:    t,
		RequiredFunding: required,
		Remaining:       env.Remaining(),
		AfterScenario:   env.Remaining().Sub(required),
	}, nil
}
