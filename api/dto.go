/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

MONEY ON THE WIRE:
  Amounts are JSON strings in decimal form ("30242798"), never numbers.
  JSON numbers are float64 in most clients, which silently corrupts
  ledger balances. Parsing happens at this boundary and nowhere else.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types these map from
*/
package api

import (
	"time"

	"github.com/warp/relief-engine/assess"
	"github.com/warp/relief-engine/forecast"
	"github.com/warp/relief-engine/ledger"
)

// =============================================================================
// ENVELOPES
// =============================================================================

// EnvelopeDTO represents a budget envelope in API responses.
type EnvelopeDTO struct {
	DisasterType string `json:"disaster_type"`
	FiscalYear   int    `json:"fiscal_year"`
	Allocated    string `json:"allocated"`
	Committed    string `json:"committed"`
	Spent        string `json:"spent"`
	Remaining    string `json:"remaining"`
	Version      int64  `json:"version"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

func toEnvelopeDTO(env ledger.BudgetEnvelope) EnvelopeDTO {
	return EnvelopeDTO{
		DisasterType: string(env.DisasterType),
		FiscalYear:   env.FiscalYear,
		Allocated:    env.Allocated.String(),
		Committed:    env.Committed.String(),
		Spent:        env.Spent.String(),
		Remaining:    env.Remaining().String(),
		Version:      env.Version,
		UpdatedAt:    env.UpdatedAt.Format(time.RFC3339),
	}
}

// AllocateRequest tops up an envelope's allocation.
type AllocateRequest struct {
	Amount  string `json:"amount"`
	ActorID string `json:"actor_id"`
}

// =============================================================================
// DISASTER VERIFICATION / FUNDS
// =============================================================================

// HousingImpactDTO is one row of the verified housing damage table.
type HousingImpactDTO struct {
	Tier   string `json:"tier"`
	Damage string `json:"damage"`
	Count  int64  `json:"count"`
}

// VerifyDisasterRequest opens an incident fund for a verified disaster.
type VerifyDisasterRequest struct {
	DisasterID          string             `json:"disaster_id"`
	DisasterType        string             `json:"disaster_type"`
	Households          int64              `json:"households"`
	People              int64              `json:"people"`
	LivestockUnits      int64              `json:"livestock_units"`
	FarmingHouseholds   int64              `json:"farming_households"`
	Housing             []HousingImpactDTO `json:"housing"`
	DamagedLandHectares string             `json:"damaged_land_hectares"`
	ActorID             string             `json:"actor_id"`
}

func (r VerifyDisasterRequest) impact() ledger.ImpactSummary {
	impact := ledger.ImpactSummary{
		Households:          r.Households,
		People:              r.People,
		LivestockUnits:      r.LivestockUnits,
		FarmingHouseholds:   r.FarmingHouseholds,
		DamagedLandHectares: ledger.MustParseMoney(r.DamagedLandHectares),
	}
	for _, h := range r.Housing {
		impact.Housing = append(impact.Housing, ledger.HousingImpact{
			Tier:   ledger.HousingTier(h.Tier),
			Damage: ledger.HousingDamage(h.Damage),
			Count:  h.Count,
		})
	}
	return impact
}

// FundDTO represents an incident fund in API responses.
type FundDTO struct {
	ID                 string  `json:"id"`
	DisasterID         string  `json:"disaster_id"`
	DisasterType       string  `json:"disaster_type"`
	BaseBudget         string  `json:"base_budget"`
	AdjustedBudget     string  `json:"adjusted_budget"`
	Committed          string  `json:"committed"`
	Spent              string  `json:"spent"`
	Planned            string  `json:"planned"`
	HouseholdsAffected int64   `json:"households_affected"`
	Status             string  `json:"status"`
	Version            int64   `json:"version"`
	CreatedAt          string  `json:"created_at"`
	ClosedAt           *string `json:"closed_at,omitempty"`
	ReleasedAtClose    string  `json:"released_at_close"`
}

func toFundDTO(f ledger.IncidentFund) FundDTO {
	dto := FundDTO{
		ID:                 string(f.ID),
		DisasterID:         string(f.DisasterID),
		DisasterType:       string(f.DisasterType),
		BaseBudget:         f.BaseBudget.String(),
		AdjustedBudget:     f.AdjustedBudget.String(),
		Committed:          f.Committed.String(),
		Spent:              f.Spent.String(),
		Planned:            f.Planned.String(),
		HouseholdsAffected: f.HouseholdsAffected,
		Status:             string(f.Status),
		Version:            f.Version,
		CreatedAt:          f.CreatedAt.Format(time.RFC3339),
		ReleasedAtClose:    f.ReleasedAtClose.String(),
	}
	if f.ClosedAt != nil {
		s := f.ClosedAt.Format(time.RFC3339)
		dto.ClosedAt = &s
	}
	return dto
}

// CloseFundRequest closes a fund and returns its surplus.
type CloseFundRequest struct {
	ActorID string `json:"actor_id"`
}

// =============================================================================
// EXPENDITURES
// =============================================================================

// RecordExpenditureRequest records a pending expenditure against a fund.
type RecordExpenditureRequest struct {
	FundID           string `json:"fund_id"`
	Amount           string `json:"amount"`
	Category         string `json:"category"`
	OverrideApproved bool   `json:"override_approved"`
	ReceiptRef       string `json:"receipt_ref,omitempty"`
	ActorID          string `json:"actor_id"`
}

// DecisionRequest approves, rejects, or voids a pending record.
type DecisionRequest struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason,omitempty"`
}

// ExpenditureDTO represents an expenditure in API responses.
type ExpenditureDTO struct {
	ID               string  `json:"id"`
	FundID           string  `json:"fund_id"`
	DisasterType     string  `json:"disaster_type"`
	Amount           string  `json:"amount"`
	Category         string  `json:"category"`
	OverrideApproved bool    `json:"override_approved"`
	ReceiptRef       string  `json:"receipt_ref,omitempty"`
	Status           string  `json:"status"`
	RecordedBy       string  `json:"recorded_by"`
	DecidedBy        string  `json:"decided_by,omitempty"`
	VoidReason       string  `json:"void_reason,omitempty"`
	RecordedAt       string  `json:"recorded_at"`
	DecidedAt        *string `json:"decided_at,omitempty"`
}

func toExpenditureDTO(e ledger.Expenditure) ExpenditureDTO {
	dto := ExpenditureDTO{
		ID:               string(e.ID),
		FundID:           string(e.FundID),
		DisasterType:     string(e.DisasterType),
		Amount:           e.Amount.String(),
		Category:         e.Category,
		OverrideApproved: e.OverrideApproved,
		ReceiptRef:       e.ReceiptRef,
		Status:           string(e.Status),
		RecordedBy:       e.RecordedBy,
		DecidedBy:        e.DecidedBy,
		VoidReason:       e.VoidReason,
		RecordedAt:       e.RecordedAt.Format(time.RFC3339),
	}
	if e.DecidedAt != nil {
		s := e.DecidedAt.Format(time.RFC3339)
		dto.DecidedAt = &s
	}
	return dto
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

// SubmitAdjustmentRequest proposes a transfer between envelopes.
type SubmitAdjustmentRequest struct {
	FromType string `json:"from_type"`
	ToType   string `json:"to_type"`
	Amount   string `json:"amount"`
	Reason   string `json:"reason"`
	ActorID  string `json:"actor_id"`
}

// AdjustmentDTO represents an adjustment request in API responses.
type AdjustmentDTO struct {
	ID          string  `json:"id"`
	FromType    string  `json:"from_type"`
	ToType      string  `json:"to_type"`
	Amount      string  `json:"amount"`
	Reason      string  `json:"reason,omitempty"`
	Status      string  `json:"status"`
	RequestedBy string  `json:"requested_by"`
	DecidedBy   string  `json:"decided_by,omitempty"`
	CreatedAt   string  `json:"created_at"`
	DecidedAt   *string `json:"decided_at,omitempty"`
}

func toAdjustmentDTO(a ledger.AdjustmentRequest) AdjustmentDTO {
	dto := AdjustmentDTO{
		ID:          string(a.ID),
		FromType:    string(a.FromType),
		ToType:      string(a.ToType),
		Amount:      a.Amount.String(),
		Reason:      a.Reason,
		Status:      string(a.Status),
		RequestedBy: a.RequestedBy,
		DecidedBy:   a.DecidedBy,
		CreatedAt:   a.CreatedAt.Format(time.RFC3339),
	}
	if a.DecidedAt != nil {
		s := a.DecidedAt.Format(time.RFC3339)
		dto.DecidedAt = &s
	}
	return dto
}

// =============================================================================
// ASSESSMENTS
// =============================================================================

// SubmitAssessmentRequest is a field assessment for one household.
type SubmitAssessmentRequest struct {
	HouseholdID         string `json:"household_id"`
	DisasterID          string `json:"disaster_id"`
	MonthlyIncome       string `json:"monthly_income"`
	HouseholdSize       int    `json:"household_size"`
	ChildrenUnder5      int    `json:"children_under_5"`
	DisasterType        string `json:"disaster_type"`
	DamageSeverity      int    `json:"damage_severity"`
	HousingTier         string `json:"housing_tier,omitempty"`
	HousingDamage       string `json:"housing_damage,omitempty"`
	DamagedLandHectares string `json:"damaged_land_hectares,omitempty"`
	LivestockUnits      int64  `json:"livestock_units,omitempty"`
	FarmingHousehold    bool   `json:"farming_household,omitempty"`
}

func (r SubmitAssessmentRequest) assessment() assess.HouseholdAssessment {
	land := r.DamagedLandHectares
	if land == "" {
		land = "0"
	}
	income := r.MonthlyIncome
	if income == "" {
		income = "0"
	}
	return assess.HouseholdAssessment{
		HouseholdID:         r.HouseholdID,
		DisasterID:          ledger.DisasterID(r.DisasterID),
		MonthlyIncome:       ledger.MustParseMoney(income),
		HouseholdSize:       r.HouseholdSize,
		ChildrenUnder5:      r.ChildrenUnder5,
		DisasterType:        ledger.DisasterType(r.DisasterType),
		DamageSeverity:      r.DamageSeverity,
		HousingTier:         ledger.HousingTier(r.HousingTier),
		HousingDamage:       ledger.HousingDamage(r.HousingDamage),
		DamagedLandHectares: ledger.MustParseMoney(land),
		LivestockUnits:      int(r.LivestockUnits),
		FarmingHousehold:    r.FarmingHousehold,
	}
}

// AssessmentDTO represents a household assessment in API responses.
type AssessmentDTO struct {
	ID                  string  `json:"id"`
	HouseholdID         string  `json:"household_id"`
	DisasterID          string  `json:"disaster_id"`
	MonthlyIncome       string  `json:"monthly_income"`
	HouseholdSize       int     `json:"household_size"`
	ChildrenUnder5      int     `json:"children_under_5"`
	DisasterType        string  `json:"disaster_type"`
	DamageSeverity      int     `json:"damage_severity"`
	HousingTier         string  `json:"housing_tier,omitempty"`
	HousingDamage       string  `json:"housing_damage,omitempty"`
	DamagedLandHectares string  `json:"damaged_land_hectares"`
	LivestockUnits      int64   `json:"livestock_units"`
	FarmingHousehold    bool    `json:"farming_household"`
	CreatedAt           string  `json:"created_at"`
	ScoredAt            *string `json:"scored_at,omitempty"`
}

func toAssessmentDTO(a assess.HouseholdAssessment) AssessmentDTO {
	dto := AssessmentDTO{
		ID:                  string(a.ID),
		HouseholdID:         a.HouseholdID,
		DisasterID:          string(a.DisasterID),
		MonthlyIncome:       a.MonthlyIncome.String(),
		HouseholdSize:       a.HouseholdSize,
		ChildrenUnder5:      a.ChildrenUnder5,
		DisasterType:        string(a.DisasterType),
		DamageSeverity:      a.DamageSeverity,
		HousingTier:         string(a.HousingTier),
		HousingDamage:       string(a.HousingDamage),
		DamagedLandHectares: a.DamagedLandHectares.String(),
		LivestockUnits:      int64(a.LivestockUnits),
		FarmingHousehold:    a.FarmingHousehold,
		CreatedAt:           a.CreatedAt.Format(time.RFC3339),
	}
	if a.ScoredAt != nil {
		s := a.ScoredAt.Format(time.RFC3339)
		dto.ScoredAt = &s
	}
	return dto
}

// PackageItemDTO is one aid package line in a classification or plan.
type PackageItemDTO struct {
	Name string `json:"name"`
	Cost string `json:"cost"`
}

func toPackageDTOs(items []assess.PackageItem) []PackageItemDTO {
	out := make([]PackageItemDTO, len(items))
	for i, p := range items {
		out[i] = PackageItemDTO{Name: p.Name, Cost: p.Cost.String()}
	}
	return out
}

// ClassificationDTO is a scoring preview: no ledger effect.
type ClassificationDTO struct {
	VulnerabilityScore int              `json:"vulnerability_score"`
	DamageScore        int              `json:"damage_score"`
	CompositeScore     int              `json:"composite_score"`
	Tier               string           `json:"tier"`
	Packages           []PackageItemDTO `json:"packages"`
	TotalCost          string           `json:"total_cost"`
}

func toClassificationDTO(c assess.Classification) ClassificationDTO {
	return ClassificationDTO{
		VulnerabilityScore: c.VulnerabilityScore,
		DamageScore:        c.DamageScore,
		CompositeScore:     c.CompositeScore,
		Tier:               string(c.Tier),
		Packages:           toPackageDTOs(c.Packages),
		TotalCost:          c.TotalCost.String(),
	}
}

// CommitPlanRequest locks an assessment into an allocation plan.
type CommitPlanRequest struct {
	FundID  string `json:"fund_id"`
	ActorID string `json:"actor_id"`
}

// PlanDTO represents a committed allocation plan.
type PlanDTO struct {
	ID                 string           `json:"id"`
	AssessmentID       string           `json:"assessment_id"`
	FundID             string           `json:"fund_id"`
	VulnerabilityScore int              `json:"vulnerability_score"`
	CompositeScore     int              `json:"composite_score"`
	Tier               string           `json:"tier"`
	Packages           []PackageItemDTO `json:"packages"`
	TotalCost          string           `json:"total_cost"`
	CreatedAt          string           `json:"created_at"`
}

func toPlanDTO(p assess.AllocationPlan) PlanDTO {
	return PlanDTO{
		ID:                 p.ID,
		AssessmentID:       string(p.AssessmentID),
		FundID:             string(p.FundID),
		VulnerabilityScore: p.VulnerabilityScore,
		CompositeScore:     p.CompositeScore,
		Tier:               string(p.Tier),
		Packages:           toPackageDTOs(p.Packages),
		TotalCost:          p.TotalCost.String(),
		CreatedAt:          p.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// FORECAST
// =============================================================================

// DepletionDTO projects envelope runway in quarters.
type DepletionDTO struct {
	DisasterType     string `json:"disaster_type"`
	Remaining        string `json:"remaining"`
	TrailingSpend    string `json:"trailing_spend"`
	QuarterlyRate    string `json:"quarterly_rate"`
	QuartersLeft     string `json:"quarters_left,omitempty"`
	InsufficientData bool   `json:"insufficient_data"`
}

func toDepletionDTO(d forecast.Depletion) DepletionDTO {
	dto := DepletionDTO{
		DisasterType:     string(d.DisasterType),
		Remaining:        d.Remaining.String(),
		TrailingSpend:    d.TrailingSpend.String(),
		QuarterlyRate:    d.QuarterlyRate.String(),
		InsufficientData: d.InsufficientData,
	}
	if !d.InsufficientData {
		dto.QuartersLeft = d.QuartersLeft.String()
	}
	return dto
}

// PredictCostRequest prices a hypothetical incident.
type PredictCostRequest struct {
	DisasterType string `json:"disaster_type"`
	Households   int64  `json:"households"`
	Severity     string `json:"severity"`
}

// PredictionDTO is the historical-average cost estimate.
type PredictionDTO struct {
	DisasterType        string `json:"disaster_type"`
	Households          int64  `json:"households"`
	Severity            string `json:"severity"`
	HistoricalFunds     int    `json:"historical_funds"`
	AvgCostPerHousehold string `json:"avg_cost_per_household,omitempty"`
	Predicted           string `json:"predicted,omitempty"`
	InsufficientData    bool   `json:"insufficient_data"`
}

func toPredictionDTO(p forecast.CostPrediction) PredictionDTO {
	dto := PredictionDTO{
		DisasterType:     string(p.Scenario.DisasterType),
		Households:       p.Scenario.Households,
		Severity:         string(p.Scenario.Severity),
		HistoricalFunds:  p.HistoricalFunds,
		InsufficientData: p.InsufficientData,
	}
	if !p.InsufficientData {
		dto.AvgCostPerHousehold = p.AvgCostPerHousehold.String()
		dto.Predicted = p.Predicted.String()
	}
	return dto
}

// GapDTO is one envelope's projected shortfall next quarter.
type GapDTO struct {
	DisasterType    string `json:"disaster_type"`
	ExpectedCost    string `json:"expected_cost"`
	ProjectedBudget string `json:"projected_budget"`
	Shortfall       string `json:"shortfall"`
}

// FundingGapDTO is the shortfall report across all envelopes.
type FundingGapDTO struct {
	Gaps  []GapDTO `json:"gaps"`
	Total string   `json:"total"`
}

func toFundingGapDTO(g forecast.FundingGap) FundingGapDTO {
	out := FundingGapDTO{Total: g.Total.String(), Gaps: make([]GapDTO, len(g.Gaps))}
	for i, gap := range g.Gaps {
		out.Gaps[i] = GapDTO{
			DisasterType:    string(gap.DisasterType),
			ExpectedCost:    gap.ExpectedCost.String(),
			ProjectedBudget: gap.ProjectedBudget.String(),
			Shortfall:       gap.Shortfall.String(),
		}
	}
	return out
}

// SimulationDTO shows an envelope before and after a hypothetical
// incident of the given impact.
type SimulationDTO struct {
	DisasterType    string `json:"disaster_type"`
	RequiredFunding string `json:"required_funding"`
	Remaining       string `json:"remaining"`
	AfterScenario   string `json:"after_scenario"`
}

func toSimulationDTO(s forecast.Simulation) SimulationDTO {
	return SimulationDTO{
		DisasterType:    string(s.DisasterType),
		RequiredFunding: s.RequiredFunding.String(),
		Remaining:       s.Remaining.String(),
		AfterScenario:   s.AfterScenario.String(),
	}
}

// =============================================================================
// AUDIT / SCENARIOS / ERRORS
// =============================================================================

// AuditEntryDTO is one audit log row.
type AuditEntryDTO struct {
	ID        string            `json:"id"`
	At        string            `json:"at"`
	ActorID   string            `json:"actor_id"`
	Action    string            `json:"action"`
	SubjectID string            `json:"subject_id"`
	Before    map[string]string `json:"before,omitempty"`
	After     map[string]string `json:"after,omitempty"`
	Detail    string            `json:"detail,omitempty"`
}

func toAuditDTO(e ledger.AuditEntry) AuditEntryDTO {
	dto := AuditEntryDTO{
		ID:        e.ID,
		At:        e.At.Format(time.RFC3339),
		ActorID:   e.ActorID,
		Action:    string(e.Action),
		SubjectID: e.SubjectID,
		Detail:    e.Detail,
	}
	if len(e.Before) > 0 {
		dto.Before = make(map[string]string, len(e.Before))
		for k, v := range e.Before {
			dto.Before[k] = v.String()
		}
	}
	if len(e.After) > 0 {
		dto.After = make(map[string]string, len(e.After))
		for k, v := range e.After {
			dto.After[k] = v.String()
		}
	}
	return dto
}

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a demo scenario by ID.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
