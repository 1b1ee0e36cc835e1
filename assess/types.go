/*
Package assess implements household damage/vulnerability assessment:
intake of field assessments, the vulnerability scorer, and the aid-tier
classifier that turns an assessment into an assistance-package bundle.

Scoring and classification are pure functions of their inputs. The same
code path serves both preview ("what would this household get?") and
the committed allocation, so the two can never drift.
*/
package assess

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/warp/relief-engine/ledger"
)

// =============================================================================
// AID TIER
// =============================================================================

type Tier string

const (
	TierBasic    Tier = "basic"
	TierModerate Tier = "moderate"
	TierSevere   Tier = "severe"
	TierCritical Tier = "critical"
)

// =============================================================================
// HOUSEHOLD ASSESSMENT
// =============================================================================

type AssessmentID string

// HouseholdAssessment is a field damage/vulnerability record for one
// household. Immutable once an allocation has been committed against
// it; amendments create a new assessment.
type HouseholdAssessment struct {
	ID          AssessmentID
	HouseholdID string
	DisasterID  ledger.DisasterID

	MonthlyIncome  ledger.Money
	HouseholdSize  int
	ChildrenUnder5 int

	DisasterType   ledger.DisasterType
	DamageSeverity int // 1-4

	// Damage detail attributes
	HousingTier         ledger.HousingTier
	HousingDamage       ledger.HousingDamage
	DamagedLandHectares ledger.Money
	LivestockUnits      int
	FarmingHousehold    bool

	CreatedAt time.Time
	// ScoredAt marks the point the assessment was consumed by a
	// committed allocation and became immutable.
	ScoredAt *time.Time
}

// Locked reports whether an allocation has been committed against the
// assessment.
func (a *HouseholdAssessment) Locked() bool { return a.ScoredAt != nil }

// Validate rejects malformed assessments before any scoring happens.
// All field problems are reported together.
func (a *HouseholdAssessment) Validate() error {
	fields := map[string]string{}
	if a.HouseholdID == "" {
		fields["household_id"] = "required"
	}
	if a.MonthlyIncome.IsNegative() {
		fields["monthly_income"] = "must not be negative"
	}
	if a.HouseholdSize < 1 {
		fields["household_size"] = "must be at least 1"
	}
	if a.ChildrenUnder5 < 0 {
		fields["children_under_5"] = "must not be negative"
	}
	if a.ChildrenUnder5 > a.HouseholdSize {
		fields["children_under_5"] = "cannot exceed household size"
	}
	if a.DisasterType == "" {
		fields["disaster_type"] = "required"
	}
	if a.DamageSeverity < 1 || a.DamageSeverity > 4 {
		fields["damage_severity"] = "must be between 1 and 4"
	}
	if a.DamagedLandHectares.IsNegative() {
		fields["damaged_land_hectares"] = "must not be negative"
	}
	if a.LivestockUnits < 0 {
		fields["livestock_units"] = "must not be negative"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// =============================================================================
// VALIDATION ERROR - Field-level detail, user-correctable
// =============================================================================

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %s", k, e.Fields[k])
	}
	return "invalid assessment: " + strings.Join(parts, "; ")
}

// =============================================================================
// ALLOCATION PLAN - Classifier output bound to a fund
// =============================================================================

// PackageItem is one assistance package with its cost.
type PackageItem struct {
	Name string
	Cost ledger.Money
}

// AllocationPlan is the committed outcome of scoring an assessment:
// tier, package bundle, and the total cost reconciled against the
// incident fund.
type AllocationPlan struct {
	ID           string
	AssessmentID AssessmentID
	FundID       ledger.FundID

	VulnerabilityScore int
	CompositeScore     int
	Tier               Tier
	Packages           []PackageItem
	TotalCost          ledger.Money

	CreatedAt time.Time
}
