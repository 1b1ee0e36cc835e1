/*
profile.go - Needs and housing cost profiles

PURPOSE:
  Reference data used to size an incident fund when a disaster is
  verified. A NeedsProfile prices the humanitarian needs of one disaster
  type per counting unit; a HousingProfile prices reconstruction per
  housing tier with a damage multiplier. Both are administered
  out-of-band (loaded from the policy table file) and treated as
  read-only by the ledger.

BUDGET FORMULA:
  needsCost      = households*perHousehold + people*perPerson
                 + livestockUnits*perLivestockUnit
                 + farmingHouseholds*perFarmingHousehold
  baseBudget     = needsCost * (1 + operationalRate + contingencyRate)
  housingCost    = sum over tiers/damage of count * tierCost * multiplier
  adjustedBudget = baseBudget + housingCost
                 + damagedLandHectares * costPerHectare

SEE ALSO:
  - fund.go: applies these profiles on disaster verification
  - forecast/: reuses the same formula for scenario simulation
*/
package ledger

// =============================================================================
// NEEDS PROFILE - Per-disaster-type humanitarian cost rates
// =============================================================================

// NeedsProfile prices the baseline needs of one disaster type.
// Operational and contingency rates are fractions added on top of the
// needs subtotal (0.12 means +12%).
type NeedsProfile struct {
	DisasterType             DisasterType
	CostPerHousehold         Money
	CostPerPerson            Money
	CostPerLivestockUnit     Money
	CostPerFarmingHousehold  Money
	OperationalRate          Money
	ContingencyRate          Money
	LandCostPerHectare       Money
}

// HousingProfile prices reconstruction per housing tier, scaled by a
// damage-level multiplier.
type HousingProfile struct {
	TierCost         map[HousingTier]Money
	DamageMultiplier map[HousingDamage]Money
}

// =============================================================================
// IMPACT SUMMARY - Verified disaster magnitude
// =============================================================================

// HousingImpact counts damaged houses for one tier/damage combination.
type HousingImpact struct {
	Tier   HousingTier
	Damage HousingDamage
	Count  int64
}

// ImpactSummary is the verified magnitude of a disaster, supplied by the
// disaster-verification workflow.
type ImpactSummary struct {
	Households          int64
	People              int64
	LivestockUnits      int64
	FarmingHouseholds   int64
	Housing             []HousingImpact
	DamagedLandHectares Money
}

// =============================================================================
// BUDGET COMPUTATION
// =============================================================================

// NeedsCost returns the raw needs subtotal for an impact summary.
func (p NeedsProfile) NeedsCost(impact ImpactSummary) Money {
	cost := p.CostPerHousehold.Mul(NewMoney(impact.Households))
	cost = cost.Add(p.CostPerPerson.Mul(NewMoney(impact.People)))
	cost = cost.Add(p.CostPerLivestockUnit.Mul(NewMoney(impact.LivestockUnits)))
	cost = cost.Add(p.CostPerFarmingHousehold.Mul(NewMoney(impact.FarmingHouseholds)))
	return cost
}

// BaseBudget returns the needs cost grossed up by the operational and
// contingency rates.
func (p NeedsProfile) BaseBudget(impact ImpactSummary) Money {
	one := NewMoney(1)
	factor := one.Add(p.OperationalRate).Add(p.ContingencyRate)
	return p.NeedsCost(impact).Mul(factor)
}

// HousingCost prices the housing impacts against the profile. Unknown
// tier or damage keys contribute nothing; the profile is the authority
// on what is priced.
func (h HousingProfile) HousingCost(impacts []HousingImpact) Money {
	total := NewMoney(0)
	for _, hi := range impacts {
		tierCost, ok := h.TierCost[hi.Tier]
		if !ok {
			continue
		}
		mult, ok := h.DamageMultiplier[hi.Damage]
		if !ok {
			continue
		}
		total = total.Add(tierCost.Mul(mult).Mul(NewMoney(hi.Count)))
	}
	return total
}

// AdjustedBudget combines base budget, housing cost, and the land
// adjustment into the fund's full budget.
func AdjustedBudget(needs NeedsProfile, housing HousingProfile, impact ImpactSummary) Money {
	budget := needs.BaseBudget(impact)
	budget = budget.Add(housing.HousingCost(impact.Housing))
	budget = budget.Add(impact.DamagedLandHectares.Mul(needs.LandCostPerHectare))
	return budget
}
