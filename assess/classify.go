/*
classify.go - Aid tier classifier and package assignment

PURPOSE:
  Blends the vulnerability score with damage severity into a composite
  score, maps the composite to an aid tier, and assembles the
  assistance-package bundle with its total cost.

  compositeScore = min(10, round((vulnerability + severity*2) / 2))

POLICY TABLE:
  Tier thresholds, package rules, and package costs are configuration,
  not constants. Field programs disagree on exactly where "moderate"
  ends and "severe" begins; the boundaries ship as a policy table that
  can be replaced without touching this code. DefaultPolicy documents
  the shipped boundaries: 0-3 basic, 4-6 moderate, 7-9 severe, 10
  critical.

PACKAGE RULES:
  Assignment is additive: every rule whose conditions all hold adds its
  package. Conditions a rule leaves unset always pass.

  Pure function, no side effects. The ledger-mutating path and any
  preview path call exactly the same classifier.
*/
package assess

import (
	"github.com/warp/relief-engine/ledger"
)

// =============================================================================
// CLASSIFIER POLICY - Configurable thresholds and rules
// =============================================================================

// TierThreshold maps a minimum composite score to a tier. Thresholds
// are evaluated in order; the last one at or below the score wins.
type TierThreshold struct {
	MinScore int
	Tier     Tier
}

// PackageRule adds a package when all of its set conditions hold.
// Zero values mean "no condition": MinSeverity 0 matches any severity,
// MaxVulnerability 0 means no upper bound, empty DisasterType matches
// all types.
type PackageRule struct {
	Package          string
	MinSeverity      int
	DisasterType     ledger.DisasterType
	MinVulnerability int
	MaxVulnerability int
}

// ClassifierPolicy is the full policy table driving classification.
type ClassifierPolicy struct {
	Tiers        []TierThreshold
	PackageRules []PackageRule
	PackageCost  map[string]ledger.Money
}

// DefaultPolicy returns the shipped policy table.
func DefaultPolicy() ClassifierPolicy {
	return ClassifierPolicy{
		Tiers: []TierThreshold{
			{MinScore: 0, Tier: TierBasic},
			{MinScore: 4, Tier: TierModerate},
			{MinScore: 7, Tier: TierSevere},
			{MinScore: 10, Tier: TierCritical},
		},
		PackageRules: []PackageRule{
			{Package: "Food Parcel", MinSeverity: 2},
			{Package: "Tent", MinSeverity: 3},
			{Package: "Water Tank", DisasterType: ledger.DisasterDrought},
			{Package: "Roofing Kit", DisasterType: ledger.DisasterHeavyRainfall},
			{Package: "Cash Transfer", MinVulnerability: 8},
			{Package: "School Supplies", MinVulnerability: 6, MaxVulnerability: 7},
		},
		PackageCost: map[string]ledger.Money{
			"Food Parcel":     ledger.NewMoney(1500),
			"Tent":            ledger.NewMoney(3200),
			"Water Tank":      ledger.NewMoney(800),
			"Roofing Kit":     ledger.NewMoney(1200),
			"Cash Transfer":   ledger.NewMoney(2000),
			"School Supplies": ledger.NewMoney(500),
		},
	}
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Classification is the full derived outcome for one assessment.
type Classification struct {
	VulnerabilityScore int
	DamageScore        int
	CompositeScore     int
	Tier               Tier
	Packages           []PackageItem
	TotalCost          ledger.Money
}

// CompositeScore blends vulnerability and damage, rounding half up and
// clamping to 10. Integer math only; no floats.
func CompositeScore(vulnerability, damageSeverity int) int {
	damageScore := damageSeverity * 2
	composite := (vulnerability + damageScore + 1) / 2
	if composite > maxVulnerabilityScore {
		return maxVulnerabilityScore
	}
	return composite
}

// Classify computes tier and package bundle for an assessment under the
// given policy. Deterministic: same inputs, same bundle, same cost.
func Classify(policy ClassifierPolicy, vulnerability, damageSeverity int, disasterType ledger.DisasterType) Classification {
	composite := CompositeScore(vulnerability, damageSeverity)

	c := Classification{
		VulnerabilityScore: vulnerability,
		DamageScore:        damageSeverity * 2,
		CompositeScore:     composite,
		Tier:               policy.tierFor(composite),
		TotalCost:          ledger.NewMoney(0),
	}

	for _, rule := range policy.PackageRules {
		if !rule.matches(vulnerability, damageSeverity, disasterType) {
			continue
		}
		cost := policy.PackageCost[rule.Package]
		c.Packages = append(c.Packages, PackageItem{Name: rule.Package, Cost: cost})
		c.TotalCost = c.TotalCost.Add(cost)
	}
	return c
}

func (p ClassifierPolicy) tierFor(composite int) Tier {
	tier := TierBasic
	for _, th := range p.Tiers {
		if composite >= th.MinScore {
			tier = th.Tier
		}
	}
	return tier
}

func (r PackageRule) matches(vulnerability, severity int, t ledger.DisasterType) bool {
	if r.MinSeverity > 0 && severity < r.MinSeverity {
		return false
	}
	if r.DisasterType != "" && t != r.DisasterType {
		return false
	}
	if r.MinVulnerability > 0 && vulnerability < r.MinVulnerability {
		return false
	}
	if r.MaxVulnerability > 0 && vulnerability > r.MaxVulnerability {
		return false
	}
	return true
}
