package assess_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/relief-engine/assess"
	"github.com/warp/relief-engine/ledger"
)

func packageNames(items []assess.PackageItem) []string {
	names := make([]string, len(items))
	for i, p := range items {
		names[i] = p.Name
	}
	return names
}

// =============================================================================
// COMPOSITE SCORE TESTS
// =============================================================================

func TestCompositeScore_RoundsHalfUp(t *testing.T) {
	// GIVEN: Vulnerability 7, severity 2 => (7 + 4) / 2 = 5.5
	// WHEN: Computing the composite
	// THEN: Rounds up to 6

	assert.Equal(t, 6, assess.CompositeScore(7, 2))
}

func TestCompositeScore_ClampedAtTen(t *testing.T) {
	// GIVEN: Vulnerability 10, severity 4 => (10 + 8) / 2 = 9; 10 + severity 4 with
	//        a hypothetical higher vulnerability would exceed 10
	// WHEN: Computing composites across the full input range
	// THEN: Result never exceeds 10

	assert.Equal(t, 9, assess.CompositeScore(10, 4))
	for v := 0; v <= 10; v++ {
		for sev := 1; sev <= 4; sev++ {
			c := assess.CompositeScore(v, sev)
			assert.LessOrEqual(t, c, 10)
			assert.GreaterOrEqual(t, c, 0)
		}
	}
}

// =============================================================================
// TIER MAPPING TESTS
// =============================================================================

func TestClassify_TierBoundaries(t *testing.T) {
	// GIVEN: The shipped tier table: 0-3 basic, 4-6 moderate, 7-9 severe, 10 critical
	// WHEN: Classifying composites at each boundary
	// THEN: The last threshold at or below the composite wins

	policy := assess.DefaultPolicy()
	cases := []struct {
		vulnerability int
		severity      int
		composite     int
		tier          assess.Tier
	}{
		{0, 1, 1, assess.TierBasic},      // (0+2+1)/2 = 1
		{3, 1, 3, assess.TierBasic},      // (3+2+1)/2 = 3
		{5, 1, 4, assess.TierModerate},   // (5+2+1)/2 = 4
		{7, 2, 6, assess.TierModerate},   // (7+4+1)/2 = 6
		{7, 3, 7, assess.TierSevere},     // (7+6+1)/2 = 7
		{10, 3, 8, assess.TierSevere},    // (10+6+1)/2 = 8
		{10, 4, 9, assess.TierSevere},    // (10+8+1)/2 = 9
	}
	for _, tc := range cases {
		c := assess.Classify(policy, tc.vulnerability, tc.severity, ledger.DisasterFlood)
		assert.Equal(t, tc.composite, c.CompositeScore,
			"composite for v=%d sev=%d", tc.vulnerability, tc.severity)
		assert.Equal(t, tc.tier, c.Tier,
			"tier for composite %d", tc.composite)
	}
}

func TestClassify_CriticalTierRequiresCustomTable(t *testing.T) {
	// GIVEN: A policy table lowering the critical boundary to 9
	// WHEN: Classifying a composite of 9
	// THEN: Tier is critical under the custom table

	policy := assess.DefaultPolicy()
	policy.Tiers = []assess.TierThreshold{
		{MinScore: 0, Tier: assess.TierBasic},
		{MinScore: 4, Tier: assess.TierModerate},
		{MinScore: 7, Tier: assess.TierSevere},
		{MinScore: 9, Tier: assess.TierCritical},
	}

	c := assess.Classify(policy, 10, 4, ledger.DisasterStorm)
	assert.Equal(t, 9, c.CompositeScore)
	assert.Equal(t, assess.TierCritical, c.Tier)
}

// =============================================================================
// PACKAGE BUNDLE TESTS
// =============================================================================

func TestClassify_DroughtBundle_WorkedExample(t *testing.T) {
	// GIVEN: Drought, vulnerability 7, severity 2
	// WHEN: Classifying
	// THEN: Food Parcel (severity>=2) + Water Tank (drought) +
	//       School Supplies (vulnerability 6-7) = 1500 + 800 + 500 = 2800

	c := assess.Classify(assess.DefaultPolicy(), 7, 2, ledger.DisasterDrought)

	require.ElementsMatch(t,
		[]string{"Food Parcel", "Water Tank", "School Supplies"},
		packageNames(c.Packages))
	assert.True(t, c.TotalCost.Equal(ledger.NewMoney(2800)),
		"total cost %s", c.TotalCost)
}

func TestClassify_SeverityGatesFoodAndTent(t *testing.T) {
	// GIVEN: A low-vulnerability flood household
	// WHEN: Classifying at severity 1, 2, and 3
	// THEN: Food Parcel appears from severity 2, Tent from severity 3

	policy := assess.DefaultPolicy()

	c1 := assess.Classify(policy, 2, 1, ledger.DisasterFlood)
	assert.Empty(t, packageNames(c1.Packages))
	assert.True(t, c1.TotalCost.IsZero())

	c2 := assess.Classify(policy, 2, 2, ledger.DisasterFlood)
	assert.ElementsMatch(t, []string{"Food Parcel"}, packageNames(c2.Packages))

	c3 := assess.Classify(policy, 2, 3, ledger.DisasterFlood)
	assert.ElementsMatch(t, []string{"Food Parcel", "Tent"}, packageNames(c3.Packages))
}

func TestClassify_DisasterSpecificPackages(t *testing.T) {
	// GIVEN: Identical households in different disasters
	// WHEN: Classifying severity-1 cases
	// THEN: Water Tank only for drought, Roofing Kit only for heavy rainfall

	policy := assess.DefaultPolicy()

	drought := assess.Classify(policy, 2, 1, ledger.DisasterDrought)
	assert.ElementsMatch(t, []string{"Water Tank"}, packageNames(drought.Packages))

	rainfall := assess.Classify(policy, 2, 1, ledger.DisasterHeavyRainfall)
	assert.ElementsMatch(t, []string{"Roofing Kit"}, packageNames(rainfall.Packages))

	storm := assess.Classify(policy, 2, 1, ledger.DisasterStorm)
	assert.Empty(t, packageNames(storm.Packages))
}

func TestClassify_VulnerabilityWindows(t *testing.T) {
	// GIVEN: The Cash Transfer (>=8) and School Supplies (6-7) windows
	// WHEN: Classifying vulnerability 5 through 8 at severity 1
	// THEN: School Supplies inside its window, Cash Transfer above it, never both

	policy := assess.DefaultPolicy()

	assert.Empty(t, packageNames(assess.Classify(policy, 5, 1, ledger.DisasterStorm).Packages))
	assert.ElementsMatch(t, []string{"School Supplies"},
		packageNames(assess.Classify(policy, 6, 1, ledger.DisasterStorm).Packages))
	assert.ElementsMatch(t, []string{"School Supplies"},
		packageNames(assess.Classify(policy, 7, 1, ledger.DisasterStorm).Packages))
	assert.ElementsMatch(t, []string{"Cash Transfer"},
		packageNames(assess.Classify(policy, 8, 1, ledger.DisasterStorm).Packages))
}

func TestClassify_TotalCostSumsBundle(t *testing.T) {
	// GIVEN: A worst-case drought household: vulnerability 10, severity 4
	// WHEN: Classifying
	// THEN: Bundle is Food Parcel + Tent + Water Tank + Cash Transfer,
	//       total 1500 + 3200 + 800 + 2000 = 7500

	c := assess.Classify(assess.DefaultPolicy(), 10, 4, ledger.DisasterDrought)

	require.ElementsMatch(t,
		[]string{"Food Parcel", "Tent", "Water Tank", "Cash Transfer"},
		packageNames(c.Packages))
	assert.True(t, c.TotalCost.Equal(ledger.NewMoney(7500)),
		"total cost %s", c.TotalCost)
}

func TestClassify_Deterministic(t *testing.T) {
	// GIVEN: The same inputs
	// WHEN: Classifying twice
	// THEN: Identical bundle and cost

	policy := assess.DefaultPolicy()
	a := assess.Classify(policy, 7, 2, ledger.DisasterDrought)
	b := assess.Classify(policy, 7, 2, ledger.DisasterDrought)

	assert.Equal(t, a.Tier, b.Tier)
	assert.Equal(t, packageNames(a.Packages), packageNames(b.Packages))
	assert.True(t, a.TotalCost.Equal(b.TotalCost))
}
