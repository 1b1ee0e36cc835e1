package assess_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/relief-engine/assess"
	"github.com/warp/relief-engine/ledger"
)

// =============================================================================
// VULNERABILITY SCORE TESTS
// =============================================================================

func TestVulnerabilityScore_WorkedExample(t *testing.T) {
	// GIVEN: Income 2500 (band 3), one child under five (2), household of 5 (2)
	// WHEN: Scoring
	// THEN: 3 + 2 + 2 = 7

	score := assess.VulnerabilityScore(ledger.NewMoney(2500), 5, 1)
	assert.Equal(t, 7, score)
}

func TestVulnerabilityScore_IncomeBands(t *testing.T) {
	// GIVEN: A single-person household with no children
	// WHEN: Scoring at each income band boundary
	// THEN: Income contributes 4/3/2/1 inclusive of the boundary

	cases := []struct {
		name   string
		income string
		want   int // income sub-score + 1 for household size
	}{
		{"at low boundary", "2000", 5},
		{"just above low", "2000.01", 4},
		{"at mid boundary", "3000", 4},
		{"at high boundary", "5000", 3},
		{"above high", "5000.01", 2},
		{"zero income", "0", 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			score := assess.VulnerabilityScore(ledger.MustParseMoney(tc.income), 1, 0)
			assert.Equal(t, tc.want, score)
		})
	}
}

func TestVulnerabilityScore_ChildrenAndSizeBands(t *testing.T) {
	// GIVEN: High income (sub-score 1) to isolate the other factors
	// WHEN: Varying children and household size
	// THEN: Children contribute 0/2/3, size contributes 1/2/3

	income := ledger.NewMoney(10000)

	assert.Equal(t, 1+0+1, assess.VulnerabilityScore(income, 1, 0))
	assert.Equal(t, 1+2+1, assess.VulnerabilityScore(income, 1, 1))
	assert.Equal(t, 1+3+1, assess.VulnerabilityScore(income, 1, 2))
	assert.Equal(t, 1+3+1, assess.VulnerabilityScore(income, 1, 6))

	assert.Equal(t, 1+0+1, assess.VulnerabilityScore(income, 4, 0))
	assert.Equal(t, 1+0+2, assess.VulnerabilityScore(income, 5, 0))
	assert.Equal(t, 1+0+2, assess.VulnerabilityScore(income, 6, 0))
	assert.Equal(t, 1+0+3, assess.VulnerabilityScore(income, 7, 0))
	assert.Equal(t, 1+0+3, assess.VulnerabilityScore(income, 12, 0))
}

func TestVulnerabilityScore_ClampedAtTen(t *testing.T) {
	// GIVEN: Worst case in every factor: 4 + 3 + 3 = 10
	// WHEN: Scoring
	// THEN: Score is exactly 10, never above

	score := assess.VulnerabilityScore(ledger.NewMoney(0), 9, 4)
	assert.Equal(t, 10, score)
}

func TestVulnerabilityScore_Range(t *testing.T) {
	// GIVEN: A sweep over plausible inputs
	// WHEN: Scoring each combination
	// THEN: Every score lands in [0, 10]

	incomes := []string{"0", "1500", "2000", "2500", "3000", "4999", "5000", "9000"}
	for _, inc := range incomes {
		for size := 1; size <= 12; size++ {
			for children := 0; children <= 6; children++ {
				score := assess.VulnerabilityScore(ledger.MustParseMoney(inc), size, children)
				assert.GreaterOrEqual(t, score, 0)
				assert.LessOrEqual(t, score, 10)
			}
		}
	}
}
