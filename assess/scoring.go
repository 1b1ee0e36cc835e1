/*
scoring.go - Vulnerability scorer

PURPOSE:
  Converts household attributes into a vulnerability score on a 0-10
  scale. The score is the sum of three independently capped sub-scores
  (income, young children, household size), clamped to 10.

  Pure and deterministic: the score is never stored, always recomputed
  from the assessment. Required for auditability of relief decisions -
  a reviewer can re-derive any historical score from its inputs.

  Inputs are assumed sanitized; HouseholdAssessment.Validate rejects
  negative values before scoring is reached.
*/
package assess

import "github.com/warp/relief-engine/ledger"

// Income thresholds for the income sub-score, in monthly currency units.
var (
	incomeBandLow  = ledger.NewMoney(2000)
	incomeBandMid  = ledger.NewMoney(3000)
	incomeBandHigh = ledger.NewMoney(5000)
)

const maxVulnerabilityScore = 10

// VulnerabilityScore computes the 0-10 vulnerability score for a
// household.
func VulnerabilityScore(monthlyIncome ledger.Money, householdSize, childrenUnder5 int) int {
	sum := incomeSubScore(monthlyIncome) +
		childrenSubScore(childrenUnder5) +
		householdSizeSubScore(householdSize)
	if sum > maxVulnerabilityScore {
		return maxVulnerabilityScore
	}
	return sum
}

// incomeSubScore: lower income, higher vulnerability. Capped at 4.
func incomeSubScore(income ledger.Money) int {
	switch {
	case income.LessThanOrEqual(incomeBandLow):
		return 4
	case income.LessThanOrEqual(incomeBandMid):
		return 3
	case income.LessThanOrEqual(incomeBandHigh):
		return 2
	default:
		return 1
	}
}

// childrenSubScore: households with children under five. Capped at 3.
func childrenSubScore(children int) int {
	switch {
	case children >= 2:
		return 3
	case children == 1:
		return 2
	default:
		return 0
	}
}

// householdSizeSubScore: larger households stretch assistance further.
// Capped at 3; every valid household scores at least 1.
func householdSizeSubScore(size int) int {
	switch {
	case size >= 7:
		return 3
	case size >= 5:
		return 2
	default:
		return 1
	}
}
