package factory_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/relief-engine/assess"
	"github.com/warp/relief-engine/factory"
	"github.com/warp/relief-engine/ledger"
)

func TestDefault_CoversAllDisasterTypes(t *testing.T) {
	// GIVEN: The shipped policy tables
	// THEN: Every known disaster type has a needs profile and the
	//       classifier carries the default tiers and caps

	cfg := factory.Default()

	for _, dt := range ledger.KnownDisasterTypes() {
		profile, ok := cfg.Needs[dt]
		require.True(t, ok, "missing needs profile for %s", dt)
		assert.Equal(t, dt, profile.DisasterType)
		assert.True(t, profile.CostPerHousehold.IsPositive())
	}

	assert.Len(t, cfg.Classifier.Tiers, 4)
	assert.NotEmpty(t, cfg.Classifier.PackageRules)
	assert.Contains(t, cfg.CategoryCaps, "food")
	assert.Contains(t, cfg.CategoryCaps, "reconstruction")
	assert.Len(t, cfg.Housing.TierCost, 3)
}

func writePolicyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_OverridesOnlyPresentSections(t *testing.T) {
	// GIVEN: A policy file that replaces the tiers and one needs profile
	// WHEN: Loading it
	// THEN: Overridden sections replace the defaults wholesale while
	//       absent sections keep theirs

	path := writePolicyFile(t, `
[[tier]]
min_score = 0
tier = "basic"

[[tier]]
min_score = 5
tier = "severe"

[needs.drought]
cost_per_household = "5000"
operational_rate = "0.15"

[category_caps]
food = "2500000"
`)

	cfg, err := factory.Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Classifier.Tiers, 2)
	assert.Equal(t, assess.TierSevere, cfg.Classifier.Tiers[1].Tier)
	assert.Equal(t, 5, cfg.Classifier.Tiers[1].MinScore)

	drought := cfg.Needs[ledger.DisasterDrought]
	assert.True(t, drought.CostPerHousehold.Equal(ledger.NewMoney(5000)))
	assert.True(t, drought.OperationalRate.Equal(ledger.MustParseMoney("0.15")))
	// Fields absent from the overriding profile are zero, not defaults:
	// a needs profile is replaced as a unit.
	assert.True(t, drought.CostPerPerson.IsZero())

	// Untouched sections keep the shipped tables.
	flood := cfg.Needs[ledger.DisasterFlood]
	assert.True(t, flood.CostPerHousehold.Equal(ledger.NewMoney(6000)))
	assert.NotEmpty(t, cfg.Classifier.PackageRules)
	assert.Len(t, cfg.CategoryCaps, 1)
	assert.True(t, cfg.CategoryCaps["food"].Equal(ledger.NewMoney(2500000)))
}

func TestLoad_RejectsBadDecimal(t *testing.T) {
	// GIVEN: A policy file with a malformed money value
	// WHEN: Loading
	// THEN: The error names the offending field

	path := writePolicyFile(t, `
[category_caps]
food = "two million"
`)

	_, err := factory.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "category_caps.food")
}

func TestLoad_MissingFile(t *testing.T) {
	// GIVEN: A path that does not exist
	// WHEN: Loading
	// THEN: A wrapped read error

	_, err := factory.Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
