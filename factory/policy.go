/*
Package factory loads the policy tables that parameterize the engine:
tier thresholds, package rules and costs, needs and housing profiles,
and expenditure category caps.

Everything here is reference data administered out-of-band. The tables
ship with defaults and can be replaced wholesale from a TOML file (the
-policies flag on the server binary); none of the boundaries are
hard-coded in the scoring or ledger packages.

Money values in the TOML file are written as decimal strings
("1500", "0.12") and parsed into decimal.Decimal; the file format never
carries binary floats into ledger math.
*/
package factory

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
	"github.com/warp/relief-engine/assess"
	"github.com/warp/relief-engine/ledger"
)

// =============================================================================
// CONFIG - Assembled policy tables
// =============================================================================

// Config bundles every policy table the services need.
type Config struct {
	Classifier assess.ClassifierPolicy
	Needs      map[ledger.DisasterType]ledger.NeedsProfile
	Housing    ledger.HousingProfile
	// CategoryCaps bounds a single expenditure per category; overrides
	// require explicit second-actor approval.
	CategoryCaps map[string]ledger.Money
}

// Default returns the shipped policy tables.
func Default() Config {
	return Config{
		Classifier: assess.DefaultPolicy(),
		Needs: map[ledger.DisasterType]ledger.NeedsProfile{
			ledger.DisasterDrought: {
				DisasterType:            ledger.DisasterDrought,
				CostPerHousehold:        ledger.NewMoney(4500),
				CostPerPerson:           ledger.NewMoney(900),
				CostPerLivestockUnit:    ledger.NewMoney(350),
				CostPerFarmingHousehold: ledger.NewMoney(2500),
				OperationalRate:         ledger.MustParseMoney("0.10"),
				ContingencyRate:         ledger.MustParseMoney("0.05"),
				LandCostPerHectare:      ledger.NewMoney(1800),
			},
			ledger.DisasterHeavyRainfall: {
				DisasterType:            ledger.DisasterHeavyRainfall,
				CostPerHousehold:        ledger.NewMoney(5200),
				CostPerPerson:           ledger.NewMoney(1100),
				CostPerLivestockUnit:    ledger.NewMoney(300),
				CostPerFarmingHousehold: ledger.NewMoney(2100),
				OperationalRate:         ledger.MustParseMoney("0.12"),
				ContingencyRate:         ledger.MustParseMoney("0.05"),
				LandCostPerHectare:      ledger.NewMoney(1500),
			},
			ledger.DisasterFlood: {
				DisasterType:            ledger.DisasterFlood,
				CostPerHousehold:        ledger.NewMoney(6000),
				CostPerPerson:           ledger.NewMoney(1200),
				CostPerLivestockUnit:    ledger.NewMoney(400),
				CostPerFarmingHousehold: ledger.NewMoney(2800),
				OperationalRate:         ledger.MustParseMoney("0.12"),
				ContingencyRate:         ledger.MustParseMoney("0.08"),
				LandCostPerHectare:      ledger.NewMoney(2200),
			},
			ledger.DisasterLandslide: {
				DisasterType:            ledger.DisasterLandslide,
				CostPerHousehold:        ledger.NewMoney(7000),
				CostPerPerson:           ledger.NewMoney(1300),
				CostPerLivestockUnit:    ledger.NewMoney(380),
				CostPerFarmingHousehold: ledger.NewMoney(3000),
				OperationalRate:         ledger.MustParseMoney("0.15"),
				ContingencyRate:         ledger.MustParseMoney("0.08"),
				LandCostPerHectare:      ledger.NewMoney(2600),
			},
			ledger.DisasterStorm: {
				DisasterType:            ledger.DisasterStorm,
				CostPerHousehold:        ledger.NewMoney(5000),
				CostPerPerson:           ledger.NewMoney(1000),
				CostPerLivestockUnit:    ledger.NewMoney(320),
				CostPerFarmingHousehold: ledger.NewMoney(2300),
				OperationalRate:         ledger.MustParseMoney("0.10"),
				ContingencyRate:         ledger.MustParseMoney("0.06"),
				LandCostPerHectare:      ledger.NewMoney(1600),
			},
		},
		Housing: ledger.HousingProfile{
			TierCost: map[ledger.HousingTier]ledger.Money{
				ledger.HousingTierA: ledger.NewMoney(120000),
				ledger.HousingTierB: ledger.NewMoney(80000),
				ledger.HousingTierC: ledger.NewMoney(45000),
			},
			DamageMultiplier: map[ledger.HousingDamage]ledger.Money{
				ledger.HousingDamagePartial:   ledger.MustParseMoney("0.25"),
				ledger.HousingDamageSevere:    ledger.MustParseMoney("0.60"),
				ledger.HousingDamageDestroyed: ledger.NewMoney(1),
			},
		},
		CategoryCaps: map[string]ledger.Money{
			"food":           ledger.NewMoney(2000000),
			"shelter":        ledger.NewMoney(3000000),
			"medical":        ledger.NewMoney(1500000),
			"logistics":      ledger.NewMoney(1000000),
			"cash_transfer":  ledger.NewMoney(2500000),
			"reconstruction": ledger.NewMoney(5000000),
		},
	}
}

// =============================================================================
// TOML FILE FORMAT
// =============================================================================

type fileConfig struct {
	Tiers        []tierTOML           `toml:"tier"`
	PackageRules []packageRuleTOML    `toml:"package_rule"`
	PackageCost  map[string]string    `toml:"package_cost"`
	Needs        map[string]needsTOML `toml:"needs"`
	Housing      housingTOML          `toml:"housing"`
	CategoryCaps map[string]string    `toml:"category_caps"`
}

type tierTOML struct {
	MinScore int    `toml:"min_score"`
	Tier     string `toml:"tier"`
}

type packageRuleTOML struct {
	Package          string `toml:"package"`
	MinSeverity      int    `toml:"min_severity"`
	DisasterType     string `toml:"disaster_type"`
	MinVulnerability int    `toml:"min_vulnerability"`
	MaxVulnerability int    `toml:"max_vulnerability"`
}

type needsTOML struct {
	CostPerHousehold        string `toml:"cost_per_household"`
	CostPerPerson           string `toml:"cost_per_person"`
	CostPerLivestockUnit    string `toml:"cost_per_livestock_unit"`
	CostPerFarmingHousehold string `toml:"cost_per_farming_household"`
	OperationalRate         string `toml:"operational_rate"`
	ContingencyRate         string `toml:"contingency_rate"`
	LandCostPerHectare      string `toml:"land_cost_per_hectare"`
}

type housingTOML struct {
	TierCost         map[string]string `toml:"tier_cost"`
	DamageMultiplier map[string]string `toml:"damage_multiplier"`
}

// Load reads policy tables from a TOML file. Sections absent from the
// file keep their defaults, so a deployment can override just the tier
// boundaries or just the caps.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read policy file: %w", err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parse policy file: %w", err)
	}

	if len(fc.Tiers) > 0 {
		cfg.Classifier.Tiers = nil
		for _, t := range fc.Tiers {
			cfg.Classifier.Tiers = append(cfg.Classifier.Tiers, assess.TierThreshold{
				MinScore: t.MinScore,
				Tier:     assess.Tier(t.Tier),
			})
		}
	}
	if len(fc.PackageRules) > 0 {
		cfg.Classifier.PackageRules = nil
		for _, r := range fc.PackageRules {
			cfg.Classifier.PackageRules = append(cfg.Classifier.PackageRules, assess.PackageRule{
				Package:          r.Package,
				MinSeverity:      r.MinSeverity,
				DisasterType:     ledger.DisasterType(r.DisasterType),
				MinVulnerability: r.MinVulnerability,
				MaxVulnerability: r.MaxVulnerability,
			})
		}
	}
	if len(fc.PackageCost) > 0 {
		costs, err := moneyMap(fc.PackageCost, "package_cost")
		if err != nil {
			return cfg, err
		}
		cfg.Classifier.PackageCost = costs
	}
	for name, n := range fc.Needs {
		t := ledger.DisasterType(name)
		profile, err := n.toProfile(t)
		if err != nil {
			return cfg, err
		}
		cfg.Needs[t] = profile
	}
	if len(fc.Housing.TierCost) > 0 {
		cfg.Housing.TierCost = map[ledger.HousingTier]ledger.Money{}
		for tier, v := range fc.Housing.TierCost {
			m, err := parseMoney(v, "housing.tier_cost."+tier)
			if err != nil {
				return cfg, err
			}
			cfg.Housing.TierCost[ledger.HousingTier(tier)] = m
		}
	}
	if len(fc.Housing.DamageMultiplier) > 0 {
		cfg.Housing.DamageMultiplier = map[ledger.HousingDamage]ledger.Money{}
		for dmg, v := range fc.Housing.DamageMultiplier {
			m, err := parseMoney(v, "housing.damage_multiplier."+dmg)
			if err != nil {
				return cfg, err
			}
			cfg.Housing.DamageMultiplier[ledger.HousingDamage(dmg)] = m
		}
	}
	if len(fc.CategoryCaps) > 0 {
		caps, err := moneyMap(fc.CategoryCaps, "category_caps")
		if err != nil {
			return cfg, err
		}
		cfg.CategoryCaps = caps
	}
	return cfg, nil
}

func (n needsTOML) toProfile(t ledger.DisasterType) (ledger.NeedsProfile, error) {
	p := ledger.NeedsProfile{DisasterType: t}
	fields := []struct {
		dst  *ledger.Money
		val  string
		name string
	}{
		{&p.CostPerHousehold, n.CostPerHousehold, "cost_per_household"},
		{&p.CostPerPerson, n.CostPerPerson, "cost_per_person"},
		{&p.CostPerLivestockUnit, n.CostPerLivestockUnit, "cost_per_livestock_unit"},
		{&p.CostPerFarmingHousehold, n.CostPerFarmingHousehold, "cost_per_farming_household"},
		{&p.OperationalRate, n.OperationalRate, "operational_rate"},
		{&p.ContingencyRate, n.ContingencyRate, "contingency_rate"},
		{&p.LandCostPerHectare, n.LandCostPerHectare, "land_cost_per_hectare"},
	}
	for _, f := range fields {
		m, err := parseMoney(f.val, fmt.Sprintf("needs.%s.%s", t, f.name))
		if err != nil {
			return p, err
		}
		*f.dst = m
	}
	return p, nil
}

func moneyMap(in map[string]string, section string) (map[string]ledger.Money, error) {
	out := make(map[string]ledger.Money, len(in))
	for k, v := range in {
		m, err := parseMoney(v, section+"."+k)
		if err != nil {
			return nil, err
		}
		out[k] = m
	}
	return out, nil
}

func parseMoney(s, field string) (ledger.Money, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	m, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q", field, s)
	}
	return m, nil
}
