package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
)

// Spec is the file representation of a Plan. Amounts and rates are kept as
// strings so that YAML numbers are parsed as exact decimals.
type Spec struct {
	Currency                   string        `mapstructure:"currency"`
	QualifyingTransactionTypes []string      `mapstructure:"qualifyingTransactionTypes"`
	GraceMonths                int           `mapstructure:"graceMonths"`
	PermanentGraceMonths       int           `mapstructure:"permanentGraceMonths"`
	HoldCommissions            bool          `mapstructure:"holdCommissions"`
	MaintenanceInterval        time.Duration `mapstructure:"maintenanceInterval"`
	Tiers                      []TierSpec    `mapstructure:"tiers"`
	Rewards                    []RewardSpec  `mapstructure:"rewards"`
}

type ThresholdSpec struct {
	Min  string `mapstructure:"min"`
	Rate string `mapstructure:"rate"`
}

type LeadershipSpec struct {
	Level              int    `mapstructure:"level"`
	MinDirectReferrals int    `mapstructure:"minDirectReferrals"`
	MinTeamDepth       int    `mapstructure:"minTeamDepth"`
	MinTeamVolume      string `mapstructure:"minTeamVolume"`
	Rate               string `mapstructure:"rate"`
}

type TierSpec struct {
	Code                 string           `mapstructure:"code"`
	Name                 string           `mapstructure:"name"`
	Rank                 int              `mapstructure:"rank"`
	MonthlyFee           string           `mapstructure:"monthlyFee"`
	LevelRates           []string         `mapstructure:"levelRates"`
	TeamVolumeBonuses    []ThresholdSpec  `mapstructure:"teamVolumeBonuses"`
	PerformanceBonuses   []ThresholdSpec  `mapstructure:"performanceBonuses"`
	LeadershipLevels     []LeadershipSpec `mapstructure:"leadershipLevels"`
	RequiredReferrals    int              `mapstructure:"requiredReferrals"`
	RequiredTeamVolume   string           `mapstructure:"requiredTeamVolume"`
	AchievementBonus     string           `mapstructure:"achievementBonus"`
	PermanentAfterMonths int              `mapstructure:"permanentAfterMonths"`
}

type RewardSpec struct {
	Code                       string   `mapstructure:"code"`
	Name                       string   `mapstructure:"name"`
	RequiredTiers              []string `mapstructure:"requiredTiers"`
	RequiredActiveReferrals    int      `mapstructure:"requiredActiveReferrals"`
	RequiredTeamVolume         string   `mapstructure:"requiredTeamVolume"`
	RequiredTeamDepth          int      `mapstructure:"requiredTeamDepth"`
	RequiredSubscriptionAmount string   `mapstructure:"requiredSubscriptionAmount"`
	RequiredSustainedMonths    int      `mapstructure:"requiredSustainedMonths"`
	InitialQuantity            int      `mapstructure:"initialQuantity"`
	MaintenanceGraceDays       int      `mapstructure:"maintenanceGraceDays"`
}

// NormalizeCode turns a human tier or reward name into its stable code.
func NormalizeCode(raw string) string {
	return slug.Make(strings.TrimSpace(raw))
}

// Build converts and validates a Spec.
func Build(spec Spec) (Plan, error) {
	p := Plan{
		Currency:             strings.ToUpper(strings.TrimSpace(spec.Currency)),
		GraceMonths:          spec.GraceMonths,
		PermanentGraceMonths: spec.PermanentGraceMonths,
		HoldCommissions:      spec.HoldCommissions,
		MaintenanceInterval:  spec.MaintenanceInterval,
	}
	if p.MaintenanceInterval <= 0 {
		p.MaintenanceInterval = 30 * 24 * time.Hour
	}
	for _, t := range spec.QualifyingTransactionTypes {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			p.QualifyingTransactionTypes = append(p.QualifyingTransactionTypes, t)
		}
	}

	for _, ts := range spec.Tiers {
		tier, err := buildTier(ts)
		if err != nil {
			return Plan{}, err
		}
		p.Tiers = append(p.Tiers, tier)
	}
	sortTiers(p.Tiers)

	for _, rs := range spec.Rewards {
		reward, err := buildReward(rs)
		if err != nil {
			return Plan{}, err
		}
		p.Rewards = append(p.Rewards, reward)
	}

	if err := Validate(p); err != nil {
		return Plan{}, err
	}
	return p, nil
}

func buildTier(ts TierSpec) (Tier, error) {
	code := ts.Code
	if code == "" {
		code = ts.Name
	}
	tier := Tier{
		Code:                 NormalizeCode(code),
		Name:                 strings.TrimSpace(ts.Name),
		Rank:                 ts.Rank,
		RequiredReferrals:    ts.RequiredReferrals,
		PermanentAfterMonths: ts.PermanentAfterMonths,
	}
	if tier.Name == "" {
		tier.Name = tier.Code
	}
	if len(ts.LevelRates) > MaxLevels {
		return Tier{}, fmt.Errorf("tier %s: %w: more than %d level rates", tier.Code, ErrInvalidPlan, MaxLevels)
	}

	var err error
	if tier.MonthlyFee, err = parseAmount(ts.MonthlyFee); err != nil {
		return Tier{}, fmt.Errorf("tier %s monthlyFee: %w", tier.Code, err)
	}
	if tier.RequiredTeamVolume, err = parseAmount(ts.RequiredTeamVolume); err != nil {
		return Tier{}, fmt.Errorf("tier %s requiredTeamVolume: %w", tier.Code, err)
	}
	if tier.AchievementBonus, err = parseAmount(ts.AchievementBonus); err != nil {
		return Tier{}, fmt.Errorf("tier %s achievementBonus: %w", tier.Code, err)
	}
	for i, raw := range ts.LevelRates {
		if tier.LevelRates[i], err = parseAmount(raw); err != nil {
			return Tier{}, fmt.Errorf("tier %s levelRates[%d]: %w", tier.Code, i, err)
		}
	}
	if tier.TeamVolumeBonuses, err = buildThresholds(ts.TeamVolumeBonuses); err != nil {
		return Tier{}, fmt.Errorf("tier %s teamVolumeBonuses: %w", tier.Code, err)
	}
	if tier.PerformanceBonuses, err = buildThresholds(ts.PerformanceBonuses); err != nil {
		return Tier{}, fmt.Errorf("tier %s performanceBonuses: %w", tier.Code, err)
	}
	for _, ls := range ts.LeadershipLevels {
		minVolume, err := parseAmount(ls.MinTeamVolume)
		if err != nil {
			return Tier{}, fmt.Errorf("tier %s leadership %d: %w", tier.Code, ls.Level, err)
		}
		rate, err := parseAmount(ls.Rate)
		if err != nil {
			return Tier{}, fmt.Errorf("tier %s leadership %d: %w", tier.Code, ls.Level, err)
		}
		tier.LeadershipLevels = append(tier.LeadershipLevels, LeadershipLevel{
			Level:              ls.Level,
			MinDirectReferrals: ls.MinDirectReferrals,
			MinTeamDepth:       ls.MinTeamDepth,
			MinTeamVolume:      minVolume,
			Rate:               rate,
		})
	}
	return tier, nil
}

func buildReward(rs RewardSpec) (Reward, error) {
	code := rs.Code
	if code == "" {
		code = rs.Name
	}
	reward := Reward{
		Code:                    NormalizeCode(code),
		Name:                    strings.TrimSpace(rs.Name),
		RequiredActiveReferrals: rs.RequiredActiveReferrals,
		RequiredTeamDepth:       rs.RequiredTeamDepth,
		RequiredSustainedMonths: rs.RequiredSustainedMonths,
		InitialQuantity:         rs.InitialQuantity,
		MaintenanceGraceDays:    rs.MaintenanceGraceDays,
	}
	for _, t := range rs.RequiredTiers {
		reward.RequiredTiers = append(reward.RequiredTiers, NormalizeCode(t))
	}

	var err error
	if reward.RequiredTeamVolume, err = parseAmount(rs.RequiredTeamVolume); err != nil {
		return Reward{}, fmt.Errorf("reward %s requiredTeamVolume: %w", reward.Code, err)
	}
	if reward.RequiredSubscriptionAmount, err = parseAmount(rs.RequiredSubscriptionAmount); err != nil {
		return Reward{}, fmt.Errorf("reward %s requiredSubscriptionAmount: %w", reward.Code, err)
	}
	return reward, nil
}

func buildThresholds(specs []ThresholdSpec) ([]Threshold, error) {
	out := make([]Threshold, 0, len(specs))
	for _, s := range specs {
		min, err := parseAmount(s.Min)
		if err != nil {
			return nil, err
		}
		rate, err := parseAmount(s.Rate)
		if err != nil {
			return nil, err
		}
		out = append(out, Threshold{Min: min, Rate: rate})
	}
	return out, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}
