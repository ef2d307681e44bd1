// Package plan holds the compensation plan: tier and reward definitions plus
// the rules that are shared by the cascade and qualification engines.
//
// A Plan is an immutable value. Engines receive it from a Provider on every
// call instead of reading package-level tables, so the same engine can be
// exercised against several rate regimes.
package plan

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MaxLevels is the number of active upline levels that can receive a
// referral commission for one transaction.
const MaxLevels = 5

var (
	ErrInvalidPlan     = errors.New("invalid_plan")
	ErrUnknownTier     = errors.New("unknown_tier")
	ErrUnknownReward   = errors.New("unknown_reward")
	ErrDuplicateCode   = errors.New("duplicate_code")
	ErrInvalidRate     = errors.New("invalid_rate")
	ErrInvalidCurrency = errors.New("invalid_currency")
)

// Threshold maps a minimum value to a bonus rate in percent.
type Threshold struct {
	Min  decimal.Decimal
	Rate decimal.Decimal
}

// LeadershipLevel is one rung of the leadership bonus ladder.
type LeadershipLevel struct {
	Level              int
	MinDirectReferrals int
	MinTeamDepth       int
	MinTeamVolume      decimal.Decimal
	Rate               decimal.Decimal
}

// Tier is a named membership rank.
type Tier struct {
	Code               string
	Name               string
	Rank               int
	MonthlyFee         decimal.Decimal
	LevelRates         [MaxLevels]decimal.Decimal
	TeamVolumeBonuses  []Threshold
	PerformanceBonuses []Threshold
	LeadershipLevels   []LeadershipLevel

	RequiredReferrals    int
	RequiredTeamVolume   decimal.Decimal
	AchievementBonus     decimal.Decimal
	PermanentAfterMonths int
}

// Reward is a physical or loyalty reward with eligibility requirements.
type Reward struct {
	Code                       string
	Name                       string
	RequiredTiers              []string
	RequiredActiveReferrals    int
	RequiredTeamVolume         decimal.Decimal
	RequiredTeamDepth          int
	RequiredSubscriptionAmount decimal.Decimal
	RequiredSustainedMonths    int
	InitialQuantity            int
	MaintenanceGraceDays       int
}

// Plan is the full compensation plan. Tiers are ordered by ascending rank.
type Plan struct {
	Currency                   string
	QualifyingTransactionTypes []string
	GraceMonths                int
	PermanentGraceMonths       int
	HoldCommissions            bool
	MaintenanceInterval        time.Duration
	Tiers                      []Tier
	Rewards                    []Reward
}

// Provider hands out the plan currently in force.
type Provider interface {
	Current() Plan
}

type staticProvider struct {
	plan Plan
}

// Static returns a Provider that always yields p.
func Static(p Plan) Provider {
	return staticProvider{plan: p}
}

func (s staticProvider) Current() Plan { return s.plan }

// Tier looks up a tier by code.
func (p Plan) Tier(code string) (Tier, bool) {
	for _, t := range p.Tiers {
		if t.Code == code {
			return t, true
		}
	}
	return Tier{}, false
}

// LowestTier returns the entry tier.
func (p Plan) LowestTier() Tier {
	if len(p.Tiers) == 0 {
		return Tier{}
	}
	return p.Tiers[0]
}

// Reward looks up a reward by code.
func (p Plan) Reward(code string) (Reward, bool) {
	for _, r := range p.Rewards {
		if r.Code == code {
			return r, true
		}
	}
	return Reward{}, false
}

// IsQualifying reports whether a transaction type counts as volume and
// triggers a commission cascade. An empty list accepts every type.
func (p Plan) IsQualifying(txType string) bool {
	if len(p.QualifyingTransactionTypes) == 0 {
		return true
	}
	txType = strings.ToLower(strings.TrimSpace(txType))
	for _, t := range p.QualifyingTransactionTypes {
		if t == txType {
			return true
		}
	}
	return false
}

// HighestMet returns the highest ranked tier whose requirements are met, if any.
func (p Plan) HighestMet(activeReferrals int, teamVolume decimal.Decimal) (Tier, bool) {
	for i := len(p.Tiers) - 1; i >= 0; i-- {
		if p.Tiers[i].Meets(activeReferrals, teamVolume) {
			return p.Tiers[i], true
		}
	}
	return Tier{}, false
}

// LevelRate returns the referral rate for a 1-based active level.
func (t Tier) LevelRate(activeLevel int) decimal.Decimal {
	if activeLevel < 1 || activeLevel > MaxLevels {
		return decimal.Zero
	}
	return t.LevelRates[activeLevel-1]
}

// Meets reports whether the tier's maintenance requirements are satisfied.
func (t Tier) Meets(activeReferrals int, teamVolume decimal.Decimal) bool {
	return activeReferrals >= t.RequiredReferrals && teamVolume.GreaterThanOrEqual(t.RequiredTeamVolume)
}

// Leadership returns the highest leadership level whose thresholds are all met.
func (t Tier) Leadership(directReferrals, teamDepth int, teamVolume decimal.Decimal) (LeadershipLevel, bool) {
	var (
		best  LeadershipLevel
		found bool
	)
	for _, l := range t.LeadershipLevels {
		if directReferrals < l.MinDirectReferrals || teamDepth < l.MinTeamDepth || teamVolume.LessThan(l.MinTeamVolume) {
			continue
		}
		if !found || l.Level > best.Level {
			best = l
			found = true
		}
	}
	return best, found
}

// SelectThreshold picks the single bracket with the greatest Min not
// exceeding value. Brackets never stack.
func SelectThreshold(thresholds []Threshold, value decimal.Decimal) (Threshold, bool) {
	var (
		best  Threshold
		found bool
	)
	for _, th := range thresholds {
		if value.LessThan(th.Min) {
			continue
		}
		if !found || th.Min.GreaterThan(best.Min) {
			best = th
			found = true
		}
	}
	return best, found
}

// Validate checks structural consistency of a plan.
func Validate(p Plan) error {
	if strings.TrimSpace(p.Currency) == "" {
		return ErrInvalidCurrency
	}
	if len(p.Tiers) == 0 {
		return ErrInvalidPlan
	}
	if p.GraceMonths < 0 || p.PermanentGraceMonths < 0 {
		return ErrInvalidPlan
	}

	seen := map[string]struct{}{}
	for i, t := range p.Tiers {
		if t.Code == "" {
			return ErrInvalidPlan
		}
		if _, ok := seen[t.Code]; ok {
			return ErrDuplicateCode
		}
		seen[t.Code] = struct{}{}
		if i > 0 && p.Tiers[i-1].Rank >= t.Rank {
			return ErrInvalidPlan
		}
		for _, r := range t.LevelRates {
			if r.IsNegative() || r.GreaterThan(decimal.NewFromInt(100)) {
				return ErrInvalidRate
			}
		}
		for _, th := range append(append([]Threshold{}, t.TeamVolumeBonuses...), t.PerformanceBonuses...) {
			if th.Rate.IsNegative() || th.Min.IsNegative() {
				return ErrInvalidRate
			}
		}
		for _, l := range t.LeadershipLevels {
			if l.Rate.IsNegative() {
				return ErrInvalidRate
			}
		}
		if t.RequiredReferrals < 0 || t.RequiredTeamVolume.IsNegative() || t.AchievementBonus.IsNegative() {
			return ErrInvalidPlan
		}
	}

	rewards := map[string]struct{}{}
	for _, r := range p.Rewards {
		if r.Code == "" {
			return ErrInvalidPlan
		}
		if _, ok := rewards[r.Code]; ok {
			return ErrDuplicateCode
		}
		rewards[r.Code] = struct{}{}
		for _, code := range r.RequiredTiers {
			if _, ok := seen[code]; !ok {
				return ErrUnknownTier
			}
		}
		if r.InitialQuantity < 0 {
			return ErrInvalidPlan
		}
	}
	return nil
}

func sortTiers(tiers []Tier) {
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].Rank < tiers[j].Rank })
}
