package domain

import (
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/uplink/internal/plan"
)

// VolumeSnapshot is the slice of a team volume record read by the bonuses.
type VolumeSnapshot struct {
	TeamVolume      decimal.Decimal
	ActiveReferrals int
	TeamDepth       int
}

// Ancestor is one member of the payer's upline, nearest first.
type Ancestor struct {
	ID     snowflake.ID
	Active bool
	Tier   string
	Volume *VolumeSnapshot
}

// Posting is a commission the cascade decided to pay.
type Posting struct {
	BeneficiaryID  snowflake.ID
	CommissionType CommissionType
	Level          int
	Rate           decimal.Decimal
	BaseAmount     decimal.Decimal
	Amount         decimal.Decimal
}

// Amount applies a percentage rate to base, rounding half up to cents once.
func Amount(base, rate decimal.Decimal) decimal.Decimal {
	return base.Mul(rate).Shift(-2).Round(2)
}

// Cascade computes every posting for one qualifying transaction. Only
// active ancestors consume one of the plan's levels; inactive ones are
// passed over without ending the walk. Bonuses follow the referral
// postings and use each credited ancestor's volume snapshot.
func Cascade(p plan.Plan, amount decimal.Decimal, upline []Ancestor) []Posting {
	var (
		postings    []Posting
		credited    []Ancestor
		activeLevel int
	)

	for _, a := range upline {
		if activeLevel == plan.MaxLevels {
			break
		}
		if !a.Active {
			continue
		}
		activeLevel++

		tier, ok := p.Tier(a.Tier)
		if !ok {
			continue
		}
		rate := tier.LevelRate(activeLevel)
		value := Amount(amount, rate)
		if !value.IsPositive() {
			continue
		}
		credited = append(credited, a)
		postings = append(postings, Posting{
			BeneficiaryID:  a.ID,
			CommissionType: CommissionTypeReferral,
			Level:          activeLevel,
			Rate:           rate,
			BaseAmount:     amount,
			Amount:         value,
		})
	}

	for _, a := range credited {
		if a.Volume == nil {
			continue
		}
		tier, _ := p.Tier(a.Tier)
		postings = appendBonus(postings, a.ID, CommissionTypeTeamVolume, amount,
			tier.TeamVolumeBonuses, a.Volume.TeamVolume)
		postings = appendBonus(postings, a.ID, CommissionTypePerformance, amount,
			tier.PerformanceBonuses, decimal.NewFromInt(int64(a.Volume.ActiveReferrals)))

		if level, ok := tier.Leadership(a.Volume.ActiveReferrals, a.Volume.TeamDepth, a.Volume.TeamVolume); ok {
			if value := Amount(amount, level.Rate); value.IsPositive() {
				postings = append(postings, Posting{
					BeneficiaryID:  a.ID,
					CommissionType: CommissionTypeLeadership,
					Rate:           level.Rate,
					BaseAmount:     amount,
					Amount:         value,
				})
			}
		}
	}
	return postings
}

func appendBonus(postings []Posting, beneficiary snowflake.ID, kind CommissionType, amount decimal.Decimal, brackets []plan.Threshold, value decimal.Decimal) []Posting {
	th, ok := plan.SelectThreshold(brackets, value)
	if !ok {
		return postings
	}
	bonus := Amount(amount, th.Rate)
	if !bonus.IsPositive() {
		return postings
	}
	return append(postings, Posting{
		BeneficiaryID:  beneficiary,
		CommissionType: kind,
		Rate:           th.Rate,
		BaseAmount:     amount,
		Amount:         bonus,
	})
}

// Beneficiaries returns the distinct members credited by postings.
func Beneficiaries(postings []Posting) []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(postings))
	out := make([]snowflake.ID, 0, len(postings))
	for _, p := range postings {
		if _, ok := seen[p.BeneficiaryID]; ok {
			continue
		}
		seen[p.BeneficiaryID] = struct{}{}
		out = append(out, p.BeneficiaryID)
	}
	return out
}

// TransactionSourceRef is the commission source reference of a transaction.
func TransactionSourceRef(externalRef string) string {
	return "txn:" + externalRef
}

// AchievementSourceRef is the commission source reference of a tier's
// one-time achievement bonus.
func AchievementSourceRef(tier string) string {
	return "achievement:" + tier
}
