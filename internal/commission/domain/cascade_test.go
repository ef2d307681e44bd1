package domain

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/uplink/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func referrals(postings []Posting) []Posting {
	var out []Posting
	for _, p := range postings {
		if p.CommissionType == CommissionTypeReferral {
			out = append(out, p)
		}
	}
	return out
}

func TestAmountRoundsHalfUpOnce(t *testing.T) {
	assert.Equal(t, "10.00", Amount(d("333.33"), d("3")).StringFixed(2))
	assert.Equal(t, "0.01", Amount(d("0.05"), d("10")).StringFixed(2))
	assert.Equal(t, "0.00", Amount(d("0.04"), d("10")).StringFixed(2))
	assert.Equal(t, "12.35", Amount(d("123.45"), d("10")).StringFixed(2))
}

func TestCascadeSkipsInactiveWithoutTruncating(t *testing.T) {
	p := plan.Default()
	// payer's referrer B is active, A above it is inactive, root is active
	upline := []Ancestor{
		{ID: 3, Active: true, Tier: "starter"},
		{ID: 2, Active: false, Tier: "starter"},
		{ID: 1, Active: true, Tier: "starter"},
	}

	postings := Cascade(p, d("1000"), upline)
	require.Len(t, postings, 2)

	assert.Equal(t, snowflake.ID(3), postings[0].BeneficiaryID)
	assert.Equal(t, 1, postings[0].Level)
	assert.Equal(t, "100.00", postings[0].Amount.StringFixed(2))

	assert.Equal(t, snowflake.ID(1), postings[1].BeneficiaryID)
	assert.Equal(t, 2, postings[1].Level)
	assert.Equal(t, "50.00", postings[1].Amount.StringFixed(2))

	for _, posting := range postings {
		assert.NotEqual(t, snowflake.ID(2), posting.BeneficiaryID)
	}
}

func TestCascadeStopsAfterFiveActiveLevels(t *testing.T) {
	var upline []Ancestor
	for i := 1; i <= 9; i++ {
		upline = append(upline, Ancestor{ID: snowflake.ID(i), Active: i%4 != 0, Tier: "starter"})
	}

	postings := referrals(Cascade(plan.Default(), d("1000"), upline))
	require.Len(t, postings, plan.MaxLevels)
	for i, posting := range postings {
		assert.Equal(t, i+1, posting.Level)
	}
	assert.Equal(t, snowflake.ID(6), postings[4].BeneficiaryID)
}

func TestCascadeUsesBeneficiaryTierRates(t *testing.T) {
	upline := []Ancestor{
		{ID: 1, Active: true, Tier: "gold"},
		{ID: 2, Active: true, Tier: "bronze"},
		{ID: 3, Active: true, Tier: "unknown"},
		{ID: 4, Active: true, Tier: "starter"},
	}
	postings := referrals(Cascade(plan.Default(), d("1000"), upline))
	require.Len(t, postings, 3)
	assert.Equal(t, "180.00", postings[0].Amount.StringFixed(2))
	assert.Equal(t, "60.00", postings[1].Amount.StringFixed(2))
	assert.Equal(t, 4, postings[2].Level, "unknown tier still consumes its level")
	assert.Equal(t, "20.00", postings[2].Amount.StringFixed(2))
}

func TestCascadeBonusesPickSingleBracket(t *testing.T) {
	upline := []Ancestor{
		{
			ID: 1, Active: true, Tier: "bronze",
			Volume: &VolumeSnapshot{TeamVolume: d("7000000"), ActiveReferrals: 12, TeamDepth: 2},
		},
		{ID: 2, Active: true, Tier: "bronze"},
	}

	postings := Cascade(plan.Default(), d("1000"), upline)
	byType := map[CommissionType]Posting{}
	for _, posting := range postings {
		if posting.BeneficiaryID == 1 {
			byType[posting.CommissionType] = posting
		}
	}

	tv, ok := byType[CommissionTypeTeamVolume]
	require.True(t, ok)
	assert.True(t, tv.Rate.Equal(d("2")))
	assert.Equal(t, 0, tv.Level)
	assert.Equal(t, "20.00", tv.Amount.StringFixed(2))

	perf, ok := byType[CommissionTypePerformance]
	require.True(t, ok)
	assert.True(t, perf.Rate.Equal(d("1")))

	_, ok = byType[CommissionTypeLeadership]
	assert.False(t, ok, "bronze has no leadership ladder")

	for _, posting := range postings {
		if posting.BeneficiaryID == 2 {
			assert.Equal(t, CommissionTypeReferral, posting.CommissionType, "no volume record means no bonus")
		}
	}

	last := postings[len(postings)-1]
	assert.NotEqual(t, CommissionTypeReferral, last.CommissionType, "bonuses follow referral postings")
}

func TestCascadeLeadershipHighestLevelOnly(t *testing.T) {
	upline := []Ancestor{{
		ID: 1, Active: true, Tier: "gold",
		Volume: &VolumeSnapshot{TeamVolume: d("40000000"), ActiveReferrals: 25, TeamDepth: 4},
	}}

	var leadership []Posting
	for _, posting := range Cascade(plan.Default(), d("1000"), upline) {
		if posting.CommissionType == CommissionTypeLeadership {
			leadership = append(leadership, posting)
		}
	}
	require.Len(t, leadership, 1)
	assert.True(t, leadership[0].Rate.Equal(d("2")))
	assert.Equal(t, "20.00", leadership[0].Amount.StringFixed(2))
}

func TestBeneficiariesDistinct(t *testing.T) {
	ids := Beneficiaries([]Posting{{BeneficiaryID: 3}, {BeneficiaryID: 1}, {BeneficiaryID: 3}})
	assert.Equal(t, []snowflake.ID{3, 1}, ids)
}
