package plan

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPlanBuilds(t *testing.T) {
	p := Default()

	require.Len(t, p.Tiers, 4)
	assert.Equal(t, "starter", p.LowestTier().Code)
	assert.Equal(t, "UGX", p.Currency)

	gold, ok := p.Tier("gold")
	require.True(t, ok)
	assert.True(t, gold.LevelRate(1).Equal(decimal.NewFromInt(18)))
	assert.True(t, gold.LevelRate(6).IsZero())
	assert.True(t, gold.LevelRate(0).IsZero())
}

func TestBuildNormalizesCodesAndSortsTiers(t *testing.T) {
	spec := Spec{
		Currency: "usd",
		Tiers: []TierSpec{
			{Name: "Gold Elite", Rank: 2, LevelRates: []string{"10"}},
			{Name: "Entry Level", Rank: 1},
		},
		Rewards: []RewardSpec{{Name: "Smart Phone", RequiredTiers: []string{"Gold Elite"}}},
	}

	p, err := Build(spec)
	require.NoError(t, err)
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, "entry-level", p.Tiers[0].Code)
	assert.Equal(t, "gold-elite", p.Tiers[1].Code)

	reward, ok := p.Reward("smart-phone")
	require.True(t, ok)
	assert.Equal(t, []string{"gold-elite"}, reward.RequiredTiers)
}

func TestBuildRejectsInvalidPlans(t *testing.T) {
	cases := []struct {
		name string
		spec Spec
		want error
	}{
		{name: "no currency", spec: Spec{Tiers: []TierSpec{{Code: "a", Rank: 1}}}, want: ErrInvalidCurrency},
		{name: "no tiers", spec: Spec{Currency: "USD"}, want: ErrInvalidPlan},
		{name: "duplicate rank", spec: Spec{Currency: "USD", Tiers: []TierSpec{{Code: "a", Rank: 1}, {Code: "b", Rank: 1}}}, want: ErrInvalidPlan},
		{name: "duplicate code", spec: Spec{Currency: "USD", Tiers: []TierSpec{{Code: "a", Rank: 1}, {Code: "a", Rank: 2}}}, want: ErrDuplicateCode},
		{name: "rate above 100", spec: Spec{Currency: "USD", Tiers: []TierSpec{{Code: "a", Rank: 1, LevelRates: []string{"101"}}}}, want: ErrInvalidRate},
		{name: "reward unknown tier", spec: Spec{Currency: "USD", Tiers: []TierSpec{{Code: "a", Rank: 1}}, Rewards: []RewardSpec{{Code: "r", RequiredTiers: []string{"z"}}}}, want: ErrUnknownTier},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build(tc.spec)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSelectThresholdPicksSingleBracket(t *testing.T) {
	brackets := []Threshold{
		{Min: decimal.NewFromInt(100), Rate: decimal.NewFromInt(1)},
		{Min: decimal.NewFromInt(500), Rate: decimal.NewFromInt(2)},
		{Min: decimal.NewFromInt(1000), Rate: decimal.NewFromInt(3)},
	}

	_, ok := SelectThreshold(brackets, decimal.NewFromInt(99))
	assert.False(t, ok)

	th, ok := SelectThreshold(brackets, decimal.NewFromInt(500))
	require.True(t, ok)
	assert.True(t, th.Rate.Equal(decimal.NewFromInt(2)))

	th, ok = SelectThreshold(brackets, decimal.NewFromInt(999999))
	require.True(t, ok)
	assert.True(t, th.Rate.Equal(decimal.NewFromInt(3)))
}

func TestLeadershipHighestLevelWins(t *testing.T) {
	gold, ok := Default().Tier("gold")
	require.True(t, ok)

	_, ok = gold.Leadership(5, 5, decimal.NewFromInt(100000000))
	assert.False(t, ok, "direct referral minimum not met")

	level, ok := gold.Leadership(25, 4, decimal.NewFromInt(40000000))
	require.True(t, ok)
	assert.Equal(t, 2, level.Level)

	level, ok = gold.Leadership(100, 10, decimal.NewFromInt(100000000))
	require.True(t, ok)
	assert.Equal(t, 3, level.Level)
}

func TestIsQualifying(t *testing.T) {
	p := Default()
	assert.True(t, p.IsQualifying("Subscription"))
	assert.False(t, p.IsQualifying("withdrawal"))

	p.QualifyingTransactionTypes = nil
	assert.True(t, p.IsQualifying("anything"))
}

func TestHighestMet(t *testing.T) {
	p := Default()

	tier, ok := p.HighestMet(0, decimal.Zero)
	require.True(t, ok)
	assert.Equal(t, "starter", tier.Code)

	tier, ok = p.HighestMet(9, decimal.NewFromInt(6000000))
	require.True(t, ok)
	assert.Equal(t, "silver", tier.Code)
}
