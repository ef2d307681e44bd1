package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/uplink/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var decideNow = time.Date(2025, 7, 1, 2, 0, 0, 0, time.UTC)

func testPlan(t *testing.T, permanentGrace int) plan.Plan {
	t.Helper()
	p, err := plan.Build(plan.Spec{
		Currency:             "USD",
		GraceMonths:          2,
		PermanentGraceMonths: permanentGrace,
		Tiers: []plan.TierSpec{
			{Code: "starter", Rank: 1},
			{Code: "bronze", Rank: 2, RequiredReferrals: 3, RequiredTeamVolume: "1000", PermanentAfterMonths: 3},
			{Code: "silver", Rank: 3, RequiredReferrals: 8, RequiredTeamVolume: "5000", PermanentAfterMonths: 3},
		},
	})
	require.NoError(t, err)
	return p
}

type memberState struct {
	tier     string
	state    State
	progress map[string]TierProgress
}

func newMemberState(tier string) *memberState {
	return &memberState{tier: tier, state: State{MemberID: 1}, progress: map[string]TierProgress{}}
}

func (m *memberState) evaluate(p plan.Plan, month, refs int, volume int64) Decision {
	d := Decide(p, Input{
		MemberID:        1,
		CurrentTier:     m.tier,
		PeriodStart:     time.Date(2025, time.Month(month), 1, 0, 0, 0, 0, time.UTC),
		ActiveReferrals: refs,
		TeamVolume:      decimal.NewFromInt(volume),
		State:           m.state,
		Progress:        m.progress,
	}, decideNow)
	if !d.Skipped {
		m.tier = d.To
		m.state = d.State
		m.progress[d.Progress.Tier] = d.Progress
	}
	return d
}

func TestDecidePromotesImmediatelyToHighestMetTier(t *testing.T) {
	m := newMemberState("starter")

	d := m.evaluate(testPlan(t, 0), 1, 9, 6000)

	assert.Equal(t, TransitionPromoted, d.Transition)
	assert.Equal(t, "starter", d.From)
	assert.Equal(t, "silver", d.To)
	assert.Equal(t, "silver", d.Progress.Tier)
	assert.Equal(t, 1, d.Progress.ConsecutiveMonths)
	assert.Equal(t, 0, d.State.FailingMonths)
	require.NotNil(t, d.State.LastPeriodStart)
}

func TestDecideThreeConsecutiveMonthsMakesTierPermanent(t *testing.T) {
	p := testPlan(t, 0)
	m := newMemberState("bronze")

	first := m.evaluate(p, 1, 3, 1000)
	second := m.evaluate(p, 2, 4, 1200)
	third := m.evaluate(p, 3, 3, 1000)

	assert.False(t, first.BecamePermanent)
	assert.False(t, second.BecamePermanent)
	assert.True(t, third.BecamePermanent)
	assert.True(t, m.progress["bronze"].Permanent)
	assert.Equal(t, 3, m.progress["bronze"].ConsecutiveMonths)
	require.NotNil(t, m.progress["bronze"].PermanentAt)

	fourth := m.evaluate(p, 4, 3, 1000)
	assert.False(t, fourth.BecamePermanent, "permanence is announced once")
}

func TestDecideSingleFailingMonthResetsCounter(t *testing.T) {
	p := testPlan(t, 0)
	m := newMemberState("bronze")

	m.evaluate(p, 1, 3, 1000)
	m.evaluate(p, 2, 3, 1000)
	d := m.evaluate(p, 3, 2, 1000)

	assert.False(t, d.Meets)
	assert.Equal(t, TransitionNone, d.Transition)
	assert.Equal(t, 0, m.progress["bronze"].ConsecutiveMonths)
	assert.Equal(t, 1, m.state.FailingMonths)
	assert.False(t, m.progress["bronze"].Permanent)

	m.evaluate(p, 4, 3, 1000)
	assert.Equal(t, 1, m.progress["bronze"].ConsecutiveMonths)
	assert.Equal(t, 0, m.state.FailingMonths)
}

func TestDecideDemotesAfterGraceToHighestLowerMetTier(t *testing.T) {
	p := testPlan(t, 0)
	m := newMemberState("silver")

	// still meets bronze, fails silver
	assert.Equal(t, TransitionNone, m.evaluate(p, 1, 3, 1500).Transition)
	assert.Equal(t, TransitionNone, m.evaluate(p, 2, 3, 1500).Transition)
	d := m.evaluate(p, 3, 3, 1500)

	assert.Equal(t, TransitionDemoted, d.Transition)
	assert.Equal(t, "silver", d.From)
	assert.Equal(t, "bronze", d.To)
	assert.Equal(t, 0, d.State.FailingMonths)
}

func TestDecideDemotesToEntryTierWhenNothingLowerIsMet(t *testing.T) {
	p := testPlan(t, 0)
	m := newMemberState("silver")

	m.evaluate(p, 1, 0, 0)
	m.evaluate(p, 2, 0, 0)
	d := m.evaluate(p, 3, 0, 0)

	assert.Equal(t, TransitionDemoted, d.Transition)
	assert.Equal(t, "starter", d.To)
}

func TestDecidePermanentTierWithZeroGraceIsNeverDemoted(t *testing.T) {
	p := testPlan(t, 0)
	m := newMemberState("bronze")
	for month := 1; month <= 3; month++ {
		m.evaluate(p, month, 3, 1000)
	}
	require.True(t, m.progress["bronze"].Permanent)

	for month := 4; month <= 16; month++ {
		d := m.evaluate(p, month, 0, 0)
		assert.Equal(t, TransitionNone, d.Transition)
	}
	assert.Equal(t, "bronze", m.tier)
	assert.Equal(t, 13, m.state.FailingMonths)
	assert.True(t, m.progress["bronze"].Permanent, "permanence survives failing months")
}

func TestDecidePermanentTierUsesPermanentGrace(t *testing.T) {
	p := testPlan(t, 4)
	m := newMemberState("bronze")
	for month := 1; month <= 3; month++ {
		m.evaluate(p, month, 3, 1000)
	}

	for month := 4; month <= 7; month++ {
		assert.Equal(t, TransitionNone, m.evaluate(p, month, 0, 0).Transition)
	}
	d := m.evaluate(p, 8, 0, 0)
	assert.Equal(t, TransitionDemoted, d.Transition)
	assert.Equal(t, "starter", d.To)
}

func TestDecideSkipsPeriodsAlreadyEvaluated(t *testing.T) {
	p := testPlan(t, 0)
	m := newMemberState("bronze")

	m.evaluate(p, 2, 3, 1000)
	again := m.evaluate(p, 2, 3, 1000)
	earlier := m.evaluate(p, 1, 3, 1000)

	assert.True(t, again.Skipped)
	assert.True(t, earlier.Skipped)
	assert.Equal(t, 1, m.progress["bronze"].ConsecutiveMonths)
}

func TestDecideEntryTierIsNeverDemoted(t *testing.T) {
	p := testPlan(t, 0)
	p.Tiers[0].RequiredReferrals = 1
	m := newMemberState("starter")

	for month := 1; month <= 5; month++ {
		d := m.evaluate(p, month, 0, 0)
		assert.Equal(t, TransitionNone, d.Transition)
	}
	assert.Equal(t, 5, m.state.FailingMonths)
}
