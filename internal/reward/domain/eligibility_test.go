package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/uplink/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smartphone(t *testing.T) plan.Reward {
	t.Helper()
	r, ok := plan.Default().Reward("smartphone")
	require.True(t, ok)
	return r
}

func TestEvaluateEligibleMember(t *testing.T) {
	unmet := Evaluate(smartphone(t), Input{
		Tier:            "silver",
		ActiveReferrals: 8,
		TeamVolume:      decimal.NewFromInt(5000000),
		TeamDepth:       2,
		MonthlyFee:      decimal.NewFromInt(250000),
		SustainedMonths: 3,
	})
	assert.Empty(t, unmet)
}

func TestEvaluateReportsEveryUnmetRequirement(t *testing.T) {
	unmet := Evaluate(smartphone(t), Input{
		Tier:       "starter",
		TeamVolume: decimal.Zero,
		MonthlyFee: decimal.NewFromInt(50000),
	})
	assert.Equal(t, []string{
		RequirementTier,
		RequirementActiveReferrals,
		RequirementTeamVolume,
		RequirementTeamDepth,
		RequirementSubscriptionAmount,
		RequirementSustainedMonths,
	}, unmet)
}

func TestEvaluateSingleShortfall(t *testing.T) {
	unmet := Evaluate(smartphone(t), Input{
		Tier:            "gold",
		ActiveReferrals: 30,
		TeamVolume:      decimal.NewFromInt(9000000),
		TeamDepth:       1,
		MonthlyFee:      decimal.NewFromInt(500000),
		SustainedMonths: 12,
	})
	assert.Equal(t, []string{RequirementTeamDepth}, unmet)
}

func TestViolationDurationAndGrace(t *testing.T) {
	started := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Allocation{Status: AllocationStatusMaintenanceViolation, ViolationStartedAt: &started}
	r := smartphone(t)

	now := started.Add(59 * 24 * time.Hour)
	assert.Equal(t, 59*24*time.Hour, a.ViolationDuration(now))
	assert.False(t, a.GraceExpired(r, now))
	assert.True(t, a.GraceExpired(r, started.Add(61*24*time.Hour)))

	a.Status = AllocationStatusMaintenanceCompliant
	assert.Zero(t, a.ViolationDuration(now))
	assert.False(t, a.GraceExpired(r, started.Add(365*24*time.Hour)))
}

func TestUnderMaintenance(t *testing.T) {
	assert.True(t, AllocationStatusDelivered.UnderMaintenance())
	assert.True(t, AllocationStatusMaintenanceViolation.UnderMaintenance())
	assert.False(t, AllocationStatusOwnershipTransferred.UnderMaintenance())
	assert.False(t, AllocationStatusRevoked.UnderMaintenance())
}

func TestInventoryRemaining(t *testing.T) {
	assert.Equal(t, 3, Inventory{AvailableQuantity: 5, AllocatedQuantity: 2}.Remaining())
	assert.Equal(t, 0, Inventory{AvailableQuantity: 1, AllocatedQuantity: 4}.Remaining())
}
