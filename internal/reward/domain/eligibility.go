package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/uplink/internal/plan"
)

// Requirement names reported when a member falls short of a reward.
const (
	RequirementTier               = "tier"
	RequirementActiveReferrals    = "active_referrals"
	RequirementTeamVolume         = "team_volume"
	RequirementTeamDepth          = "team_depth"
	RequirementSubscriptionAmount = "subscription_amount"
	RequirementSustainedMonths    = "sustained_months"
)

// Input is a member's standing as seen by the reward predicate.
type Input struct {
	Tier            string
	ActiveReferrals int
	TeamVolume      decimal.Decimal
	TeamDepth       int
	MonthlyFee      decimal.Decimal
	SustainedMonths int
}

// Evaluate returns the requirements of r that in does not meet. An empty
// result means the member is eligible.
func Evaluate(r plan.Reward, in Input) []string {
	var unmet []string
	if len(r.RequiredTiers) > 0 && !containsTier(r.RequiredTiers, in.Tier) {
		unmet = append(unmet, RequirementTier)
	}
	if in.ActiveReferrals < r.RequiredActiveReferrals {
		unmet = append(unmet, RequirementActiveReferrals)
	}
	if in.TeamVolume.LessThan(r.RequiredTeamVolume) {
		unmet = append(unmet, RequirementTeamVolume)
	}
	if in.TeamDepth < r.RequiredTeamDepth {
		unmet = append(unmet, RequirementTeamDepth)
	}
	if in.MonthlyFee.LessThan(r.RequiredSubscriptionAmount) {
		unmet = append(unmet, RequirementSubscriptionAmount)
	}
	if in.SustainedMonths < r.RequiredSustainedMonths {
		unmet = append(unmet, RequirementSustainedMonths)
	}
	return unmet
}

func containsTier(tiers []string, tier string) bool {
	for _, t := range tiers {
		if t == tier {
			return true
		}
	}
	return false
}

// ViolationDuration is how long the allocation has been out of
// compliance, or zero when it is not in violation.
func (a Allocation) ViolationDuration(now time.Time) time.Duration {
	if a.Status != AllocationStatusMaintenanceViolation || a.ViolationStartedAt == nil {
		return 0
	}
	d := now.Sub(*a.ViolationStartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// GraceExpired reports whether a violation has outlasted the reward's
// grace window. Recovery itself is an operator decision.
func (a Allocation) GraceExpired(r plan.Reward, now time.Time) bool {
	if a.Status != AllocationStatusMaintenanceViolation || a.ViolationStartedAt == nil {
		return false
	}
	grace := time.Duration(r.MaintenanceGraceDays) * 24 * time.Hour
	return a.ViolationDuration(now) > grace
}
