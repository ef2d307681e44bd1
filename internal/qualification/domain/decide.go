package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/uplink/internal/plan"
)

type Transition string

const (
	TransitionNone     Transition = "none"
	TransitionPromoted Transition = "promoted"
	TransitionDemoted  Transition = "demoted"
)

// Input is everything a monthly tier decision looks at.
type Input struct {
	MemberID        snowflake.ID
	CurrentTier     string
	PeriodStart     time.Time
	ActiveReferrals int
	TeamVolume      decimal.Decimal
	State           State
	Progress        map[string]TierProgress
}

// Decision is the outcome of one evaluation. State and Progress hold the
// rows to persist.
type Decision struct {
	Skipped         bool
	From            string
	To              string
	Transition      Transition
	Meets           bool
	BecamePermanent bool
	State           State
	Progress        TierProgress
}

// Decide applies the tier state machine for one member and period.
//
// A period at or before the stored cursor is skipped so a re-run never
// counts a month twice. A higher tier whose requirements are met wins
// immediately. Otherwise the member is scored against the current tier:
// meeting it extends the consecutive streak and may make the tier
// permanent, failing it resets the streak and extends the failing streak,
// which demotes once it exceeds the applicable grace.
func Decide(p plan.Plan, in Input, now time.Time) Decision {
	if in.State.LastPeriodStart != nil && !in.PeriodStart.After(*in.State.LastPeriodStart) {
		return Decision{Skipped: true, From: in.CurrentTier, To: in.CurrentTier, Transition: TransitionNone}
	}

	current, ok := p.Tier(in.CurrentTier)
	if !ok {
		current = p.LowestTier()
	}

	periodStart := in.PeriodStart
	state := in.State
	state.MemberID = in.MemberID
	state.LastPeriodStart = &periodStart
	state.UpdatedAt = now

	d := Decision{From: in.CurrentTier, To: current.Code, Transition: TransitionNone}
	if current.Code != in.CurrentTier {
		// unknown stored tier falls back to the entry tier
		d.Transition = TransitionDemoted
	}

	if highest, ok := p.HighestMet(in.ActiveReferrals, in.TeamVolume); ok && highest.Rank > current.Rank {
		d.To = highest.Code
		d.Transition = TransitionPromoted
		d.Meets = true
		state.FailingMonths = 0
		d.Progress, d.BecamePermanent = advance(highest, progressFor(in, highest.Code), periodStart, now)
		d.State = state
		return d
	}

	progress := progressFor(in, current.Code)
	if current.Meets(in.ActiveReferrals, in.TeamVolume) {
		d.Meets = true
		state.FailingMonths = 0
		d.Progress, d.BecamePermanent = advance(current, progress, periodStart, now)
		d.State = state
		return d
	}

	progress.ConsecutiveMonths = 0
	progress.LastPeriodStart = &periodStart
	progress.UpdatedAt = now
	state.FailingMonths++

	grace := p.GraceMonths
	if progress.Permanent {
		grace = p.PermanentGraceMonths
	}
	demote := state.FailingMonths > grace
	if progress.Permanent && p.PermanentGraceMonths == 0 {
		demote = false
	}
	if demote {
		if lower, ok := highestLowerMet(p, current, in.ActiveReferrals, in.TeamVolume); ok {
			d.To = lower.Code
			d.Transition = TransitionDemoted
			state.FailingMonths = 0
		}
	}

	d.Progress = progress
	d.State = state
	return d
}

func progressFor(in Input, tier string) TierProgress {
	if p, ok := in.Progress[tier]; ok {
		return p
	}
	return TierProgress{MemberID: in.MemberID, Tier: tier}
}

func advance(t plan.Tier, progress TierProgress, periodStart, now time.Time) (TierProgress, bool) {
	progress.ConsecutiveMonths++
	progress.LastPeriodStart = &periodStart
	progress.UpdatedAt = now
	if progress.Permanent || t.PermanentAfterMonths <= 0 || progress.ConsecutiveMonths < t.PermanentAfterMonths {
		return progress, false
	}
	progress.Permanent = true
	at := now
	progress.PermanentAt = &at
	return progress, true
}

// highestLowerMet returns the best tier below current that is still met,
// or the entry tier when none is. ok is false when current is already the
// entry tier.
func highestLowerMet(p plan.Plan, current plan.Tier, activeReferrals int, teamVolume decimal.Decimal) (plan.Tier, bool) {
	lowest := p.LowestTier()
	if current.Rank <= lowest.Rank {
		return plan.Tier{}, false
	}
	for i := len(p.Tiers) - 1; i >= 0; i-- {
		t := p.Tiers[i]
		if t.Rank >= current.Rank {
			continue
		}
		if t.Meets(activeReferrals, teamVolume) {
			return t, true
		}
	}
	return lowest, true
}
