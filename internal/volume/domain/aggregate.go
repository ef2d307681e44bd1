package domain

import (
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// ChildResult is what a parent needs to know about one direct child.
type ChildResult struct {
	MemberID   snowflake.ID
	Active     bool
	Excluded   bool
	TeamVolume decimal.Decimal
	TeamDepth  int
}

// Computed is the aggregate of one member for a period.
type Computed struct {
	MemberID             snowflake.ID
	PersonalVolume       decimal.Decimal
	TeamVolume           decimal.Decimal
	ActiveReferralsCount int
	TeamDepth            int
}

// Compute folds the already computed children into a member's aggregate.
// Excluded children still count as referrals and depth, but their volume
// never reaches the parent.
func Compute(memberID snowflake.ID, personal decimal.Decimal, children []ChildResult) (Computed, error) {
	if personal.IsNegative() {
		return Computed{}, ErrNegativeVolume
	}

	out := Computed{
		MemberID:       memberID,
		PersonalVolume: personal,
		TeamVolume:     personal,
	}
	for _, child := range children {
		if child.Active {
			out.ActiveReferralsCount++
		}
		if child.TeamDepth+1 > out.TeamDepth {
			out.TeamDepth = child.TeamDepth + 1
		}
		if child.Excluded {
			continue
		}
		out.TeamVolume = out.TeamVolume.Add(child.TeamVolume)
	}
	return out, nil
}

// Record converts a computation into the stored row.
func (c Computed) Record(id snowflake.ID, period Period) TeamVolume {
	return TeamVolume{
		ID:                   id,
		MemberID:             c.MemberID,
		PeriodStart:          period.Start,
		PeriodEnd:            period.End,
		PersonalVolume:       c.PersonalVolume,
		TeamVolume:           c.TeamVolume,
		ActiveReferralsCount: c.ActiveReferralsCount,
		TeamDepth:            c.TeamDepth,
	}
}

// LevelOrder groups member ids by network level, deepest level first. Ids
// within a level are ascending.
func LevelOrder(levels map[snowflake.ID]int) [][]snowflake.ID {
	grouped := make(map[int][]snowflake.ID)
	for id, level := range levels {
		grouped[level] = append(grouped[level], id)
	}
	keys := make([]int, 0, len(grouped))
	for level := range grouped {
		keys = append(keys, level)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(keys)))

	out := make([][]snowflake.ID, 0, len(keys))
	for _, level := range keys {
		ids := grouped[level]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out = append(out, ids)
	}
	return out
}
