package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// TeamVolume is the monthly activity snapshot of one member. The aggregator
// is its only writer; a re-run overwrites the row for the same period.
type TeamVolume struct {
	ID                   snowflake.ID    `gorm:"primaryKey" json:"id"`
	MemberID             snowflake.ID    `gorm:"not null;uniqueIndex:ux_team_volumes_member_period,priority:1" json:"member_id"`
	PeriodStart          time.Time       `gorm:"not null;uniqueIndex:ux_team_volumes_member_period,priority:2" json:"period_start"`
	PeriodEnd            time.Time       `gorm:"not null" json:"period_end"`
	PersonalVolume       decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"personal_volume"`
	TeamVolume           decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"team_volume"`
	ActiveReferralsCount int             `gorm:"not null;default:0" json:"active_referrals_count"`
	TeamDepth            int             `gorm:"not null;default:0" json:"team_depth"`
	ComputedAt           time.Time       `gorm:"not null" json:"computed_at"`
}

// TableName sets the database table name.
func (TeamVolume) TableName() string { return "team_volumes" }

// Period is a half-open calendar window [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// MonthOf returns the calendar month containing t, in UTC.
func MonthOf(t time.Time) Period {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

// PreviousMonth returns the calendar month before the one containing t.
func PreviousMonth(t time.Time) Period {
	return MonthOf(MonthOf(t).Start.AddDate(0, 0, -1))
}

// ParseMonth parses a YYYY-MM period.
func ParseMonth(value string) (Period, error) {
	t, err := time.Parse("2006-01", value)
	if err != nil {
		return Period{}, ErrInvalidPeriod
	}
	return MonthOf(t), nil
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

func (p Period) Valid() bool {
	return !p.Start.IsZero() && p.End.After(p.Start)
}

func (p Period) String() string {
	return p.Start.Format("2006-01")
}
