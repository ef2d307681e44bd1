package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// State tracks the evaluation cursor and failing streak of one member.
type State struct {
	MemberID        snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"member_id"`
	LastPeriodStart *time.Time   `json:"last_period_start,omitempty"`
	FailingMonths   int          `gorm:"not null;default:0" json:"failing_months"`
	UpdatedAt       time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (State) TableName() string { return "member_qualification_states" }

// TierProgress counts consecutive qualifying months at one tier.
type TierProgress struct {
	MemberID          snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"member_id"`
	Tier              string       `gorm:"primaryKey;type:text" json:"tier"`
	ConsecutiveMonths int          `gorm:"not null;default:0" json:"consecutive_months"`
	Permanent         bool         `gorm:"not null;default:false" json:"permanent"`
	PermanentAt       *time.Time   `json:"permanent_at,omitempty"`
	LastPeriodStart   *time.Time   `json:"last_period_start,omitempty"`
	UpdatedAt         time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (TierProgress) TableName() string { return "member_tier_progress" }
