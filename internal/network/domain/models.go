package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusInactive SubscriptionStatus = "inactive"
)

type TierChangeReason string

const (
	TierChangeSignup            TierChangeReason = "signup"
	TierChangePromoted          TierChangeReason = "promoted"
	TierChangeFailedMaintenance TierChangeReason = "failed_maintenance"
)

// Member is a node of the referral network. ReferrerID never changes after
// registration; NetworkPath and NetworkLevel are derived from it.
type Member struct {
	ID                 snowflake.ID       `gorm:"primaryKey" json:"id"`
	ReferrerID         *snowflake.ID      `gorm:"index" json:"referrer_id,omitempty"`
	NetworkPath        string             `gorm:"type:text;not null;index" json:"network_path"`
	NetworkLevel       int                `gorm:"not null;default:0;index" json:"network_level"`
	SubscriptionStatus SubscriptionStatus `gorm:"type:text;not null" json:"subscription_status"`
	CurrentTier        string             `gorm:"type:text;not null" json:"current_tier"`
	TierEnteredAt      time.Time          `gorm:"not null" json:"tier_entered_at"`
	CreatedAt          time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Member) TableName() string { return "members" }

// IsActive reports whether the member currently holds an active subscription.
func (m Member) IsActive() bool {
	return m.SubscriptionStatus == SubscriptionStatusActive
}

// Path decodes NetworkPath.
func (m Member) Path() ([]snowflake.ID, error) {
	return DecodePath(m.NetworkPath)
}

// TierHistory records every tier a member has held.
type TierHistory struct {
	ID           snowflake.ID     `gorm:"primaryKey" json:"id"`
	MemberID     snowflake.ID     `gorm:"not null;index" json:"member_id"`
	Tier         string           `gorm:"type:text;not null" json:"tier"`
	PreviousTier string           `gorm:"type:text" json:"previous_tier,omitempty"`
	Reason       TierChangeReason `gorm:"type:text;not null" json:"reason"`
	OccurredAt   time.Time        `gorm:"not null" json:"occurred_at"`
}

// TableName sets the database table name.
func (TierHistory) TableName() string { return "member_tier_history" }
