package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type CommissionType string

const (
	CommissionTypeReferral    CommissionType = "REFERRAL"
	CommissionTypeTeamVolume  CommissionType = "TEAM_VOLUME"
	CommissionTypePerformance CommissionType = "PERFORMANCE"
	CommissionTypeLeadership  CommissionType = "LEADERSHIP"
	CommissionTypeAchievement CommissionType = "ACHIEVEMENT"
)

type CommissionStatus string

const (
	CommissionStatusPaid     CommissionStatus = "paid"
	CommissionStatusPending  CommissionStatus = "pending"
	CommissionStatusRejected CommissionStatus = "rejected"
)

// Transaction is a payment event received from the transaction source.
type Transaction struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	ExternalRef string          `gorm:"type:text;not null;uniqueIndex:ux_network_transactions_ref" json:"external_ref"`
	PayerID     snowflake.ID    `gorm:"not null;index" json:"payer_id"`
	Amount      decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	Type        string          `gorm:"type:text;not null" json:"type"`
	Qualifying  bool            `gorm:"not null" json:"qualifying"`
	OccurredAt  time.Time       `gorm:"not null;index" json:"occurred_at"`
	ProcessedAt time.Time       `gorm:"not null" json:"processed_at"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "network_transactions" }

// Commission is one payout line. The tuple (SourceRef, ReferrerID,
// CommissionType, Level) is unique, which makes every posting idempotent.
type Commission struct {
	ID               snowflake.ID        `gorm:"primaryKey" json:"id"`
	SourceRef        string              `gorm:"type:text;not null;uniqueIndex:ux_commissions_source,priority:1" json:"source_ref"`
	ReferrerID       snowflake.ID        `gorm:"not null;index;uniqueIndex:ux_commissions_source,priority:2" json:"referrer_id"`
	ReferredID       snowflake.ID        `gorm:"not null;index" json:"referred_id"`
	CommissionType   CommissionType      `gorm:"type:text;not null;uniqueIndex:ux_commissions_source,priority:3" json:"commission_type"`
	Level            int                 `gorm:"not null;uniqueIndex:ux_commissions_source,priority:4" json:"level"`
	Rate             decimal.Decimal     `gorm:"type:numeric(9,4);not null" json:"rate"`
	BaseAmount       decimal.Decimal     `gorm:"type:numeric(20,2);not null" json:"base_amount"`
	Amount           decimal.Decimal     `gorm:"type:numeric(20,2);not null" json:"amount"`
	Currency         string              `gorm:"type:text;not null" json:"currency"`
	Status           CommissionStatus    `gorm:"type:text;not null;index" json:"status"`
	AdjustedBy       *string             `gorm:"type:text" json:"adjusted_by,omitempty"`
	AdjustmentReason *string             `gorm:"type:text" json:"adjustment_reason,omitempty"`
	AdjustedAt       *time.Time          `json:"adjusted_at,omitempty"`
	PreviousAmount   decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"previous_amount,omitempty"`
	CreatedAt        time.Time           `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time           `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Commission) TableName() string { return "commissions" }

// MemberBalance is the running commission balance of one member.
type MemberBalance struct {
	MemberID    snowflake.ID    `gorm:"primaryKey;autoIncrement:false" json:"member_id"`
	Balance     decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"balance"`
	TotalEarned decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"total_earned"`
	UpdatedAt   time.Time       `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (MemberBalance) TableName() string { return "member_balances" }

// TransactionEvent is the input of a cascade.
type TransactionEvent struct {
	ExternalRef string          `json:"external_ref"`
	PayerID     snowflake.ID    `json:"payer_id"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// AdjustRequest is an administrative correction of a paid commission.
type AdjustRequest struct {
	CommissionID snowflake.ID
	NewAmount    decimal.Decimal
	Reason       string
	Actor        string
}
