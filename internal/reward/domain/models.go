package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type AllocationStatus string

const (
	AllocationStatusAllocated            AllocationStatus = "allocated"
	AllocationStatusDelivered            AllocationStatus = "delivered"
	AllocationStatusMaintenanceCompliant AllocationStatus = "maintenance_compliant"
	AllocationStatusMaintenanceViolation AllocationStatus = "maintenance_violation"
	AllocationStatusOwnershipTransferred AllocationStatus = "ownership_transferred"
	AllocationStatusRevoked              AllocationStatus = "revoked"
)

// UnderMaintenance reports whether the allocation is still subject to
// periodic maintenance checks.
func (s AllocationStatus) UnderMaintenance() bool {
	switch s {
	case AllocationStatusAllocated, AllocationStatusDelivered,
		AllocationStatusMaintenanceCompliant, AllocationStatusMaintenanceViolation:
		return true
	default:
		return false
	}
}

// Allocation is a reward granted to a member with the snapshot that
// justified it. At most one non-revoked allocation exists per member and
// reward.
type Allocation struct {
	ID                     snowflake.ID     `gorm:"primaryKey" json:"id"`
	MemberID               snowflake.ID     `gorm:"not null;index;uniqueIndex:ux_reward_allocations_active,priority:1,where:status <> 'revoked'" json:"member_id"`
	RewardCode             string           `gorm:"type:text;not null;uniqueIndex:ux_reward_allocations_active,priority:2,where:status <> 'revoked'" json:"reward_code"`
	Status                 AllocationStatus `gorm:"type:text;not null;index" json:"status"`
	TeamVolumeAtAllocation decimal.Decimal  `gorm:"type:numeric(20,2);not null" json:"team_volume_at_allocation"`
	ReferralsAtAllocation  int              `gorm:"not null" json:"referrals_at_allocation"`
	DepthAtAllocation      int              `gorm:"not null" json:"depth_at_allocation"`
	TierAtAllocation       string           `gorm:"type:text;not null" json:"tier_at_allocation"`
	AllocatedAt            time.Time        `gorm:"not null" json:"allocated_at"`
	DeliveredAt            *time.Time       `json:"delivered_at,omitempty"`
	MaintenanceDueAt       time.Time        `gorm:"not null;index" json:"maintenance_due_at"`
	ViolationStartedAt     *time.Time       `json:"violation_started_at,omitempty"`
	LastCheckedAt          *time.Time       `json:"last_checked_at,omitempty"`
	TransferredAt          *time.Time       `json:"transferred_at,omitempty"`
	RevokedAt              *time.Time       `json:"revoked_at,omitempty"`
	RevokeReason           *string          `gorm:"type:text" json:"revoke_reason,omitempty"`
	UpdatedAt              time.Time        `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Allocation) TableName() string { return "reward_allocations" }

// Inventory is the stock of one reward.
type Inventory struct {
	RewardCode        string    `gorm:"primaryKey;type:text" json:"reward_code"`
	AvailableQuantity int       `gorm:"not null" json:"available_quantity"`
	AllocatedQuantity int       `gorm:"not null;default:0" json:"allocated_quantity"`
	UpdatedAt         time.Time `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Inventory) TableName() string { return "reward_inventory" }

// Remaining returns the units still available for allocation.
func (i Inventory) Remaining() int {
	if i.AllocatedQuantity >= i.AvailableQuantity {
		return 0
	}
	return i.AvailableQuantity - i.AllocatedQuantity
}
