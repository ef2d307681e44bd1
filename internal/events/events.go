// Package events implements the transactional outbox. Engines write events
// in the same database transaction as the state change; the relay forwards
// them to the notification collaborator afterwards.
package events

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EventType string

const (
	EventCommissionPosted           EventType = "commission.posted"
	EventCommissionAdjusted         EventType = "commission.adjusted"
	EventCommissionApproved         EventType = "commission.approved"
	EventCommissionRejected         EventType = "commission.rejected"
	EventTierAdvanced               EventType = "tier.advanced"
	EventTierDemoted                EventType = "tier.demoted"
	EventTierPermanent              EventType = "tier.permanent"
	EventRewardAllocated            EventType = "reward.allocated"
	EventRewardMaintenanceViolation EventType = "reward.maintenance_violation"
	EventRewardMaintenanceRestored  EventType = "reward.maintenance_restored"
	EventRewardRevoked              EventType = "reward.revoked"
)

var (
	ErrInvalidEventType = errors.New("invalid_event_type")
	ErrInvalidDedupeKey = errors.New("invalid_dedupe_key")
)

// Event is what engines publish.
type Event struct {
	Type        EventType
	AggregateID snowflake.ID
	Payload     map[string]any
	DedupeKey   string
}

// OutboxEvent is the persisted form of an Event.
type OutboxEvent struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	Type         string            `gorm:"type:text;not null;index" json:"type"`
	AggregateID  snowflake.ID      `gorm:"not null;index" json:"aggregate_id"`
	Payload      datatypes.JSONMap `gorm:"not null" json:"payload"`
	DedupeKey    string            `gorm:"type:text;not null;uniqueIndex:ux_domain_events_dedupe" json:"dedupe_key"`
	OccurredAt   time.Time         `gorm:"not null" json:"occurred_at"`
	DispatchedAt *time.Time        `gorm:"index" json:"dispatched_at,omitempty"`
	Attempts     int               `gorm:"not null;default:0" json:"attempts"`
	LastError    *string           `gorm:"type:text" json:"last_error,omitempty"`
}

// TableName sets the database table name.
func (OutboxEvent) TableName() string { return "domain_events" }
