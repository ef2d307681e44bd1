package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/uplink/internal/batch"
	"gorm.io/gorm"
)

type Service interface {
	RegisterMember(ctx context.Context, req RegisterMemberRequest) (*Member, error)
	Get(ctx context.Context, id snowflake.ID) (*Member, error)
	// Upline returns the ancestors of a member, nearest first.
	Upline(ctx context.Context, id snowflake.ID) ([]Member, error)
	DirectChildren(ctx context.Context, id snowflake.ID) ([]Member, error)
	// Subtree returns every descendant of a member, excluding the member.
	Subtree(ctx context.Context, id snowflake.ID) ([]Member, error)
	ListAll(ctx context.Context) ([]Member, error)
	SetSubscriptionStatus(ctx context.Context, id snowflake.ID, status SubscriptionStatus) error
	TierHistory(ctx context.Context, id snowflake.ID) ([]TierHistory, error)
	// ChangeTierTx moves a member to another tier and appends the history
	// entry inside tx.
	ChangeTierTx(ctx context.Context, tx *gorm.DB, change TierChange) error

	RebuildPaths(ctx context.Context) (batch.Result, error)
	RebuildSubtree(ctx context.Context, rootID snowflake.ID) (batch.Result, error)
}

type RegisterMemberRequest struct {
	ID                 *snowflake.ID      `json:"id,omitempty"`
	ReferrerID         *snowflake.ID      `json:"referrer_id,omitempty"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	Tier               string             `json:"tier,omitempty"`
}

type TierChange struct {
	MemberID   snowflake.ID
	From       string
	To         string
	Reason     TierChangeReason
	OccurredAt time.Time
}

var (
	ErrMemberNotFound            = errors.New("member_not_found")
	ErrMemberExists              = errors.New("member_already_exists")
	ErrReferrerNotFound          = errors.New("referrer_not_found")
	ErrInvalidSubscriptionStatus = errors.New("invalid_subscription_status")
	ErrInvalidTier               = errors.New("invalid_tier")
	ErrInvalidPath               = errors.New("invalid_network_path")
	ErrInvalidTierChange         = errors.New("invalid_tier_change")
)

// ParseSubscriptionStatus validates a status value.
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	switch SubscriptionStatus(value) {
	case SubscriptionStatusActive:
		return SubscriptionStatusActive, nil
	case SubscriptionStatusInactive:
		return SubscriptionStatusInactive, nil
	default:
		return "", ErrInvalidSubscriptionStatus
	}
}
