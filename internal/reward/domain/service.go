package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/uplink/internal/batch"
)

type Service interface {
	// EvaluateRewardEligibility allocates the reward when the member is
	// eligible and stock remains. An existing allocation is returned as is.
	EvaluateRewardEligibility(ctx context.Context, memberID snowflake.ID, rewardCode string) (*Evaluation, error)
	EligibilitySweep(ctx context.Context) (batch.Result, error)

	CheckMaintenance(ctx context.Context, allocationID snowflake.ID) (*Allocation, error)
	MaintenanceSweep(ctx context.Context) (batch.Result, error)
	ViolationDuration(ctx context.Context, allocationID snowflake.ID) (time.Duration, error)
	GraceExpired(ctx context.Context, allocationID snowflake.ID) (bool, error)

	MarkDelivered(ctx context.Context, allocationID snowflake.ID, actor string) (*Allocation, error)
	TransferOwnership(ctx context.Context, allocationID snowflake.ID, actor string) (*Allocation, error)
	Revoke(ctx context.Context, allocationID snowflake.ID, actor, reason string) (*Allocation, error)

	Get(ctx context.Context, allocationID snowflake.ID) (*Allocation, error)
	ListByMember(ctx context.Context, memberID snowflake.ID) ([]Allocation, error)

	EnsureInventory(ctx context.Context) error
	Restock(ctx context.Context, rewardCode string, quantity int) (*Inventory, error)
	Inventory(ctx context.Context, rewardCode string) (*Inventory, error)
}

type Outcome string

const (
	OutcomeAllocated        Outcome = "allocated"
	OutcomeAlreadyAllocated Outcome = "already_allocated"
	OutcomeIneligible       Outcome = "ineligible"
	OutcomeOutOfStock       Outcome = "out_of_stock"
)

// Evaluation reports what an eligibility check did.
type Evaluation struct {
	MemberID   snowflake.ID `json:"member_id"`
	RewardCode string       `json:"reward_code"`
	Outcome    Outcome      `json:"outcome"`
	Unmet      []string     `json:"unmet,omitempty"`
	Allocation *Allocation  `json:"allocation,omitempty"`
}

var (
	ErrRewardNotFound     = errors.New("reward_not_found")
	ErrMemberNotFound     = errors.New("member_not_found")
	ErrAllocationNotFound = errors.New("allocation_not_found")
	ErrInvalidTransition  = errors.New("invalid_allocation_transition")
	ErrInvalidQuantity    = errors.New("invalid_quantity")
	ErrInvalidReason      = errors.New("invalid_reason")
	ErrInvalidActor       = errors.New("invalid_actor")
	ErrOutOfStock         = errors.New("reward_out_of_stock")
)
