package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/uplink/internal/batch"
	volumedomain "github.com/smallbiznis/uplink/internal/volume/domain"
)

type Service interface {
	// EvaluateTierQualification scores one member against the period's
	// team volume record. Re-evaluating a period already seen is a no-op.
	EvaluateTierQualification(ctx context.Context, memberID snowflake.ID, period volumedomain.Period) (*Evaluation, error)
	Sweep(ctx context.Context, period volumedomain.Period) (batch.Result, error)
	Progress(ctx context.Context, memberID snowflake.ID, tier string) (*TierProgress, error)
	State(ctx context.Context, memberID snowflake.ID) (*State, error)
}

// Evaluation reports what a tier evaluation did.
type Evaluation struct {
	MemberID             snowflake.ID    `json:"member_id"`
	Period               string          `json:"period"`
	Skipped              bool            `json:"skipped"`
	PreviousTier         string          `json:"previous_tier"`
	Tier                 string          `json:"tier"`
	Transition           Transition      `json:"transition"`
	Meets                bool            `json:"meets"`
	ConsecutiveMonths    int             `json:"consecutive_months"`
	FailingMonths        int             `json:"failing_months"`
	Permanent            bool            `json:"permanent"`
	AchievementBonusPaid bool            `json:"achievement_bonus_paid"`
	AchievementBonus     decimal.Decimal `json:"achievement_bonus"`
	EvaluatedAt          time.Time       `json:"evaluated_at"`
}

var (
	ErrMemberNotFound = errors.New("member_not_found")
	ErrInvalidPeriod  = errors.New("invalid_period")

	// ErrVolumeMissing means the period has no team volume record for the
	// member, either because aggregation isolated it or has not run yet.
	ErrVolumeMissing = errors.New("team_volume_missing")
)
