package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/uplink/internal/qualification/domain"
	"gorm.io/gorm"
)

const progressColumns = `member_id, tier, consecutive_months, permanent, permanent_at, last_period_start, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindState(ctx context.Context, db *gorm.DB, memberID snowflake.ID, forUpdate bool) (*domain.State, error) {
	query := `SELECT member_id, last_period_start, failing_months, updated_at
		FROM member_qualification_states WHERE member_id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var state domain.State
	if err := db.WithContext(ctx).Raw(query, memberID).Scan(&state).Error; err != nil {
		return nil, err
	}
	if state.MemberID == 0 {
		return nil, nil
	}
	return &state, nil
}

func (r *repo) UpsertState(ctx context.Context, db *gorm.DB, state *domain.State) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO member_qualification_states (member_id, last_period_start, failing_months, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (member_id) DO UPDATE SET
			last_period_start = excluded.last_period_start,
			failing_months = excluded.failing_months,
			updated_at = excluded.updated_at`,
		state.MemberID,
		state.LastPeriodStart,
		state.FailingMonths,
		state.UpdatedAt,
	).Error
}

func (r *repo) ListProgress(ctx context.Context, db *gorm.DB, memberID snowflake.ID) ([]domain.TierProgress, error) {
	var rows []domain.TierProgress
	err := db.WithContext(ctx).Raw(
		`SELECT `+progressColumns+` FROM member_tier_progress WHERE member_id = ? ORDER BY tier`,
		memberID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) FindProgress(ctx context.Context, db *gorm.DB, memberID snowflake.ID, tier string) (*domain.TierProgress, error) {
	var row domain.TierProgress
	err := db.WithContext(ctx).Raw(
		`SELECT `+progressColumns+` FROM member_tier_progress WHERE member_id = ? AND tier = ?`,
		memberID,
		tier,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.MemberID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) UpsertProgress(ctx context.Context, db *gorm.DB, progress *domain.TierProgress) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO member_tier_progress (`+progressColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (member_id, tier) DO UPDATE SET
			consecutive_months = excluded.consecutive_months,
			permanent = excluded.permanent,
			permanent_at = excluded.permanent_at,
			last_period_start = excluded.last_period_start,
			updated_at = excluded.updated_at`,
		progress.MemberID,
		progress.Tier,
		progress.ConsecutiveMonths,
		progress.Permanent,
		progress.PermanentAt,
		progress.LastPeriodStart,
		progress.UpdatedAt,
	).Error
}
