package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/uplink/internal/network/domain"
	"gorm.io/gorm"
)

const memberColumns = `id, referrer_id, network_path, network_level, subscription_status,
	current_tier, tier_entered_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, member *domain.Member) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO members (`+memberColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		member.ID,
		member.ReferrerID,
		member.NetworkPath,
		member.NetworkLevel,
		member.SubscriptionStatus,
		member.CurrentTier,
		member.TierEnteredAt,
		member.CreatedAt,
		member.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Member, error) {
	var member domain.Member
	err := db.WithContext(ctx).Raw(
		`SELECT `+memberColumns+` FROM members WHERE id = ?`,
		id,
	).Scan(&member).Error
	if err != nil {
		return nil, err
	}
	if member.ID == 0 {
		return nil, nil
	}
	return &member, nil
}

func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]domain.Member, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var members []domain.Member
	err := db.WithContext(ctx).Raw(
		`SELECT `+memberColumns+` FROM members WHERE id IN ? ORDER BY id`,
		ids,
	).Scan(&members).Error
	return members, err
}

func (r *repo) FindChildren(ctx context.Context, db *gorm.DB, parentIDs []snowflake.ID) ([]domain.Member, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	var members []domain.Member
	err := db.WithContext(ctx).Raw(
		`SELECT `+memberColumns+` FROM members WHERE referrer_id IN ? ORDER BY id`,
		parentIDs,
	).Scan(&members).Error
	return members, err
}

func (r *repo) FindByPathPrefix(ctx context.Context, db *gorm.DB, prefix string) ([]domain.Member, error) {
	var members []domain.Member
	err := db.WithContext(ctx).Raw(
		`SELECT `+memberColumns+` FROM members
		WHERE network_path LIKE ? AND network_path <> ?
		ORDER BY network_level, id`,
		prefix+"%",
		prefix,
	).Scan(&members).Error
	return members, err
}

func (r *repo) ListAll(ctx context.Context, db *gorm.DB) ([]domain.Member, error) {
	var members []domain.Member
	err := db.WithContext(ctx).Raw(
		`SELECT ` + memberColumns + ` FROM members ORDER BY id`,
	).Scan(&members).Error
	return members, err
}

func (r *repo) UpdatePath(ctx context.Context, db *gorm.DB, id snowflake.ID, path string, level int, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE members SET network_path = ?, network_level = ?, updated_at = ? WHERE id = ?`,
		path,
		level,
		updatedAt,
		id,
	).Error
}

func (r *repo) UpdateSubscriptionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.SubscriptionStatus, updatedAt time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE members SET subscription_status = ?, updated_at = ? WHERE id = ?`,
		status,
		updatedAt,
		id,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) UpdateTier(ctx context.Context, db *gorm.DB, id snowflake.ID, tier string, enteredAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE members SET current_tier = ?, tier_entered_at = ?, updated_at = ? WHERE id = ?`,
		tier,
		enteredAt,
		enteredAt,
		id,
	).Error
}

func (r *repo) InsertHistory(ctx context.Context, db *gorm.DB, history *domain.TierHistory) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO member_tier_history (id, member_id, tier, previous_tier, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		history.ID,
		history.MemberID,
		history.Tier,
		history.PreviousTier,
		history.Reason,
		history.OccurredAt,
	).Error
}

func (r *repo) ListHistory(ctx context.Context, db *gorm.DB, memberID snowflake.ID) ([]domain.TierHistory, error) {
	var history []domain.TierHistory
	err := db.WithContext(ctx).Raw(
		`SELECT id, member_id, tier, previous_tier, reason, occurred_at
		FROM member_tier_history WHERE member_id = ? ORDER BY occurred_at, id`,
		memberID,
	).Scan(&history).Error
	return history, err
}
