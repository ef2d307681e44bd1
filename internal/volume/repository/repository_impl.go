package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/uplink/internal/volume/domain"
	"gorm.io/gorm"
)

const volumeColumns = `id, member_id, period_start, period_end, personal_volume, team_volume,
	active_referrals_count, team_depth, computed_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, record *domain.TeamVolume) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO team_volumes (`+volumeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (member_id, period_start) DO UPDATE SET
			period_end = excluded.period_end,
			personal_volume = excluded.personal_volume,
			team_volume = excluded.team_volume,
			active_referrals_count = excluded.active_referrals_count,
			team_depth = excluded.team_depth,
			computed_at = excluded.computed_at`,
		record.ID,
		record.MemberID,
		record.PeriodStart,
		record.PeriodEnd,
		record.PersonalVolume,
		record.TeamVolume,
		record.ActiveReferralsCount,
		record.TeamDepth,
		record.ComputedAt,
	).Error
}

func (r *repo) FindByMemberPeriod(ctx context.Context, db *gorm.DB, memberID snowflake.ID, periodStart time.Time) (*domain.TeamVolume, error) {
	var record domain.TeamVolume
	err := db.WithContext(ctx).Raw(
		`SELECT `+volumeColumns+` FROM team_volumes WHERE member_id = ? AND period_start = ?`,
		memberID,
		periodStart,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) FindLatest(ctx context.Context, db *gorm.DB, memberID snowflake.ID) (*domain.TeamVolume, error) {
	var record domain.TeamVolume
	err := db.WithContext(ctx).Raw(
		`SELECT `+volumeColumns+` FROM team_volumes
		WHERE member_id = ? ORDER BY period_start DESC LIMIT 1`,
		memberID,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) FindByMembers(ctx context.Context, db *gorm.DB, memberIDs []snowflake.ID) ([]domain.TeamVolume, error) {
	if len(memberIDs) == 0 {
		return nil, nil
	}
	var records []domain.TeamVolume
	err := db.WithContext(ctx).Raw(
		`SELECT `+volumeColumns+` FROM team_volumes
		WHERE member_id IN ? ORDER BY member_id, period_start`,
		memberIDs,
	).Scan(&records).Error
	return records, err
}

func (r *repo) ListPeriod(ctx context.Context, db *gorm.DB, periodStart time.Time) ([]domain.TeamVolume, error) {
	var records []domain.TeamVolume
	err := db.WithContext(ctx).Raw(
		`SELECT `+volumeColumns+` FROM team_volumes WHERE period_start = ? ORDER BY member_id`,
		periodStart,
	).Scan(&records).Error
	return records, err
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, start, end time.Time) ([]domain.TransactionAmount, error) {
	var rows []domain.TransactionAmount
	err := db.WithContext(ctx).Raw(
		`SELECT payer_id, type, amount FROM network_transactions
		WHERE occurred_at >= ? AND occurred_at < ?`,
		start,
		end,
	).Scan(&rows).Error
	return rows, err
}
