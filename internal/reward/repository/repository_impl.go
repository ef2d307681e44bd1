package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/uplink/internal/reward/domain"
	"gorm.io/gorm"
)

const allocationColumns = `id, member_id, reward_code, status, team_volume_at_allocation,
	referrals_at_allocation, depth_at_allocation, tier_at_allocation, allocated_at, delivered_at,
	maintenance_due_at, violation_started_at, last_checked_at, transferred_at, revoked_at,
	revoke_reason, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, a *domain.Allocation) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO reward_allocations (`+allocationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.MemberID,
		a.RewardCode,
		a.Status,
		a.TeamVolumeAtAllocation,
		a.ReferralsAtAllocation,
		a.DepthAtAllocation,
		a.TierAtAllocation,
		a.AllocatedAt,
		a.DeliveredAt,
		a.MaintenanceDueAt,
		a.ViolationStartedAt,
		a.LastCheckedAt,
		a.TransferredAt,
		a.RevokedAt,
		a.RevokeReason,
		a.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.Allocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM reward_allocations WHERE id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var a domain.Allocation
	if err := db.WithContext(ctx).Raw(query, id).Scan(&a).Error; err != nil {
		return nil, err
	}
	if a.ID == 0 {
		return nil, nil
	}
	return &a, nil
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, memberID snowflake.ID, rewardCode string) (*domain.Allocation, error) {
	var a domain.Allocation
	err := db.WithContext(ctx).Raw(
		`SELECT `+allocationColumns+` FROM reward_allocations
		WHERE member_id = ? AND reward_code = ? AND status <> ?`,
		memberID,
		rewardCode,
		domain.AllocationStatusRevoked,
	).Scan(&a).Error
	if err != nil {
		return nil, err
	}
	if a.ID == 0 {
		return nil, nil
	}
	return &a, nil
}

func (r *repo) ListByMember(ctx context.Context, db *gorm.DB, memberID snowflake.ID) ([]domain.Allocation, error) {
	var rows []domain.Allocation
	err := db.WithContext(ctx).Raw(
		`SELECT `+allocationColumns+` FROM reward_allocations WHERE member_id = ? ORDER BY allocated_at, id`,
		memberID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, now time.Time) ([]domain.Allocation, error) {
	var rows []domain.Allocation
	err := db.WithContext(ctx).Raw(
		`SELECT `+allocationColumns+` FROM reward_allocations
		WHERE status IN ? AND maintenance_due_at <= ?
		ORDER BY maintenance_due_at, id`,
		[]domain.AllocationStatus{
			domain.AllocationStatusAllocated,
			domain.AllocationStatusDelivered,
			domain.AllocationStatusMaintenanceCompliant,
			domain.AllocationStatusMaintenanceViolation,
		},
		now,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, a *domain.Allocation) error {
	return db.WithContext(ctx).Exec(
		`UPDATE reward_allocations SET
			status = ?,
			delivered_at = ?,
			maintenance_due_at = ?,
			violation_started_at = ?,
			last_checked_at = ?,
			transferred_at = ?,
			revoked_at = ?,
			revoke_reason = ?,
			updated_at = ?
		WHERE id = ?`,
		a.Status,
		a.DeliveredAt,
		a.MaintenanceDueAt,
		a.ViolationStartedAt,
		a.LastCheckedAt,
		a.TransferredAt,
		a.RevokedAt,
		a.RevokeReason,
		a.UpdatedAt,
		a.ID,
	).Error
}
