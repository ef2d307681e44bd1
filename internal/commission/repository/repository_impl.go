package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/uplink/internal/commission/domain"
	"gorm.io/gorm"
)

const commissionColumns = `id, source_ref, referrer_id, referred_id, commission_type, level, rate,
	base_amount, amount, currency, status, adjusted_by, adjustment_reason, adjusted_at,
	previous_amount, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, tx *domain.Transaction) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO network_transactions (
			id, external_ref, payer_id, amount, type, qualifying, occurred_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_ref) DO NOTHING`,
		tx.ID,
		tx.ExternalRef,
		tx.PayerID,
		tx.Amount,
		tx.Type,
		tx.Qualifying,
		tx.OccurredAt,
		tx.ProcessedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindTransactionByRef(ctx context.Context, db *gorm.DB, externalRef string) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, external_ref, payer_id, amount, type, qualifying, occurred_at, processed_at
		FROM network_transactions WHERE external_ref = ?`,
		externalRef,
	).Scan(&tx).Error
	if err != nil {
		return nil, err
	}
	if tx.ID == 0 {
		return nil, nil
	}
	return &tx, nil
}

func (r *repo) InsertCommission(ctx context.Context, db *gorm.DB, c *domain.Commission) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO commissions (`+commissionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_ref, referrer_id, commission_type, level) DO NOTHING`,
		c.ID,
		c.SourceRef,
		c.ReferrerID,
		c.ReferredID,
		c.CommissionType,
		c.Level,
		c.Rate,
		c.BaseAmount,
		c.Amount,
		c.Currency,
		c.Status,
		c.AdjustedBy,
		c.AdjustmentReason,
		c.AdjustedAt,
		c.PreviousAmount,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.Commission, error) {
	query := `SELECT ` + commissionColumns + ` FROM commissions WHERE id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var c domain.Commission
	if err := db.WithContext(ctx).Raw(query, id).Scan(&c).Error; err != nil {
		return nil, err
	}
	if c.ID == 0 {
		return nil, nil
	}
	return &c, nil
}

func (r *repo) ListBySourceRef(ctx context.Context, db *gorm.DB, sourceRef string) ([]domain.Commission, error) {
	var items []domain.Commission
	err := db.WithContext(ctx).Raw(
		`SELECT `+commissionColumns+` FROM commissions WHERE source_ref = ? ORDER BY id`,
		sourceRef,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ListByReferrer(ctx context.Context, db *gorm.DB, referrerID snowflake.ID) ([]domain.Commission, error) {
	var items []domain.Commission
	err := db.WithContext(ctx).Raw(
		`SELECT `+commissionColumns+` FROM commissions WHERE referrer_id = ? ORDER BY created_at DESC, id DESC`,
		referrerID,
	).Scan(&items).Error
	return items, err
}

func (r *repo) UpdateAdjustment(ctx context.Context, db *gorm.DB, c *domain.Commission) error {
	return db.WithContext(ctx).Exec(
		`UPDATE commissions SET
			amount = ?, previous_amount = ?, adjusted_by = ?, adjustment_reason = ?,
			adjusted_at = ?, updated_at = ?
		WHERE id = ?`,
		c.Amount,
		c.PreviousAmount,
		c.AdjustedBy,
		c.AdjustmentReason,
		c.AdjustedAt,
		c.UpdatedAt,
		c.ID,
	).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, c *domain.Commission, from domain.CommissionStatus) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE commissions SET status = ?, adjusted_by = ?, adjustment_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		c.Status,
		c.AdjustedBy,
		c.AdjustmentReason,
		c.UpdatedAt,
		c.ID,
		from,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) FindBalance(ctx context.Context, db *gorm.DB, memberID snowflake.ID, forUpdate bool) (*domain.MemberBalance, error) {
	query := `SELECT member_id, balance, total_earned, updated_at FROM member_balances WHERE member_id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var balance domain.MemberBalance
	if err := db.WithContext(ctx).Raw(query, memberID).Scan(&balance).Error; err != nil {
		return nil, err
	}
	if balance.MemberID == 0 {
		return nil, nil
	}
	return &balance, nil
}

func (r *repo) UpsertBalance(ctx context.Context, db *gorm.DB, balance *domain.MemberBalance) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO member_balances (member_id, balance, total_earned, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (member_id) DO UPDATE SET
			balance = excluded.balance,
			total_earned = excluded.total_earned,
			updated_at = excluded.updated_at`,
		balance.MemberID,
		balance.Balance,
		balance.TotalEarned,
		balance.UpdatedAt,
	).Error
}
