package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/uplink/internal/reward/domain"
	"gorm.io/gorm"
)

type stock struct{}

func ProvideStock() domain.Stock {
	return &stock{}
}

func (s *stock) Get(ctx context.Context, db *gorm.DB, rewardCode string) (*domain.Inventory, error) {
	var inv domain.Inventory
	err := db.WithContext(ctx).Raw(
		`SELECT reward_code, available_quantity, allocated_quantity, updated_at
		FROM reward_inventory WHERE reward_code = ?`,
		rewardCode,
	).Scan(&inv).Error
	if err != nil {
		return nil, err
	}
	if inv.RewardCode == "" {
		return nil, nil
	}
	return &inv, nil
}

func (s *stock) Ensure(ctx context.Context, db *gorm.DB, rewardCode string, quantity int, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO reward_inventory (reward_code, available_quantity, allocated_quantity, updated_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT (reward_code) DO NOTHING`,
		rewardCode,
		quantity,
		now,
	).Error
}

// Reserve is a single conditional update, so two allocations racing for
// the last unit cannot both win.
func (s *stock) Reserve(ctx context.Context, db *gorm.DB, rewardCode string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE reward_inventory
		SET allocated_quantity = allocated_quantity + 1, updated_at = ?
		WHERE reward_code = ? AND allocated_quantity < available_quantity`,
		now,
		rewardCode,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *stock) Release(ctx context.Context, db *gorm.DB, rewardCode string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE reward_inventory
		SET allocated_quantity = allocated_quantity - 1, updated_at = ?
		WHERE reward_code = ? AND allocated_quantity > 0`,
		now,
		rewardCode,
	).Error
}

func (s *stock) Restock(ctx context.Context, db *gorm.DB, rewardCode string, quantity int, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE reward_inventory
		SET available_quantity = available_quantity + ?, updated_at = ?
		WHERE reward_code = ?`,
		quantity,
		now,
		rewardCode,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
