package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, member *Member) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Member, error)
	FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Member, error)
	FindChildren(ctx context.Context, db *gorm.DB, parentIDs []snowflake.ID) ([]Member, error)
	FindByPathPrefix(ctx context.Context, db *gorm.DB, prefix string) ([]Member, error)
	ListAll(ctx context.Context, db *gorm.DB) ([]Member, error)
	UpdatePath(ctx context.Context, db *gorm.DB, id snowflake.ID, path string, level int, updatedAt time.Time) error
	UpdateSubscriptionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status SubscriptionStatus, updatedAt time.Time) (int64, error)
	UpdateTier(ctx context.Context, db *gorm.DB, id snowflake.ID, tier string, enteredAt time.Time) error

	InsertHistory(ctx context.Context, db *gorm.DB, history *TierHistory) error
	ListHistory(ctx context.Context, db *gorm.DB, memberID snowflake.ID) ([]TierHistory, error)
}
