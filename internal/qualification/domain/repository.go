package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindState(ctx context.Context, db *gorm.DB, memberID snowflake.ID, forUpdate bool) (*State, error)
	UpsertState(ctx context.Context, db *gorm.DB, state *State) error
	ListProgress(ctx context.Context, db *gorm.DB, memberID snowflake.ID) ([]TierProgress, error)
	FindProgress(ctx context.Context, db *gorm.DB, memberID snowflake.ID, tier string) (*TierProgress, error)
	UpsertProgress(ctx context.Context, db *gorm.DB, progress *TierProgress) error
}
