package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertTransaction(ctx context.Context, db *gorm.DB, tx *Transaction) (bool, error)
	FindTransactionByRef(ctx context.Context, db *gorm.DB, externalRef string) (*Transaction, error)

	InsertCommission(ctx context.Context, db *gorm.DB, commission *Commission) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*Commission, error)
	ListBySourceRef(ctx context.Context, db *gorm.DB, sourceRef string) ([]Commission, error)
	ListByReferrer(ctx context.Context, db *gorm.DB, referrerID snowflake.ID) ([]Commission, error)
	UpdateAdjustment(ctx context.Context, db *gorm.DB, commission *Commission) error
	UpdateStatus(ctx context.Context, db *gorm.DB, commission *Commission, from CommissionStatus) (int64, error)

	FindBalance(ctx context.Context, db *gorm.DB, memberID snowflake.ID, forUpdate bool) (*MemberBalance, error)
	UpsertBalance(ctx context.Context, db *gorm.DB, balance *MemberBalance) error
}
