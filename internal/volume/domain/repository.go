package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionAmount is one transaction as seen by the aggregator.
type TransactionAmount struct {
	PayerID snowflake.ID
	Type    string
	Amount  decimal.Decimal
}

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, record *TeamVolume) error
	FindByMemberPeriod(ctx context.Context, db *gorm.DB, memberID snowflake.ID, periodStart time.Time) (*TeamVolume, error)
	FindLatest(ctx context.Context, db *gorm.DB, memberID snowflake.ID) (*TeamVolume, error)
	FindByMembers(ctx context.Context, db *gorm.DB, memberIDs []snowflake.ID) ([]TeamVolume, error)
	ListPeriod(ctx context.Context, db *gorm.DB, periodStart time.Time) ([]TeamVolume, error)
	ListTransactions(ctx context.Context, db *gorm.DB, start, end time.Time) ([]TransactionAmount, error)
}
