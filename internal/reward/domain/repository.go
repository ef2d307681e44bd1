package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, allocation *Allocation) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*Allocation, error)
	FindActive(ctx context.Context, db *gorm.DB, memberID snowflake.ID, rewardCode string) (*Allocation, error)
	ListByMember(ctx context.Context, db *gorm.DB, memberID snowflake.ID) ([]Allocation, error)
	// ListDue returns allocations under maintenance whose next check is at
	// or before now.
	ListDue(ctx context.Context, db *gorm.DB, now time.Time) ([]Allocation, error)
	Update(ctx context.Context, db *gorm.DB, allocation *Allocation) error
}

// Stock is the inventory collaborator. Reserve and Release run inside the
// caller's transaction so an allocation and its stock move together.
type Stock interface {
	Get(ctx context.Context, db *gorm.DB, rewardCode string) (*Inventory, error)
	// Ensure creates the row when missing and leaves existing stock alone.
	Ensure(ctx context.Context, db *gorm.DB, rewardCode string, quantity int, now time.Time) error
	// Reserve takes one unit if any remain.
	Reserve(ctx context.Context, db *gorm.DB, rewardCode string, now time.Time) (bool, error)
	Release(ctx context.Context, db *gorm.DB, rewardCode string, now time.Time) error
	Restock(ctx context.Context, db *gorm.DB, rewardCode string, quantity int, now time.Time) (bool, error)
}
