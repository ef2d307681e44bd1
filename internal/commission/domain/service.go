package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Service interface {
	// ProcessTransaction records a transaction and posts its commissions as
	// one unit. Re-delivering an external reference returns the records of
	// the first delivery.
	ProcessTransaction(ctx context.Context, evt TransactionEvent) ([]Commission, error)
	Approve(ctx context.Context, id snowflake.ID, actor string) (*Commission, error)
	Reject(ctx context.Context, id snowflake.ID, actor, reason string) (*Commission, error)
	Adjust(ctx context.Context, req AdjustRequest) (*Commission, error)
	// PostAchievementBonusTx pays a tier's achievement bonus inside tx. The
	// caller must hold the member's balance lock. A bonus already paid for
	// the same tier is reported as false.
	PostAchievementBonusTx(ctx context.Context, tx *gorm.DB, memberID snowflake.ID, tier string, amount decimal.Decimal) (bool, error)

	Get(ctx context.Context, id snowflake.ID) (*Commission, error)
	ListByMember(ctx context.Context, memberID snowflake.ID) ([]Commission, error)
	Balance(ctx context.Context, memberID snowflake.ID) (*MemberBalance, error)
}

var (
	ErrInvalidExternalRef     = errors.New("invalid_external_ref")
	ErrInvalidPayer           = errors.New("invalid_payer")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidTransactionType = errors.New("invalid_transaction_type")
	ErrPayerNotFound          = errors.New("payer_not_found")
	ErrCommissionNotFound     = errors.New("commission_not_found")
	ErrCommissionNotPending   = errors.New("commission_not_pending")
	ErrCommissionNotPaid      = errors.New("commission_not_paid")
	ErrInvalidReason          = errors.New("invalid_adjustment_reason")
	ErrInvalidActor           = errors.New("invalid_actor")
	ErrNoChange               = errors.New("adjustment_no_change")
	ErrInsufficientBalance    = errors.New("insufficient_balance")
	ErrInvalidTier            = errors.New("invalid_tier")
	ErrDuplicateLedgerEntry   = errors.New("duplicate_ledger_entry")
)
