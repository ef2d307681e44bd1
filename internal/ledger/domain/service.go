package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Service interface {
	// PostTx writes a balanced entry inside tx. A repeated
	// (source_type, source_ref) is a no-op reported as false.
	PostTx(ctx context.Context, tx *gorm.DB, entry Entry) (bool, error)
	// MemberPayable returns the net amount owed to a member.
	MemberPayable(ctx context.Context, memberID snowflake.ID) (decimal.Decimal, error)
}

var (
	ErrInvalidSourceType    = errors.New("invalid_source_type")
	ErrInvalidSourceRef     = errors.New("invalid_source_ref")
	ErrInvalidCurrency      = errors.New("invalid_currency")
	ErrInvalidOccurredAt    = errors.New("invalid_occurred_at")
	ErrInvalidEntryLines    = errors.New("invalid_entry_lines")
	ErrInvalidAccount       = errors.New("invalid_account")
	ErrInvalidLineDirection = errors.New("invalid_line_direction")
	ErrInvalidLineAmount    = errors.New("invalid_line_amount")
	ErrUnbalancedEntry      = errors.New("unbalanced_entry")
)

// ValidateBalanced checks that debits equal credits.
func ValidateBalanced(lines []LedgerEntryLine) error {
	debits := decimal.Zero
	credits := decimal.Zero
	for _, line := range lines {
		switch line.Direction {
		case LedgerEntryDirectionDebit:
			debits = debits.Add(line.Amount)
		case LedgerEntryDirectionCredit:
			credits = credits.Add(line.Amount)
		default:
			return ErrInvalidLineDirection
		}
	}
	if !debits.Equal(credits) {
		return ErrUnbalancedEntry
	}
	return nil
}
