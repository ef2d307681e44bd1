package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// LedgerEntryDirection represents debit or credit postings.
type LedgerEntryDirection string

const (
	LedgerEntryDirectionDebit  LedgerEntryDirection = "debit"
	LedgerEntryDirectionCredit LedgerEntryDirection = "credit"
)

type LedgerSourceType string

const (
	SourceTypeCommission           LedgerSourceType = "commission"            // commission posted as paid
	SourceTypeCommissionAdjustment LedgerSourceType = "commission_adjustment" // audited amount correction
	SourceTypeCommissionApproval   LedgerSourceType = "commission_approval"   // held commission released
	SourceTypeAchievementBonus     LedgerSourceType = "achievement_bonus"     // one-time tier bonus
)

type LedgerAccountCode string

const (
	// Expenses
	AccountCodeCommissionExpense LedgerAccountCode = "commission_expense"

	// Liabilities
	AccountCodeMemberPayable LedgerAccountCode = "member_payable"

	// Equity / Adjustment
	AccountCodeAdjustment LedgerAccountCode = "adjustment"
)

// LedgerEntry captures the immutable header for a financial event.
type LedgerEntry struct {
	ID         snowflake.ID     `gorm:"primaryKey"`
	SourceType LedgerSourceType `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_source,priority:1"`
	SourceRef  string           `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_source,priority:2"`
	Currency   string           `gorm:"type:text;not null"`
	OccurredAt time.Time        `gorm:"not null"`
	CreatedAt  time.Time        `gorm:"not null"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }

// LedgerEntryLine is a double-entry posting line. MemberID is set on
// member_payable lines.
type LedgerEntryLine struct {
	ID            snowflake.ID         `gorm:"primaryKey"`
	LedgerEntryID snowflake.ID         `gorm:"not null;index"`
	AccountCode   LedgerAccountCode    `gorm:"type:text;not null"`
	MemberID      *snowflake.ID        `gorm:"index"`
	Direction     LedgerEntryDirection `gorm:"type:text;not null"`
	Amount        decimal.Decimal      `gorm:"type:numeric(20,2);not null"`
	CreatedAt     time.Time            `gorm:"not null"`
}

// TableName sets the database table name.
func (LedgerEntryLine) TableName() string { return "ledger_entry_lines" }

// Entry is the input to a posting.
type Entry struct {
	SourceType LedgerSourceType
	SourceRef  string
	Currency   string
	OccurredAt time.Time
	Lines      []LedgerEntryLine
}

// Transfer builds the two lines that move amount between a debit and a
// credit account. A negative amount swaps the sides.
func Transfer(debit, credit LedgerAccountCode, memberID snowflake.ID, amount decimal.Decimal) []LedgerEntryLine {
	if amount.IsNegative() {
		debit, credit = credit, debit
		amount = amount.Neg()
	}
	lines := []LedgerEntryLine{
		{AccountCode: debit, Direction: LedgerEntryDirectionDebit, Amount: amount},
		{AccountCode: credit, Direction: LedgerEntryDirectionCredit, Amount: amount},
	}
	for i := range lines {
		if lines[i].AccountCode == AccountCodeMemberPayable {
			id := memberID
			lines[i].MemberID = &id
		}
	}
	return lines
}
