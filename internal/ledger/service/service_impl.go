package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/uplink/internal/audit/domain"
	"github.com/smallbiznis/uplink/internal/clock"
	ledgerdomain "github.com/smallbiznis/uplink/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/uplink/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	AuditSvc   auditdomain.Service `optional:"true"`
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	auditSvc   auditdomain.Service
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		auditSvc:   p.AuditSvc,
		clock:      c,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) PostTx(ctx context.Context, tx *gorm.DB, entry ledgerdomain.Entry) (bool, error) {
	sourceType := ledgerdomain.LedgerSourceType(strings.TrimSpace(string(entry.SourceType)))
	if sourceType == "" {
		return false, ledgerdomain.ErrInvalidSourceType
	}
	sourceRef := strings.TrimSpace(entry.SourceRef)
	if sourceRef == "" {
		return false, ledgerdomain.ErrInvalidSourceRef
	}
	currency := strings.ToUpper(strings.TrimSpace(entry.Currency))
	if currency == "" {
		return false, ledgerdomain.ErrInvalidCurrency
	}
	if entry.OccurredAt.IsZero() {
		return false, ledgerdomain.ErrInvalidOccurredAt
	}
	if len(entry.Lines) < 2 {
		return false, ledgerdomain.ErrInvalidEntryLines
	}

	normalized := make([]ledgerdomain.LedgerEntryLine, 0, len(entry.Lines))
	for _, line := range entry.Lines {
		if strings.TrimSpace(string(line.AccountCode)) == "" {
			return false, ledgerdomain.ErrInvalidAccount
		}
		direction, err := normalizeDirection(line.Direction)
		if err != nil {
			return false, err
		}
		if line.Amount.IsNegative() {
			return false, ledgerdomain.ErrInvalidLineAmount
		}
		normalized = append(normalized, ledgerdomain.LedgerEntryLine{
			AccountCode: line.AccountCode,
			MemberID:    line.MemberID,
			Direction:   direction,
			Amount:      line.Amount.Round(2),
		})
	}

	if err := ledgerdomain.ValidateBalanced(normalized); err != nil {
		return false, err
	}

	entryID := s.genID.Generate()
	now := s.clock.Now().UTC()
	result := tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_entries (
			id, source_type, source_ref, currency, occurred_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_type, source_ref) DO NOTHING`,
		entryID,
		sourceType,
		sourceRef,
		currency,
		entry.OccurredAt.UTC(),
		now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	for _, line := range normalized {
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO ledger_entry_lines (
				id, ledger_entry_id, account_code, member_id, direction, amount, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			s.genID.Generate(),
			entryID,
			string(line.AccountCode),
			line.MemberID,
			string(line.Direction),
			line.Amount,
			now,
		).Error; err != nil {
			return false, err
		}
	}

	if s.auditSvc != nil {
		entryIDStr := entryID.String()
		metadata := map[string]any{
			"source_type":     string(sourceType),
			"source_ref":      sourceRef,
			"ledger_entry_id": entryIDStr,
		}
		if err := s.auditSvc.AuditLogTx(ctx, tx, "", nil, "ledger.entry_created", "ledger_entry", &entryIDStr, metadata); err != nil {
			s.log.Warn("failed to write ledger audit log", zap.Error(err))
			return false, err
		}
	}

	s.obsMetrics.RecordLedgerEntry(ctx, string(sourceType))
	return true, nil
}

func (s *Service) MemberPayable(ctx context.Context, memberID snowflake.ID) (decimal.Decimal, error) {
	var lines []ledgerdomain.LedgerEntryLine
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id, ledger_entry_id, account_code, member_id, direction, amount, created_at
		FROM ledger_entry_lines
		WHERE member_id = ? AND account_code = ?`,
		memberID,
		string(ledgerdomain.AccountCodeMemberPayable),
	).Scan(&lines).Error; err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, line := range lines {
		if line.Direction == ledgerdomain.LedgerEntryDirectionCredit {
			total = total.Add(line.Amount)
		} else {
			total = total.Sub(line.Amount)
		}
	}
	return total, nil
}

func normalizeDirection(direction ledgerdomain.LedgerEntryDirection) (ledgerdomain.LedgerEntryDirection, error) {
	normalized := strings.ToLower(strings.TrimSpace(string(direction)))
	switch normalized {
	case string(ledgerdomain.LedgerEntryDirectionDebit):
		return ledgerdomain.LedgerEntryDirectionDebit, nil
	case string(ledgerdomain.LedgerEntryDirectionCredit):
		return ledgerdomain.LedgerEntryDirectionCredit, nil
	default:
		return "", ledgerdomain.ErrInvalidLineDirection
	}
}
