package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/uplink/internal/audit/domain"
	"github.com/smallbiznis/uplink/internal/dbtest"
	ledgerdomain "github.com/smallbiznis/uplink/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingAudit struct {
	actions []string
}

func (r *recordingAudit) AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	r.actions = append(r.actions, action)
	return nil
}

func (r *recordingAudit) AuditLogTx(ctx context.Context, tx *gorm.DB, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	r.actions = append(r.actions, action)
	return nil
}

func (r *recordingAudit) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func newTestService(t *testing.T) (*gorm.DB, ledgerdomain.Service, *recordingAudit) {
	t.Helper()
	db := dbtest.Open(t)
	audit := &recordingAudit{}
	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    dbtest.Node(t),
		AuditSvc: audit,
	})
	return db, svc, audit
}

func commissionEntry(ref string, member snowflake.ID, amount string) ledgerdomain.Entry {
	return ledgerdomain.Entry{
		SourceType: ledgerdomain.SourceTypeCommission,
		SourceRef:  ref,
		Currency:   "ugx",
		OccurredAt: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		Lines: ledgerdomain.Transfer(
			ledgerdomain.AccountCodeCommissionExpense,
			ledgerdomain.AccountCodeMemberPayable,
			member,
			decimal.RequireFromString(amount),
		),
	}
}

func TestPostTxIsIdempotentPerSource(t *testing.T) {
	db, svc, audit := newTestService(t)
	ctx := context.Background()
	member := snowflake.ID(101)

	var first, second bool
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		first, err = svc.PostTx(ctx, tx, commissionEntry("c-1", member, "1500.00"))
		if err != nil {
			return err
		}
		second, err = svc.PostTx(ctx, tx, commissionEntry("c-1", member, "1500.00"))
		return err
	})
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, []string{"ledger.entry_created"}, audit.actions)

	var lines int64
	require.NoError(t, db.Model(&ledgerdomain.LedgerEntryLine{}).Count(&lines).Error)
	assert.Equal(t, int64(2), lines)

	payable, err := svc.MemberPayable(ctx, member)
	require.NoError(t, err)
	assert.True(t, payable.Equal(decimal.RequireFromString("1500")), payable.String())
}

func TestPostTxNegativeTransferReversesSides(t *testing.T) {
	db, svc, _ := newTestService(t)
	ctx := context.Background()
	member := snowflake.ID(7)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		if _, err := svc.PostTx(ctx, tx, commissionEntry("c-9", member, "200")); err != nil {
			return err
		}
		_, err := svc.PostTx(ctx, tx, ledgerdomain.Entry{
			SourceType: ledgerdomain.SourceTypeCommissionAdjustment,
			SourceRef:  "c-9:adj:1",
			Currency:   "UGX",
			OccurredAt: time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC),
			Lines: ledgerdomain.Transfer(
				ledgerdomain.AccountCodeAdjustment,
				ledgerdomain.AccountCodeMemberPayable,
				member,
				decimal.NewFromInt(-50),
			),
		})
		return err
	}))

	payable, err := svc.MemberPayable(ctx, member)
	require.NoError(t, err)
	assert.True(t, payable.Equal(decimal.NewFromInt(150)), payable.String())
}

func TestPostTxValidation(t *testing.T) {
	db, svc, _ := newTestService(t)
	ctx := context.Background()

	unbalanced := commissionEntry("c-2", 1, "10")
	unbalanced.Lines[1].Amount = decimal.NewFromInt(9)

	cases := []struct {
		name  string
		entry ledgerdomain.Entry
		want  error
	}{
		{name: "missing source type", entry: ledgerdomain.Entry{SourceRef: "x"}, want: ledgerdomain.ErrInvalidSourceType},
		{name: "missing ref", entry: ledgerdomain.Entry{SourceType: ledgerdomain.SourceTypeCommission}, want: ledgerdomain.ErrInvalidSourceRef},
		{name: "unbalanced", entry: unbalanced, want: ledgerdomain.ErrUnbalancedEntry},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.PostTx(ctx, db, tc.entry)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
