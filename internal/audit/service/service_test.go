package service

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/uplink/internal/audit/domain"
	"github.com/smallbiznis/uplink/internal/audit/repository"
	"github.com/smallbiznis/uplink/internal/auditcontext"
	"github.com/smallbiznis/uplink/internal/clock"
	"github.com/smallbiznis/uplink/internal/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) auditdomain.Service {
	t.Helper()
	return NewService(Params{
		DB:    dbtest.Open(t),
		Log:   zap.NewNop(),
		GenID: dbtest.Node(t),
		Repo:  repository.Provide(),
		Clock: clock.NewFakeClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)),
	})
}

func TestAuditLogResolvesActorFromContext(t *testing.T) {
	svc := newTestService(t)

	ctx := auditcontext.WithActor(context.Background(), "admin", "ops-7")
	ctx = auditcontext.WithRequestID(ctx, "req-123")
	target := "42"

	err := svc.AuditLog(ctx, "", nil, "commission.adjusted", "commission", &target, map[string]any{
		"reason": "duplicate payout",
		"phone":  "256700123456",
	})
	require.NoError(t, err)

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{TargetType: "commission"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.Equal(t, "admin", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "ops-7", *entry.ActorID)
	assert.Equal(t, "req-123", entry.Metadata["request_id"])
	assert.Equal(t, "****3456", entry.Metadata["phone"])
	assert.Equal(t, "duplicate payout", entry.Metadata["reason"])
}

func TestAuditLogDefaultsToSystemActor(t *testing.T) {
	svc := newTestService(t)

	require.NoError(t, svc.AuditLog(context.Background(), "", nil, "tier.advanced", "member", nil, nil))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, string(auditdomain.ActorTypeSystem), resp.AuditLogs[0].ActorType)
	assert.Nil(t, resp.AuditLogs[0].ActorID)
}

func TestAuditLogRejectsEmptyAction(t *testing.T) {
	svc := newTestService(t)
	err := svc.AuditLog(context.Background(), "admin", nil, "  ", "member", nil, nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListPaginates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.AuditLog(ctx, "scheduler", nil, "reward.checked", "reward_allocation", nil, nil))
	}

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	require.NotEmpty(t, first.NextPageToken)
	assert.Greater(t, first.AuditLogs[0].ID, first.AuditLogs[1].ID)

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{PageSize: 2, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.Empty(t, second.NextPageToken)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{PageToken: "nope"})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}

func TestListRejectsInvertedRange(t *testing.T) {
	svc := newTestService(t)
	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	_, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}
