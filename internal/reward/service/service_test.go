package service

import (
	"context"
	"testing"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditrepo "github.com/smallbiznis/uplink/internal/audit/repository"
	auditservice "github.com/smallbiznis/uplink/internal/audit/service"
	"github.com/smallbiznis/uplink/internal/batch"
	"github.com/smallbiznis/uplink/internal/clock"
	"github.com/smallbiznis/uplink/internal/dbtest"
	"github.com/smallbiznis/uplink/internal/events"
	"github.com/smallbiznis/uplink/internal/lock"
	networkdomain "github.com/smallbiznis/uplink/internal/network/domain"
	networkrepo "github.com/smallbiznis/uplink/internal/network/repository"
	networkservice "github.com/smallbiznis/uplink/internal/network/service"
	"github.com/smallbiznis/uplink/internal/plan"
	qualificationdomain "github.com/smallbiznis/uplink/internal/qualification/domain"
	qualificationrepo "github.com/smallbiznis/uplink/internal/qualification/repository"
	qualificationservice "github.com/smallbiznis/uplink/internal/qualification/service"
	rewarddomain "github.com/smallbiznis/uplink/internal/reward/domain"
	"github.com/smallbiznis/uplink/internal/reward/repository"
	volumedomain "github.com/smallbiznis/uplink/internal/volume/domain"
	volumerepo "github.com/smallbiznis/uplink/internal/volume/repository"
	volumeservice "github.com/smallbiznis/uplink/internal/volume/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2025, 9, 1, 3, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	svc   rewarddomain.Service
	month int
}

func newFixture(t *testing.T, p plan.Plan) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	node := dbtest.Node(t)
	clk := clock.NewFakeClock(testNow)
	provider := plan.Static(p)
	log := zap.NewNop()

	audit := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Repo: auditrepo.Provide(), Clock: clk})
	network := networkservice.NewService(networkservice.Params{
		DB: db, Log: log, GenID: node, Repo: networkrepo.Provide(), Plan: provider, AuditSvc: audit, Clock: clk,
	})
	pool := pond.NewPool(4)
	t.Cleanup(pool.StopAndWait)
	volume := volumeservice.NewService(volumeservice.Params{
		DB: db, Log: log, GenID: node, Repo: volumerepo.Provide(), NetworkSvc: network, Plan: provider, Pool: pool, Clock: clk,
	})
	qualification := qualificationservice.NewService(qualificationservice.Params{
		DB: db, Log: log, Repo: qualificationrepo.Provide(), NetworkSvc: network, VolumeSvc: volume, Plan: provider, Pool: pool, Clock: clk,
	})

	svc := NewService(Params{
		DB:               db,
		Log:              log,
		GenID:            node,
		Repo:             repository.Provide(),
		Stock:            repository.ProvideStock(),
		NetworkSvc:       network,
		VolumeSvc:        volume,
		QualificationSvc: qualification,
		Outbox:           events.NewOutbox(events.OutboxParams{Log: log, GenID: node, Clock: clk}),
		Plan:             provider,
		Pool:             pool,
		Locks:            lock.New(lock.NewLocalLocker(), 200).WithIntervals(time.Millisecond, 5*time.Millisecond),
		AuditSvc:         audit,
		Clock:            clk,
	})
	require.NoError(t, svc.EnsureInventory(context.Background()))

	for id, tier := range map[int64]string{1: "silver", 2: "silver", 3: "starter"} {
		memberID := snowflake.ID(id)
		_, err := network.RegisterMember(context.Background(), networkdomain.RegisterMemberRequest{ID: &memberID, Tier: tier})
		require.NoError(t, err)
	}
	return &fixture{db: db, node: node, clock: clk, svc: svc, month: 1}
}

// qualify gives the member a standing that meets the smartphone reward.
func (f *fixture) qualify(t *testing.T, id int64) {
	t.Helper()
	f.standing(t, id, 9, 6000000, 3)
	require.NoError(t, f.db.Create(&qualificationdomain.TierProgress{
		MemberID:          snowflake.ID(id),
		Tier:              "silver",
		ConsecutiveMonths: 3,
		UpdatedAt:         testNow,
	}).Error)
}

// standing writes a newer volume record so it becomes the member's latest.
func (f *fixture) standing(t *testing.T, id int64, refs int, teamVolume int64, depth int) {
	t.Helper()
	period := volumedomain.MonthOf(time.Date(2025, time.Month(f.month), 1, 0, 0, 0, 0, time.UTC))
	f.month++
	require.NoError(t, f.db.Create(&volumedomain.TeamVolume{
		ID:                   f.node.Generate(),
		MemberID:             snowflake.ID(id),
		PeriodStart:          period.Start,
		PeriodEnd:            period.End,
		PersonalVolume:       decimal.Zero,
		TeamVolume:           decimal.NewFromInt(teamVolume),
		ActiveReferralsCount: refs,
		TeamDepth:            depth,
		ComputedAt:           testNow,
	}).Error)
}

func countEvents(t *testing.T, db *gorm.DB, eventType events.EventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&events.OutboxEvent{}).Where("type = ?", string(eventType)).Count(&n).Error)
	return n
}

func TestEvaluateRewardEligibilityAllocatesOnce(t *testing.T) {
	f := newFixture(t, plan.Default())
	ctx := context.Background()
	f.qualify(t, 1)

	first, err := f.svc.EvaluateRewardEligibility(ctx, 1, "smartphone")
	require.NoError(t, err)
	assert.Equal(t, rewarddomain.OutcomeAllocated, first.Outcome)
	require.NotNil(t, first.Allocation)
	assert.Equal(t, rewarddomain.AllocationStatusAllocated, first.Allocation.Status)
	assert.Equal(t, 9, first.Allocation.ReferralsAtAllocation)
	assert.Equal(t, 3, first.Allocation.DepthAtAllocation)
	assert.Equal(t, "silver", first.Allocation.TierAtAllocation)

	second, err := f.svc.EvaluateRewardEligibility(ctx, 1, "smartphone")
	require.NoError(t, err)
	assert.Equal(t, rewarddomain.OutcomeAlreadyAllocated, second.Outcome)
	assert.Equal(t, first.Allocation.ID, second.Allocation.ID)

	inv, err := f.svc.Inventory(ctx, "smartphone")
	require.NoError(t, err)
	assert.Equal(t, 1, inv.AllocatedQuantity)
	assert.Equal(t, 100, inv.AvailableQuantity)
	assert.Equal(t, int64(1), countEvents(t, f.db, events.EventRewardAllocated))

	list, err := f.svc.ListByMember(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestEvaluateRewardEligibilityReportsUnmet(t *testing.T) {
	f := newFixture(t, plan.Default())

	eval, err := f.svc.EvaluateRewardEligibility(context.Background(), 3, "smartphone")
	require.NoError(t, err)
	assert.Equal(t, rewarddomain.OutcomeIneligible, eval.Outcome)
	assert.Contains(t, eval.Unmet, rewarddomain.RequirementTier)
	assert.Contains(t, eval.Unmet, rewarddomain.RequirementSustainedMonths)
	assert.Nil(t, eval.Allocation)

	_, err = f.svc.EvaluateRewardEligibility(context.Background(), 3, "yacht")
	assert.ErrorIs(t, err, rewarddomain.ErrRewardNotFound)
}

func TestExhaustedStockIsSkippedAndRetried(t *testing.T) {
	p := plan.Default()
	p.Rewards[0].InitialQuantity = 1
	f := newFixture(t, p)
	ctx := context.Background()
	f.qualify(t, 1)
	f.qualify(t, 2)

	first, err := f.svc.EvaluateRewardEligibility(ctx, 1, "smartphone")
	require.NoError(t, err)
	assert.Equal(t, rewarddomain.OutcomeAllocated, first.Outcome)

	second, err := f.svc.EvaluateRewardEligibility(ctx, 2, "smartphone")
	require.NoError(t, err)
	assert.Equal(t, rewarddomain.OutcomeOutOfStock, second.Outcome)

	result, err := f.svc.EligibilitySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, result.Processed)
	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, 1, result.FailedCount(batch.KindBusinessRule))

	_, err = f.svc.Restock(ctx, "smartphone", 1)
	require.NoError(t, err)

	result, err = f.svc.EligibilitySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Empty(t, result.Failed)

	inv, err := f.svc.Inventory(ctx, "smartphone")
	require.NoError(t, err)
	assert.Equal(t, 2, inv.AllocatedQuantity)
	assert.Equal(t, 0, inv.Remaining())

	_, err = f.svc.Restock(ctx, "smartphone", 0)
	assert.ErrorIs(t, err, rewarddomain.ErrInvalidQuantity)
}

func TestMaintenanceViolationKeepsStartAndRestores(t *testing.T) {
	p := plan.Default()
	f := newFixture(t, p)
	ctx := context.Background()
	f.qualify(t, 1)

	eval, err := f.svc.EvaluateRewardEligibility(ctx, 1, "smartphone")
	require.NoError(t, err)
	id := eval.Allocation.ID

	// not due yet
	result, err := f.svc.MaintenanceSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)

	f.standing(t, 1, 2, 100000, 1)
	f.clock.Advance(p.MaintenanceInterval + time.Hour)
	violationStart := f.clock.Now().UTC()

	result, err = f.svc.MaintenanceSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)

	a, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rewarddomain.AllocationStatusMaintenanceViolation, a.Status)
	require.NotNil(t, a.ViolationStartedAt)
	assert.True(t, a.ViolationStartedAt.Equal(violationStart))

	f.clock.Advance(30 * day)
	a, err = f.svc.CheckMaintenance(ctx, id)
	require.NoError(t, err)
	assert.True(t, a.ViolationStartedAt.Equal(violationStart), "violation start survives later checks")

	duration, err := f.svc.ViolationDuration(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 30*day, duration)
	expired, err := f.svc.GraceExpired(ctx, id)
	require.NoError(t, err)
	assert.False(t, expired)

	f.clock.Advance(31 * day)
	expired, err = f.svc.GraceExpired(ctx, id)
	require.NoError(t, err)
	assert.True(t, expired)

	f.standing(t, 1, 9, 6000000, 3)
	a, err = f.svc.CheckMaintenance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rewarddomain.AllocationStatusMaintenanceCompliant, a.Status)
	assert.Nil(t, a.ViolationStartedAt)

	assert.Equal(t, int64(1), countEvents(t, f.db, events.EventRewardMaintenanceViolation))
	assert.Equal(t, int64(1), countEvents(t, f.db, events.EventRewardMaintenanceRestored))
}

func TestAllocationLifecycle(t *testing.T) {
	f := newFixture(t, plan.Default())
	ctx := context.Background()
	f.qualify(t, 1)

	eval, err := f.svc.EvaluateRewardEligibility(ctx, 1, "smartphone")
	require.NoError(t, err)
	id := eval.Allocation.ID

	_, err = f.svc.TransferOwnership(ctx, id, "ops")
	assert.ErrorIs(t, err, rewarddomain.ErrInvalidTransition)

	_, err = f.svc.MarkDelivered(ctx, id, "")
	assert.ErrorIs(t, err, rewarddomain.ErrInvalidActor)

	a, err := f.svc.MarkDelivered(ctx, id, "ops")
	require.NoError(t, err)
	assert.Equal(t, rewarddomain.AllocationStatusDelivered, a.Status)
	require.NotNil(t, a.DeliveredAt)

	a, err = f.svc.TransferOwnership(ctx, id, "ops")
	require.NoError(t, err)
	assert.Equal(t, rewarddomain.AllocationStatusOwnershipTransferred, a.Status)

	_, err = f.svc.CheckMaintenance(ctx, id)
	assert.ErrorIs(t, err, rewarddomain.ErrInvalidTransition)
	_, err = f.svc.Revoke(ctx, id, "ops", "lost")
	assert.ErrorIs(t, err, rewarddomain.ErrInvalidTransition)

	_, err = f.svc.Get(ctx, 999)
	assert.ErrorIs(t, err, rewarddomain.ErrAllocationNotFound)
}

func TestRevokeReleasesStockAndAllowsReallocation(t *testing.T) {
	f := newFixture(t, plan.Default())
	ctx := context.Background()
	f.qualify(t, 1)

	eval, err := f.svc.EvaluateRewardEligibility(ctx, 1, "smartphone")
	require.NoError(t, err)

	_, err = f.svc.Revoke(ctx, eval.Allocation.ID, "ops", " ")
	assert.ErrorIs(t, err, rewarddomain.ErrInvalidReason)

	revoked, err := f.svc.Revoke(ctx, eval.Allocation.ID, "ops", "asset recovered")
	require.NoError(t, err)
	assert.Equal(t, rewarddomain.AllocationStatusRevoked, revoked.Status)
	require.NotNil(t, revoked.RevokeReason)

	inv, err := f.svc.Inventory(ctx, "smartphone")
	require.NoError(t, err)
	assert.Equal(t, 0, inv.AllocatedQuantity)

	again, err := f.svc.EvaluateRewardEligibility(ctx, 1, "smartphone")
	require.NoError(t, err)
	assert.Equal(t, rewarddomain.OutcomeAllocated, again.Outcome)
	assert.NotEqual(t, eval.Allocation.ID, again.Allocation.ID)

	var audits int64
	require.NoError(t, f.db.Table("audit_logs").Where("action = ?", "reward.revoked").Count(&audits).Error)
	assert.Equal(t, int64(1), audits)
}
