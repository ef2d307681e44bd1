package service

import (
	"context"
	"testing"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/uplink/internal/batch"
	"github.com/smallbiznis/uplink/internal/clock"
	commissiondomain "github.com/smallbiznis/uplink/internal/commission/domain"
	"github.com/smallbiznis/uplink/internal/dbtest"
	networkdomain "github.com/smallbiznis/uplink/internal/network/domain"
	networkrepo "github.com/smallbiznis/uplink/internal/network/repository"
	networkservice "github.com/smallbiznis/uplink/internal/network/service"
	"github.com/smallbiznis/uplink/internal/plan"
	volumedomain "github.com/smallbiznis/uplink/internal/volume/domain"
	"github.com/smallbiznis/uplink/internal/volume/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	testNow    = time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)
	testPeriod = volumedomain.MonthOf(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
)

type fixture struct {
	db   *gorm.DB
	svc  volumedomain.Service
	node *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	node := dbtest.Node(t)
	clk := clock.NewFakeClock(testNow)
	provider := plan.Static(plan.Default())
	network := networkservice.NewService(networkservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  networkrepo.Provide(),
		Plan:  provider,
		Clock: clk,
	})
	pool := pond.NewPool(4)
	t.Cleanup(pool.StopAndWait)

	svc := NewService(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Repo:       repository.Provide(),
		NetworkSvc: network,
		Plan:       provider,
		Pool:       pool,
		Clock:      clk,
	})
	return &fixture{db: db, svc: svc, node: node}
}

func (f *fixture) member(t *testing.T, id int64, path string, active bool) {
	t.Helper()
	ids, err := networkdomain.DecodePath(path)
	require.NoError(t, err)
	var referrer *snowflake.ID
	if len(ids) > 1 {
		r := ids[len(ids)-2]
		referrer = &r
	}
	status := networkdomain.SubscriptionStatusActive
	if !active {
		status = networkdomain.SubscriptionStatusInactive
	}
	require.NoError(t, f.db.Create(&networkdomain.Member{
		ID:                 snowflake.ID(id),
		ReferrerID:         referrer,
		NetworkPath:        path,
		NetworkLevel:       len(ids) - 1,
		SubscriptionStatus: status,
		CurrentTier:        "starter",
		TierEnteredAt:      testNow,
		CreatedAt:          testNow,
		UpdatedAt:          testNow,
	}).Error)
}

func (f *fixture) transaction(t *testing.T, payer int64, amount string, txType string, at time.Time) {
	t.Helper()
	require.NoError(t, f.db.Create(&commissiondomain.Transaction{
		ID:          f.node.Generate(),
		ExternalRef: f.node.Generate().String(),
		PayerID:     snowflake.ID(payer),
		Amount:      decimal.RequireFromString(amount),
		Type:        txType,
		Qualifying:  true,
		OccurredAt:  at,
		ProcessedAt: at,
	}).Error)
}

func seedTree(t *testing.T, f *fixture) {
	//      1
	//    /   \
	//   2     3(inactive)
	//   |
	//   4
	f.member(t, 1, "/1/", true)
	f.member(t, 2, "/1/2/", true)
	f.member(t, 3, "/1/3/", false)
	f.member(t, 4, "/1/2/4/", true)

	in := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	f.transaction(t, 1, "100", "subscription", in)
	f.transaction(t, 2, "250.50", "subscription", in)
	f.transaction(t, 4, "400", "renewal", in)
	f.transaction(t, 4, "1000", "withdrawal", in)
	f.transaction(t, 3, "75", "subscription", in)
	f.transaction(t, 2, "9999", "subscription", testPeriod.End)
}

func TestComputePeriodVolumesBottomUp(t *testing.T) {
	f := newFixture(t)
	seedTree(t, f)
	ctx := context.Background()

	result, err := f.svc.ComputePeriodVolumes(ctx, testPeriod)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Succeeded)
	assert.Empty(t, result.Failed)

	root, err := f.svc.ForPeriod(ctx, 1, testPeriod)
	require.NoError(t, err)
	assert.True(t, root.PersonalVolume.Equal(decimal.NewFromInt(100)), root.PersonalVolume.String())
	assert.True(t, root.TeamVolume.Equal(decimal.RequireFromString("825.5")), root.TeamVolume.String())
	assert.Equal(t, 1, root.ActiveReferralsCount)
	assert.Equal(t, 2, root.TeamDepth)

	mid, err := f.svc.ForPeriod(ctx, 2, testPeriod)
	require.NoError(t, err)
	assert.True(t, mid.TeamVolume.Equal(decimal.RequireFromString("650.5")))
	assert.Equal(t, 1, mid.TeamDepth)

	leaf, err := f.svc.ForPeriod(ctx, 4, testPeriod)
	require.NoError(t, err)
	assert.Equal(t, 0, leaf.TeamDepth)
	assert.True(t, leaf.TeamVolume.Equal(leaf.PersonalVolume))
}

func TestTeamVolumeEqualsPersonalPlusChildren(t *testing.T) {
	f := newFixture(t)
	seedTree(t, f)
	ctx := context.Background()

	_, err := f.svc.ComputePeriodVolumes(ctx, testPeriod)
	require.NoError(t, err)

	children := map[snowflake.ID][]snowflake.ID{1: {2, 3}, 2: {4}}
	for _, id := range []snowflake.ID{1, 2, 3, 4} {
		rec, err := f.svc.ForPeriod(ctx, id, testPeriod)
		require.NoError(t, err)
		sum := rec.PersonalVolume
		for _, childID := range children[id] {
			child, err := f.svc.ForPeriod(ctx, childID, testPeriod)
			require.NoError(t, err)
			sum = sum.Add(child.TeamVolume)
		}
		assert.True(t, rec.TeamVolume.Equal(sum), "member %d", id)
	}
}

func TestComputePeriodVolumesIsIdempotent(t *testing.T) {
	f := newFixture(t)
	seedTree(t, f)
	ctx := context.Background()

	_, err := f.svc.ComputePeriodVolumes(ctx, testPeriod)
	require.NoError(t, err)
	first, err := f.svc.ForPeriod(ctx, 1, testPeriod)
	require.NoError(t, err)

	_, err = f.svc.ComputePeriodVolumes(ctx, testPeriod)
	require.NoError(t, err)
	second, err := f.svc.ForPeriod(ctx, 1, testPeriod)
	require.NoError(t, err)

	var count int64
	require.NoError(t, f.db.Model(&volumedomain.TeamVolume{}).Count(&count).Error)
	assert.Equal(t, int64(4), count)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.TeamVolume.Equal(second.TeamVolume))
	assert.Equal(t, first.TeamDepth, second.TeamDepth)
	assert.Equal(t, first.ActiveReferralsCount, second.ActiveReferralsCount)
}

func TestComputePeriodVolumesIsolatesBadMembers(t *testing.T) {
	f := newFixture(t)
	f.member(t, 1, "/1/", true)
	f.member(t, 2, "/1/2/", true)
	f.member(t, 5, "/1/2/5/", true)
	f.member(t, 3, "/1/3/", true)
	// level says 3 but the parent sits at level 1
	require.NoError(t, f.db.Exec(`UPDATE members SET network_level = 3 WHERE id = 3`).Error)

	in := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	f.transaction(t, 2, "-50", "subscription", in)
	f.transaction(t, 5, "80", "subscription", in)
	f.transaction(t, 3, "70", "subscription", in)
	f.transaction(t, 1, "10", "subscription", in)

	result, err := f.svc.ComputePeriodVolumes(context.Background(), testPeriod)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Processed)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 2, result.FailedCount(batch.KindDataIntegrity))

	_, err = f.svc.ForPeriod(context.Background(), 2, testPeriod)
	assert.ErrorIs(t, err, volumedomain.ErrVolumeNotFound)

	root, err := f.svc.ForPeriod(context.Background(), 1, testPeriod)
	require.NoError(t, err)
	assert.True(t, root.TeamVolume.Equal(decimal.NewFromInt(10)), root.TeamVolume.String())
	assert.Equal(t, 2, root.TeamDepth)
}

func TestLatestFor(t *testing.T) {
	f := newFixture(t)
	seedTree(t, f)
	ctx := context.Background()

	_, err := f.svc.ComputePeriodVolumes(ctx, volumedomain.PreviousMonth(testPeriod.Start))
	require.NoError(t, err)
	_, err = f.svc.ComputePeriodVolumes(ctx, testPeriod)
	require.NoError(t, err)

	latest, err := f.svc.LatestFor(ctx, []snowflake.ID{1, 4, 99})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, testPeriod.Start, latest[1].PeriodStart.UTC())

	rec, err := f.svc.Latest(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, testPeriod.Start, rec.PeriodStart.UTC())

	_, err = f.svc.Latest(ctx, 99)
	assert.ErrorIs(t, err, volumedomain.ErrVolumeNotFound)
}
