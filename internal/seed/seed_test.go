package seed

import (
	"context"
	"strings"
	"testing"
	"time"

	auditrepo "github.com/smallbiznis/uplink/internal/audit/repository"
	auditservice "github.com/smallbiznis/uplink/internal/audit/service"
	"github.com/smallbiznis/uplink/internal/batch"
	"github.com/smallbiznis/uplink/internal/clock"
	"github.com/smallbiznis/uplink/internal/dbtest"
	networkdomain "github.com/smallbiznis/uplink/internal/network/domain"
	networkrepo "github.com/smallbiznis/uplink/internal/network/repository"
	networkservice "github.com/smallbiznis/uplink/internal/network/service"
	"github.com/smallbiznis/uplink/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newNetwork(t *testing.T) networkdomain.Service {
	t.Helper()
	db := dbtest.Open(t)
	node := dbtest.Node(t)
	clk := clock.NewFakeClock(time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC))
	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepo.Provide(),
		Clock: clk,
	})
	return networkservice.NewService(networkservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     networkrepo.Provide(),
		Plan:     plan.Static(plan.Default()),
		AuditSvc: audit,
		Clock:    clk,
	})
}

func TestImportMembersResolvesReferrersOutOfOrder(t *testing.T) {
	svc := newNetwork(t)
	input := `id,referrer_id,subscription_status,tier
3,2,active,
2,1,inactive,
1,,active,
`

	res, err := ImportMembers(context.Background(), svc, nil, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 3, res.Succeeded)
	assert.Empty(t, res.Failed)

	leaf, err := svc.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 2, leaf.NetworkLevel)

	mid, err := svc.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, networkdomain.SubscriptionStatusInactive, mid.SubscriptionStatus)
}

func TestImportMembersIsRerunnable(t *testing.T) {
	svc := newNetwork(t)
	input := "id,referrer_id,subscription_status,tier\n1,,active,\n2,1,active,\n"

	_, err := ImportMembers(context.Background(), svc, nil, strings.NewReader(input))
	require.NoError(t, err)

	res, err := ImportMembers(context.Background(), svc, nil, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 0, res.Succeeded)
	assert.Empty(t, res.Failed)
}

func TestImportMembersRecordsBadRows(t *testing.T) {
	svc := newNetwork(t)
	input := `id,referrer_id,subscription_status,tier
1,,active,
x,1,active,
5,99,active,
6,1,paused,
7,1,active,diamond-plus
`

	res, err := ImportMembers(context.Background(), svc, nil, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, 1, res.Succeeded)
	require.Len(t, res.Failed, 4)
	assert.Equal(t, 4, res.FailedCount(batch.KindDataIntegrity))

	reasons := map[string]string{}
	for _, f := range res.Failed {
		reasons[f.ItemID] = f.Reason
	}
	assert.Equal(t, "invalid_id", reasons["line:3"])
	assert.Equal(t, networkdomain.ErrReferrerNotFound.Error(), reasons["5"])
	assert.Equal(t, networkdomain.ErrInvalidSubscriptionStatus.Error(), reasons["6"])
	assert.Equal(t, networkdomain.ErrInvalidTier.Error(), reasons["7"])
}

func TestImportMembersRejectsUnknownHeader(t *testing.T) {
	svc := newNetwork(t)
	_, err := ImportMembers(context.Background(), svc, nil, strings.NewReader("member,parent,status,tier\n"))
	assert.ErrorIs(t, err, ErrInvalidHeader)
}
