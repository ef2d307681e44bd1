package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	commissiondomain "github.com/smallbiznis/uplink/internal/commission/domain"
	"github.com/smallbiznis/uplink/internal/config"
	"github.com/smallbiznis/uplink/internal/dbtest"
	networkdomain "github.com/smallbiznis/uplink/internal/network/domain"
	qualificationdomain "github.com/smallbiznis/uplink/internal/qualification/domain"
	rewarddomain "github.com/smallbiznis/uplink/internal/reward/domain"
	volumedomain "github.com/smallbiznis/uplink/internal/volume/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeCommissionService struct {
	commissiondomain.Service

	processed []commissiondomain.TransactionEvent
	adjusted  []commissiondomain.AdjustRequest
	approved  []string
	err       error
}

func (f *fakeCommissionService) ProcessTransaction(_ context.Context, evt commissiondomain.TransactionEvent) ([]commissiondomain.Commission, error) {
	f.processed = append(f.processed, evt)
	if f.err != nil {
		return nil, f.err
	}
	return []commissiondomain.Commission{{
		ID:             snowflake.ID(900),
		SourceRef:      evt.ExternalRef,
		ReferrerID:     snowflake.ID(3),
		ReferredID:     evt.PayerID,
		CommissionType: commissiondomain.CommissionTypeReferral,
		Level:          1,
		Amount:         evt.Amount.Mul(decimal.NewFromInt(10)).Div(decimal.NewFromInt(100)),
		Status:         commissiondomain.CommissionStatusPaid,
	}}, nil
}

func (f *fakeCommissionService) Adjust(_ context.Context, req commissiondomain.AdjustRequest) (*commissiondomain.Commission, error) {
	f.adjusted = append(f.adjusted, req)
	if f.err != nil {
		return nil, f.err
	}
	return &commissiondomain.Commission{ID: req.CommissionID, Amount: req.NewAmount}, nil
}

func (f *fakeCommissionService) Approve(_ context.Context, id snowflake.ID, actor string) (*commissiondomain.Commission, error) {
	f.approved = append(f.approved, actor)
	if f.err != nil {
		return nil, f.err
	}
	return &commissiondomain.Commission{ID: id, Status: commissiondomain.CommissionStatusPaid}, nil
}

type fakeNetworkService struct {
	networkdomain.Service

	registered []networkdomain.RegisterMemberRequest
	err        error
}

func (f *fakeNetworkService) RegisterMember(_ context.Context, req networkdomain.RegisterMemberRequest) (*networkdomain.Member, error) {
	f.registered = append(f.registered, req)
	if f.err != nil {
		return nil, f.err
	}
	return &networkdomain.Member{ID: snowflake.ID(77), ReferrerID: req.ReferrerID, SubscriptionStatus: req.SubscriptionStatus}, nil
}

func (f *fakeNetworkService) Get(_ context.Context, id snowflake.ID) (*networkdomain.Member, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &networkdomain.Member{ID: id, CurrentTier: "bronze"}, nil
}

type fakeQualificationService struct {
	qualificationdomain.Service

	periods []volumedomain.Period
	err     error
}

func (f *fakeQualificationService) EvaluateTierQualification(_ context.Context, memberID snowflake.ID, period volumedomain.Period) (*qualificationdomain.Evaluation, error) {
	f.periods = append(f.periods, period)
	if f.err != nil {
		return nil, f.err
	}
	return &qualificationdomain.Evaluation{MemberID: memberID, Tier: "silver"}, nil
}

type fakeRewardService struct {
	rewarddomain.Service

	revokeReasons []string
	err           error
}

func (f *fakeRewardService) Revoke(_ context.Context, id snowflake.ID, actor, reason string) (*rewarddomain.Allocation, error) {
	f.revokeReasons = append(f.revokeReasons, reason)
	if f.err != nil {
		return nil, f.err
	}
	return &rewarddomain.Allocation{ID: id, Status: rewarddomain.AllocationStatusRevoked}, nil
}

type testServer struct {
	server        *Server
	commissions   *fakeCommissionService
	network       *fakeNetworkService
	qualification *fakeQualificationService
	rewards       *fakeRewardService
}

func newTestServer(t *testing.T, db *gorm.DB) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		commissions:   &fakeCommissionService{},
		network:       &fakeNetworkService{},
		qualification: &fakeQualificationService{},
		rewards:       &fakeRewardService{},
	}
	ts.server = NewServer(ServerParams{
		Gin:              NewEngine(false),
		Cfg:              config.Config{Environment: "test"},
		DB:               db,
		NetworkSvc:       ts.network,
		CommissionSvc:    ts.commissions,
		QualificationSvc: ts.qualification,
		RewardSvc:        ts.rewards,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

var admin = map[string]string{HeaderActor: "ops@uplink"}

func TestProcessTransaction(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/transactions",
		`{"external_ref":"inv-1","payer_id":"4","amount":"1000.00","type":"subscription","occurred_at":"2025-05-10T08:00:00Z"}`, nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, ts.commissions.processed, 1)
	evt := ts.commissions.processed[0]
	assert.Equal(t, "inv-1", evt.ExternalRef)
	assert.Equal(t, snowflake.ID(4), evt.PayerID)
	assert.True(t, evt.Amount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, time.Date(2025, 5, 10, 8, 0, 0, 0, time.UTC), evt.OccurredAt)

	var resp struct {
		Data []commissiondomain.Commission `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.True(t, resp.Data[0].Amount.Equal(decimal.NewFromInt(100)))
}

func TestProcessTransactionErrors(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		err      error
		status   int
		errType  string
		wantCode string
	}{
		{name: "malformed body", body: `{"payer_id":4`, status: http.StatusBadRequest, errType: "validation_error", wantCode: "invalid_request"},
		{name: "invalid amount", body: `{"external_ref":"x","payer_id":"4","amount":"0","type":"subscription"}`, err: commissiondomain.ErrInvalidAmount, status: http.StatusBadRequest, errType: "validation_error", wantCode: "invalid_amount"},
		{name: "unknown payer", body: `{"external_ref":"x","payer_id":"4","amount":"5","type":"subscription"}`, err: commissiondomain.ErrPayerNotFound, status: http.StatusNotFound, errType: "not_found"},
		{name: "unexpected", body: `{"external_ref":"x","payer_id":"4","amount":"5","type":"subscription"}`, err: assert.AnError, status: http.StatusInternalServerError, errType: "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.commissions.err = tc.err

			w := ts.do(t, http.MethodPost, "/v1/transactions", tc.body, nil)

			require.Equal(t, tc.status, w.Code, w.Body.String())
			payload := decodeError(t, w)
			assert.Equal(t, tc.errType, payload.Type)
			if tc.wantCode != "" {
				require.NotEmpty(t, payload.Errors)
				assert.Equal(t, tc.wantCode, payload.Errors[0].Code)
			}
		})
	}
}

func TestRegisterMember(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/members", `{"referrer_id":"1","subscription_status":"inactive"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, ts.network.registered, 1)
	req := ts.network.registered[0]
	require.NotNil(t, req.ReferrerID)
	assert.Equal(t, snowflake.ID(1), *req.ReferrerID)
	assert.Equal(t, networkdomain.SubscriptionStatusInactive, req.SubscriptionStatus)

	w = ts.do(t, http.MethodPost, "/v1/members", `{}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, networkdomain.SubscriptionStatusActive, ts.network.registered[1].SubscriptionStatus)

	w = ts.do(t, http.MethodPost, "/v1/members", `{"subscription_status":"paused"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ts.network.err = networkdomain.ErrMemberExists
	w = ts.do(t, http.MethodPost, "/v1/members", `{"id":"5"}`, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "member_already_exists", decodeError(t, w).Message)
}

func TestAdminRoutesRequireActor(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/admin/commissions/900/approve", ``, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, ts.commissions.approved)

	w = ts.do(t, http.MethodPost, "/v1/admin/commissions/900/approve", ``, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"ops@uplink"}, ts.commissions.approved)
}

func TestAdjustCommission(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/admin/commissions/900/adjust", `{"amount":"80.00","reason":" clawback "}`, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, ts.commissions.adjusted, 1)
	req := ts.commissions.adjusted[0]
	assert.Equal(t, snowflake.ID(900), req.CommissionID)
	assert.True(t, req.NewAmount.Equal(decimal.NewFromInt(80)))
	assert.Equal(t, "clawback", req.Reason)
	assert.Equal(t, "ops@uplink", req.Actor)

	w = ts.do(t, http.MethodPost, "/v1/admin/commissions/abc/adjust", `{"amount":"1","reason":"x"}`, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for _, body := range []string{`{"reason":"clawback"}`, `{"amount":null,"reason":"clawback"}`} {
		w = ts.do(t, http.MethodPost, "/v1/admin/commissions/900/adjust", body, admin)
		require.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "invalid_amount", decodeError(t, w).Errors[0].Code)
	}
	require.Len(t, ts.commissions.adjusted, 1)

	ts.commissions.err = commissiondomain.ErrInsufficientBalance
	w = ts.do(t, http.MethodPost, "/v1/admin/commissions/900/adjust", `{"amount":"0","reason":"fraud"}`, admin)
	assert.Equal(t, http.StatusConflict, w.Code)

	ts.commissions.err = commissiondomain.ErrCommissionNotFound
	w = ts.do(t, http.MethodPost, "/v1/admin/commissions/901/adjust", `{"amount":"0","reason":"fraud"}`, admin)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEvaluateQualificationParsesPeriod(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/admin/members/12/qualification/evaluate", `{"period":"2025-05"}`, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, ts.qualification.periods, 1)
	assert.Equal(t, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), ts.qualification.periods[0].Start)

	w = ts.do(t, http.MethodPost, "/v1/admin/members/12/qualification/evaluate", `{"period":"May"}`, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_period", decodeError(t, w).Errors[0].Code)
}

func TestEvaluateQualificationWithoutVolumeRecord(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.qualification.err = fmt.Errorf("%w: member 12 period 2025-05", qualificationdomain.ErrVolumeMissing)

	w := ts.do(t, http.MethodPost, "/v1/admin/members/12/qualification/evaluate", `{"period":"2025-05"}`, admin)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
}

func TestRevokeReward(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/admin/reward-allocations/55/revoke", `{"reason":"fraudulent volume"}`, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"fraudulent volume"}, ts.rewards.revokeReasons)

	ts.rewards.err = rewarddomain.ErrInvalidTransition
	w = ts.do(t, http.MethodPost, "/v1/admin/reward-allocations/55/revoke", `{"reason":"again"}`, admin)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHealthzAndFallback(t *testing.T) {
	ts := newTestServer(t, dbtest.Open(t))

	w := ts.do(t, http.MethodGet, "/healthz", ``, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/nowhere", ``, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeError(t, w).Type)
}

func TestRateLimitPassesThroughWhenDisabled(t *testing.T) {
	ts := newTestServer(t, nil)

	for i := 0; i < 3; i++ {
		w := ts.do(t, http.MethodPost, "/v1/transactions",
			`{"external_ref":"inv-`+string(rune('a'+i))+`","payer_id":"4","amount":"10","type":"subscription"}`, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Len(t, ts.commissions.processed, 3)
}
