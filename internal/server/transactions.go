package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	commissiondomain "github.com/smallbiznis/uplink/internal/commission/domain"
	"github.com/smallbiznis/uplink/internal/observability/logger"
	"go.uber.org/zap"
)

type processTransactionRequest struct {
	ExternalRef string          `json:"external_ref"`
	PayerID     snowflake.ID    `json:"payer_id"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	OccurredAt  *time.Time      `json:"occurred_at,omitempty"`
}

type transactionIngestKey struct {
	PayerID string `json:"payer_id"`
	Type    string `json:"type"`
}

// ProcessTransaction accepts a revenue event pushed by the billing system
// and returns the commissions it produced.
func (s *Server) ProcessTransaction(c *gin.Context) {
	var req processTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	evt := commissiondomain.TransactionEvent{
		ExternalRef: strings.TrimSpace(req.ExternalRef),
		PayerID:     req.PayerID,
		Amount:      req.Amount,
		Type:        strings.TrimSpace(req.Type),
	}
	if req.OccurredAt != nil {
		evt.OccurredAt = req.OccurredAt.UTC()
	}

	commissions, err := s.commissionSvc.ProcessTransaction(c.Request.Context(), evt)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if commissions == nil {
		commissions = []commissiondomain.Commission{}
	}

	c.JSON(http.StatusOK, gin.H{"data": commissions})
}

// TransactionIngestRateLimit throttles transactions per payer. It is a no-op
// when no limiter is configured.
func (s *Server) TransactionIngestRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.ingestLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key, err := readTransactionIngestKey(c)
		if err != nil {
			logger.FromContext(ctx).Warn("transaction rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}
		if key.PayerID == "" {
			c.Next()
			return
		}

		res, err := s.ingestLimiter.AllowPayer(ctx, key.PayerID)
		if err != nil {
			logger.FromContext(ctx).Warn("transaction rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			logger.FromContext(ctx).Warn("transaction rate limit exceeded",
				zap.String("payer_id", key.PayerID),
			)
			s.obsMetrics.RecordTransaction(ctx, key.Type, "rate_limited")
			retryAfter := int(res.RetryAfter.Round(time.Second) / time.Second)
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}

		c.Next()
	}
}

// readTransactionIngestKey peeks at the body without consuming it.
func readTransactionIngestKey(c *gin.Context) (transactionIngestKey, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return transactionIngestKey{}, err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return transactionIngestKey{}, nil
	}

	var payload transactionIngestKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return transactionIngestKey{}, nil
	}
	payload.PayerID = strings.TrimSpace(payload.PayerID)
	payload.Type = strings.TrimSpace(payload.Type)
	return payload, nil
}
