package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/uplink/internal/config"
	"go.uber.org/zap"
)

const keyTransactionIngestPayer = "uplink:ingest:payer:%s"

// TransactionIngestLimiter throttles pushed transactions per payer so a
// misbehaving upstream cannot flood one upline with cascades.
type TransactionIngestLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
	log    *zap.Logger
}

// NewTransactionIngestLimiter returns nil when limiting is disabled or redis
// is not available. A nil limiter allows everything.
func NewTransactionIngestLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) *TransactionIngestLimiter {
	if !cfg.RateLimit.Enabled || client == nil {
		return nil
	}
	if cfg.RateLimit.PayerRate <= 0 || cfg.RateLimit.PayerBurst <= 0 {
		log.Warn("transaction rate limit disabled: rate and burst must be positive")
		return nil
	}
	return &TransactionIngestLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.RateLimit.PayerRate,
		burst:  cfg.RateLimit.PayerBurst,
		log:    log.Named("ratelimit"),
	}
}

func (l *TransactionIngestLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// AllowPayer consumes one token for the payer. Redis failures fail open.
func (l *TransactionIngestLimiter) AllowPayer(ctx context.Context, payerID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyTransactionIngestPayer, strings.TrimSpace(payerID)), l.rate, l.burst)
	if err != nil {
		l.log.Warn("rate limiter unavailable, allowing request", zap.String("payer_id", payerID), zap.Error(err))
		return &RateLimitResult{Allowed: true}, nil
	}
	return res, nil
}
