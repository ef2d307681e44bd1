package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/uplink/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLimiterDisabledWithoutRedis(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, PayerRate: 1, PayerBurst: 1}}
	limiter := NewTransactionIngestLimiter(cfg, nil, zap.NewNop())
	assert.Nil(t, limiter)
	assert.False(t, limiter.Enabled())

	res, err := limiter.AllowPayer(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestTokenBucketRejectsBadInput(t *testing.T) {
	var bucket *TokenBucket
	_, err := bucket.Allow(context.Background(), "k", 1, 1)
	assert.Error(t, err)
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, time.Second, defaultBucketTTL(0, 10))
	assert.Equal(t, 40*time.Second, defaultBucketTTL(0.5, 10))
	assert.Equal(t, time.Second, defaultBucketTTL(100, 1))
}

func TestCasts(t *testing.T) {
	assert.Equal(t, int64(3), castToInt(float64(3.7)))
	assert.Equal(t, 2.5, castToFloat("2.5"))
	assert.Equal(t, float64(0), castToFloat(struct{}{}))
}
