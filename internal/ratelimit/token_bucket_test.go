package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/penwork/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketResultComputesRetryAfter(t *testing.T) {
	res := bucketResult(false, 500, 0.5, 5)
	assert.False(t, res.Allowed)
	assert.Equal(t, 5, res.Limit)
	assert.Equal(t, time.Second, res.RetryAfter)

	res = bucketResult(true, 3250, 0.5, 5)
	assert.True(t, res.Allowed)
	assert.Equal(t, 3, res.Remaining)
	assert.Zero(t, res.RetryAfter)
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 20*time.Second, bucketTTL(0.5, 5))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
	assert.Equal(t, time.Second, bucketTTL(0, 0))
}

func TestNilBucketIsDisabled(t *testing.T) {
	var b *TokenBucket
	_, err := b.Allow(context.Background(), "k", 1, 1)
	assert.ErrorIs(t, err, ErrLimiterDisabled)
	assert.Nil(t, NewTokenBucket(nil))
}

func TestSessionLimiterWithoutRedisAllows(t *testing.T) {
	limiter := NewSessionLimiter(config.Config{}, nil)
	require.False(t, limiter.Enabled())

	res, err := limiter.Allow(context.Background(), "user:1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestNilLockerIsDisabled(t *testing.T) {
	assert.Nil(t, NewAssignmentLocker(config.Config{}, nil))
	var l *Locker
	assert.NoError(t, l.Release(context.Background(), "k", "t"))
}
