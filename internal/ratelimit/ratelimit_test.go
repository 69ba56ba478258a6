package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterAllowsUpToRPM(t *testing.T) {
	l := NewMemoryLimiter()
	limits := Limits{RPM: 2}
	ctx := context.Background()

	d1, err := l.Allow(ctx, "k1", limits)
	require.NoError(t, err)
	assert.True(t, d1.Allowed)

	d2, err := l.Allow(ctx, "k1", limits)
	require.NoError(t, err)
	assert.True(t, d2.Allowed)

	d3, err := l.Allow(ctx, "k1", limits)
	require.NoError(t, err)
	assert.False(t, d3.Allowed)
	assert.Equal(t, WindowMinute, d3.Exceeded)
	assert.Greater(t, d3.RetryAfter, 0)
}

func TestMemoryLimiterZeroMeansUnlimited(t *testing.T) {
	l := NewMemoryLimiter()
	limits := Limits{RPS: 0, RPM: 0, RPD: 0}
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		d, err := l.Allow(ctx, "k1", limits)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}

func TestMemoryLimiterWindowExpires(t *testing.T) {
	l := NewMemoryLimiter()
	fakeNow := time.Now()
	l.now = func() time.Time { return fakeNow }

	limits := Limits{RPS: 1}
	ctx := context.Background()

	d1, err := l.Allow(ctx, "k1", limits)
	require.NoError(t, err)
	require.True(t, d1.Allowed)

	d2, err := l.Allow(ctx, "k1", limits)
	require.NoError(t, err)
	require.False(t, d2.Allowed)

	fakeNow = fakeNow.Add(1100 * time.Millisecond)
	d3, err := l.Allow(ctx, "k1", limits)
	require.NoError(t, err)
	assert.True(t, d3.Allowed)
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter()
	limits := Limits{RPM: 1}
	ctx := context.Background()

	d1, err := l.Allow(ctx, "a", limits)
	require.NoError(t, err)
	assert.True(t, d1.Allowed)

	d2, err := l.Allow(ctx, "b", limits)
	require.NoError(t, err)
	assert.True(t, d2.Allowed)
}

func newTestRedisLimiter(t *testing.T) *RedisLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisLimiter(client)
}

func TestRedisLimiterAllowsUpToLimit(t *testing.T) {
	l := newTestRedisLimiter(t)
	ctx := context.Background()
	limits := Limits{RPM: 2}

	d1, err := l.Allow(ctx, "k1", limits)
	require.NoError(t, err)
	assert.True(t, d1.Allowed)

	d2, err := l.Allow(ctx, "k1", limits)
	require.NoError(t, err)
	assert.True(t, d2.Allowed)

	d3, err := l.Allow(ctx, "k1", limits)
	require.NoError(t, err)
	assert.False(t, d3.Allowed)
}

func TestRedisLimiterRejectionDoesNotPartiallyCommitEarlierWindow(t *testing.T) {
	l := newTestRedisLimiter(t)
	ctx := context.Background()
	// rps has headroom (2) but rpm is tight (1): the second call passes the
	// rps check yet fails the rpm check. A fix that commits each window as
	// soon as it individually passes would leave a stray rps timestamp
	// behind for a rejected request; the third call's Exceeded window must
	// still be rpm, not rps, to prove the rejected second call committed to
	// neither window.
	limits := Limits{RPS: 2, RPM: 1}

	d1, err := l.Allow(ctx, "k1", limits)
	require.NoError(t, err)
	require.True(t, d1.Allowed)

	d2, err := l.Allow(ctx, "k1", limits)
	require.NoError(t, err)
	require.False(t, d2.Allowed)
	assert.Equal(t, WindowMinute, d2.Exceeded)

	d3, err := l.Allow(ctx, "k1", limits)
	require.NoError(t, err)
	require.False(t, d3.Allowed)
	assert.Equal(t, WindowMinute, d3.Exceeded)
}

func TestRedisLimiterDegradesGracefullyOnError(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	l := NewRedisLimiter(client)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	d, err := l.Allow(ctx, "k1", Limits{RPM: 1})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
