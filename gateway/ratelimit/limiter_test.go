// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/edgegate/private/kvstore/teststore"
)

func newTestLimiter(t *testing.T, store *teststore.Client, config Config) *Limiter {
	if config.Window == 0 {
		config.Window = time.Minute
	}
	return New(zaptest.NewLogger(t), store, config)
}

func TestAllowBoundary(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	limiter := newTestLimiter(t, teststore.New(), Config{
		MaxRequests:        3,
		PremiumMaxRequests: 5,
		CountRejected:      true,
	})

	clock := time.Unix(1700000000, 0)
	limiter.nowFn = func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}

	for i := 0; i < 3; i++ {
		ok, limit, err := limiter.Allow(ctx, "alice", TierRegular)
		require.NoError(t, err)
		require.True(t, ok, "request %d", i)
		require.Equal(t, 3, limit)
	}

	ok, limit, err := limiter.Allow(ctx, "alice", TierRegular)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 3, limit)

	// premium budgets and other principals are unaffected
	for i := 0; i < 5; i++ {
		ok, limit, err := limiter.Allow(ctx, "bob", TierPremium)
		require.NoError(t, err)
		require.True(t, ok, "request %d", i)
		require.Equal(t, 5, limit)
	}
	ok, _, err = limiter.Allow(ctx, "bob", TierPremium)
	require.NoError(t, err)
	require.False(t, ok)

	// unknown tiers fall back to the regular budget
	require.Equal(t, 3, limiter.Limit("trial"))
}

func TestWindowSlides(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	limiter := newTestLimiter(t, teststore.New(), Config{
		MaxRequests:   2,
		CountRejected: true,
	})

	base := time.Unix(1700000000, 0)
	now := base
	limiter.nowFn = func() time.Time { return now }

	ok, _, err := limiter.Allow(ctx, "alice", TierRegular)
	require.NoError(t, err)
	require.True(t, ok)

	now = base.Add(time.Second)
	ok, _, err = limiter.Allow(ctx, "alice", TierRegular)
	require.NoError(t, err)
	require.True(t, ok)

	now = base.Add(2 * time.Second)
	ok, _, err = limiter.Allow(ctx, "alice", TierRegular)
	require.NoError(t, err)
	require.False(t, ok)

	// one window later the early entries have aged out
	now = base.Add(time.Minute + 3*time.Second)
	ok, _, err = limiter.Allow(ctx, "alice", TierRegular)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCountRejected(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	run := func(t *testing.T, countRejected bool) bool {
		limiter := newTestLimiter(t, teststore.New(), Config{
			MaxRequests:   1,
			CountRejected: countRejected,
		})

		base := time.Unix(1700000000, 0)
		now := base
		limiter.nowFn = func() time.Time { return now }

		ok, _, err := limiter.Allow(ctx, "alice", TierRegular)
		require.NoError(t, err)
		require.True(t, ok)

		now = base.Add(30 * time.Second)
		ok, _, err = limiter.Allow(ctx, "alice", TierRegular)
		require.NoError(t, err)
		require.False(t, ok)

		// the first request has aged out; only the rejected attempt
		// can still occupy the window.
		now = base.Add(70 * time.Second)
		ok, _, err = limiter.Allow(ctx, "alice", TierRegular)
		require.NoError(t, err)
		return ok
	}

	t.Run("rejections hold slots", func(t *testing.T) {
		require.False(t, run(t, true))
	})
	t.Run("rejections release slots", func(t *testing.T) {
		require.True(t, run(t, false))
	})
}

func TestAllowFailsOpen(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := teststore.New()
	limiter := newTestLimiter(t, store, Config{MaxRequests: 1})

	store.ForceError = 1
	ok, limit, err := limiter.Allow(ctx, "alice", TierRegular)
	require.Error(t, err)
	require.True(t, ok)
	require.Equal(t, 1, limit)
}

func TestQuota(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := teststore.New()
	limiter := newTestLimiter(t, store, Config{MaxRequests: 100})

	quota, found := limiter.Quota(ctx, "alice")
	require.False(t, found)
	require.Equal(t, Quota{Type: TierRegular, RequestsUsed: 0, RequestsLimit: 100}, quota)

	require.NoError(t, store.HashSet(ctx, "user_quota:alice",
		"type", TierPremium, "requests_used", "42", "requests_limit", "1000"))

	quota, found = limiter.Quota(ctx, "alice")
	require.True(t, found)
	require.Equal(t, Quota{Type: TierPremium, RequestsUsed: 42, RequestsLimit: 1000}, quota)

	// records may carry only a subset of fields
	require.NoError(t, store.HashSet(ctx, "user_quota:bob", "type", TierPremium))

	quota, found = limiter.Quota(ctx, "bob")
	require.True(t, found)
	require.Equal(t, Quota{Type: TierPremium, RequestsUsed: 0, RequestsLimit: 100}, quota)

	// lookup failures degrade to the default
	store.ForceError = 1
	quota, found = limiter.Quota(ctx, "alice")
	require.False(t, found)
	require.Equal(t, Quota{Type: TierRegular, RequestsUsed: 0, RequestsLimit: 100}, quota)
}
