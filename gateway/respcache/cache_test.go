// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package respcache_test

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/edgegate/gateway/respcache"
	"storj.io/edgegate/private/kvstore/redis"
	"storj.io/edgegate/private/kvstore/teststore"
	"storj.io/edgegate/private/testredis"
)

func TestEligible(t *testing.T) {
	cache := respcache.New(zaptest.NewLogger(t), teststore.New(), respcache.Config{
		TTL:      5 * time.Minute,
		Prefixes: "/api/public/,/api/health,/api/user/",
	})

	tests := []struct {
		method   string
		path     string
		eligible bool
	}{
		{http.MethodGet, "/api/public/products", true},
		{http.MethodGet, "/api/public/products/42", true},
		{http.MethodGet, "/api/health", true},
		{http.MethodPost, "/api/public/products", false},
		{http.MethodDelete, "/api/public/products", false},
		{http.MethodGet, "/api/orders", false},
		{http.MethodGet, "/api/publicize", false},
		// user-specific payloads are never shared
		{http.MethodGet, "/api/user/42/profile", false},
		{http.MethodGet, "/api/user/42", false},
	}
	for _, test := range tests {
		require.Equal(t, test.eligible, cache.Eligible(test.method, test.path),
			"%s %s", test.method, test.path)
	}
}

func TestFingerprint(t *testing.T) {
	cache := respcache.New(zaptest.NewLogger(t), teststore.New(), respcache.Config{})

	ordered, err := url.ParseQuery("page=2&sort=name")
	require.NoError(t, err)
	reversed, err := url.ParseQuery("sort=name&page=2")
	require.NoError(t, err)

	key := cache.Fingerprint(http.MethodGet, "/api/public/products", ordered, "alice")

	// parameter order cannot split the cache
	require.Equal(t, key,
		cache.Fingerprint(http.MethodGet, "/api/public/products", reversed, "alice"))

	// every other dimension does
	require.NotEqual(t, key,
		cache.Fingerprint(http.MethodGet, "/api/public/products", ordered, "bob"))
	require.NotEqual(t, key,
		cache.Fingerprint(http.MethodGet, "/api/public/products", ordered, ""))
	require.NotEqual(t, key,
		cache.Fingerprint(http.MethodGet, "/api/public/orders", ordered, "alice"))
	require.NotEqual(t, key,
		cache.Fingerprint(http.MethodHead, "/api/public/products", ordered, "alice"))

	require.True(t, len(key) > len("cache:"))
}

func TestGetPut(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	server, err := testredis.Start(ctx)
	require.NoError(t, err)
	defer func() { require.NoError(t, server.Close()) }()

	store, err := redis.OpenClient(ctx, server.Addr(), "", 0)
	require.NoError(t, err)
	defer ctx.Check(store.Close)

	cache := respcache.New(zaptest.NewLogger(t), store, respcache.Config{
		TTL:      5 * time.Minute,
		Prefixes: "/api/public/",
	})

	key := cache.Fingerprint(http.MethodGet, "/api/public/products", nil, "")

	_, ok := cache.Get(ctx, key)
	require.False(t, ok)

	cache.Put(ctx, key, []byte(`{"products":[]}`))
	require.Equal(t, 5*time.Minute, server.TTL(key.String()))

	body, ok := cache.Get(ctx, key)
	require.True(t, ok)
	require.Equal(t, []byte(`{"products":[]}`), body)

	// entries lapse after the ttl
	server.FastForward(6 * time.Minute)

	_, ok = cache.Get(ctx, key)
	require.False(t, ok)
}

func TestStoreFailuresStaySilent(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := teststore.New()
	cache := respcache.New(zaptest.NewLogger(t), store, respcache.Config{
		TTL:      time.Minute,
		Prefixes: "/api/public/",
	})

	key := cache.Fingerprint(http.MethodGet, "/api/public/products", nil, "")

	// a failed write is dropped
	store.ForceError = 1
	cache.Put(ctx, key, []byte("body"))

	_, ok := cache.Get(ctx, key)
	require.False(t, ok)

	// a failed read is a miss even when the entry exists
	cache.Put(ctx, key, []byte("body"))
	store.ForceError = 1
	_, ok = cache.Get(ctx, key)
	require.False(t, ok)

	_, ok = cache.Get(ctx, key)
	require.True(t, ok)
}
