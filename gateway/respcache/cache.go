// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package respcache caches shaped upstream response bodies in the
// coordination store so identical idempotent requests skip the upstream
// round trip.
package respcache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"storj.io/edgegate/private/kvstore"
)

var mon = monkit.Package()

// Config holds response cache parameters.
type Config struct {
	TTL      time.Duration `user:"true" help:"how long cached responses stay valid" default:"5m"`
	Prefixes string        `user:"true" help:"comma-separated path prefixes cacheable for GET requests" default:"/api/public/,/api/config/,/api/health"`
}

// Cache is a fingerprint-keyed response cache.
//
// It is strictly an optimization: reads that fail are misses and writes that
// fail are dropped, with nothing surfaced to the request that triggered them.
type Cache struct {
	log      *zap.Logger
	store    kvstore.Store
	ttl      time.Duration
	prefixes []string
}

// New creates a response cache around a store.
func New(log *zap.Logger, store kvstore.Store, config Config) *Cache {
	var prefixes []string
	for _, prefix := range strings.Split(config.Prefixes, ",") {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" {
			prefixes = append(prefixes, prefix)
		}
	}

	return &Cache{
		log:      log,
		store:    store,
		ttl:      config.TTL,
		prefixes: prefixes,
	}
}

// Eligible reports whether a request's response may be served from and
// written to the cache. Only GET requests under a cacheable prefix qualify,
// and user-specific paths never do.
func (cache *Cache) Eligible(method, path string) bool {
	if method != http.MethodGet {
		return false
	}

	// deep user paths carry per-user payloads.
	if strings.HasPrefix(path, "/api/user/") && strings.Count(path, "/") > 2 {
		return false
	}

	for _, prefix := range cache.prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Fingerprint derives the cache key for a request. The query is encoded with
// sorted keys so parameter order cannot split the cache, and the principal id
// keeps authenticated variants apart.
func (cache *Cache) Fingerprint(method, path string, query url.Values, principalID string) kvstore.Key {
	data := method + ":" + path + ":" + query.Encode()
	if principalID != "" {
		data += ":" + principalID
	}

	sum := md5.Sum([]byte(data))
	return kvstore.Key("cache:" + hex.EncodeToString(sum[:]))
}

// Get returns the cached body for key, if any.
func (cache *Cache) Get(ctx context.Context, key kvstore.Key) (_ []byte, ok bool) {
	defer mon.Task()(&ctx)(nil)

	value, err := cache.store.Get(ctx, key)
	if err != nil {
		if !kvstore.ErrKeyNotFound.Has(err) {
			cache.log.Debug("cache read failed", zap.Stringer("key", key), zap.Error(err))
		}
		mon.Meter("cache_miss").Mark(1)
		return nil, false
	}

	mon.Meter("cache_hit").Mark(1)
	return value, true
}

// Put stores a body under key for the configured TTL. Write failures are
// logged and swallowed.
func (cache *Cache) Put(ctx context.Context, key kvstore.Key, body []byte) {
	defer mon.Task()(&ctx)(nil)

	if err := cache.store.Put(ctx, key, body, cache.ttl); err != nil {
		cache.log.Debug("cache write failed", zap.Stringer("key", key), zap.Error(err))
	}
}
