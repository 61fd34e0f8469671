// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/sync2"
)

// kidRefreshThrottle bounds how often an unknown key id may trigger a fetch,
// so garbage tokens cannot hammer the provider.
const kidRefreshThrottle = time.Minute

// KeySource fetches the identity provider's JWKS document and caches the
// verification keys.
//
// The cache has a soft TTL: past RefreshInterval the stale set keeps serving
// verifications while a single background goroutine refreshes it, and a failed
// refresh extends the stale set's life. ErrProviderUnavailable surfaces only
// when no set was ever fetched.
type KeySource struct {
	log    *zap.Logger
	config Config
	client *http.Client

	// Loop drives proactive refresh between requests.
	Loop *sync2.Cycle

	mu         sync.Mutex
	keys       *jose.JSONWebKeySet
	fetched    time.Time
	attempted  time.Time
	refreshing bool
}

// NewKeySource creates a KeySource for the configured JWKS URL.
func NewKeySource(log *zap.Logger, config Config) *KeySource {
	return &KeySource{
		log:    log,
		config: config,
		client: &http.Client{Timeout: config.RequestTimeout},
		Loop:   sync2.NewCycle(config.RefreshInterval),
	}
}

// Run drives periodic refresh until ctx is canceled. Failures are logged and
// retried on the next cycle; the cached set keeps serving meanwhile.
func (source *KeySource) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return source.Loop.Run(ctx, func(ctx context.Context) error {
		if err := source.Refresh(ctx); err != nil {
			source.log.Warn("verification key refresh failed", zap.Error(err))
		}
		return nil
	})
}

// Close stops the refresh loop.
func (source *KeySource) Close() error {
	source.Loop.Close()
	return nil
}

// Refresh fetches the key set now, replacing the cache on success.
func (source *KeySource) Refresh(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	source.mu.Lock()
	source.attempted = time.Now()
	source.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.config.JWKSUrl, nil)
	if err != nil {
		return Error.Wrap(err)
	}

	resp, err := source.client.Do(req)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, resp.Body.Close()) }()

	if resp.StatusCode != http.StatusOK {
		return Error.New("fetching keys from %q: unexpected status %s", source.config.JWKSUrl, resp.Status)
	}

	var keyset jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&keyset); err != nil {
		return Error.New("malformed key set: %v", err)
	}

	source.mu.Lock()
	source.keys = &keyset
	source.fetched = time.Now()
	source.mu.Unlock()

	source.log.Debug("verification keys refreshed", zap.Int("keys", len(keyset.Keys)))
	return nil
}

// refreshAsync starts a background refresh unless one is already running.
// Callers keep using the stale set.
func (source *KeySource) refreshAsync() {
	source.mu.Lock()
	if source.refreshing {
		source.mu.Unlock()
		return
	}
	source.refreshing = true
	source.mu.Unlock()

	go func() {
		ctx := context.Background()
		if source.config.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, source.config.RequestTimeout)
			defer cancel()
		}

		if err := source.Refresh(ctx); err != nil {
			source.log.Warn("verification key refresh failed", zap.Error(err))
		}

		source.mu.Lock()
		source.refreshing = false
		source.mu.Unlock()
	}()
}

// keyset returns the cached set. The first call fetches synchronously; later
// calls kick off a background refresh once the set is past its soft TTL.
func (source *KeySource) keyset(ctx context.Context) (*jose.JSONWebKeySet, error) {
	source.mu.Lock()
	keys, fetched := source.keys, source.fetched
	source.mu.Unlock()

	if keys == nil {
		if err := source.Refresh(ctx); err != nil {
			return nil, ErrProviderUnavailable.Wrap(err)
		}
		source.mu.Lock()
		keys = source.keys
		source.mu.Unlock()
		return keys, nil
	}

	if time.Since(fetched) >= source.config.RefreshInterval {
		source.refreshAsync()
	}
	return keys, nil
}

// Key returns the verification keys matching kid, refreshing once when the
// kid is unknown to the cached set in case the provider rotated since the
// last fetch. An empty kid yields every published key.
func (source *KeySource) Key(ctx context.Context, kid string) (_ []jose.JSONWebKey, err error) {
	defer mon.Task()(&ctx)(&err)

	keys, err := source.keyset(ctx)
	if err != nil {
		return nil, err
	}

	if kid == "" {
		return keys.Keys, nil
	}
	if matches := keys.Key(kid); len(matches) > 0 {
		return matches, nil
	}

	source.mu.Lock()
	throttled := time.Since(source.attempted) < kidRefreshThrottle
	source.mu.Unlock()

	if !throttled {
		if err := source.Refresh(ctx); err != nil {
			source.log.Warn("verification key refresh failed", zap.Error(err))
		} else {
			source.mu.Lock()
			keys = source.keys
			source.mu.Unlock()
			if matches := keys.Key(kid); len(matches) > 0 {
				return matches, nil
			}
		}
	}

	return nil, Error.New("no verification key with kid %q", kid)
}
