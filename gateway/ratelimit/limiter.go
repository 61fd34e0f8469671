// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package ratelimit admits requests through a sliding-window counter
// shared by all gateway replicas.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/edgegate/private/kvstore"
)

var (
	// Error is a rate limiter error.
	Error = errs.Class("ratelimit")

	mon = monkit.Package()
)

// Principal tiers. Unknown tiers are treated as regular.
const (
	TierRegular = "regular"
	TierPremium = "premium"
)

// Config holds rate limiter parameters.
type Config struct {
	MaxRequests        int           `user:"true" help:"requests a regular principal may issue per window" default:"100"`
	PremiumMaxRequests int           `user:"true" help:"requests a premium principal may issue per window" default:"1000"`
	Window             time.Duration `user:"true" help:"length of the sliding admission window" default:"1m"`
	CountRejected      bool          `user:"true" help:"whether rejected requests still occupy a window slot" default:"true"`
}

// Quota describes a principal's standing with the limiter.
type Quota struct {
	Type          string
	RequestsUsed  int64
	RequestsLimit int64
}

// Limiter admits at most limit requests per principal per sliding window,
// with the limit chosen by the principal's tier.
type Limiter struct {
	log    *zap.Logger
	store  kvstore.Store
	config Config

	nowFn func() time.Time
}

// New creates a Limiter backed by a store.
func New(log *zap.Logger, store kvstore.Store, config Config) *Limiter {
	return &Limiter{
		log:    log,
		store:  store,
		config: config,
		nowFn:  time.Now,
	}
}

// Limit returns the per-window budget for a tier.
func (limiter *Limiter) Limit(tier string) int {
	if tier == TierPremium {
		return limiter.config.PremiumMaxRequests
	}
	return limiter.config.MaxRequests
}

// Window returns the sliding window length.
func (limiter *Limiter) Window() time.Duration {
	return limiter.config.Window
}

// Allow records an admission attempt for the principal and reports whether it
// fits the tier's budget, together with the applied limit.
//
// The trim, count and insert ride a single atomic store batch, so concurrent
// replicas cannot admit past the limit between each other's checks. A store
// error fails open: the request is admitted and the error returned for the
// caller to log, since a coordination outage should not lock every client out.
func (limiter *Limiter) Allow(ctx context.Context, principalID, tier string) (ok bool, limit int, err error) {
	defer mon.Task()(&ctx)(&err)

	limit = limiter.Limit(tier)
	key := kvstore.Key("rate_limit:" + principalID)
	now := limiter.nowFn()

	count, err := limiter.store.SlideWindow(ctx, key, now, limiter.config.Window)
	if err != nil {
		mon.Meter("rate_limit_fail_open").Mark(1)
		return true, limit, Error.Wrap(err)
	}

	if count >= int64(limit) {
		mon.Meter("rate_limited").Mark(1)
		if !limiter.config.CountRejected {
			// the slot grabbed by the batch above is given back so
			// rejections do not push recovery further away.
			if err := limiter.store.WindowRemove(ctx, key, now); err != nil {
				limiter.log.Debug("rejected slot removal failed",
					zap.String("principal", principalID), zap.Error(err))
			}
		}
		return false, limit, nil
	}

	return true, limit, nil
}

// Quota returns the principal's stored quota record and whether one exists.
// An absent record and a store failure both degrade to the regular default,
// so quota lookups never block admission.
func (limiter *Limiter) Quota(ctx context.Context, principalID string) (_ Quota, found bool) {
	defer mon.Task()(&ctx)(nil)

	quota := Quota{
		Type:          TierRegular,
		RequestsUsed:  0,
		RequestsLimit: int64(limiter.config.MaxRequests),
	}

	fields, err := limiter.store.HashGetAll(ctx, kvstore.Key("user_quota:"+principalID))
	if err != nil {
		limiter.log.Debug("quota lookup failed",
			zap.String("principal", principalID), zap.Error(err))
		return quota, false
	}
	if len(fields) == 0 {
		return quota, false
	}

	if tier := fields["type"]; tier != "" {
		quota.Type = tier
	}
	if used, err := strconv.ParseInt(fields["requests_used"], 10, 64); err == nil {
		quota.RequestsUsed = used
	}
	if limit, err := strconv.ParseInt(fields["requests_limit"], 10, 64); err == nil {
		quota.RequestsLimit = limit
	}
	return quota, true
}
