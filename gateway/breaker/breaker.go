// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package breaker keeps per-service circuit state in the coordination
// store so every gateway replica stops calling an upstream that keeps
// failing, and probes it again together.
package breaker

import (
	"context"
	"strconv"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/edgegate/private/kvstore"
)

var mon = monkit.Package()

// Circuit states as stored in the service's hash.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// Config holds circuit breaker parameters.
type Config struct {
	FailureThreshold int           `user:"true" help:"consecutive failures that open a service's circuit" default:"5"`
	RecoveryTimeout  time.Duration `user:"true" help:"how long an open circuit waits before probing the service again" default:"1m"`
}

// Breaker tracks upstream health per service.
//
// State lives in the store hash circuit:{service} with fields state,
// failure_count and last_failure_time, so a failure observed by one replica
// trips the circuit for all of them.
type Breaker struct {
	log    *zap.Logger
	store  kvstore.Store
	config Config

	nowFn func() time.Time
}

// New creates a Breaker backed by a store.
func New(log *zap.Logger, store kvstore.Store, config Config) *Breaker {
	return &Breaker{
		log:    log,
		store:  store,
		config: config,
		nowFn:  time.Now,
	}
}

func circuitKey(service string) kvstore.Key {
	return kvstore.Key("circuit:" + service)
}

// Allow reports whether a request to service may proceed.
//
// An absent record means the circuit never tripped. An open circuit rejects
// until the recovery timeout has elapsed since the last failure, then flips
// to half_open and lets the current request through as the probe; the flip is
// written back so concurrent replicas observe it. Store errors deny, since
// admitting blind would defeat the shared trip.
func (breaker *Breaker) Allow(ctx context.Context, service string) (ok bool) {
	defer mon.Task()(&ctx)(nil)

	key := circuitKey(service)

	state, err := breaker.store.HashGet(ctx, key, "state")
	if err != nil {
		if kvstore.ErrKeyNotFound.Has(err) {
			return true
		}
		breaker.log.Warn("circuit state unreadable",
			zap.String("service", service), zap.Error(err))
		return false
	}

	switch string(state) {
	case StateOpen:
		stamp, err := breaker.store.HashGet(ctx, key, "last_failure_time")
		if err != nil {
			if !kvstore.ErrKeyNotFound.Has(err) {
				breaker.log.Warn("circuit state unreadable",
					zap.String("service", service), zap.Error(err))
			}
			return false
		}
		lastFailure, err := strconv.ParseInt(string(stamp), 10, 64)
		if err != nil {
			return false
		}
		if breaker.nowFn().Unix()-lastFailure < int64(breaker.config.RecoveryTimeout/time.Second) {
			return false
		}

		// this request becomes the probe.
		if err := breaker.store.HashSet(ctx, key, "state", StateHalfOpen); err != nil {
			breaker.log.Warn("circuit probe not recorded",
				zap.String("service", service), zap.Error(err))
			return false
		}
		mon.Meter("circuit_half_open").Mark(1)
		return true

	case StateHalfOpen:
		return true

	default:
		return true
	}
}

// RecordSuccess closes the circuit and clears its failure history. Errors are
// logged and swallowed; the response already succeeded.
func (breaker *Breaker) RecordSuccess(ctx context.Context, service string) {
	defer mon.Task()(&ctx)(nil)

	key := circuitKey(service)
	err := errs.Combine(
		breaker.store.HashSet(ctx, key, "state", StateClosed),
		breaker.store.HashDelete(ctx, key, "failure_count", "last_failure_time"),
	)
	if err != nil {
		breaker.log.Warn("circuit success not recorded",
			zap.String("service", service), zap.Error(err))
	}
}

// RecordFailure counts a failed upstream exchange and stamps its time,
// opening the circuit once the count reaches the threshold. A half_open
// probe failing lands here too: its increment is at or past the threshold
// already, so the circuit reopens with a fresh stamp.
func (breaker *Breaker) RecordFailure(ctx context.Context, service string) {
	defer mon.Task()(&ctx)(nil)

	key := circuitKey(service)

	count, err := breaker.store.HashIncrBy(ctx, key, "failure_count", 1)
	if err != nil {
		breaker.log.Warn("circuit failure not recorded",
			zap.String("service", service), zap.Error(err))
		return
	}

	stamp := strconv.FormatInt(breaker.nowFn().Unix(), 10)
	if err := breaker.store.HashSet(ctx, key, "last_failure_time", stamp); err != nil {
		breaker.log.Warn("circuit failure not recorded",
			zap.String("service", service), zap.Error(err))
	}

	if count >= int64(breaker.config.FailureThreshold) {
		if err := breaker.store.HashSet(ctx, key, "state", StateOpen); err != nil {
			breaker.log.Warn("circuit open not recorded",
				zap.String("service", service), zap.Error(err))
			return
		}
		mon.Meter("circuit_opened").Mark(1)
		breaker.log.Warn("circuit opened",
			zap.String("service", service), zap.Int64("failures", count))
	}
}
