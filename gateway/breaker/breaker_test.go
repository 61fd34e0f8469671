// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/edgegate/private/kvstore/teststore"
)

func newTestBreaker(t *testing.T, store *teststore.Client, at *time.Time) *Breaker {
	breaker := New(zaptest.NewLogger(t), store, Config{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
	})
	breaker.nowFn = func() time.Time { return *at }
	return breaker
}

func TestOpensAtThreshold(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := teststore.New()
	now := time.Unix(1700000000, 0)
	breaker := newTestBreaker(t, store, &now)

	// no record yet
	require.True(t, breaker.Allow(ctx, "user-service"))

	breaker.RecordFailure(ctx, "user-service")
	breaker.RecordFailure(ctx, "user-service")
	require.True(t, breaker.Allow(ctx, "user-service"))

	breaker.RecordFailure(ctx, "user-service")
	require.False(t, breaker.Allow(ctx, "user-service"))

	state, err := store.HashGet(ctx, "circuit:user-service", "state")
	require.NoError(t, err)
	require.Equal(t, StateOpen, string(state))

	// other services keep their own circuits
	require.True(t, breaker.Allow(ctx, "order-service"))
}

func TestRecoveryProbe(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := teststore.New()
	now := time.Unix(1700000000, 0)
	breaker := newTestBreaker(t, store, &now)

	for i := 0; i < 3; i++ {
		breaker.RecordFailure(ctx, "user-service")
	}
	require.False(t, breaker.Allow(ctx, "user-service"))

	// just short of the recovery timeout the circuit stays open
	now = now.Add(time.Minute - time.Second)
	require.False(t, breaker.Allow(ctx, "user-service"))

	// at the timeout one probe goes through and the flip is observable
	now = now.Add(time.Second)
	require.True(t, breaker.Allow(ctx, "user-service"))

	state, err := store.HashGet(ctx, "circuit:user-service", "state")
	require.NoError(t, err)
	require.Equal(t, StateHalfOpen, string(state))

	require.True(t, breaker.Allow(ctx, "user-service"))
}

func TestProbeFailureReopens(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := teststore.New()
	now := time.Unix(1700000000, 0)
	breaker := newTestBreaker(t, store, &now)

	for i := 0; i < 3; i++ {
		breaker.RecordFailure(ctx, "user-service")
	}
	now = now.Add(time.Minute)
	require.True(t, breaker.Allow(ctx, "user-service"))

	// the probe fails, reopening the circuit with a fresh stamp
	breaker.RecordFailure(ctx, "user-service")
	require.False(t, breaker.Allow(ctx, "user-service"))

	now = now.Add(time.Minute - time.Second)
	require.False(t, breaker.Allow(ctx, "user-service"))
	now = now.Add(time.Second)
	require.True(t, breaker.Allow(ctx, "user-service"))
}

func TestProbeSuccessCloses(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := teststore.New()
	now := time.Unix(1700000000, 0)
	breaker := newTestBreaker(t, store, &now)

	for i := 0; i < 3; i++ {
		breaker.RecordFailure(ctx, "user-service")
	}
	now = now.Add(time.Minute)
	require.True(t, breaker.Allow(ctx, "user-service"))

	breaker.RecordSuccess(ctx, "user-service")
	require.True(t, breaker.Allow(ctx, "user-service"))

	// the failure history is gone along with the trip
	fields, err := store.HashGetAll(ctx, "circuit:user-service")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"state": StateClosed}, fields)

	// a single new failure does not trip the cleared circuit
	breaker.RecordFailure(ctx, "user-service")
	require.True(t, breaker.Allow(ctx, "user-service"))
}

func TestFailsClosed(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := teststore.New()
	now := time.Unix(1700000000, 0)
	breaker := newTestBreaker(t, store, &now)

	store.ForceError = 1
	require.False(t, breaker.Allow(ctx, "user-service"))

	// with the store healthy again the absent record admits
	require.True(t, breaker.Allow(ctx, "user-service"))

	// an open circuit with no failure stamp stays closed to traffic
	require.NoError(t, store.HashSet(ctx, "circuit:user-service", "state", StateOpen))
	require.False(t, breaker.Allow(ctx, "user-service"))

	// recording against a broken store must not panic
	store.ForceError = 2
	breaker.RecordFailure(ctx, "user-service")
	breaker.RecordSuccess(ctx, "user-service")
}
