// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package teststore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/edgegate/private/kvstore"
	"storj.io/edgegate/private/kvstore/testsuite"
)

func TestSuite(t *testing.T) {
	testsuite.RunTests(t, New())
}

func BenchmarkSuite(b *testing.B) {
	testsuite.RunBenchmarks(b, New())
}

func TestForceError(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := New()
	require.NoError(t, store.Put(ctx, "key", kvstore.Value("value"), 0))

	store.ForceError = 2

	_, err := store.Get(ctx, "key")
	require.Error(t, err)
	require.False(t, kvstore.ErrKeyNotFound.Has(err))

	_, err = store.SlideWindow(ctx, "window", time.Now(), time.Minute)
	require.Error(t, err)

	// forced errors are consumed
	value, err := store.Get(ctx, "key")
	require.NoError(t, err)
	require.Equal(t, kvstore.Value("value"), value)

	require.Equal(t, 2, store.CallCount.Get)
}
