// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package testsuite runs a conformance suite against a kvstore.Store.
package testsuite

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/edgegate/private/kvstore"
)

// RunTests runs the Store conformance suite. Key expiry is not part of
// the suite since not every implementation simulates time.
func RunTests(t *testing.T, store kvstore.Store) {
	t.Run("KeyValue", func(t *testing.T) { testKeyValue(t, store) })
	t.Run("SlideWindow", func(t *testing.T) { testSlideWindow(t, store) })
	t.Run("Hashes", func(t *testing.T) { testHashes(t, store) })
	t.Run("EmptyKey", func(t *testing.T) { testEmptyKey(t, store) })
}

func testKeyValue(t *testing.T, store kvstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	key := kvstore.Key("suite/key")
	value := kvstore.Value("suite value")

	_, err := store.Get(ctx, key)
	require.True(t, kvstore.ErrKeyNotFound.Has(err))

	require.NoError(t, store.Put(ctx, key, value, 0))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, value, got)

	require.NoError(t, store.Put(ctx, key, kvstore.Value("overwritten"), 0))

	got, err = store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, kvstore.Value("overwritten"), got)

	require.NoError(t, store.Delete(ctx, key))

	_, err = store.Get(ctx, key)
	require.True(t, kvstore.ErrKeyNotFound.Has(err))

	// deleting an absent key is not an error
	require.NoError(t, store.Delete(ctx, key))
}

func testSlideWindow(t *testing.T, store kvstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	key := kvstore.Key("suite/window")
	now := time.Now()
	window := time.Minute

	// each call reports the cardinality before its own insert
	for i := 0; i < 5; i++ {
		count, err := store.SlideWindow(ctx, key, now.Add(time.Duration(i)*time.Second), window)
		require.NoError(t, err)
		require.EqualValues(t, i, count)
	}

	// entries at or beyond the window edge no longer count
	count, err := store.SlideWindow(ctx, key, now.Add(window+4*time.Second), window)
	require.NoError(t, err)
	require.EqualValues(t, 0, count)

	// a counted insert can be compensated away
	insert := now.Add(window + 5*time.Second)
	_, err = store.SlideWindow(ctx, key, insert, window)
	require.NoError(t, err)
	require.NoError(t, store.WindowRemove(ctx, key, insert))

	count, err = store.SlideWindow(ctx, key, insert.Add(time.Second), window)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func testHashes(t *testing.T, store kvstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	key := kvstore.Key("suite/hash")

	fields, err := store.HashGetAll(ctx, key)
	require.NoError(t, err)
	require.Empty(t, fields)

	_, err = store.HashGet(ctx, key, "state")
	require.True(t, kvstore.ErrKeyNotFound.Has(err))

	require.NoError(t, store.HashSet(ctx, key, "state", "closed", "failure_count", "0"))

	value, err := store.HashGet(ctx, key, "state")
	require.NoError(t, err)
	require.Equal(t, kvstore.Value("closed"), value)

	fields, err = store.HashGetAll(ctx, key)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"state": "closed", "failure_count": "0"}, fields)

	count, err := store.HashIncrBy(ctx, key, "failure_count", 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	count, err = store.HashIncrBy(ctx, key, "failure_count", 2)
	require.NoError(t, err)
	require.EqualValues(t, 3, count)

	require.NoError(t, store.HashDelete(ctx, key, "failure_count"))

	_, err = store.HashGet(ctx, key, "failure_count")
	require.True(t, kvstore.ErrKeyNotFound.Has(err))

	require.NoError(t, store.Delete(ctx, key))
}

func testEmptyKey(t *testing.T, store kvstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, err := store.Get(ctx, "")
	require.True(t, kvstore.ErrEmptyKey.Has(err))

	err = store.Put(ctx, "", kvstore.Value("value"), 0)
	require.True(t, kvstore.ErrEmptyKey.Has(err))

	err = store.Delete(ctx, "")
	require.True(t, kvstore.ErrEmptyKey.Has(err))

	_, err = store.SlideWindow(ctx, "", time.Now(), time.Minute)
	require.True(t, kvstore.ErrEmptyKey.Has(err))

	_, err = store.HashGet(ctx, "", "field")
	require.True(t, kvstore.ErrEmptyKey.Has(err))

	_, err = store.HashGetAll(ctx, "")
	require.True(t, kvstore.ErrEmptyKey.Has(err))

	err = store.HashSet(ctx, "", "field", "value")
	require.True(t, kvstore.ErrEmptyKey.Has(err))

	_, err = store.HashIncrBy(ctx, "", "field", 1)
	require.True(t, kvstore.ErrEmptyKey.Has(err))
}

// RunBenchmarks runs benchmarks over the hot store operations.
func RunBenchmarks(b *testing.B, store kvstore.Store) {
	b.Run("Put", func(b *testing.B) { benchmarkPut(b, store) })
	b.Run("Get", func(b *testing.B) { benchmarkGet(b, store) })
	b.Run("SlideWindow", func(b *testing.B) { benchmarkSlideWindow(b, store) })
}

func benchmarkPut(b *testing.B, store kvstore.Store) {
	ctx := testcontext.New(b)
	defer ctx.Cleanup()

	value := kvstore.Value("benchmark value")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := kvstore.Key("bench/put/" + strconv.Itoa(i%100))
		if err := store.Put(ctx, key, value, 0); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkGet(b *testing.B, store kvstore.Store) {
	ctx := testcontext.New(b)
	defer ctx.Cleanup()

	key := kvstore.Key("bench/get")
	if err := store.Put(ctx, key, kvstore.Value("benchmark value"), 0); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.Get(ctx, key); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkSlideWindow(b *testing.B, store kvstore.Store) {
	ctx := testcontext.New(b)
	defer ctx.Cleanup()

	key := kvstore.Key("bench/window")
	now := time.Now()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.SlideWindow(ctx, key, now.Add(time.Duration(i)), time.Minute); err != nil {
			b.Fatal(err)
		}
	}
}
