// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package storelogger

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"storj.io/edgegate/private/kvstore"
)

var mon = monkit.Package()

var id int64

// Logger implements a zap.Logger for kvstore.Store.
type Logger struct {
	log   *zap.Logger
	store kvstore.Store
}

// New creates a new Logger with log and store.
func New(log *zap.Logger, store kvstore.Store) *Logger {
	loggerid := atomic.AddInt64(&id, 1)
	name := strconv.Itoa(int(loggerid))
	return &Logger{log.Named(name), store}
}

// Get gets a value from the store.
func (store *Logger) Get(ctx context.Context, key kvstore.Key) (_ kvstore.Value, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Get", zap.Stringer("key", key))
	return store.store.Get(ctx, key)
}

// Put adds a value to the store.
func (store *Logger) Put(ctx context.Context, key kvstore.Key, value kvstore.Value, ttl time.Duration) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Put", zap.Stringer("key", key), zap.Int("value length", len(value)), zap.Duration("ttl", ttl))
	return store.store.Put(ctx, key, value, ttl)
}

// Delete deletes key and the value.
func (store *Logger) Delete(ctx context.Context, key kvstore.Key) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Delete", zap.Stringer("key", key))
	return store.store.Delete(ctx, key)
}

// SlideWindow runs the sliding-window pipeline on the store.
func (store *Logger) SlideWindow(ctx context.Context, key kvstore.Key, now time.Time, window time.Duration) (count int64, err error) {
	defer mon.Task()(&ctx)(&err)
	count, err = store.store.SlideWindow(ctx, key, now, window)
	store.log.Debug("SlideWindow", zap.Stringer("key", key), zap.Duration("window", window), zap.Int64("count", count))
	return count, err
}

// WindowRemove removes a timestamp from the sorted set at key.
func (store *Logger) WindowRemove(ctx context.Context, key kvstore.Key, member time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("WindowRemove", zap.Stringer("key", key), zap.Time("member", member))
	return store.store.WindowRemove(ctx, key, member)
}

// HashGet gets a single hash field from the store.
func (store *Logger) HashGet(ctx context.Context, key kvstore.Key, field string) (_ kvstore.Value, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("HashGet", zap.Stringer("key", key), zap.String("field", field))
	return store.store.HashGet(ctx, key, field)
}

// HashGetAll gets all hash fields from the store.
func (store *Logger) HashGetAll(ctx context.Context, key kvstore.Key) (_ map[string]string, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("HashGetAll", zap.Stringer("key", key))
	return store.store.HashGetAll(ctx, key)
}

// HashSet sets hash fields on the store.
func (store *Logger) HashSet(ctx context.Context, key kvstore.Key, fieldvalues ...string) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("HashSet", zap.Stringer("key", key), zap.Int("fields", len(fieldvalues)/2))
	return store.store.HashSet(ctx, key, fieldvalues...)
}

// HashDelete deletes hash fields from the store.
func (store *Logger) HashDelete(ctx context.Context, key kvstore.Key, fields ...string) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("HashDelete", zap.Stringer("key", key), zap.Strings("fields", fields))
	return store.store.HashDelete(ctx, key, fields...)
}

// HashIncrBy increments a hash field on the store.
func (store *Logger) HashIncrBy(ctx context.Context, key kvstore.Key, field string, n int64) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("HashIncrBy", zap.Stringer("key", key), zap.String("field", field), zap.Int64("n", n))
	return store.store.HashIncrBy(ctx, key, field, n)
}

// Close closes the store.
func (store *Logger) Close() error {
	store.log.Debug("Close")
	return store.store.Close()
}
