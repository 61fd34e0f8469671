// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package teststore implements an in-memory coordination store for tests.
package teststore

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/zeebo/errs"

	"storj.io/edgegate/private/kvstore"
)

var errInternal = errs.New("internal error")

// Client implements in-memory key value store. It does not simulate key
// expiry; TTL-sensitive tests run against testredis instead.
type Client struct {
	mu sync.Mutex

	values  map[kvstore.Key]kvstore.Value
	windows map[kvstore.Key]map[string]int64
	hashes  map[kvstore.Key]map[string]string

	// ForceError fails the next ForceError operations with an internal
	// error, letting tests exercise store-outage policies.
	ForceError int

	CallCount struct {
		Get         int
		Put         int
		Delete      int
		SlideWindow int
		HashGet     int
		HashGetAll  int
		HashSet     int
		HashIncrBy  int
		Close       int
	}
}

// New creates a new in-memory store.
func New() *Client {
	return &Client{
		values:  map[kvstore.Key]kvstore.Value{},
		windows: map[kvstore.Key]map[string]int64{},
		hashes:  map[kvstore.Key]map[string]string{},
	}
}

func (store *Client) forcedError() bool {
	if store.ForceError > 0 {
		store.ForceError--
		return true
	}
	return false
}

// Get gets a value.
func (store *Client) Get(ctx context.Context, key kvstore.Key) (kvstore.Value, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.CallCount.Get++
	if store.forcedError() {
		return nil, errInternal
	}
	if key.IsZero() {
		return nil, kvstore.ErrEmptyKey.New("")
	}

	value, ok := store.values[key]
	if !ok {
		return nil, kvstore.ErrKeyNotFound.New("%q", key)
	}
	return append(kvstore.Value{}, value...), nil
}

// Put stores a value. The ttl is ignored.
func (store *Client) Put(ctx context.Context, key kvstore.Key, value kvstore.Value, ttl time.Duration) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.CallCount.Put++
	if store.forcedError() {
		return errInternal
	}
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	store.values[key] = append(kvstore.Value{}, value...)
	return nil
}

// Delete deletes the key and its value.
func (store *Client) Delete(ctx context.Context, key kvstore.Key) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.CallCount.Delete++
	if store.forcedError() {
		return errInternal
	}
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	delete(store.values, key)
	delete(store.windows, key)
	delete(store.hashes, key)
	return nil
}

// SlideWindow trims, counts and inserts into the sorted set at key.
func (store *Client) SlideWindow(ctx context.Context, key kvstore.Key, now time.Time, window time.Duration) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.CallCount.SlideWindow++
	if store.forcedError() {
		return 0, errInternal
	}
	if key.IsZero() {
		return 0, kvstore.ErrEmptyKey.New("")
	}

	members := store.windows[key]
	if members == nil {
		members = map[string]int64{}
		store.windows[key] = members
	}

	cutoff := now.Unix() - int64(window/time.Second)
	for member, score := range members {
		if score <= cutoff {
			delete(members, member)
		}
	}

	count := int64(len(members))
	members[strconv.FormatInt(now.UnixNano(), 10)] = now.Unix()
	return count, nil
}

// WindowRemove removes a previously inserted timestamp from the sorted set at key.
func (store *Client) WindowRemove(ctx context.Context, key kvstore.Key, member time.Time) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if store.forcedError() {
		return errInternal
	}
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	delete(store.windows[key], strconv.FormatInt(member.UnixNano(), 10))
	return nil
}

// HashGet gets a single hash field.
func (store *Client) HashGet(ctx context.Context, key kvstore.Key, field string) (kvstore.Value, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.CallCount.HashGet++
	if store.forcedError() {
		return nil, errInternal
	}
	if key.IsZero() {
		return nil, kvstore.ErrEmptyKey.New("")
	}

	value, ok := store.hashes[key][field]
	if !ok {
		return nil, kvstore.ErrKeyNotFound.New("%q %q", key, field)
	}
	return kvstore.Value(value), nil
}

// HashGetAll gets all fields of a hash. An absent key yields an empty map.
func (store *Client) HashGetAll(ctx context.Context, key kvstore.Key) (map[string]string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.CallCount.HashGetAll++
	if store.forcedError() {
		return nil, errInternal
	}
	if key.IsZero() {
		return nil, kvstore.ErrEmptyKey.New("")
	}

	fields := make(map[string]string, len(store.hashes[key]))
	for field, value := range store.hashes[key] {
		fields[field] = value
	}
	return fields, nil
}

// HashSet sets field/value pairs on a hash.
func (store *Client) HashSet(ctx context.Context, key kvstore.Key, fieldvalues ...string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.CallCount.HashSet++
	if store.forcedError() {
		return errInternal
	}
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	fields := store.hashes[key]
	if fields == nil {
		fields = map[string]string{}
		store.hashes[key] = fields
	}
	for i := 0; i+1 < len(fieldvalues); i += 2 {
		fields[fieldvalues[i]] = fieldvalues[i+1]
	}
	return nil
}

// HashDelete deletes fields from a hash.
func (store *Client) HashDelete(ctx context.Context, key kvstore.Key, fields ...string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if store.forcedError() {
		return errInternal
	}
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	for _, field := range fields {
		delete(store.hashes[key], field)
	}
	return nil
}

// HashIncrBy increments a hash field, returning the new value.
func (store *Client) HashIncrBy(ctx context.Context, key kvstore.Key, field string, n int64) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.CallCount.HashIncrBy++
	if store.forcedError() {
		return 0, errInternal
	}
	if key.IsZero() {
		return 0, kvstore.ErrEmptyKey.New("")
	}

	fields := store.hashes[key]
	if fields == nil {
		fields = map[string]string{}
		store.hashes[key] = fields
	}

	value, err := strconv.ParseInt(fields[field], 10, 64)
	if err != nil && fields[field] != "" {
		return 0, errs.New("hash value is not an integer")
	}

	value += n
	fields[field] = strconv.FormatInt(value, 10)
	return value, nil
}

// Close closes the store.
func (store *Client) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.CallCount.Close++
	if store.forcedError() {
		return errInternal
	}
	return nil
}
