// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package kvstore

import (
	"context"
	"time"

	"github.com/zeebo/errs"
)

var (
	// ErrKeyNotFound used when a key or hash field doesn't exist.
	ErrKeyNotFound = errs.Class("key not found")

	// ErrEmptyKey is returned when an empty key is used in any operation.
	ErrEmptyKey = errs.Class("empty key")
)

// Key is the type for the keys in a Store.
type Key string

// Value is the type for the values in a Store.
type Value []byte

// Store is the coordination surface shared by all gateway replicas.
//
// Rate buckets, circuit records, cache entries, revocation entries and
// tier metadata all live behind this interface. SlideWindow is the one
// operation with a cross-command atomicity requirement; everything else
// is a single command.
type Store interface {
	// Get gets a value.
	Get(ctx context.Context, key Key) (Value, error)
	// Put stores a value, expiring after ttl when ttl > 0.
	Put(ctx context.Context, key Key, value Value, ttl time.Duration) error
	// Delete deletes the key and its value.
	Delete(ctx context.Context, key Key) error

	// SlideWindow atomically trims entries of the sorted set at key with
	// scores at or below now-window, reads the remaining cardinality,
	// inserts now, and bounds the key's lifetime to the window. It returns
	// the cardinality observed after the trim and before the insert.
	SlideWindow(ctx context.Context, key Key, now time.Time, window time.Duration) (count int64, err error)
	// WindowRemove removes a previously inserted timestamp from the sorted
	// set at key.
	WindowRemove(ctx context.Context, key Key, member time.Time) error

	// HashGet gets a single hash field.
	HashGet(ctx context.Context, key Key, field string) (Value, error)
	// HashGetAll gets all fields of a hash. An absent key yields an empty map.
	HashGetAll(ctx context.Context, key Key) (map[string]string, error)
	// HashSet sets field/value pairs on a hash.
	HashSet(ctx context.Context, key Key, fieldvalues ...string) error
	// HashDelete deletes fields from a hash.
	HashDelete(ctx context.Context, key Key, fields ...string) error
	// HashIncrBy increments a hash field, returning the new value.
	HashIncrBy(ctx context.Context, key Key, field string, n int64) (int64, error)

	// Close closes the store.
	Close() error
}

// IsZero returns true if the key is empty.
func (key Key) IsZero() bool { return len(key) == 0 }

// String implements the Stringer interface.
func (key Key) String() string { return string(key) }

// IsZero returns true if the value is empty.
func (value Value) IsZero() bool { return len(value) == 0 }
