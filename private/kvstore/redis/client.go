// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package redis

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"storj.io/edgegate/private/kvstore"
)

var (
	// Error is a redis error.
	Error = errs.Class("redis")

	mon = monkit.Package()
)

// Client is the entrypoint into Redis.
type Client struct {
	db *redis.Client
}

// OpenClient returns a configured Client instance, verifying a successful connection to redis.
func OpenClient(ctx context.Context, address, password string, db int) (*Client, error) {
	client := &Client{
		db: redis.NewClient(&redis.Options{
			Addr:     address,
			Password: password,
			DB:       db,
		}),
	}

	// ping here to verify we are able to connect to redis with the initialized client.
	if err := client.db.Ping(ctx).Err(); err != nil {
		return nil, Error.New("ping failed: %v", err)
	}

	return client, nil
}

// OpenClientFrom returns a configured Client instance from a redis address, verifying a successful connection to redis.
func OpenClientFrom(ctx context.Context, address string) (*Client, error) {
	redisurl, err := url.Parse(address)
	if err != nil {
		return nil, err
	}

	if redisurl.Scheme != "redis" {
		return nil, Error.New("not a redis:// formatted address")
	}

	q := redisurl.Query()

	db := 0
	if dbs := q.Get("db"); dbs != "" {
		db, err = strconv.Atoi(dbs)
		if err != nil {
			return nil, err
		}
	}

	return OpenClient(ctx, redisurl.Host, q.Get("password"), db)
}

// Get looks up the provided key from redis returning either an error or the result.
func (client *Client) Get(ctx context.Context, key kvstore.Key) (_ kvstore.Value, err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return nil, kvstore.ErrEmptyKey.New("")
	}

	value, err := client.db.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kvstore.ErrKeyNotFound.New("%q", key)
	}
	if err != nil {
		return nil, Error.New("get error: %v", err)
	}
	return value, nil
}

// Put adds a value to the provided key in redis, expiring after ttl when ttl > 0.
func (client *Client) Put(ctx context.Context, key kvstore.Key, value kvstore.Value, ttl time.Duration) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	// the Set command only includes a TTL if it is greater than 0.
	err = client.db.Set(ctx, key.String(), []byte(value), ttl).Err()
	if err != nil {
		return Error.New("put error: %v", err)
	}
	return nil
}

// Delete deletes a key/value pair from redis, for a given the key.
func (client *Client) Delete(ctx context.Context, key kvstore.Key) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	err = client.db.Del(ctx, key.String()).Err()
	if err != nil {
		return Error.New("delete error: %v", err)
	}
	return nil
}

// SlideWindow atomically trims the sorted set at key to the window, reads its
// cardinality, inserts now and re-arms the key's TTL.
//
// The four commands ride a single MULTI/EXEC exchange so that concurrent
// admissions cannot interleave between the trim and the insert. Scores carry
// second granularity for the trim; members carry nanosecond granularity so
// same-second insertions stay distinct. The returned count excludes the
// inserted member.
func (client *Client) SlideWindow(ctx context.Context, key kvstore.Key, now time.Time, window time.Duration) (count int64, err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return 0, kvstore.ErrEmptyKey.New("")
	}

	cutoff := now.Unix() - int64(window/time.Second)

	var card *redis.IntCmd
	_, err = client.db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key.String(), "0", strconv.FormatInt(cutoff, 10))
		card = pipe.ZCard(ctx, key.String())
		pipe.ZAdd(ctx, key.String(), redis.Z{
			Score:  float64(now.Unix()),
			Member: strconv.FormatInt(now.UnixNano(), 10),
		})
		pipe.Expire(ctx, key.String(), window)
		return nil
	})
	if err != nil {
		return 0, Error.New("slide window error: %v", err)
	}
	return card.Val(), nil
}

// WindowRemove removes a previously inserted timestamp from the sorted set at key.
func (client *Client) WindowRemove(ctx context.Context, key kvstore.Key, member time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	err = client.db.ZRem(ctx, key.String(), strconv.FormatInt(member.UnixNano(), 10)).Err()
	if err != nil {
		return Error.New("window remove error: %v", err)
	}
	return nil
}

// HashGet looks up a single hash field.
func (client *Client) HashGet(ctx context.Context, key kvstore.Key, field string) (_ kvstore.Value, err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return nil, kvstore.ErrEmptyKey.New("")
	}

	value, err := client.db.HGet(ctx, key.String(), field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kvstore.ErrKeyNotFound.New("%q %q", key, field)
	}
	if err != nil {
		return nil, Error.New("hash get error: %v", err)
	}
	return value, nil
}

// HashGetAll returns all fields of the hash at key. An absent key yields an empty map.
func (client *Client) HashGetAll(ctx context.Context, key kvstore.Key) (_ map[string]string, err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return nil, kvstore.ErrEmptyKey.New("")
	}

	fields, err := client.db.HGetAll(ctx, key.String()).Result()
	if err != nil {
		return nil, Error.New("hash get all error: %v", err)
	}
	return fields, nil
}

// HashSet sets field/value pairs on the hash at key.
func (client *Client) HashSet(ctx context.Context, key kvstore.Key, fieldvalues ...string) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	args := make([]interface{}, len(fieldvalues))
	for i, fv := range fieldvalues {
		args[i] = fv
	}

	err = client.db.HSet(ctx, key.String(), args...).Err()
	if err != nil {
		return Error.New("hash set error: %v", err)
	}
	return nil
}

// HashDelete deletes fields from the hash at key.
func (client *Client) HashDelete(ctx context.Context, key kvstore.Key, fields ...string) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	err = client.db.HDel(ctx, key.String(), fields...).Err()
	if err != nil {
		return Error.New("hash delete error: %v", err)
	}
	return nil
}

// HashIncrBy increments a hash field, returning the post-increment value.
func (client *Client) HashIncrBy(ctx context.Context, key kvstore.Key, field string, n int64) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return 0, kvstore.ErrEmptyKey.New("")
	}

	value, err := client.db.HIncrBy(ctx, key.String(), field, n).Result()
	if err != nil {
		return 0, Error.New("hash incr error: %v", err)
	}
	return value, nil
}

// FlushDB deletes all keys in the currently selected DB.
func (client *Client) FlushDB(ctx context.Context) error {
	_, err := client.db.FlushDB(ctx).Result()
	return err
}

// Close closes a redis client.
func (client *Client) Close() error {
	return client.db.Close()
}
