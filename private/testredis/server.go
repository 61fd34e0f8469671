// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package testredis is for starting a redis server for tests.
package testredis

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// Server represents a redis server to run tests against.
type Server interface {
	// Addr returns the host:port the server listens on.
	Addr() string
	// Close shuts the server down.
	Close() error
	// FastForward advances the server clock, letting key TTLs elapse
	// without sleeping in tests.
	FastForward(d time.Duration)
	// TTL returns the remaining lifetime of a key, zero when the key has
	// no expiry.
	TTL(key string) time.Duration
}

// Start starts an in-process redis server for tests.
func Start(ctx context.Context) (Server, error) {
	return Mini(ctx)
}

// Mini starts a miniredis server.
func Mini(ctx context.Context) (Server, error) {
	server, err := miniredis.Run()
	if err != nil {
		return nil, err
	}
	return &miniserver{server}, nil
}

type miniserver struct {
	mini *miniredis.Miniredis
}

func (server *miniserver) Addr() string { return server.mini.Addr() }

func (server *miniserver) Close() error {
	server.mini.Close()
	return nil
}

func (server *miniserver) FastForward(d time.Duration) {
	server.mini.FastForward(d)
}

func (server *miniserver) TTL(key string) time.Duration {
	return server.mini.TTL(key)
}
