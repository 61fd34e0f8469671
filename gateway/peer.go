// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package gateway implements an authenticating reverse proxy for internal
// microservices. Requests pass an ordered admission pipeline of IP allowlist,
// payload limit, token verification, rate limiting, routing, authorization,
// response cache and circuit breaker before being forwarded to a
// load-balanced upstream replica.
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/errs2"
	"storj.io/common/memory"
	"storj.io/edgegate/gateway/auth"
	"storj.io/edgegate/gateway/breaker"
	"storj.io/edgegate/gateway/ratelimit"
	"storj.io/edgegate/gateway/respcache"
	"storj.io/edgegate/gateway/route"
	"storj.io/edgegate/gateway/upstream"
	"storj.io/edgegate/private/kvstore"
	"storj.io/edgegate/private/kvstore/redis"
	"storj.io/edgegate/private/kvstore/storelogger"
)

// Error is the default error class for the gateway package.
var Error = errs.Class("gateway")

// Config is the complete configuration for the gateway peer.
type Config struct {
	Address string `user:"true" help:"address for the gateway http server" default:":8000"`

	KV KVConfig

	Auth      auth.Config
	RateLimit ratelimit.Config
	Breaker   breaker.Config
	Cache     respcache.Config
	Route     route.Config
	Upstream  upstream.Config

	Security SecurityConfig
	Proxy    ProxyConfig
}

// KVConfig configures the coordination store connection.
type KVConfig struct {
	Address string `user:"true" help:"redis url of the coordination store" default:"redis://localhost:6379?db=0"`
}

// SecurityConfig configures network admission and response hygiene.
type SecurityConfig struct {
	AllowedIPs      string      `user:"true" help:"comma-separated client address allowlist, 0.0.0.0 allows any address" default:"127.0.0.1,::1"`
	AllowedOrigins  string      `user:"true" help:"comma-separated origins allowed for cross-origin requests" default:"http://localhost:3000"`
	MaxPayloadSize  memory.Size `user:"true" help:"largest accepted request payload" default:"10.0 MiB"`
	SensitiveFields string      `user:"true" help:"comma-separated field names stripped from response bodies, empty for the built-in set" default:""`
}

// ProxyConfig configures the upstream HTTP client.
type ProxyConfig struct {
	RequestTimeout      time.Duration `user:"true" help:"deadline for a single upstream exchange" default:"30s"`
	MaxIdleConns        int           `user:"true" help:"idle upstream connections kept across all hosts" default:"256"`
	MaxIdleConnsPerHost int           `user:"true" help:"idle upstream connections kept per host" default:"64"`
}

// Peer is the gateway process: the coordination store, the admission engines
// and the HTTP server wired together.
//
// architecture: Peer
type Peer struct {
	Log   *zap.Logger
	Store kvstore.Store

	Auth struct {
		Keys     *auth.KeySource
		Verifier *auth.Verifier
	}

	RateLimit *ratelimit.Limiter
	Breaker   *breaker.Breaker
	Cache     *respcache.Cache
	Upstream  *upstream.Registry
	Route     *route.Router

	Server struct {
		Handler  *Handler
		Endpoint http.Server
		Listener net.Listener
	}
}

// New creates a gateway peer from the given configuration.
func New(ctx context.Context, log *zap.Logger, config *Config) (peer *Peer, err error) {
	defer mon.Task()(&ctx)(&err)

	peer = &Peer{Log: log}

	{ // setup coordination store
		client, err := redis.OpenClientFrom(ctx, config.KV.Address)
		if err != nil {
			return nil, errs.Combine(Error.Wrap(err), peer.Close())
		}
		peer.Store = storelogger.New(log.Named("kvstore"), client)
	}

	{ // setup admission engines
		peer.Auth.Keys = auth.NewKeySource(log.Named("auth:keys"), config.Auth)
		peer.Auth.Verifier = auth.NewVerifier(log.Named("auth"), peer.Store, peer.Auth.Keys, config.Auth)

		peer.RateLimit = ratelimit.New(log.Named("ratelimit"), peer.Store, config.RateLimit)
		peer.Breaker = breaker.New(log.Named("breaker"), peer.Store, config.Breaker)
		peer.Cache = respcache.New(log.Named("cache"), peer.Store, config.Cache)
	}

	{ // setup routing
		peer.Upstream, err = upstream.New(config.Upstream)
		if err != nil {
			return nil, errs.Combine(Error.Wrap(err), peer.Close())
		}
		peer.Route, err = route.New(config.Route, peer.Upstream)
		if err != nil {
			return nil, errs.Combine(Error.Wrap(err), peer.Close())
		}
	}

	{ // setup http server
		peer.Server.Handler, err = NewHandler(log.Named("http"),
			peer.Auth.Verifier, peer.RateLimit, peer.Breaker, peer.Cache,
			peer.Upstream, peer.Route, *config)
		if err != nil {
			return nil, errs.Combine(Error.Wrap(err), peer.Close())
		}
		peer.Server.Endpoint = http.Server{
			Handler: peer.Server.Handler,
		}
		peer.Server.Listener, err = net.Listen("tcp", config.Address)
		if err != nil {
			return nil, errs.Combine(Error.Wrap(err), peer.Close())
		}
	}

	return peer, nil
}

// Run starts the verification-key refresh loop and the HTTP server, and
// blocks until the context is canceled or the server fails.
func (peer *Peer) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	ctx, cancel := context.WithCancel(ctx)
	var group errgroup.Group

	group.Go(func() error {
		<-ctx.Done()
		return errs2.IgnoreCanceled(peer.Server.Endpoint.Shutdown(ctx))
	})
	group.Go(func() error {
		return errs2.IgnoreCanceled(peer.Auth.Keys.Run(ctx))
	})
	group.Go(func() error {
		defer cancel()
		peer.Log.Info("Gateway server started.",
			zap.String("Address", peer.Addr()),
			zap.Strings("Services", peer.Upstream.Names()))
		err := peer.Server.Endpoint.Serve(peer.Server.Listener)
		if errs2.IsCanceled(err) || errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		return err
	})

	return group.Wait()
}

// Close closes all the resources.
func (peer *Peer) Close() error {
	var group errs.Group
	group.Add(peer.Server.Endpoint.Close())
	if peer.Auth.Keys != nil {
		group.Add(peer.Auth.Keys.Close())
	}
	if peer.Store != nil {
		group.Add(peer.Store.Close())
	}
	return group.Err()
}

// Addr returns the server's listen address.
func (peer *Peer) Addr() string { return peer.Server.Listener.Addr().String() }
