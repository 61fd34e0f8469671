// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package upstream tracks the replica URLs behind each logical service and
// picks one per request.
package upstream

import (
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/zeebo/errs"
)

var (
	// Error is an upstream error.
	Error = errs.Class("upstream")

	// ErrUnknownService is returned when a logical service has no configuration.
	ErrUnknownService = errs.Class("unknown service")

	// ErrNoReplica is returned when a service has no replica URLs.
	ErrNoReplica = errs.Class("no replica available")
)

// Selection strategies.
const (
	StrategyRoundRobin = "round-robin"
	StrategyRandom     = "random"
)

// DefaultHealthPath is probed by external health checkers; the gateway core
// carries it but does not call it.
const DefaultHealthPath = "/health"

// Config holds the replica table and the selection strategy.
type Config struct {
	Services string `user:"true" help:"semicolon-separated name=url,url service replica table" default:"user-service=http://localhost:8001,http://localhost:8002;order-service=http://localhost:8003"`
	Strategy string `user:"true" help:"replica selection strategy, round-robin or random" default:"round-robin"`
}

type service struct {
	urls       []string
	healthPath string
	cursor     int
}

// Registry maps logical service names to replicas and selects one per call.
//
// Round-robin cursors are process-local on purpose: across N gateways the
// union of selections still approximates a uniform spread, and coordinating
// cursors through the store would buy nothing but latency.
type Registry struct {
	strategy string

	mu       sync.Mutex
	services map[string]*service
}

// New parses the replica table and creates a Registry.
func New(config Config) (*Registry, error) {
	switch config.Strategy {
	case StrategyRoundRobin, StrategyRandom:
	default:
		return nil, Error.New("unknown strategy %q", config.Strategy)
	}

	registry := &Registry{
		strategy: config.Strategy,
		services: make(map[string]*service),
	}

	for _, entry := range strings.Split(config.Services, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		name, list, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, Error.New("malformed service entry %q", entry)
		}

		var urls []string
		for _, u := range strings.Split(list, ",") {
			u = strings.TrimSpace(u)
			if u != "" {
				urls = append(urls, u)
			}
		}

		registry.services[name] = &service{urls: urls, healthPath: DefaultHealthPath}
	}

	if len(registry.services) == 0 {
		return nil, Error.New("no services configured")
	}

	return registry, nil
}

// Lookup reports whether a logical service is configured.
func (registry *Registry) Lookup(name string) bool {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	_, ok := registry.services[name]
	return ok
}

// Names returns the configured service names, sorted.
func (registry *Registry) Names() []string {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	names := make([]string, 0, len(registry.services))
	for name := range registry.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select returns the replica URL to use for the next request to a service.
func (registry *Registry) Select(name string) (string, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	svc, ok := registry.services[name]
	if !ok {
		return "", ErrUnknownService.New("%q", name)
	}
	if len(svc.urls) == 0 {
		return "", ErrNoReplica.New("%q", name)
	}

	switch registry.strategy {
	case StrategyRandom:
		return svc.urls[rand.Intn(len(svc.urls))], nil
	default:
		url := svc.urls[svc.cursor%len(svc.urls)]
		svc.cursor = (svc.cursor + 1) % len(svc.urls)
		return url, nil
	}
}
