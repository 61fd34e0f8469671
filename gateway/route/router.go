// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package route resolves inbound requests to logical service names.
package route

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/zeebo/errs"
)

// Error is a route error.
var Error = errs.Class("route")

// Config holds the routing rule tables.
type Config struct {
	PathPrefixes string `user:"true" help:"comma-separated prefix=service rules, evaluated in order" default:"/api/user=user-service,/api/order=order-service"`
	QueryHints   string `user:"true" help:"comma-separated param=value=service rules" default:"region=us=user-service"`
}

// ServiceIndex reports whether a logical service name is configured.
type ServiceIndex interface {
	Lookup(name string) bool
}

type prefixRule struct {
	prefix  string
	service string
}

type hintRule struct {
	param   string
	value   string
	service string
}

// Router maps (path, headers, query) to a logical service name.
//
// Rules are evaluated in a fixed order: path prefixes as configured, then the
// X-Service-Type header when it names a configured service, then query hints.
// The first match wins.
type Router struct {
	prefixes []prefixRule
	hints    []hintRule
	services ServiceIndex
}

// New parses the rule tables and creates a Router.
func New(config Config, services ServiceIndex) (*Router, error) {
	router := &Router{services: services}

	for _, rule := range splitRules(config.PathPrefixes) {
		prefix, service, ok := strings.Cut(rule, "=")
		if !ok || prefix == "" || service == "" {
			return nil, Error.New("malformed path prefix rule %q", rule)
		}
		if !strings.HasPrefix(prefix, "/") {
			return nil, Error.New("path prefix %q must begin with /", prefix)
		}
		router.prefixes = append(router.prefixes, prefixRule{prefix: prefix, service: service})
	}

	for _, rule := range splitRules(config.QueryHints) {
		parts := strings.SplitN(rule, "=", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, Error.New("malformed query hint rule %q", rule)
		}
		router.hints = append(router.hints, hintRule{param: parts[0], value: parts[1], service: parts[2]})
	}

	return router, nil
}

// Resolve returns the logical service responsible for a request, or false
// when no rule matches.
func (router *Router) Resolve(path string, header http.Header, query url.Values) (string, bool) {
	for _, rule := range router.prefixes {
		if strings.HasPrefix(path, rule.prefix) {
			return rule.service, true
		}
	}

	if service := header.Get("X-Service-Type"); service != "" && router.services.Lookup(service) {
		return service, true
	}

	for _, rule := range router.hints {
		if query.Get(rule.param) == rule.value {
			return rule.service, true
		}
	}

	return "", false
}

// Join computes the forward URL for a replica base and the original request
// path. The path is preserved byte for byte; the query string travels
// separately.
func Join(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

func splitRules(list string) []string {
	var rules []string
	for _, rule := range strings.Split(list, ",") {
		rule = strings.TrimSpace(rule)
		if rule != "" {
			rules = append(rules, rule)
		}
	}
	return rules
}
