// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/gorilla/mux"
	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"storj.io/edgegate/gateway/auth"
	"storj.io/edgegate/gateway/breaker"
	"storj.io/edgegate/gateway/ratelimit"
	"storj.io/edgegate/gateway/respcache"
	"storj.io/edgegate/gateway/route"
	"storj.io/edgegate/gateway/scrub"
	"storj.io/edgegate/gateway/upstream"
	"storj.io/edgegate/private/kvstore"
)

var mon = monkit.Package()

// Handler is the gateway's inbound HTTP surface: exact routes for health and
// token revocation plus the catch-all proxy pipeline, wrapped in admission,
// CORS and compression middleware.
type Handler struct {
	log      *zap.Logger
	verifier *auth.Verifier
	limiter  *ratelimit.Limiter
	circuits *breaker.Breaker
	cache    *respcache.Cache
	registry *upstream.Registry
	router   *route.Router
	scrubber *scrub.Scrubber

	allowedIPs     map[string]bool
	allowAnyIP     bool
	allowedOrigins map[string]bool
	maxPayloadSize int64
	requestTimeout time.Duration

	client *http.Client
	chain  http.Handler
}

// NewHandler creates the gateway handler with its middleware chain and the
// shared upstream HTTP client.
func NewHandler(log *zap.Logger, verifier *auth.Verifier, limiter *ratelimit.Limiter, circuits *breaker.Breaker, cache *respcache.Cache, registry *upstream.Registry, router *route.Router, config Config) (*Handler, error) {
	fields := scrub.DefaultSensitiveFields
	if config.Security.SensitiveFields != "" {
		fields = splitTrim(config.Security.SensitiveFields)
	}

	handler := &Handler{
		log:      log,
		verifier: verifier,
		limiter:  limiter,
		circuits: circuits,
		cache:    cache,
		registry: registry,
		router:   router,
		scrubber: scrub.NewScrubber(fields),

		allowedIPs:     map[string]bool{},
		allowedOrigins: map[string]bool{},
		maxPayloadSize: config.Security.MaxPayloadSize.Int64(),
		requestTimeout: config.Proxy.RequestTimeout,
	}

	for _, ip := range splitTrim(config.Security.AllowedIPs) {
		if ip == "0.0.0.0" {
			handler.allowAnyIP = true
			continue
		}
		handler.allowedIPs[ip] = true
	}
	for _, origin := range splitTrim(config.Security.AllowedOrigins) {
		handler.allowedOrigins[origin] = true
	}

	handler.client = &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          config.Proxy.MaxIdleConns,
			MaxIdleConnsPerHost:   config.Proxy.MaxIdleConnsPerHost,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: config.Proxy.RequestTimeout,
		},
		// Redirects are the upstream's answer and travel back unchanged.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	routes := mux.NewRouter()
	routes.HandleFunc("/health", handler.Health).Methods(http.MethodGet)
	routes.HandleFunc("/auth/revoke", handler.Revoke).Methods(http.MethodPost)
	routes.PathPrefix("/").HandlerFunc(handler.Proxy).Methods(
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch)

	gzipWrapper, err := gziphandler.GzipHandlerWithOpts(gziphandler.MinSize(1000))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	handler.chain = gzipWrapper(handler.admission(handler.cors(routes)))

	return handler, nil
}

// ServeHTTP implements http.Handler.
func (handler *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handler.chain.ServeHTTP(w, r)
}

// admission stamps the security headers and rejects requests from addresses
// outside the allowlist or with an oversized declared payload. It runs for
// every route, the health and revocation endpoints included.
func (handler *Handler) admission(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scrub.SetSecurityHeaders(w.Header())

		if !handler.allowIP(r.RemoteAddr) {
			serveDetail(handler.log, w, http.StatusForbidden, "IP address not allowed")
			return
		}
		if r.ContentLength > handler.maxPayloadSize {
			serveDetail(handler.log, w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cors reflects allowlisted origins and answers preflight requests directly.
func (handler *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && handler.allowedOrigins[origin] {
			header := w.Header()
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Access-Control-Allow-Credentials", "true")
			header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
			header.Set("Access-Control-Allow-Headers", "*")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (handler *Handler) allowIP(remoteAddr string) bool {
	if handler.allowAnyIP {
		return true
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return handler.allowedIPs[host]
}

// Health reports liveness; it touches neither authentication nor the store.
func (handler *Handler) Health(w http.ResponseWriter, r *http.Request) {
	serveJSON(handler.log, w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// Revoke adds the presented bearer token to the revocation set. The token is
// not verified first: revoking garbage is harmless and revoking an already
// expired token must not fail.
func (handler *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	token, err := auth.BearerToken(r)
	if err != nil {
		serveDetail(handler.log, w, http.StatusBadRequest, "Invalid token")
		return
	}
	if err = handler.verifier.Revoke(ctx, token); err != nil {
		handler.log.Error("Token revocation failed.", zap.Error(err))
		serveJSONError(handler.log, w, err)
		return
	}
	serveJSON(handler.log, w, http.StatusOK, map[string]string{"message": "Token revoked successfully"})
}

// Proxy runs the admission pipeline for a single request and forwards it to
// the selected upstream replica: authentication, rate limiting, routing,
// authorization, cache lookup and circuit admission, in that order.
func (handler *Handler) Proxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	token, err := auth.BearerToken(r)
	if err != nil {
		serveJSONError(handler.log, w, err)
		return
	}
	principal, err := handler.verifier.Verify(ctx, token)
	if err != nil {
		serveJSONError(handler.log, w, err)
		return
	}

	// The stored quota decides the tier; the token's tier claim only counts
	// when the store has no record of the principal.
	quota, found := handler.limiter.Quota(ctx, principal.Subject)
	tier := quota.Type
	if !found && principal.Tier != "" {
		tier = principal.Tier
	}
	ok, limit, allowErr := handler.limiter.Allow(ctx, principal.Subject, tier)
	if allowErr != nil {
		handler.log.Warn("Rate limiter store unavailable; allowing request.", zap.Error(allowErr))
	}
	if !ok {
		window := int(handler.limiter.Window().Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(window))
		serveDetail(handler.log, w, http.StatusTooManyRequests,
			fmt.Sprintf("Rate limit exceeded. Max %d requests per %d seconds", limit, window))
		return
	}

	serviceName, routed := handler.router.Resolve(r.URL.Path, r.Header, r.URL.Query())
	if !routed {
		serveDetail(handler.log, w, http.StatusNotFound, "Service not found")
		return
	}

	if roles := requiredRoles(r.URL.Path); len(roles) > 0 && !principal.HasAnyRole(roles...) {
		serveDetail(handler.log, w, http.StatusForbidden, "Insufficient permissions")
		return
	}
	if owner := ownerSegment(r.URL.Path); owner != "" && owner != principal.Subject {
		serveDetail(handler.log, w, http.StatusForbidden, "Access denied: resource ownership check failed")
		return
	}

	var cacheKey kvstore.Key
	cacheable := handler.cache.Eligible(r.Method, r.URL.Path)
	if cacheable {
		cacheKey = handler.cache.Fingerprint(r.Method, r.URL.Path, r.URL.Query(), principal.Subject)
		if body, hit := handler.cache.Get(ctx, cacheKey); hit {
			serveRaw(handler.log, w, http.StatusOK, "application/json", body)
			return
		}
	}

	if !handler.circuits.Allow(ctx, serviceName) {
		serveDetail(handler.log, w, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}

	base, err := handler.registry.Select(serviceName)
	if err != nil {
		serveDetail(handler.log, w, http.StatusBadGateway, "Service unavailable")
		return
	}

	handler.forward(ctx, w, r, serviceName, base, cacheable, cacheKey)
}

// forward relays the request to the chosen replica, records the outcome on
// the service's circuit and shapes the response for the client.
func (handler *Handler) forward(ctx context.Context, w http.ResponseWriter, r *http.Request, serviceName, base string, cacheable bool, cacheKey kvstore.Key) {
	var err error
	defer mon.Task()(&ctx)(&err)

	var body []byte
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, handler.maxPayloadSize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				serveDetail(handler.log, w, http.StatusRequestEntityTooLarge, "Payload too large")
				return
			}
			serveJSONError(handler.log, w, Error.Wrap(err))
			return
		}
	}

	target := route.Join(base, r.URL.Path)
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	// Circuit feedback and cache writes run on a context that survives client
	// disconnects, so breaker state reflects upstream health alone.
	ctx = context.WithoutCancel(ctx)
	upctx, cancel := context.WithTimeout(ctx, handler.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(upctx, r.Method, target, bytes.NewReader(body))
	if err != nil {
		serveJSONError(handler.log, w, Error.Wrap(err))
		return
	}
	req.Header, err = scrub.RequestHeaders(r.Header)
	if err != nil {
		serveJSONError(handler.log, w, Error.Wrap(err))
		return
	}

	resp, err := handler.client.Do(req)
	if err != nil {
		handler.circuits.RecordFailure(ctx, serviceName)
		if isTimeout(err) {
			serveDetail(handler.log, w, http.StatusGatewayTimeout, "Service request timeout")
			return
		}
		handler.log.Warn("Upstream request failed.",
			zap.String("service", serviceName), zap.Error(err))
		serveDetail(handler.log, w, http.StatusBadGateway, fmt.Sprintf("Service request failed: %v", err))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		handler.circuits.RecordFailure(ctx, serviceName)
		if isTimeout(err) {
			serveDetail(handler.log, w, http.StatusGatewayTimeout, "Service request timeout")
			return
		}
		handler.log.Warn("Upstream response read failed.",
			zap.String("service", serviceName), zap.Error(err))
		serveDetail(handler.log, w, http.StatusBadGateway, fmt.Sprintf("Service request failed: %v", err))
		return
	}
	handler.circuits.RecordSuccess(ctx, serviceName)

	shaped := handler.shapeBody(resp.Header.Get("Content-Type"), respBody)
	if cacheable && resp.StatusCode == http.StatusOK {
		handler.cache.Put(ctx, cacheKey, shaped)
	}

	scrub.ResponseHeaders(w.Header(), resp.Header)
	scrub.SetSecurityHeaders(w.Header())
	serveRaw(handler.log, w, resp.StatusCode, "application/json", shaped)
}

// shapeBody normalizes an upstream body to JSON: JSON payloads pass through
// the sensitive-field scrubber, anything else is wrapped as content.
func (handler *Handler) shapeBody(contentType string, body []byte) []byte {
	var data any
	if strings.HasPrefix(contentType, "application/json") {
		if err := json.Unmarshal(body, &data); err != nil {
			data = map[string]string{"message": "Invalid JSON response"}
		} else {
			data = handler.scrubber.Body(data)
		}
	} else {
		data = map[string]string{"content": string(body)}
	}
	shaped, _ := json.Marshal(data)
	return shaped
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
}

// requiredRoles maps a path to the roles allowed to call it; empty means any
// authenticated principal.
func requiredRoles(path string) []string {
	switch {
	case strings.HasPrefix(path, "/api/admin"):
		return []string{"admin"}
	case strings.HasPrefix(path, "/api/user"):
		return []string{"user", "admin"}
	}
	return nil
}

// ownerSegment returns the id of /api/user/{id}/... paths. Paths without a
// segment after the id are collection routes and carry no owner.
func ownerSegment(path string) string {
	if !strings.HasPrefix(path, "/api/user/") {
		return ""
	}
	parts := strings.Split(path, "/")
	if len(parts) < 5 {
		return ""
	}
	return parts[3]
}

func splitTrim(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func serveJSON(log *zap.Logger, w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		log.Error("Error writing response to client.", zap.Error(err))
	}
}

func serveDetail(log *zap.Logger, w http.ResponseWriter, status int, detail string) {
	serveJSON(log, w, status, map[string]string{"detail": detail})
}

func serveRaw(log *zap.Logger, w http.ResponseWriter, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		log.Error("Error writing response to client.", zap.Error(err))
	}
}

func serveJSONError(log *zap.Logger, w http.ResponseWriter, err error) {
	serveDetail(log, w, getStatusCode(err), getErrorDetail(err))
}

func getStatusCode(err error) int {
	switch {
	case auth.ErrProviderUnavailable.Has(err):
		return http.StatusInternalServerError
	case auth.ErrMissingToken.Has(err), auth.ErrExpiredToken.Has(err),
		auth.ErrInvalidSignature.Has(err), auth.ErrMalformed.Has(err),
		auth.ErrRevoked.Has(err):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func getErrorDetail(err error) string {
	switch {
	case auth.ErrProviderUnavailable.Has(err):
		return "Failed to fetch verification keys"
	case auth.ErrExpiredToken.Has(err):
		return "Token has expired"
	case auth.ErrRevoked.Has(err):
		return "Token has been revoked"
	case auth.ErrMissingToken.Has(err), auth.ErrInvalidSignature.Has(err),
		auth.ErrMalformed.Has(err):
		return "Invalid token"
	default:
		return "Internal server error"
	}
}
