// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package scrub keeps sensitive material out of proxied traffic: it strips
// denylisted fields from JSON bodies, removes spoofable client-address
// headers from forwarded requests and stamps the standard security headers
// onto responses.
package scrub

import (
	"net/http"
	"strings"

	"storj.io/common/uuid"
)

// GatewayVersion is sent to upstreams in the X-Gateway-Version header.
const GatewayVersion = "1.0"

// DefaultSensitiveFields are the field names removed from response bodies
// when no explicit denylist is configured.
var DefaultSensitiveFields = []string{
	"password", "token_secret", "internal_flag", "secret_key",
	"private_key", "api_key", "auth_token", "session_id",
}

// Scrubber removes denylisted fields from decoded JSON values.
type Scrubber struct {
	sensitive map[string]bool
}

// NewScrubber creates a Scrubber for the given field names, matched
// case-insensitively at any depth.
func NewScrubber(fields []string) *Scrubber {
	sensitive := make(map[string]bool, len(fields))
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		sensitive[strings.ToLower(field)] = true
	}
	return &Scrubber{sensitive: sensitive}
}

// Body walks a decoded JSON value and returns it with every denylisted
// field removed. Objects are filtered key by key, arrays element-wise,
// scalars pass through untouched.
func (scrubber *Scrubber) Body(data any) any {
	switch value := data.(type) {
	case map[string]any:
		filtered := make(map[string]any, len(value))
		for key, element := range value {
			if scrubber.sensitive[strings.ToLower(key)] {
				continue
			}
			filtered[key] = scrubber.Body(element)
		}
		return filtered
	case []any:
		filtered := make([]any, 0, len(value))
		for _, element := range value {
			filtered = append(filtered, scrubber.Body(element))
		}
		return filtered
	default:
		return data
	}
}

// hopByHopHeaders tie to a single connection and never travel past the
// gateway.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Proxy-Connection", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// RequestHeaders returns a copy of h safe to forward upstream: hop-by-hop
// headers and client-address headers a caller could spoof are dropped, the
// gateway version is stamped and every forwarded request carries a fresh
// request id. Accept-Encoding goes too, leaving content negotiation with the
// upstream to the transport so bodies arrive decoded for shaping.
func RequestHeaders(h http.Header) (http.Header, error) {
	forwarded := h.Clone()
	if forwarded == nil {
		forwarded = http.Header{}
	}
	for _, header := range hopByHopHeaders {
		forwarded.Del(header)
	}
	forwarded.Del("Accept-Encoding")
	forwarded.Del("X-Forwarded-For")
	forwarded.Del("X-Real-Ip")

	forwarded.Set("X-Gateway-Version", GatewayVersion)

	requestID, err := uuid.New()
	if err != nil {
		return forwarded, err
	}
	forwarded.Set("X-Request-Id", requestID.String())
	return forwarded, nil
}

// bodyShapeHeaders describe the upstream's original body, which the gateway
// replaces during response shaping.
var bodyShapeHeaders = []string{
	"Content-Length", "Content-Encoding", "Content-Type",
}

// ResponseHeaders copies upstream response headers onto dst, dropping
// hop-by-hop headers, headers describing the original body, and CORS headers
// the gateway issues itself.
func ResponseHeaders(dst, src http.Header) {
	for name, values := range src {
		if skipResponseHeader(name) {
			continue
		}
		dst[name] = append([]string(nil), values...)
	}
}

func skipResponseHeader(name string) bool {
	if strings.HasPrefix(name, "Access-Control-") {
		return true
	}
	for _, header := range hopByHopHeaders {
		if name == header {
			return true
		}
	}
	for _, header := range bodyShapeHeaders {
		if name == header {
			return true
		}
	}
	return false
}

// SetSecurityHeaders stamps the browser hardening headers onto a response.
func SetSecurityHeaders(header http.Header) {
	header.Set("X-Frame-Options", "DENY")
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set("X-XSS-Protection", "1; mode=block")
	header.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	header.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	header.Set("Content-Security-Policy", "default-src 'self'")
	header.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
}
