// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package scrub_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/uuid"
	"storj.io/edgegate/gateway/scrub"
)

func TestBody(t *testing.T) {
	scrubber := scrub.NewScrubber(scrub.DefaultSensitiveFields)

	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{
			name:     "flat object",
			body:     `{"name":"a","password":"p"}`,
			expected: `{"name":"a"}`,
		},
		{
			name:     "nested object",
			body:     `{"name":"a","password":"p","nested":{"api_key":"k","v":1}}`,
			expected: `{"name":"a","nested":{"v":1}}`,
		},
		{
			name:     "case insensitive",
			body:     `{"PassWord":"p","Api_Key":"k","ok":true}`,
			expected: `{"ok":true}`,
		},
		{
			name:     "arrays",
			body:     `{"users":[{"id":1,"auth_token":"t"},{"id":2,"session_id":"s"}]}`,
			expected: `{"users":[{"id":1},{"id":2}]}`,
		},
		{
			name:     "deeply nested",
			body:     `{"a":{"b":{"c":{"private_key":"k","d":[{"secret_key":"s","keep":"x"}]}}}}`,
			expected: `{"a":{"b":{"c":{"d":[{"keep":"x"}]}}}}`,
		},
		{
			name:     "scalars pass through",
			body:     `"just a string"`,
			expected: `"just a string"`,
		},
		{
			name:     "top level array",
			body:     `[{"token_secret":"t"},42,"x"]`,
			expected: `[{},42,"x"]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var decoded, expected any
			require.NoError(t, json.Unmarshal([]byte(tt.body), &decoded))
			require.NoError(t, json.Unmarshal([]byte(tt.expected), &expected))

			require.Equal(t, expected, scrubber.Body(decoded))
		})
	}
}

func TestBodyCustomDenylist(t *testing.T) {
	scrubber := scrub.NewScrubber([]string{"ssn", " Email "})

	var decoded any
	require.NoError(t, json.Unmarshal([]byte(`{"ssn":"1","email":"e","password":"p"}`), &decoded))

	filtered, ok := scrubber.Body(decoded).(map[string]any)
	require.True(t, ok)
	require.Equal(t, map[string]any{"password": "p"}, filtered)
}

func TestRequestHeaders(t *testing.T) {
	in := http.Header{}
	in.Set("Authorization", "Bearer abc")
	in.Set("X-Forwarded-For", "1.2.3.4")
	in.Set("X-Real-IP", "1.2.3.4")
	in.Set("Accept", "application/json")
	in.Set("Accept-Encoding", "gzip, br")
	in.Set("Connection", "keep-alive")
	in.Set("Upgrade", "websocket")
	in.Set("Proxy-Authorization", "Basic abc")

	out, err := scrub.RequestHeaders(in)
	require.NoError(t, err)

	require.Empty(t, out.Get("X-Forwarded-For"))
	require.Empty(t, out.Get("X-Real-IP"))
	require.Empty(t, out.Get("Accept-Encoding"))
	require.Empty(t, out.Get("Connection"))
	require.Empty(t, out.Get("Upgrade"))
	require.Empty(t, out.Get("Proxy-Authorization"))
	require.Equal(t, "Bearer abc", out.Get("Authorization"))
	require.Equal(t, "application/json", out.Get("Accept"))
	require.Equal(t, scrub.GatewayVersion, out.Get("X-Gateway-Version"))

	_, err = uuid.FromString(out.Get("X-Request-ID"))
	require.NoError(t, err)

	// the inbound header set stays untouched.
	require.Equal(t, "1.2.3.4", in.Get("X-Forwarded-For"))
	require.Empty(t, in.Get("X-Request-ID"))
}

func TestRequestHeadersFreshID(t *testing.T) {
	first, err := scrub.RequestHeaders(http.Header{})
	require.NoError(t, err)
	second, err := scrub.RequestHeaders(http.Header{})
	require.NoError(t, err)
	require.NotEqual(t, first.Get("X-Request-ID"), second.Get("X-Request-ID"))
}

func TestResponseHeaders(t *testing.T) {
	src := http.Header{}
	src.Set("X-Upstream-Version", "2.3")
	src.Add("Set-Cookie", "a=1")
	src.Add("Set-Cookie", "b=2")
	src.Set("Content-Type", "text/plain")
	src.Set("Content-Length", "42")
	src.Set("Content-Encoding", "br")
	src.Set("Transfer-Encoding", "chunked")
	src.Set("Connection", "close")
	src.Set("Access-Control-Allow-Origin", "http://evil.example")
	src.Set("Access-Control-Allow-Credentials", "true")

	dst := http.Header{}
	scrub.ResponseHeaders(dst, src)

	require.Equal(t, "2.3", dst.Get("X-Upstream-Version"))
	require.Equal(t, []string{"a=1", "b=2"}, dst.Values("Set-Cookie"))
	require.Empty(t, dst.Get("Content-Type"))
	require.Empty(t, dst.Get("Content-Length"))
	require.Empty(t, dst.Get("Content-Encoding"))
	require.Empty(t, dst.Get("Transfer-Encoding"))
	require.Empty(t, dst.Get("Connection"))
	require.Empty(t, dst.Get("Access-Control-Allow-Origin"))
	require.Empty(t, dst.Get("Access-Control-Allow-Credentials"))
}

func TestSetSecurityHeaders(t *testing.T) {
	header := http.Header{}
	scrub.SetSecurityHeaders(header)

	require.Equal(t, "DENY", header.Get("X-Frame-Options"))
	require.Equal(t, "nosniff", header.Get("X-Content-Type-Options"))
	require.Equal(t, "1; mode=block", header.Get("X-XSS-Protection"))
	require.Equal(t, "max-age=31536000; includeSubDomains", header.Get("Strict-Transport-Security"))
	require.Equal(t, "strict-origin-when-cross-origin", header.Get("Referrer-Policy"))
	require.Equal(t, "default-src 'self'", header.Get("Content-Security-Policy"))
	require.Equal(t, "geolocation=(), microphone=(), camera=()", header.Get("Permissions-Policy"))
}
