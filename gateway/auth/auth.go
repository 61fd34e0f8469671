// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package auth verifies bearer tokens against the identity provider's
// published keys and tracks revocations in the coordination store.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/edgegate/private/kvstore"
)

var (
	// Error is an auth package error distinct from the verification outcomes.
	Error = errs.Class("auth")

	// ErrMissingToken means the Authorization header is absent or not Bearer.
	ErrMissingToken = errs.Class("missing token")
	// ErrExpiredToken means the token's expiry is in the past.
	ErrExpiredToken = errs.Class("expired token")
	// ErrInvalidSignature means no published key verifies the token.
	ErrInvalidSignature = errs.Class("invalid signature")
	// ErrMalformed means the token does not parse or fails a claim check.
	ErrMalformed = errs.Class("malformed token")
	// ErrRevoked means the token was revoked before its expiry.
	ErrRevoked = errs.Class("revoked token")
	// ErrProviderUnavailable means no verification keys could be fetched and
	// none are cached.
	ErrProviderUnavailable = errs.Class("key provider unavailable")

	mon = monkit.Package()
)

// Config holds token verification parameters.
type Config struct {
	JWKSUrl         string        `user:"true" help:"URL of the identity provider's JWKS document" default:""`
	Issuer          string        `user:"true" help:"expected token issuer, empty disables the check" default:""`
	Audience        string        `user:"true" help:"expected token audience, empty disables the check" default:""`
	Algorithms      string        `user:"true" help:"comma-separated permitted signing algorithms" default:"RS256"`
	RefreshInterval time.Duration `user:"true" help:"how long fetched verification keys stay fresh" default:"1h"`
	RequestTimeout  time.Duration `user:"true" help:"timeout for requests to the identity provider" default:"10s"`
	RevocationTTL   time.Duration `user:"true" help:"how long revocations outlive tokens without a usable expiry" default:"24h"`
}

// Claims is the token payload the gateway cares about.
type Claims struct {
	jwt.RegisteredClaims
	UserID      string      `json:"user_id,omitempty"`
	RealmAccess RealmAccess `json:"realm_access,omitempty"`
	Tier        string      `json:"tier,omitempty"`
}

// RealmAccess carries the provider's realm-level role list.
type RealmAccess struct {
	Roles []string `json:"roles,omitempty"`
}

// Principal is an authenticated caller.
type Principal struct {
	Subject string
	Roles   []string
	Tier    string
}

// HasAnyRole reports whether the principal holds at least one of the listed
// roles.
func (principal *Principal) HasAnyRole(roles ...string) bool {
	for _, required := range roles {
		for _, role := range principal.Roles {
			if role == required {
				return true
			}
		}
	}
	return false
}

// BearerToken extracts the bearer token from a request's Authorization header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken.New("no authorization header")
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", ErrMissingToken.New("authorization is not a bearer token")
	}
	return token, nil
}

func revocationKey(token string) kvstore.Key {
	sum := sha256.Sum256([]byte(token))
	return kvstore.Key("revoked:" + hex.EncodeToString(sum[:]))
}

// Verifier resolves bearer tokens to principals.
type Verifier struct {
	log    *zap.Logger
	store  kvstore.Store
	keys   *KeySource
	parser *jwt.Parser
	config Config
}

// NewVerifier creates a Verifier using keys for signatures and store for
// revocations.
func NewVerifier(log *zap.Logger, store kvstore.Store, keys *KeySource, config Config) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(splitTrim(config.Algorithms)),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}

	return &Verifier{
		log:    log,
		store:  store,
		keys:   keys,
		parser: jwt.NewParser(opts...),
		config: config,
	}
}

// Verify checks a bearer token and returns its principal.
//
// Revocation is checked first so a revoked token stays revoked even across
// key rotations. A revocation-store outage admits with a warning: locking
// every caller out because the revocation list is unreadable costs more than
// honoring a revoked token for the outage's duration.
func (verifier *Verifier) Verify(ctx context.Context, token string) (_ *Principal, err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = verifier.store.Get(ctx, revocationKey(token))
	if err == nil {
		mon.Meter("auth_revoked_use").Mark(1)
		return nil, ErrRevoked.New("token has been revoked")
	}
	if !kvstore.ErrKeyNotFound.Has(err) {
		verifier.log.Warn("revocation check unavailable", zap.Error(err))
	}

	// the parser's keyfunc error comes back wrapped, so the key source's
	// verdict is captured on the side to keep its class.
	var keyErr error
	keyfunc := func(unverified *jwt.Token) (interface{}, error) {
		kid, _ := unverified.Header["kid"].(string)
		matches, err := verifier.keys.Key(ctx, kid)
		if err != nil {
			keyErr = err
			return nil, err
		}

		set := jwt.VerificationKeySet{}
		for _, match := range matches {
			if !match.IsPublic() {
				match = match.Public()
			}
			set.Keys = append(set.Keys, match.Key)
		}
		if len(set.Keys) == 1 {
			return set.Keys[0], nil
		}
		return set, nil
	}

	claims := &Claims{}
	if _, err := verifier.parser.ParseWithClaims(token, claims, keyfunc); err != nil {
		switch {
		case keyErr != nil && ErrProviderUnavailable.Has(keyErr):
			return nil, keyErr
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken.New("token has expired")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature.Wrap(err)
		case keyErr != nil:
			return nil, ErrInvalidSignature.Wrap(keyErr)
		default:
			return nil, ErrMalformed.Wrap(err)
		}
	}

	subject := claims.Subject
	if subject == "" {
		subject = claims.UserID
	}

	return &Principal{
		Subject: subject,
		Roles:   claims.RealmAccess.Roles,
		Tier:    claims.Tier,
	}, nil
}

// Revoke marks a token revoked until it would have expired anyway. The claims
// are read without verification: revocation has to work when the provider is
// down, and revoking junk is harmless.
func (verifier *Verifier) Revoke(ctx context.Context, token string) (err error) {
	defer mon.Task()(&ctx)(&err)

	ttl := verifier.config.RevocationTTL
	claims := &Claims{}
	if _, _, err := verifier.parser.ParseUnverified(token, claims); err == nil && claims.ExpiresAt != nil {
		if remaining := time.Until(claims.ExpiresAt.Time); remaining > 0 {
			ttl = remaining
		}
	}

	mon.Meter("auth_revocations").Mark(1)
	return Error.Wrap(verifier.store.Put(ctx, revocationKey(token), kvstore.Value("1"), ttl))
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
