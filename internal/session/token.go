package session

import (
	"crypto/rand"
	"time"

	"github.com/clockworklabs/stdb-core/internal/stdberr"
	"github.com/clockworklabs/stdb-core/internal/types"
	"github.com/golang-jwt/jwt/v5"
)

// identityClaims is the JWT payload spec.md §4.6 calls "a signed JWT-like
// credential": just enough to recover the principal and check expiry.
type identityClaims struct {
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies IdentityTokens with one HS256 server
// secret, scoped to one running database process.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer builds an issuer around secret (the process's signing
// key) with the given token lifetime.
func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, ttl: ttl}
}

// Issue mints a token naming identity, good for the issuer's configured
// ttl from now.
func (ti *TokenIssuer) Issue(identity types.Identity) (string, error) {
	now := time.Now()
	claims := identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(ti.secret)
}

// Verify parses and validates token, returning the identity it names.
func (ti *TokenIssuer) Verify(token string) (types.Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &identityClaims{}, func(t *jwt.Token) (interface{}, error) {
		return ti.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return types.Identity{}, &stdberr.AuthError{Reason: "invalid or expired identity token"}
	}
	claims, ok := parsed.Claims.(*identityClaims)
	if !ok {
		return types.Identity{}, &stdberr.AuthError{Reason: "malformed identity token claims"}
	}
	id, err := types.IdentityFromHex(claims.Subject)
	if err != nil {
		return types.Identity{}, &stdberr.AuthError{Reason: "identity token names an invalid identity"}
	}
	return id, nil
}

// NewIdentity derives a fresh random Identity for a first-time connection
// that presented no token, mirroring spec.md §3's "derived from the
// issuer's signing key" only loosely: this host is the issuer, so a new
// principal is simply a fresh random 256-bit value, the same way the
// teacher's pkg/spacetimedb/types assigns new entity ids.
func NewIdentity() (types.Identity, error) {
	var id types.Identity
	if _, err := rand.Read(id[:]); err != nil {
		return id, err
	}
	return id, nil
}

// NewConnectionID derives a fresh random ConnectionId for a new session.
func NewConnectionID() (types.ConnectionId, error) {
	var conn types.ConnectionId
	if _, err := rand.Read(conn[:]); err != nil {
		return conn, err
	}
	return conn, nil
}
