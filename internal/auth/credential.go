package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned when a protected call has no credential or
// the backend rejects the one it was given.
var ErrUnauthenticated = errors.New("unauthenticated")

// Credential is the bearer token obtained from wallet sign-in, plus the
// claims the client can read without verifying it. Signature verification
// is the backend's job.
type Credential struct {
	Token     string
	Subject   string
	Wallet    string
	ExpiresAt *time.Time
}

// Parse builds a Credential from a raw token (with or without the "Bearer "
// prefix). Tokens that are not JWTs are kept as opaque bearer strings.
func Parse(raw string) (Credential, error) {
	token := strings.TrimSpace(raw)
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return Credential{}, ErrUnauthenticated
	}

	cred := Credential{Token: token}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return cred, nil
	}

	if sub, err := claims.GetSubject(); err == nil {
		cred.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		cred.ExpiresAt = &t
	}
	cred.Wallet = walletClaim(claims)
	return cred, nil
}

// Header is the Authorization header value.
func (c Credential) Header() string {
	return "Bearer " + c.Token
}

// Expired reports whether the token's exp claim has passed. Tokens without
// an exp claim never expire client-side.
func (c Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// walletClaim looks for the wallet address in the claim shapes wallet
// sign-in providers use: a flat address claim, or a list of verified
// credentials where blockchain entries carry the address.
func walletClaim(claims jwt.MapClaims) string {
	for _, key := range []string{"wallet_address", "address"} {
		if s, ok := claims[key].(string); ok && s != "" {
			return s
		}
	}

	creds, ok := claims["verified_credentials"].([]any)
	if !ok {
		return ""
	}
	for _, c := range creds {
		m, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if format, _ := m["format"].(string); format != "" && format != "blockchain" {
			continue
		}
		if addr, ok := m["address"].(string); ok && addr != "" {
			return addr
		}
	}
	return ""
}
