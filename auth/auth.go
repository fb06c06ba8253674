// Package auth mints a short-lived signed JWT for use as the MQTT CONNECT
// password field, the pattern cloud IoT hubs (Google Cloud IoT Core, Azure
// IoT Hub) use in place of a static credential: the device signs a claim
// with its own private key and the broker verifies it against a registered
// public key, so no secret ever crosses the wire.
package auth

import (
	"crypto/rsa"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// TokenAuth mints password-field JWTs for one device identity. audience is
// typically the cloud project ID the broker expects in the "aud" claim.
type TokenAuth struct {
	Audience   string
	PrivateKey *rsa.PrivateKey
	TTL        time.Duration
}

// NewTokenAuth builds a TokenAuth. A zero TTL defaults to 20 minutes, the
// value Google Cloud IoT Core's own documentation recommended.
func NewTokenAuth(audience string, key *rsa.PrivateKey, ttl time.Duration) *TokenAuth {
	if ttl == 0 {
		ttl = 20 * time.Minute
	}
	return &TokenAuth{Audience: audience, PrivateKey: key, TTL: ttl}
}

// Password mints a fresh RS256-signed JWT good for TTL from now, for use as
// mezquit.Config.Password on the next CONNECT. Callers whose sessions
// outlive TTL should mint a new password and reconnect with a fresh
// CleanInit=false CONNECT before the broker rejects the stale token.
func (a *TokenAuth) Password(now time.Time) ([]byte, error) {
	claims := jwt.StandardClaims{
		Audience:  a.Audience,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(a.TTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(a.PrivateKey)
	if err != nil {
		return nil, err
	}
	return []byte(signed), nil
}

// ExpiresWithin reports whether a password minted at mintedAt with this
// TokenAuth's TTL will have expired by now plus margin, so callers can
// proactively refresh before the broker would reject it.
func (a *TokenAuth) ExpiresWithin(mintedAt, now time.Time, margin time.Duration) bool {
	return now.Add(margin).After(mintedAt.Add(a.TTL))
}
