package auth_test

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"

	"github.com/hlindberg/mezquit/auth"
	"github.com/hlindberg/mezquit/internal/testutils"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	testutils.CheckNotError(err, t)
	return key
}

func Test_Password_ProducesVerifiableRS256Token(t *testing.T) {
	key := testKey(t)
	ta := auth.NewTokenAuth("my-project", key, time.Hour)

	now := time.Unix(1_700_000_000, 0)
	pw, err := ta.Password(now)
	testutils.CheckNotError(err, t)

	claims := &jwt.StandardClaims{}
	tok, err := jwt.ParseWithClaims(string(pw), claims, func(*jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	})
	testutils.CheckNotError(err, t)
	testutils.CheckTrue(tok.Valid, t)
	testutils.CheckEqual("my-project", claims.Audience, t)
	testutils.CheckEqual(now.Unix(), claims.IssuedAt, t)
	testutils.CheckEqual(now.Add(time.Hour).Unix(), claims.ExpiresAt, t)
}

func Test_Password_DefaultTTL_IsTwentyMinutes(t *testing.T) {
	key := testKey(t)
	ta := auth.NewTokenAuth("my-project", key, 0)

	now := time.Unix(1_700_000_000, 0)
	pw, err := ta.Password(now)
	testutils.CheckNotError(err, t)

	claims := &jwt.StandardClaims{}
	_, err = jwt.ParseWithClaims(string(pw), claims, func(*jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	})
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(now.Add(20*time.Minute).Unix(), claims.ExpiresAt, t)
}

func Test_ExpiresWithin(t *testing.T) {
	key := testKey(t)
	ta := auth.NewTokenAuth("my-project", key, time.Hour)

	minted := time.Unix(1_700_000_000, 0)
	testutils.CheckTrue(!ta.ExpiresWithin(minted, minted.Add(30*time.Minute), 5*time.Minute), t)
	testutils.CheckTrue(ta.ExpiresWithin(minted, minted.Add(56*time.Minute), 5*time.Minute), t)
}
