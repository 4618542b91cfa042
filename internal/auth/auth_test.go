package auth

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdefghijklmnopqrstuv"

func testConfig() Config {
	return Config{
		Secret:        testSecret,
		Audience:      "OpenSyncParty",
		Issuer:        "Jellyfin",
		LeewaySeconds: 60,
	}
}

func mint(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":  "user-1",
		"name": "Alice",
		"aud":  "OpenSyncParty",
		"iss":  "Jellyfin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
}

func TestValidateToken(t *testing.T) {
	v := New(testConfig(), log.New(io.Discard, "", 0))
	require.IsType(t, &JWT{}, v)

	claims, err := v.Validate(mint(t, testSecret, jwt.SigningMethodHS256, baseClaims()))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "Alice", claims.Name)
}

func TestValidateRejections(t *testing.T) {
	v := New(testConfig(), log.New(io.Discard, "", 0))

	wrongAud := baseClaims()
	wrongAud["aud"] = "SomethingElse"

	wrongIss := baseClaims()
	wrongIss["iss"] = "SomethingElse"

	expired := baseClaims()
	expired["exp"] = time.Now().Add(-10 * time.Minute).Unix()

	noExp := baseClaims()
	delete(noExp, "exp")

	tests := map[string]string{
		"empty token":      "",
		"garbage":          "not.a.token",
		"wrong secret":     mint(t, "another-secret-another-secret-xx", jwt.SigningMethodHS256, baseClaims()),
		"wrong algorithm":  mint(t, testSecret, jwt.SigningMethodHS384, baseClaims()),
		"wrong audience":   mint(t, testSecret, jwt.SigningMethodHS256, wrongAud),
		"wrong issuer":     mint(t, testSecret, jwt.SigningMethodHS256, wrongIss),
		"expired":          mint(t, testSecret, jwt.SigningMethodHS256, expired),
		"no expiry at all": mint(t, testSecret, jwt.SigningMethodHS256, noExp),
	}
	for name, token := range tests {
		_, err := v.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}
}

func TestValidateLeeway(t *testing.T) {
	v := New(testConfig(), log.New(io.Discard, "", 0))

	// Expired, but within the 60s leeway.
	claims := baseClaims()
	claims["exp"] = time.Now().Add(-30 * time.Second).Unix()

	_, err := v.Validate(mint(t, testSecret, jwt.SigningMethodHS256, claims))
	assert.NoError(t, err)
}

func TestDisabledValidator(t *testing.T) {
	v := New(Config{}, log.New(io.Discard, "", 0))
	require.IsType(t, Disabled{}, v)

	for _, token := range []string{"", "anything at all"} {
		claims, err := v.Validate(token)
		require.NoError(t, err)
		assert.Equal(t, "anonymous", claims.Subject)
	}
}
