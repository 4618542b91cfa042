// Package auth validates the opaque bearer tokens that clients attach to
// create_room / join_room requests. Token issuance lives with the media
// server; this package only checks what it is handed.
package auth

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken indicates a token that failed validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the validated identity extracted from a token.
type Claims struct {
	Subject string
	Name    string
}

// Validator checks an opaque bearer token and returns the claims it carries.
type Validator interface {
	Validate(token string) (*Claims, error)
}

// Config represents the auth configuration. An empty secret disables
// validation entirely.
type Config struct {
	Secret        string `koanf:"secret"`
	Audience      string `koanf:"audience"`
	Issuer        string `koanf:"issuer"`
	LeewaySeconds int    `koanf:"leeway_seconds"`
}

type tokenClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// JWT validates HS256-signed tokens with audience, issuer and expiry checks.
type JWT struct {
	cfg    Config
	secret []byte
}

// Disabled accepts every token and returns anonymous claims. Used when no
// secret is configured, matching the upstream server's behaviour.
type Disabled struct{}

// New returns a Validator for the given config: a JWT validator when a
// secret is set, Disabled otherwise.
func New(cfg Config, l *log.Logger) Validator {
	if cfg.Secret == "" {
		l.Printf("auth secret not set, token validation DISABLED")
		return Disabled{}
	}
	if len(cfg.Secret) < 32 {
		l.Printf("auth secret is short; use at least 32 characters")
	}
	if uniqueChars(cfg.Secret) < 10 {
		l.Printf("auth secret has low entropy; use a more random value")
	}
	if cfg.Audience == "" {
		cfg.Audience = "OpenSyncParty"
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "Jellyfin"
	}
	if cfg.LeewaySeconds <= 0 {
		cfg.LeewaySeconds = 60
	}
	return &JWT{cfg: cfg, secret: []byte(cfg.Secret)}
}

// Validate parses and verifies a token, returning its claims.
func (j *JWT) Validate(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrInvalidToken)
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(j.cfg.Audience),
		jwt.WithIssuer(j.cfg.Issuer),
		jwt.WithLeeway(time.Duration(j.cfg.LeewaySeconds)*time.Second),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &Claims{Subject: claims.Subject, Name: claims.Name}, nil
}

// Validate returns anonymous claims for any token, including none.
func (Disabled) Validate(string) (*Claims, error) {
	return &Claims{Subject: "anonymous", Name: "Anonymous"}, nil
}

func uniqueChars(s string) int {
	seen := map[rune]struct{}{}
	for _, r := range s {
		seen[r] = struct{}{}
	}
	return len(seen)
}
