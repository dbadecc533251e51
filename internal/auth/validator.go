// Package auth verifies and mints the access tokens that identify gateway
// users. The gateway only ever trusts the subject claim; everything else in
// the token is auxiliary.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken is returned when the handshake carries no credential at all.
	ErrNoToken = errors.New("no token supplied")
	// ErrInvalidToken is returned for malformed tokens, bad signatures, and
	// tokens missing a subject.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token is past its expiry.
	ErrExpiredToken = errors.New("token has expired")
)

// Identity is the validated result of a handshake credential.
type Identity struct {
	// Subject is the only field the gateway trusts for identity purposes.
	Subject     string
	DisplayName string
	Email       string
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Validator decodes and verifies access tokens. It supports two modes: an
// HS256 shared secret (the default deployment) or a JWKS endpoint with an
// expected issuer, for installations that front an external identity
// provider.
type Validator struct {
	secret []byte
	jwks   *keyfunc.JWKS
	issuer string
}

// NewValidator returns a shared-secret validator.
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// NewJWKSValidator returns a validator backed by a JWKS endpoint. The JWKS is
// fetched with retries since the identity provider may still be starting.
func NewJWKSValidator(jwksURL, issuer string) (*Validator, error) {
	var jwks *keyfunc.JWKS
	var err error
	for attempt := 1; attempt <= 30; attempt++ {
		jwks, err = keyfunc.Get(jwksURL, keyfunc.Options{
			RefreshInterval:     5 * time.Minute,
			RefreshRateLimit:    1 * time.Minute,
			RefreshUnknownKID:   true,
			RefreshErrorHandler: func(err error) { slog.Error("JWKS refresh error", "error", err) },
		})
		if err == nil {
			break
		}
		slog.Info("Waiting for JWKS endpoint", "attempt", attempt, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS after retries: %w", err)
	}
	slog.Info("JWKS loaded", "jwks_url", jwksURL, "issuer", issuer)
	return &Validator{jwks: jwks, issuer: issuer}, nil
}

// Validate decodes and verifies a credential string and returns the embedded
// identity. Validation failures never reveal which check failed to the
// caller beyond the coarse error taxonomy.
func (v *Validator) Validate(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrNoToken
	}

	claims := &tokenClaims{}
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	var kf jwt.Keyfunc
	if v.jwks != nil {
		kf = v.jwks.Keyfunc
		opts = append(opts, jwt.WithIssuer(v.issuer))
	} else {
		kf = v.hmacKeyfunc
		opts = append(opts, jwt.WithValidMethods([]string{"HS256"}))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, kf, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}
	if !token.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		Subject:     claims.Subject,
		DisplayName: claims.Name,
		Email:       claims.Email,
	}, nil
}

func (v *Validator) hmacKeyfunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ErrInvalidToken
	}
	return v.secret, nil
}

// Close stops the JWKS background refresh goroutine, if any.
func (v *Validator) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}
