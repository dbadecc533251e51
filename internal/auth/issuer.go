package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAccessTokenTTL bounds how long an issued credential stays valid.
const DefaultAccessTokenTTL = 24 * time.Hour

// Issuer mints HS256 access tokens for the api binary. The gateway never
// mints tokens; it only validates them with the matching shared secret.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewIssuer returns an issuer signing with the given shared secret. A zero
// ttl falls back to DefaultAccessTokenTTL.
func NewIssuer(secret, issuer string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// IssueAccessToken mints a signed, time-bounded token whose subject is the
// given identity.
func (i *Issuer) IssueAccessToken(subject, email, displayName string) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		Name:  displayName,
		Email: email,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}
