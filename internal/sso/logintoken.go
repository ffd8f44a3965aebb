package sso

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultLoginTokenLifetime is how long a local login token is accepted.
const DefaultLoginTokenLifetime = 24 * time.Hour

// LoginClaims are carried by the local login token issued after SSO
// linking.
type LoginClaims struct {
	SsoAccountID string `json:"ssoAccountId"`
	Provider     string `json:"provider"`
	jwt.RegisteredClaims
}

// LoginTokenSigner issues and verifies HS256 login tokens.
type LoginTokenSigner struct {
	secret   []byte
	issuer   string
	lifetime time.Duration
}

func NewLoginTokenSigner(secret []byte, issuer string, lifetime time.Duration) (*LoginTokenSigner, error) {
	if len(secret) == 0 {
		return nil, errors.New("login token secret is required")
	}
	if lifetime <= 0 {
		lifetime = DefaultLoginTokenLifetime
	}
	return &LoginTokenSigner{secret: secret, issuer: issuer, lifetime: lifetime}, nil
}

// Sign returns a new token for userID. Every call yields a distinct token.
// Lifetime is how long issued login tokens stay valid.
func (s *LoginTokenSigner) Lifetime() time.Duration { return s.lifetime }

func (s *LoginTokenSigner) Sign(userID, ssoAccountID, provider string, now time.Time) (string, error) {
	claims := LoginClaims{
		SsoAccountID: ssoAccountID,
		Provider:     provider,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing login token: %w", err)
	}
	return signed, nil
}

// Verify parses token and checks its signature, issuer and expiry.
func (s *LoginTokenSigner) Verify(token string, now time.Time) (*LoginClaims, error) {
	claims := &LoginClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
