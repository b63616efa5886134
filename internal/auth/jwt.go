package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the part of the API's access token the portal reads.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Inspect decodes a JWT access token without verifying its signature; the
// remote API does that on every call. ok is false for opaque tokens.
func Inspect(token string) (Claims, bool) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Claims{}, false
	}
	return claims, true
}

// Sign issues an HS256 token. The portal never mints tokens for the API;
// this exists for local development and tests.
func Sign(subject, role, key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", errors.New("signing key required")
	}
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
}
