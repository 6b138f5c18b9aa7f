// Package auth holds the JWT session layer for the dashboard UI: token
// minting and validation, the session cookie, and the middlewares the HTTP
// routes compose.
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the session identity. Role matches config.RoleAdmin /
// config.RoleUser.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Role     string `json:"role"`
}

// DeriveSecret turns an arbitrary-length secret string into a fixed 32-byte
// signing key.
func DeriveSecret(input string) []byte {
	sum := sha256.Sum256([]byte(input))
	return sum[:]
}

// GenerateToken mints a signed HS256 token for the given identity.
func GenerateToken(secret []byte, username, role string, expiry time.Duration) (string, error) {
	if len(secret) < 32 {
		return "", fmt.Errorf("auth: secret too short (%d bytes, need 32)", len(secret))
	}
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
		Username: username,
		Role:     role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ValidateToken parses and validates a token string. The signing method is
// pinned to HS256 to prevent algorithm confusion.
func ValidateToken(secret []byte, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v (only HS256 allowed)", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
