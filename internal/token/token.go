package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalid = errors.New("invalid token")
	ErrExpired = errors.New("token expired")
	ErrNoKey   = errors.New("token secret is empty")
)

// issuer is stamped into every click token and checked on verify.
const issuer = "adrotator"

// ClickClaims ties a click back to the selection that produced it.
type ClickClaims struct {
	AdID      string `json:"ad"`
	RequestID string `json:"rid,omitempty"`
	ViewerKey string `json:"vk,omitempty"`
	jwt.RegisteredClaims
}

// Click is the verified content of a click token.
type Click struct {
	ID        string
	AdID      string
	RequestID string
	ViewerKey string
	IssuedAt  time.Time
}

// Generate creates a signed click token for adID shown to viewerKey. A zero
// ttl issues a token without expiry.
func Generate(adID, requestID, viewerKey string, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", ErrNoKey
	}
	if adID == "" {
		return "", fmt.Errorf("%w: missing ad id", ErrInvalid)
	}
	claims := ClickClaims{
		AdID:      adID,
		RequestID: requestID,
		ViewerKey: viewerKey,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Issuer:   issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Verify checks the signature, issuer and expiry of a click token.
func Verify(tokenString string, secret []byte) (Click, error) {
	if len(secret) == 0 {
		return Click{}, ErrNoKey
	}
	var claims ClickClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Click{}, ErrExpired
	case err != nil:
		return Click{}, ErrInvalid
	case claims.AdID == "":
		return Click{}, ErrInvalid
	}

	out := Click{ID: claims.ID, AdID: claims.AdID, RequestID: claims.RequestID, ViewerKey: claims.ViewerKey}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}
