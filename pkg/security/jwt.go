package security

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yourorg/go-sblite/pkg/errors"
)

const (
	// MaxTokenSize bounds bearer tokens accepted for CBS (16KB).
	MaxTokenSize = 16 * 1024
)

var (
	ErrTokenTooLarge  = stderrors.New("token size exceeds maximum allowed")
	ErrMissingExpiry  = stderrors.New("token carries no exp claim")
	ErrMalformedToken = stderrors.New("token is not a well-formed JWT")
)

// JWTTokenProvider hands out a bearer JWT issued elsewhere. The token is not
// verified here; the broker does that. Only its expiry is read.
type JWTTokenProvider struct {
	token  string
	expiry time.Time
}

// NewJWTTokenProvider validates the token's shape and extracts its expiry.
func NewJWTTokenProvider(token string) (*JWTTokenProvider, error) {
	expiry, err := ParseTokenExpiry(token)
	if err != nil {
		return nil, errors.NewAppErrorWithErr(errors.ErrorCodeValidation, "invalid bearer token", err)
	}
	return &JWTTokenProvider{token: token, expiry: expiry}, nil
}

// GetToken implements TokenProvider.
func (p *JWTTokenProvider) GetToken(_ context.Context, _ string) (*Token, error) {
	return &Token{Type: TokenTypeJWT, Value: p.token, Expiry: p.expiry}, nil
}

// ParseTokenExpiry returns the exp claim of an unverified JWT.
func ParseTokenExpiry(token string) (time.Time, error) {
	if len(token) > MaxTokenSize {
		return time.Time{}, ErrTokenTooLarge
	}
	if strings.Count(token, ".") != 2 {
		return time.Time{}, ErrMalformedToken
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrMissingExpiry
	}
	return claims.ExpiresAt.Time.UTC(), nil
}
