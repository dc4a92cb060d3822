// Package security produces the access tokens presented to the broker,
// either through SASL credentials or through a CBS put-token exchange.
package security

import (
	"context"
	"time"
)

// TokenType is the value of the CBS "type" application property.
type TokenType string

const (
	// TokenTypeSAS identifies a shared access signature.
	TokenTypeSAS TokenType = "servicebus.windows.net:sastoken"
	// TokenTypeJWT identifies a bearer JSON web token.
	TokenTypeJWT TokenType = "jwt"
)

// Token is a short-lived credential scoped to an audience.
type Token struct {
	Type   TokenType
	Value  string
	Expiry time.Time
}

// TokenProvider produces tokens for a resource audience such as
// amqp://<host>/<entity>.
type TokenProvider interface {
	GetToken(ctx context.Context, audience string) (*Token, error)
}
