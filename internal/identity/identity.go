// Package identity resolves the authenticated caller from a bearer token.
package identity

import (
	"errors"

	"github.com/creatorsuite/creditguard/internal/config"
	"github.com/creatorsuite/creditguard/internal/security"
)

// Identity is the authenticated caller of a billable endpoint.
type Identity struct {
	ID    string
	Email string
	Admin bool
}

// ErrUnauthenticated reports a missing or invalid bearer token.
var ErrUnauthenticated = errors.New("identity: unauthenticated")

// FromAuthorizationHeader resolves the caller from an Authorization header
// value.
func FromAuthorizationHeader(header string, cfg config.JWTConfig) (Identity, error) {
	token, ok := security.BearerToken(header)
	if !ok {
		return Identity{}, ErrUnauthenticated
	}
	claims, errParse := security.ParseToken(token, cfg)
	if errParse != nil {
		return Identity{}, ErrUnauthenticated
	}
	return Identity{
		ID:    claims.Subject,
		Email: claims.Email,
		Admin: claims.Admin,
	}, nil
}
