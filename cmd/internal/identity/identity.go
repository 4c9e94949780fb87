// Package identity models the credential-verification collaborator.
//
// The business side of authentication (directory lookups, stored
// procedures) lives outside this subsystem; the core consumes only a
// Verifier that turns username/password into an identity plus role set.
package identity

import (
	"context"
	"errors"
	"strings"
)

// Identity is an authenticated principal: a username and its role set.
type Identity struct {
	Username string
	Roles    []string
}

// HasRole reports whether the identity carries the given role
// (case-insensitive, matching the upstream role conventions).
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// ErrBadCredentials is returned when username/password verification fails.
// Unknown user and wrong password are indistinguishable on purpose.
var ErrBadCredentials = errors.New("bad credentials")

// Verifier checks a username/password pair against the external credential
// source and returns the resolved identity.
type Verifier interface {
	Verify(ctx context.Context, username, password string) (Identity, error)
}
