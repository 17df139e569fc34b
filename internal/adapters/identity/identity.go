// Package identity verifies bearer tokens and resolves callers to the
// profile attributes eligibility rules need.
package identity

import (
	"context"
	"time"

	"github.com/okian/matchpoint/internal/domain/model"
)

// Authenticator turns a bearer token into an opaque user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// Directory resolves user ids to profiles.
type Directory interface {
	User(ctx context.Context, id string) (model.User, error)
}

// Issuer mints tokens for a user.
type Issuer interface {
	Issue(user model.User, ttl time.Duration) (string, error)
}
