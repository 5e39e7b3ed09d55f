// Package tokens declares and implements the issued-token store.
package tokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fastauth/internal/server/models"
	"github.com/dmitrijs2005/fastauth/internal/server/repositories"
)

// Filter selects a token by exact match on every non-empty field. Token
// alone is unique; Kind and OwnerIdentityID narrow a lookup further.
type Filter struct {
	ID              string
	Token           string
	Kind            models.TokenKind
	OwnerIdentityID string
}

func (f Filter) Empty() bool {
	return f == Filter{}
}

// Changes is a partial update. Revocation is the only mutable state.
type Changes struct {
	Revoked *bool
}

// Repository is the issued-token store.
type Repository interface {
	repositories.Store[models.IssuedToken, Filter, Changes]

	// DeleteExpired removes every token, of any owner, whose expiry is at or
	// before now, and returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
