// Package identities declares and implements the identity store.
package identities

import (
	"github.com/dmitrijs2005/fastauth/internal/server/models"
	"github.com/dmitrijs2005/fastauth/internal/server/repositories"
)

// Filter selects an identity by exact match on every non-empty field.
// Callers must pick a field set that is unique: ID, Email, Username, or the
// (FederatedProvider, FederatedSubject) pair.
type Filter struct {
	ID                string
	Email             string
	Username          string
	FederatedProvider string
	FederatedSubject  string
}

func (f Filter) Empty() bool {
	return f == Filter{}
}

// Changes is a partial update; nil fields are left untouched. UpdatedAt is
// always refreshed.
type Changes struct {
	Email             *string
	Username          *string
	CredentialHash    *string
	IsPrivileged      *bool
	FederatedProvider *string
	FederatedSubject  *string
}

// Repository is the identity store.
type Repository interface {
	repositories.Store[models.Identity, Filter, Changes]
}
