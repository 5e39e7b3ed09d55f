// Package repositories declares the data-access contract shared by the
// identity and token stores, plus the SQL helpers their PostgreSQL
// implementations use.
package repositories

import "context"

// Store is the minimal capability set over one entity type T. F is the
// entity's filter (a set of optional equality predicates) and C its partial
// update. Implementations are bound to one unit of work by the repository
// manager and hold no transaction state themselves.
type Store[T any, F any, C any] interface {
	// Create assigns an id and timestamps and persists record. Uniqueness
	// conflicts return common.ErrConstraintViolation.
	Create(ctx context.Context, record *T) (*T, error)

	// FindOne returns the record matching every set field of filter, or
	// common.ErrorNotFound. An empty filter returns common.ErrEmptyFilter.
	FindOne(ctx context.Context, filter F) (*T, error)

	// Update applies changes to the record with id and returns the result,
	// or common.ErrorNotFound.
	Update(ctx context.Context, id string, changes C) (*T, error)

	// Delete removes the record with id and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
}
