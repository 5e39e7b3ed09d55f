// Package repomanager vends identity and token stores bound to a unit of
// work, for either PostgreSQL or the in-memory backend.
package repomanager

import (
	"github.com/dmitrijs2005/fastauth/internal/dbx"
	"github.com/dmitrijs2005/fastauth/internal/server/repositories/identities"
	"github.com/dmitrijs2005/fastauth/internal/server/repositories/memory"
	"github.com/dmitrijs2005/fastauth/internal/server/repositories/tokens"
)

// RepositoryManager binds stores to the DBTX of the current unit of work.
type RepositoryManager interface {
	Identities(db dbx.DBTX) identities.Repository
	Tokens(db dbx.DBTX) tokens.Repository
}

var (
	_ RepositoryManager = (*PostgresRepositoryManager)(nil)
	_ RepositoryManager = (*memory.Store)(nil)
	_ dbx.Runner        = (*memory.Store)(nil)
)
