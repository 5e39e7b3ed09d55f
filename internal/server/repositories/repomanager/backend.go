package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/fastauth/internal/dbx"
	"github.com/dmitrijs2005/fastauth/internal/server/config"
	"github.com/dmitrijs2005/fastauth/internal/server/repositories/memory"
)

// Backend is an opened storage backend: the stores plus the runner that
// scopes units of work for them.
type Backend struct {
	Manager RepositoryManager
	Runner  dbx.Runner
	close   func() error
}

// Close releases the underlying connection pool, if any.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// openPostgres is a seam for tests.
var openPostgres = OpenPostgres

// Open selects the backend by DSN. config.MemoryDSN gives the in-process
// store; anything else is a PostgreSQL DSN, migrated before use.
func Open(ctx context.Context, dsn string) (*Backend, error) {
	if dsn == config.MemoryDSN {
		store := memory.New()
		return &Backend{Manager: store, Runner: store}, nil
	}

	db, err := openPostgres(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	m := NewPostgresRepositoryManager()
	if err := m.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return &Backend{
		Manager: m,
		Runner:  dbx.NewSQLRunner(db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}),
		close:   db.Close,
	}, nil
}
