// Package memory is an in-process backend for the identity and token stores.
// It enforces the same uniqueness and ownership rules as the PostgreSQL
// schema and provides a unit of work that discards all changes on failure.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/fastauth/internal/dbx"
	"github.com/dmitrijs2005/fastauth/internal/server/models"
	"github.com/dmitrijs2005/fastauth/internal/server/repositories/identities"
	"github.com/dmitrijs2005/fastauth/internal/server/repositories/tokens"
)

// Store holds both tables. The zero value is not usable; call New.
type Store struct {
	mu         sync.RWMutex
	identities map[string]models.Identity
	tokens     map[string]models.IssuedToken

	// units of work run one at a time
	txMu sync.Mutex

	now func() time.Time
}

func New() *Store {
	return &Store{
		identities: make(map[string]models.Identity),
		tokens:     make(map[string]models.IssuedToken),
		now:        time.Now,
	}
}

// WithClock sets the clock used for created_at/updated_at.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Identities returns the identity store. The DBTX argument is ignored; it
// exists so Store satisfies the repository manager contract.
func (s *Store) Identities(dbx.DBTX) identities.Repository {
	return &identityRepository{s: s}
}

// Tokens returns the token store. The DBTX argument is ignored.
func (s *Store) Tokens(dbx.DBTX) tokens.Repository {
	return &tokenRepository{s: s}
}

// Within runs fn as one unit of work. If fn fails or panics every change it
// made is rolled back.
func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
		}
	}()

	return fn(ctx, nil)
}

type snapshot struct {
	identities map[string]models.Identity
	tokens     map[string]models.IssuedToken
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{
		identities: make(map[string]models.Identity, len(s.identities)),
		tokens:     make(map[string]models.IssuedToken, len(s.tokens)),
	}
	for k, v := range s.identities {
		snap.identities[k] = v
	}
	for k, v := range s.tokens {
		snap.tokens[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities = snap.identities
	s.tokens = snap.tokens
}

// Len reports the number of stored identities and tokens.
func (s *Store) Len() (identityCount, tokenCount int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.identities), len(s.tokens)
}
