package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fastauth/internal/common"
	"github.com/dmitrijs2005/fastauth/internal/server/models"
	"github.com/dmitrijs2005/fastauth/internal/server/repositories/tokens"
	"github.com/google/uuid"
)

type tokenRepository struct {
	s *Store
}

func (r *tokenRepository) Create(_ context.Context, token *models.IssuedToken) (*models.IssuedToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.identities[token.OwnerIdentityID]; !ok {
		return nil, fmt.Errorf("%w: issued_tokens_owner_identity_id_fkey", common.ErrConstraintViolation)
	}
	for _, other := range r.s.tokens {
		if other.Token == token.Token {
			return nil, fmt.Errorf("%w: issued_tokens_token_key", common.ErrConstraintViolation)
		}
	}

	created := *token
	created.ID = uuid.NewString()
	created.CreatedAt = r.s.now().UTC()
	created.ExpiresAt = created.ExpiresAt.UTC()

	r.s.tokens[created.ID] = created
	return &created, nil
}

func (r *tokenRepository) FindOne(_ context.Context, filter tokens.Filter) (*models.IssuedToken, error) {
	if filter.Empty() {
		return nil, common.ErrEmptyFilter
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, token := range r.s.tokens {
		if (filter.ID == "" || token.ID == filter.ID) &&
			(filter.Token == "" || token.Token == filter.Token) &&
			(filter.Kind == "" || token.Kind == filter.Kind) &&
			(filter.OwnerIdentityID == "" || token.OwnerIdentityID == filter.OwnerIdentityID) {
			found := token
			return &found, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *tokenRepository) Update(_ context.Context, id string, changes tokens.Changes) (*models.IssuedToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	token, ok := r.s.tokens[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if changes.Revoked != nil {
		token.Revoked = *changes.Revoked
		r.s.tokens[id] = token
	}
	return &token, nil
}

func (r *tokenRepository) Delete(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.tokens[id]; !ok {
		return false, nil
	}
	delete(r.s.tokens, id)
	return true, nil
}

func (r *tokenRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, token := range r.s.tokens {
		if !token.ExpiresAt.After(now) {
			delete(r.s.tokens, id)
			n++
		}
	}
	return n, nil
}
