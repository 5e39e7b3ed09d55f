package memory

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/fastauth/internal/common"
	"github.com/dmitrijs2005/fastauth/internal/server/models"
	"github.com/dmitrijs2005/fastauth/internal/server/repositories/identities"
	"github.com/google/uuid"
)

type identityRepository struct {
	s *Store
}

func (r *identityRepository) Create(_ context.Context, identity *models.Identity) (*models.Identity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	created := *identity
	created.ID = uuid.NewString()
	created.CreatedAt = r.s.now().UTC()
	created.UpdatedAt = created.CreatedAt

	if err := r.s.checkIdentityUnique(&created); err != nil {
		return nil, err
	}
	r.s.identities[created.ID] = created
	return &created, nil
}

func (r *identityRepository) FindOne(_ context.Context, filter identities.Filter) (*models.Identity, error) {
	if filter.Empty() {
		return nil, common.ErrEmptyFilter
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, identity := range r.s.identities {
		if matchIdentity(&identity, filter) {
			found := identity
			return &found, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *identityRepository) Update(_ context.Context, id string, changes identities.Changes) (*models.Identity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.identities[id]
	if !ok {
		return nil, common.ErrorNotFound
	}

	updated := current
	if changes.Email != nil {
		updated.Email = *changes.Email
	}
	if changes.Username != nil {
		updated.Username = *changes.Username
	}
	if changes.CredentialHash != nil {
		updated.CredentialHash = *changes.CredentialHash
	}
	if changes.IsPrivileged != nil {
		updated.IsPrivileged = *changes.IsPrivileged
	}
	if changes.FederatedProvider != nil {
		updated.FederatedProvider = *changes.FederatedProvider
	}
	if changes.FederatedSubject != nil {
		updated.FederatedSubject = *changes.FederatedSubject
	}
	if (updated.FederatedProvider == "") != (updated.FederatedSubject == "") {
		return nil, fmt.Errorf("%w: identities_federated_pair", common.ErrConstraintViolation)
	}
	updated.UpdatedAt = r.s.now().UTC()

	if err := r.s.checkIdentityUnique(&updated); err != nil {
		return nil, err
	}
	r.s.identities[id] = updated
	return &updated, nil
}

// Delete removes the identity and, like ON DELETE CASCADE, its tokens.
func (r *identityRepository) Delete(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.identities[id]; !ok {
		return false, nil
	}
	delete(r.s.identities, id)
	for tokenID, token := range r.s.tokens {
		if token.OwnerIdentityID == id {
			delete(r.s.tokens, tokenID)
		}
	}
	return true, nil
}

// checkIdentityUnique must be called with mu held.
func (s *Store) checkIdentityUnique(candidate *models.Identity) error {
	for id, other := range s.identities {
		if id == candidate.ID {
			continue
		}
		switch {
		case other.Email == candidate.Email:
			return fmt.Errorf("%w: identities_email_key", common.ErrConstraintViolation)
		case other.Username == candidate.Username:
			return fmt.Errorf("%w: identities_username_key", common.ErrConstraintViolation)
		case candidate.IsFederated() &&
			other.FederatedProvider == candidate.FederatedProvider &&
			other.FederatedSubject == candidate.FederatedSubject:
			return fmt.Errorf("%w: identities_federated_idx", common.ErrConstraintViolation)
		}
	}
	return nil
}

func matchIdentity(identity *models.Identity, f identities.Filter) bool {
	return (f.ID == "" || identity.ID == f.ID) &&
		(f.Email == "" || identity.Email == f.Email) &&
		(f.Username == "" || identity.Username == f.Username) &&
		(f.FederatedProvider == "" || identity.FederatedProvider == f.FederatedProvider) &&
		(f.FederatedSubject == "" || identity.FederatedSubject == f.FederatedSubject)
}
