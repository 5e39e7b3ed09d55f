// Package services contains server-side business logic. This file implements
// AuthService, the authentication engine: registration, credential checks,
// token pair issuance, access-token resolution, refresh, federated identity
// linking and expired-token reclamation.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/fastauth/internal/common"
	"github.com/dmitrijs2005/fastauth/internal/dbx"
	"github.com/dmitrijs2005/fastauth/internal/logging"
	"github.com/dmitrijs2005/fastauth/internal/server/auth"
	"github.com/dmitrijs2005/fastauth/internal/server/config"
	"github.com/dmitrijs2005/fastauth/internal/server/models"
	"github.com/dmitrijs2005/fastauth/internal/server/repositories/identities"
	"github.com/dmitrijs2005/fastauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/fastauth/internal/server/repositories/tokens"
)

// Hasher is the credential hasher the engine depends on.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

// TokenCodec mints and parses signed tokens.
type TokenCodec interface {
	Encode(subjectID string, kind models.TokenKind, ttl time.Duration) (string, time.Time, error)
	Decode(tokenString string) (*auth.Decoded, error)
}

// Recorder receives operation outcomes. A nil Recorder is replaced by a no-op.
type Recorder interface {
	ObserveOperation(operation string, err error)
	TokenIssued(kind models.TokenKind)
	TokensReclaimed(n int64)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, error) {}
func (nopRecorder) TokenIssued(models.TokenKind)   {}
func (nopRecorder) TokensReclaimed(int64)          {}

// BearerTokenType is the token_type handed back with every pair.
const BearerTokenType = "bearer"

const placeholderSecretSize = 32

// AuthService orchestrates the hasher, codec and stores. Every operation
// takes the unit of work it must run in; committing or rolling it back is
// the caller's job.
type AuthService struct {
	repomanager repomanager.RepositoryManager
	hasher      Hasher
	codec       TokenCodec
	accessTTL   time.Duration
	refreshTTL  time.Duration
	logger      logging.Logger
	metrics     Recorder
	now         func() time.Time

	decoyOnce sync.Once
	decoy     string
}

// NewAuthService builds the engine from its collaborators and the token
// lifetimes in cfg.
func NewAuthService(m repomanager.RepositoryManager, hasher Hasher, codec TokenCodec, cfg *config.Config, logger logging.Logger) *AuthService {
	if logger == nil {
		logger = logging.Nop()
	}
	return &AuthService{
		repomanager: m,
		hasher:      hasher,
		codec:       codec,
		accessTTL:   cfg.AccessTokenValidityDuration,
		refreshTTL:  cfg.RefreshTokenValidityDuration,
		logger:      logger.With("module", "auth"),
		metrics:     nopRecorder{},
		now:         time.Now,
	}
}

// WithClock sets the clock used for expiry checks.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// WithMetrics attaches an outcome recorder.
func (s *AuthService) WithMetrics(r Recorder) *AuthService {
	if r != nil {
		s.metrics = r
	}
	return s
}

// Register validates the input, hashes the password and stores a new
// identity. Duplicate email or username yields common.ErrConstraintViolation.
func (s *AuthService) Register(ctx context.Context, tx dbx.DBTX, email, username, password string) (identity *models.Identity, err error) {
	defer func() { s.metrics.ObserveOperation("register", err) }()

	if err := validateRegistration(email, username, password); err != nil {
		return nil, err
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("%w: hashing password: %v", common.ErrorInternal, err)
	}

	identity, err = s.repomanager.Identities(tx).Create(ctx, &models.Identity{
		Email:          email,
		Username:       username,
		CredentialHash: digest,
	})
	if err != nil {
		if errors.Is(err, common.ErrConstraintViolation) {
			s.logger.Info(ctx, "registration rejected, identity exists", "username", username)
		}
		return nil, fmt.Errorf("error creating identity: %w", err)
	}

	s.logger.Info(ctx, "identity registered", "identity_id", identity.ID, "username", username)
	return identity, nil
}

// Authenticate checks username and password. Unknown user and wrong
// password both return common.ErrAuthenticationFailed.
func (s *AuthService) Authenticate(ctx context.Context, tx dbx.DBTX, username, password string) (identity *models.Identity, err error) {
	defer func() { s.metrics.ObserveOperation("authenticate", err) }()

	identity, err = s.repomanager.Identities(tx).FindOne(ctx, identities.Filter{Username: username})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// spend the same hashing effort as a real mismatch
			s.hasher.Verify(password, s.decoyHash())
			s.logger.Info(ctx, "authentication failed", "username", username)
			return nil, common.ErrAuthenticationFailed
		}
		return nil, fmt.Errorf("error searching identity: %w", err)
	}

	if !s.hasher.Verify(password, identity.CredentialHash) {
		s.logger.Info(ctx, "authentication failed", "username", username)
		return nil, common.ErrAuthenticationFailed
	}
	return identity, nil
}

// IssueTokenPair mints an access and a refresh token for identity and
// persists both through tx. Callers must run it inside one unit of work so
// that a failure leaves neither row behind.
func (s *AuthService) IssueTokenPair(ctx context.Context, tx dbx.DBTX, identity *models.Identity) (*models.TokenPair, error) {
	access, err := s.mint(ctx, tx, identity.ID, models.TokenKindAccess, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.mint(ctx, tx, identity.ID, models.TokenKindRefresh, s.refreshTTL)
	if err != nil {
		return nil, err
	}

	s.logger.Debug(ctx, "token pair issued", "identity_id", identity.ID)
	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    BearerTokenType,
	}, nil
}

// ResolveIdentity validates an access token against the codec and the token
// store and returns its owner. Every failure, including a removed owner,
// is common.ErrInvalidCredentials.
func (s *AuthService) ResolveIdentity(ctx context.Context, tx dbx.DBTX, accessToken string) (identity *models.Identity, err error) {
	defer func() { s.metrics.ObserveOperation("resolve", err) }()

	decoded, err := s.codec.Decode(accessToken)
	if err != nil {
		s.logger.Debug(ctx, "access token rejected by codec", "error", err)
		return nil, common.ErrInvalidCredentials
	}
	if decoded.Kind != models.TokenKindAccess {
		return nil, common.ErrInvalidCredentials
	}

	row, err := s.repomanager.Tokens(tx).FindOne(ctx, tokens.Filter{
		Token:           accessToken,
		Kind:            models.TokenKindAccess,
		OwnerIdentityID: decoded.SubjectID,
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("error searching token: %w", err)
	}
	if !row.ActiveAt(s.now()) {
		return nil, common.ErrInvalidCredentials
	}

	identity, err = s.repomanager.Identities(tx).FindOne(ctx, identities.Filter{ID: row.OwnerIdentityID})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("error searching identity: %w", err)
	}
	return identity, nil
}

// Refresh mints one new access token for the owner of a stored, active
// refresh token. The refresh token stays valid.
func (s *AuthService) Refresh(ctx context.Context, tx dbx.DBTX, refreshToken string) (accessToken string, err error) {
	defer func() { s.metrics.ObserveOperation("refresh", err) }()

	row, err := s.repomanager.Tokens(tx).FindOne(ctx, tokens.Filter{
		Token: refreshToken,
		Kind:  models.TokenKindRefresh,
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) || errors.Is(err, common.ErrEmptyFilter) {
			return "", common.ErrRefreshFailed
		}
		return "", fmt.Errorf("error searching token: %w", err)
	}
	if !row.ActiveAt(s.now()) {
		s.logger.Info(ctx, "refresh rejected, token inactive", "identity_id", row.OwnerIdentityID)
		return "", common.ErrRefreshFailed
	}

	accessToken, err = s.mint(ctx, tx, row.OwnerIdentityID, models.TokenKindAccess, s.accessTTL)
	if err != nil {
		return "", err
	}
	return accessToken, nil
}

// LinkOrCreateFederatedIdentity resolves a verified provider assertion to an
// identity: first by (provider, subject), then by email, otherwise by
// creating a new identity with a random placeholder credential. A matched
// identity gets its provider fields set, so a local account with the same
// email becomes reachable through the provider.
func (s *AuthService) LinkOrCreateFederatedIdentity(ctx context.Context, tx dbx.DBTX, assertion models.FederatedAssertion) (identity *models.Identity, err error) {
	defer func() { s.metrics.ObserveOperation("federated_link", err) }()

	if assertion.Provider == "" || assertion.Subject == "" || assertion.Email == "" {
		return nil, fmt.Errorf("%w: incomplete provider assertion", common.ErrValidation)
	}

	repo := s.repomanager.Identities(tx)

	identity, err = repo.FindOne(ctx, identities.Filter{
		FederatedProvider: assertion.Provider,
		FederatedSubject:  assertion.Subject,
	})
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("error searching identity: %w", err)
	}
	if identity == nil {
		identity, err = repo.FindOne(ctx, identities.Filter{Email: assertion.Email})
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("error searching identity: %w", err)
		}
	}

	if identity != nil {
		linked, err := repo.Update(ctx, identity.ID, identities.Changes{
			FederatedProvider: &assertion.Provider,
			FederatedSubject:  &assertion.Subject,
		})
		if err != nil {
			return nil, fmt.Errorf("error linking identity: %w", err)
		}
		s.logger.Info(ctx, "federated identity linked", "identity_id", linked.ID, "provider", assertion.Provider)
		return linked, nil
	}

	placeholder, err := common.MakeRandHexString(placeholderSecretSize)
	if err != nil {
		return nil, fmt.Errorf("%w: generating placeholder credential: %v", common.ErrorInternal, err)
	}
	digest, err := s.hasher.Hash(placeholder)
	if err != nil {
		return nil, fmt.Errorf("%w: hashing placeholder credential: %v", common.ErrorInternal, err)
	}

	identity, err = repo.Create(ctx, &models.Identity{
		Email:             assertion.Email,
		Username:          assertion.DisplayName,
		CredentialHash:    digest,
		FederatedProvider: assertion.Provider,
		FederatedSubject:  assertion.Subject,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating federated identity: %w", err)
	}

	s.logger.Info(ctx, "federated identity created", "identity_id", identity.ID, "provider", assertion.Provider)
	return identity, nil
}

// ReclaimExpiredTokens deletes every stored token whose expiry has passed
// and returns how many were removed.
func (s *AuthService) ReclaimExpiredTokens(ctx context.Context, tx dbx.DBTX) (removed int64, err error) {
	defer func() { s.metrics.ObserveOperation("reclaim", err) }()

	removed, err = s.repomanager.Tokens(tx).DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("error deleting expired tokens: %w", err)
	}

	s.metrics.TokensReclaimed(removed)
	s.logger.Info(ctx, "expired tokens reclaimed", "count", removed)
	return removed, nil
}

// Login authenticates and issues a token pair.
func (s *AuthService) Login(ctx context.Context, tx dbx.DBTX, username, password string) (*models.TokenPair, error) {
	identity, err := s.Authenticate(ctx, tx, username, password)
	if err != nil {
		return nil, err
	}
	return s.IssueTokenPair(ctx, tx, identity)
}

// FederatedLogin links or creates the identity behind assertion and issues a
// token pair for it.
func (s *AuthService) FederatedLogin(ctx context.Context, tx dbx.DBTX, assertion models.FederatedAssertion) (*models.TokenPair, error) {
	identity, err := s.LinkOrCreateFederatedIdentity(ctx, tx, assertion)
	if err != nil {
		return nil, err
	}
	return s.IssueTokenPair(ctx, tx, identity)
}

func (s *AuthService) mint(ctx context.Context, tx dbx.DBTX, ownerID string, kind models.TokenKind, ttl time.Duration) (string, error) {
	encoded, expiresAt, err := s.codec.Encode(ownerID, kind, ttl)
	if err != nil {
		return "", fmt.Errorf("%w: encoding %s token: %v", common.ErrorInternal, kind, err)
	}

	if _, err := s.repomanager.Tokens(tx).Create(ctx, &models.IssuedToken{
		Token:           encoded,
		Kind:            kind,
		ExpiresAt:       expiresAt,
		OwnerIdentityID: ownerID,
	}); err != nil {
		return "", fmt.Errorf("error storing %s token: %w", kind, err)
	}

	s.metrics.TokenIssued(kind)
	return encoded, nil
}

// decoyHash is verified against when the username is unknown.
func (s *AuthService) decoyHash() string {
	s.decoyOnce.Do(func() {
		secret, err := common.MakeRandHexString(placeholderSecretSize)
		if err != nil {
			return
		}
		s.decoy, _ = s.hasher.Hash(secret)
	})
	return s.decoy
}
