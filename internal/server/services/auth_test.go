package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/fastauth/internal/common"
	"github.com/dmitrijs2005/fastauth/internal/dbx"
	"github.com/dmitrijs2005/fastauth/internal/server/auth"
	"github.com/dmitrijs2005/fastauth/internal/server/config"
	"github.com/dmitrijs2005/fastauth/internal/server/models"
	"github.com/dmitrijs2005/fastauth/internal/server/repositories/identities"
	"github.com/dmitrijs2005/fastauth/internal/server/repositories/memory"
	"github.com/dmitrijs2005/fastauth/internal/server/repositories/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc   *AuthService
	store *memory.Store
	clock *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	codec, err := auth.NewCodec([]byte("test-secret"), "HS256")
	require.NoError(t, err)

	cfg := &config.Config{
		AccessTokenValidityDuration:  30 * time.Minute,
		RefreshTokenValidityDuration: 7 * 24 * time.Hour,
	}
	store := memory.New().WithClock(clock.Now)
	svc := NewAuthService(store, auth.NewPasswordHasher(bcrypt.MinCost), codec.WithClock(clock.Now), cfg, nil).
		WithClock(clock.Now)

	return &harness{svc: svc, store: store, clock: clock}
}

func (h *harness) within(t *testing.T, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	t.Helper()
	return h.store.Within(context.Background(), fn)
}

func (h *harness) register(t *testing.T, email, username, password string) *models.Identity {
	t.Helper()
	var out *models.Identity
	err := h.within(t, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		out, err = h.svc.Register(ctx, tx, email, username, password)
		return err
	})
	require.NoError(t, err)
	return out
}

func (h *harness) login(t *testing.T, username, password string) (*models.TokenPair, error) {
	t.Helper()
	var pair *models.TokenPair
	err := h.within(t, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		pair, err = h.svc.Login(ctx, tx, username, password)
		return err
	})
	return pair, err
}

func (h *harness) resolve(t *testing.T, token string) (*models.Identity, error) {
	t.Helper()
	var out *models.Identity
	err := h.within(t, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		out, err = h.svc.ResolveIdentity(ctx, tx, token)
		return err
	})
	return out, err
}

func (h *harness) refresh(t *testing.T, token string) (string, error) {
	t.Helper()
	var out string
	err := h.within(t, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		out, err = h.svc.Refresh(ctx, tx, token)
		return err
	})
	return out, err
}

func (h *harness) reclaim(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.within(t, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		n, err = h.svc.ReclaimExpiredTokens(ctx, tx)
		return err
	}))
	return n
}

func (h *harness) link(t *testing.T, a models.FederatedAssertion) (*models.Identity, error) {
	t.Helper()
	var out *models.Identity
	err := h.within(t, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		out, err = h.svc.LinkOrCreateFederatedIdentity(ctx, tx, a)
		return err
	})
	return out, err
}

func TestRegister_StoresHashNotPlaintext(t *testing.T) {
	h := newHarness(t)

	got := h.register(t, "a@x.com", "alice", "pw12345678")

	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "a@x.com", got.Email)
	assert.Equal(t, "alice", got.Username)
	assert.NotEqual(t, "pw12345678", got.CredentialHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(got.CredentialHash), []byte("pw12345678")))
	assert.False(t, got.IsPrivileged)
	assert.False(t, got.IsFederated())
}

func TestRegister_DuplicateLeavesNoPartialRecord(t *testing.T) {
	h := newHarness(t)
	h.register(t, "a@x.com", "alice", "pw12345678")

	cases := []struct {
		name            string
		email, username string
	}{
		{"same username", "b@x.com", "alice"},
		{"same email", "a@x.com", "bob"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := h.within(t, func(ctx context.Context, tx dbx.DBTX) error {
				_, err := h.svc.Register(ctx, tx, tc.email, tc.username, "pw12345678")
				return err
			})
			require.ErrorIs(t, err, common.ErrConstraintViolation)

			n, _ := h.store.Len()
			assert.Equal(t, 1, n)
		})
	}
}

func TestRegister_ConcurrentSameUsername(t *testing.T) {
	h := newHarness(t)

	const callers = 8
	var ok, conflict atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := h.store.Within(context.Background(), func(ctx context.Context, tx dbx.DBTX) error {
				_, err := h.svc.Register(ctx, tx, fmt.Sprintf("user%d@x.com", i), "alice", "pw12345678")
				return err
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, common.ErrConstraintViolation):
				conflict.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, callers-1, conflict.Load())
	n, _ := h.store.Len()
	assert.Equal(t, 1, n)
}

func TestRegister_Validation(t *testing.T) {
	h := newHarness(t)

	long := make([]byte, auth.MaxPasswordBytes+1)
	for i := range long {
		long[i] = 'p'
	}

	cases := []struct {
		name                      string
		email, username, password string
	}{
		{"bad email", "not-an-email", "alice", "pw12345678"},
		{"short username", "a@x.com", "al", "pw12345678"},
		{"long username", "a@x.com", strings.Repeat("u", 51), "pw12345678"},
		{"short password", "a@x.com", "alice", "short"},
		{"password over bcrypt limit", "a@x.com", "alice", string(long)},
		{"empty", "", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := h.within(t, func(ctx context.Context, tx dbx.DBTX) error {
				_, err := h.svc.Register(ctx, tx, tc.email, tc.username, tc.password)
				return err
			})
			require.ErrorIs(t, err, common.ErrValidation)
		})
	}

	n, _ := h.store.Len()
	assert.Zero(t, n)
}

func TestAuthenticate_FailuresAreUndifferentiated(t *testing.T) {
	h := newHarness(t)
	want := h.register(t, "a@x.com", "alice", "pw12345678")

	var got *models.Identity
	require.NoError(t, h.within(t, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		got, err = h.svc.Authenticate(ctx, tx, "alice", "pw12345678")
		return err
	}))
	assert.Equal(t, want.ID, got.ID)

	var wrongPw, unknownUser error
	_ = h.within(t, func(ctx context.Context, tx dbx.DBTX) error {
		_, wrongPw = h.svc.Authenticate(ctx, tx, "alice", "wrong")
		_, unknownUser = h.svc.Authenticate(ctx, tx, "nobody", "pw12345678")
		return nil
	})

	require.ErrorIs(t, wrongPw, common.ErrAuthenticationFailed)
	require.ErrorIs(t, unknownUser, common.ErrAuthenticationFailed)
	assert.Equal(t, wrongPw.Error(), unknownUser.Error())
}

func TestLogin_Example(t *testing.T) {
	h := newHarness(t)
	h.register(t, "a@x.com", "alice", "pw12345678")

	pair, err := h.login(t, "alice", "pw12345678")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
	assert.Equal(t, "bearer", pair.TokenType)

	_, err = h.login(t, "alice", "wrong")
	require.ErrorIs(t, err, common.ErrAuthenticationFailed)
	assert.True(t, common.IsUnauthorized(err))
}

func TestIssueTokenPair_PersistsBothKinds(t *testing.T) {
	h := newHarness(t)
	id := h.register(t, "a@x.com", "alice", "pw12345678")

	pair, err := h.login(t, "alice", "pw12345678")
	require.NoError(t, err)

	ctx := context.Background()
	access, err := h.store.Tokens(nil).FindOne(ctx, tokens.Filter{Token: pair.AccessToken})
	require.NoError(t, err)
	refresh, err := h.store.Tokens(nil).FindOne(ctx, tokens.Filter{Token: pair.RefreshToken})
	require.NoError(t, err)

	now := h.clock.Now()
	assert.Equal(t, models.TokenKindAccess, access.Kind)
	assert.Equal(t, id.ID, access.OwnerIdentityID)
	assert.Equal(t, now.Add(30*time.Minute), access.ExpiresAt)
	assert.Equal(t, models.TokenKindRefresh, refresh.Kind)
	assert.Equal(t, id.ID, refresh.OwnerIdentityID)
	assert.Equal(t, now.Add(7*24*time.Hour), refresh.ExpiresAt)
	assert.False(t, access.Revoked)
}

func TestIssueTokenPair_MultipleSessionsCoexist(t *testing.T) {
	h := newHarness(t)
	h.register(t, "a@x.com", "alice", "pw12345678")

	first, err := h.login(t, "alice", "pw12345678")
	require.NoError(t, err)
	second, err := h.login(t, "alice", "pw12345678")
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)

	_, err = h.resolve(t, first.AccessToken)
	require.NoError(t, err)
	_, err = h.resolve(t, second.AccessToken)
	require.NoError(t, err)
}

// failingTokens rejects refresh tokens so that the second write of a pair fails.
type failingTokens struct {
	tokens.Repository
}

func (f failingTokens) Create(ctx context.Context, t *models.IssuedToken) (*models.IssuedToken, error) {
	if t.Kind == models.TokenKindRefresh {
		return nil, errors.New("disk full")
	}
	return f.Repository.Create(ctx, t)
}

type failingManager struct {
	*memory.Store
}

func (m failingManager) Tokens(tx dbx.DBTX) tokens.Repository {
	return failingTokens{m.Store.Tokens(tx)}
}

func TestIssueTokenPair_AllOrNothing(t *testing.T) {
	h := newHarness(t)
	id := h.register(t, "a@x.com", "alice", "pw12345678")

	codec, err := auth.NewCodec([]byte("test-secret"), "HS256")
	require.NoError(t, err)
	svc := NewAuthService(failingManager{h.store}, auth.NewPasswordHasher(bcrypt.MinCost), codec,
		&config.Config{AccessTokenValidityDuration: time.Minute, RefreshTokenValidityDuration: time.Hour}, nil)

	var pair *models.TokenPair
	err = h.store.Within(context.Background(), func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		pair, err = svc.IssueTokenPair(ctx, tx, id)
		return err
	})
	require.Error(t, err)
	assert.Nil(t, pair)

	_, tokenCount := h.store.Len()
	assert.Zero(t, tokenCount, "access token must not survive a failed pair")
}

func TestResolveIdentity_RoundTrip(t *testing.T) {
	h := newHarness(t)
	id := h.register(t, "a@x.com", "alice", "pw12345678")
	pair, err := h.login(t, "alice", "pw12345678")
	require.NoError(t, err)

	got, err := h.resolve(t, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id.ID, got.ID)
	assert.Equal(t, "alice", got.Username)
}

func TestResolveIdentity_Rejections(t *testing.T) {
	h := newHarness(t)
	id := h.register(t, "a@x.com", "alice", "pw12345678")
	pair, err := h.login(t, "alice", "pw12345678")
	require.NoError(t, err)

	// signed with the right secret but never stored
	codec, err := auth.NewCodec([]byte("test-secret"), "HS256")
	require.NoError(t, err)
	unstored, _, err := codec.WithClock(h.clock.Now).Encode(id.ID, models.TokenKindAccess, time.Hour)
	require.NoError(t, err)

	other, err := auth.NewCodec([]byte("other-secret"), "HS256")
	require.NoError(t, err)
	forged, _, err := other.Encode(id.ID, models.TokenKindAccess, time.Hour)
	require.NoError(t, err)

	cases := map[string]string{
		"garbage":       "not-a-token",
		"empty":         "",
		"refresh token": pair.RefreshToken,
		"not stored":    unstored,
		"wrong secret":  forged,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.resolve(t, token)
			require.ErrorIs(t, err, common.ErrInvalidCredentials)
		})
	}
}

func TestResolveIdentity_ExpiredRejectedDespiteValidSignature(t *testing.T) {
	h := newHarness(t)
	h.register(t, "a@x.com", "alice", "pw12345678")
	pair, err := h.login(t, "alice", "pw12345678")
	require.NoError(t, err)

	h.clock.Advance(30*time.Minute - time.Second)
	_, err = h.resolve(t, pair.AccessToken)
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	_, err = h.resolve(t, pair.AccessToken)
	require.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestResolveIdentity_RevokedRejected(t *testing.T) {
	h := newHarness(t)
	h.register(t, "a@x.com", "alice", "pw12345678")
	pair, err := h.login(t, "alice", "pw12345678")
	require.NoError(t, err)

	ctx := context.Background()
	row, err := h.store.Tokens(nil).FindOne(ctx, tokens.Filter{Token: pair.AccessToken})
	require.NoError(t, err)
	revoked := true
	_, err = h.store.Tokens(nil).Update(ctx, row.ID, tokens.Changes{Revoked: &revoked})
	require.NoError(t, err)

	_, err = h.resolve(t, pair.AccessToken)
	require.ErrorIs(t, err, common.ErrInvalidCredentials)
}

// ownerlessManager hides every identity, as if the owner had been removed.
type ownerlessManager struct {
	*memory.Store
}

type emptyIdentities struct {
	identities.Repository
}

func (emptyIdentities) FindOne(context.Context, identities.Filter) (*models.Identity, error) {
	return nil, common.ErrorNotFound
}

func (m ownerlessManager) Identities(tx dbx.DBTX) identities.Repository {
	return emptyIdentities{m.Store.Identities(tx)}
}

func TestResolveIdentity_OwnerGoneIsInvalidCredentials(t *testing.T) {
	h := newHarness(t)
	h.register(t, "a@x.com", "alice", "pw12345678")
	pair, err := h.login(t, "alice", "pw12345678")
	require.NoError(t, err)

	codec, err := auth.NewCodec([]byte("test-secret"), "HS256")
	require.NoError(t, err)
	svc := NewAuthService(ownerlessManager{h.store}, auth.NewPasswordHasher(bcrypt.MinCost), codec,
		&config.Config{AccessTokenValidityDuration: time.Minute, RefreshTokenValidityDuration: time.Hour}, nil).
		WithClock(h.clock.Now)

	err = h.store.Within(context.Background(), func(ctx context.Context, tx dbx.DBTX) error {
		_, err := svc.ResolveIdentity(ctx, tx, pair.AccessToken)
		return err
	})
	require.ErrorIs(t, err, common.ErrInvalidCredentials)
	assert.False(t, errors.Is(err, common.ErrorNotFound))
}

func TestRefresh_NewAccessTokenCoexistsWithOld(t *testing.T) {
	h := newHarness(t)
	id := h.register(t, "a@x.com", "alice", "pw12345678")
	pair, err := h.login(t, "alice", "pw12345678")
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	fresh, err := h.refresh(t, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.AccessToken, fresh)

	got, err := h.resolve(t, fresh)
	require.NoError(t, err)
	assert.Equal(t, id.ID, got.ID)

	_, err = h.resolve(t, pair.AccessToken)
	require.NoError(t, err)

	// no rotation: the same refresh token works again
	again, err := h.refresh(t, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, fresh, again)

	_, tokenCount := h.store.Len()
	assert.Equal(t, 4, tokenCount)
}

func TestRefresh_FailuresMintNothing(t *testing.T) {
	h := newHarness(t)
	h.register(t, "a@x.com", "alice", "pw12345678")
	pair, err := h.login(t, "alice", "pw12345678")
	require.NoError(t, err)

	_, before := h.store.Len()

	_, err = h.refresh(t, "unknown")
	require.ErrorIs(t, err, common.ErrRefreshFailed)

	_, err = h.refresh(t, pair.AccessToken)
	require.ErrorIs(t, err, common.ErrRefreshFailed, "access token must not refresh")

	h.clock.Advance(7 * 24 * time.Hour)
	_, err = h.refresh(t, pair.RefreshToken)
	require.ErrorIs(t, err, common.ErrRefreshFailed)

	_, after := h.store.Len()
	assert.Equal(t, before, after)
}

func TestReclaimExpiredTokens(t *testing.T) {
	h := newHarness(t)
	h.register(t, "a@x.com", "alice", "pw12345678")
	h.register(t, "b@x.com", "bobby", "pw12345678")

	alice, err := h.login(t, "alice", "pw12345678")
	require.NoError(t, err)
	h.clock.Advance(31 * time.Minute)
	bob, err := h.login(t, "bobby", "pw12345678")
	require.NoError(t, err)

	assert.EqualValues(t, 1, h.reclaim(t))
	assert.EqualValues(t, 0, h.reclaim(t), "second sweep is a no-op")

	_, err = h.resolve(t, bob.AccessToken)
	require.NoError(t, err)
	_, err = h.refresh(t, alice.RefreshToken)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = h.store.Tokens(nil).FindOne(ctx, tokens.Filter{Token: alice.AccessToken})
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestLinkOrCreateFederatedIdentity_Idempotent(t *testing.T) {
	h := newHarness(t)
	a := models.FederatedAssertion{Provider: "google", Subject: "g-1", Email: "g@x.com", DisplayName: "grace.hopper"}

	first, err := h.link(t, a)
	require.NoError(t, err)
	assert.True(t, first.IsFederated())
	assert.Equal(t, "grace.hopper", first.Username)
	assert.NotEmpty(t, first.CredentialHash)

	second, err := h.link(t, a)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	n, _ := h.store.Len()
	assert.Equal(t, 1, n)
}

func TestLinkOrCreateFederatedIdentity_LinksLocalByEmail(t *testing.T) {
	h := newHarness(t)
	local := h.register(t, "a@x.com", "alice", "pw12345678")
	h.clock.Advance(time.Minute)

	linked, err := h.link(t, models.FederatedAssertion{Provider: "google", Subject: "g-1", Email: "a@x.com", DisplayName: "alice.smith"})
	require.NoError(t, err)

	assert.Equal(t, local.ID, linked.ID)
	assert.Equal(t, "alice", linked.Username, "username is not replaced by the display name")
	assert.Equal(t, "google", linked.FederatedProvider)
	assert.Equal(t, "g-1", linked.FederatedSubject)
	assert.True(t, linked.UpdatedAt.After(local.UpdatedAt))

	n, _ := h.store.Len()
	assert.Equal(t, 1, n)

	// the local password still works
	_, err = h.login(t, "alice", "pw12345678")
	require.NoError(t, err)
}

func TestLinkOrCreateFederatedIdentity_Rejections(t *testing.T) {
	h := newHarness(t)

	_, err := h.link(t, models.FederatedAssertion{Provider: "google", Email: "g@x.com"})
	require.ErrorIs(t, err, common.ErrValidation)

	h.register(t, "a@x.com", "taken", "pw12345678")
	_, err = h.link(t, models.FederatedAssertion{Provider: "google", Subject: "g-2", Email: "new@x.com", DisplayName: "taken"})
	require.ErrorIs(t, err, common.ErrConstraintViolation)
}

func TestFederatedLogin_IssuesUsablePair(t *testing.T) {
	h := newHarness(t)

	var pair *models.TokenPair
	require.NoError(t, h.within(t, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		pair, err = h.svc.FederatedLogin(ctx, tx, models.FederatedAssertion{
			Provider: "google", Subject: "g-1", Email: "g@x.com", DisplayName: "grace.hopper",
		})
		return err
	}))

	got, err := h.resolve(t, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "g@x.com", got.Email)
}

type recordingMetrics struct {
	mu         sync.Mutex
	operations map[string][]error
	issued     map[models.TokenKind]int
	reclaimed  int64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{operations: map[string][]error{}, issued: map[models.TokenKind]int{}}
}

func (r *recordingMetrics) ObserveOperation(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations[op] = append(r.operations[op], err)
}

func (r *recordingMetrics) TokenIssued(kind models.TokenKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued[kind]++
}

func (r *recordingMetrics) TokensReclaimed(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reclaimed += n
}

func TestMetricsRecorded(t *testing.T) {
	h := newHarness(t)
	rec := newRecordingMetrics()
	h.svc.WithMetrics(rec)

	h.register(t, "a@x.com", "alice", "pw12345678")
	_, err := h.login(t, "alice", "pw12345678")
	require.NoError(t, err)
	_, err = h.login(t, "alice", "nope")
	require.Error(t, err)
	h.clock.Advance(time.Hour)
	h.reclaim(t)

	assert.Len(t, rec.operations["register"], 1)
	require.Len(t, rec.operations["authenticate"], 2)
	assert.NoError(t, rec.operations["authenticate"][0])
	assert.ErrorIs(t, rec.operations["authenticate"][1], common.ErrAuthenticationFailed)
	assert.Equal(t, 1, rec.issued[models.TokenKindAccess])
	assert.Equal(t, 1, rec.issued[models.TokenKindRefresh])
	assert.EqualValues(t, 1, rec.reclaimed)
}
