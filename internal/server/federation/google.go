// Package federation turns an external identity provider login into a
// verified models.FederatedAssertion for the authentication engine.
package federation

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/dmitrijs2005/fastauth/internal/common"
	"github.com/dmitrijs2005/fastauth/internal/server/models"
	"golang.org/x/oauth2"
)

// GoogleProviderName is stored as the identity's federated provider.
const GoogleProviderName = "google"

var googleScopes = []string{oidc.ScopeOpenID, "email", "profile"}

// GoogleConfig holds the OAuth client registration.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	IssuerURL    string
}

type codeExchanger interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

type idTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// GoogleProvider runs the authorization-code flow against Google and
// verifies the returned ID token.
type GoogleProvider struct {
	oauth2   codeExchanger
	verifier idTokenVerifier
}

// NewGoogleProvider discovers the issuer's endpoints and keys.
func NewGoogleProvider(ctx context.Context, cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.ClientID == "" || cfg.RedirectURL == "" {
		return nil, errors.New("google client id and redirect url are required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return &GoogleProvider{
		oauth2: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       googleScopes,
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// AuthCodeURL is where the user agent is sent to sign in.
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.oauth2.AuthCodeURL(state)
}

// Exchange trades an authorization code for a verified assertion. Every
// provider-side failure is reported as common.ErrAuthenticationFailed.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*models.FederatedAssertion, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", common.ErrAuthenticationFailed)
	}

	token, err := p.oauth2.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to exchange token: %v", common.ErrAuthenticationFailed, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing id_token in response", common.ErrAuthenticationFailed)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to verify ID token: %v", common.ErrAuthenticationFailed, err)
	}

	var claims GoogleClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %v", common.ErrAuthenticationFailed, err)
	}

	return claims.Assertion()
}

// GoogleClaims are the ID token claims the callback relies on.
type GoogleClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	FamilyName    string `json:"family_name"`
}

// Assertion maps the claims onto the engine's input. The display username
// is "<name>.<family_name>".
func (c GoogleClaims) Assertion() (*models.FederatedAssertion, error) {
	if c.Subject == "" || c.Email == "" {
		return nil, fmt.Errorf("%w: missing subject or email claim", common.ErrAuthenticationFailed)
	}
	// linking by email is only safe for addresses Google has verified
	if !c.EmailVerified {
		return nil, fmt.Errorf("%w: email not verified by provider", common.ErrAuthenticationFailed)
	}

	return &models.FederatedAssertion{
		Provider:    GoogleProviderName,
		Subject:     c.Subject,
		Email:       c.Email,
		DisplayName: c.Name + "." + c.FamilyName,
	}, nil
}
