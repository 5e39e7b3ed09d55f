package models

import "time"

// TokenKind discriminates access tokens from refresh tokens. The value is
// both the "type" claim inside the signed payload and the stored column.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

func (k TokenKind) Valid() bool {
	return k == TokenKindAccess || k == TokenKindRefresh
}

// IssuedToken is the stored record of one minted token. Token holds the
// encoded string verbatim and is unique; ExpiresAt equals the exp claim.
type IssuedToken struct {
	ID              string
	Token           string
	Kind            TokenKind
	ExpiresAt       time.Time
	Revoked         bool
	CreatedAt       time.Time
	OwnerIdentityID string
}

// ActiveAt reports whether the token is usable at now: not revoked and
// strictly before its expiry.
func (t *IssuedToken) ActiveAt(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// TokenPair is what login, federated login and registration-free flows hand
// back to callers.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
}
