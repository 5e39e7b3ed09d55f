package models

import "time"

// Identity is a registered principal. Email and Username are unique,
// compared exactly (case-sensitive). FederatedProvider and FederatedSubject
// are either both set or both empty.
type Identity struct {
	ID                string
	Email             string
	Username          string
	CredentialHash    string
	IsPrivileged      bool
	FederatedProvider string
	FederatedSubject  string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsFederated reports whether the identity is linked to an external provider.
func (i *Identity) IsFederated() bool {
	return i.FederatedProvider != "" && i.FederatedSubject != ""
}

// FederatedAssertion is the verified outcome of an external provider
// exchange: who the provider says the caller is.
type FederatedAssertion struct {
	Provider    string
	Subject     string
	Email       string
	DisplayName string
}
