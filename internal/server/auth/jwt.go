// Package auth holds the two cryptographic leaves of the authentication
// core: the bcrypt credential hasher and the HMAC-signed token codec.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fastauth/internal/common"
	"github.com/dmitrijs2005/fastauth/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the signed payload: registered claims (sub, exp, iat, jti) plus
// the token kind under "type".
type Claims struct {
	jwt.RegisteredClaims
	Type models.TokenKind `json:"type"`
}

// Decoded is what a successfully verified token carries.
type Decoded struct {
	SubjectID string
	Kind      models.TokenKind
	ExpiresAt time.Time
}

// Codec signs and verifies tokens with one shared secret and one HMAC
// algorithm. It never rejects a token for being expired; expiry is enforced
// against the token store by the caller.
type Codec struct {
	secret []byte
	method jwt.SigningMethod
	now    func() time.Time
}

// NewCodec returns a Codec for algorithm ("HS256", "HS384" or "HS512").
func NewCodec(secret []byte, algorithm string) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty signing secret")
	}
	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing algorithm %q", algorithm)
	}
	return &Codec{secret: secret, method: method, now: time.Now}, nil
}

// WithClock returns a copy of the codec that reads the current time from now.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	cp := *c
	cp.now = now
	return &cp
}

// Encode mints a token for subjectID that expires ttl from now. The returned
// expiry is exactly the exp claim (whole seconds, UTC) so it can be stored
// alongside the token.
func (c *Codec) Encode(subjectID string, kind models.TokenKind, ttl time.Duration) (string, time.Time, error) {
	now := c.now().UTC()
	expiresAt := now.Add(ttl).Truncate(time.Second)

	token := jwt.NewWithClaims(c.method, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Type: kind,
	})

	s, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, expiresAt, nil
}

// Decode verifies the signature and returns the payload. Any failure
// (signature, algorithm, malformed payload, missing or unparsable claims)
// yields common.ErrInvalidToken.
func (c *Codec) Decode(tokenString string) (*Decoded, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, common.ErrInvalidToken
	}

	if claims.Subject == "" || claims.ExpiresAt == nil || !claims.Type.Valid() {
		return nil, fmt.Errorf("%w: incomplete claims", common.ErrInvalidToken)
	}

	return &Decoded{
		SubjectID: claims.Subject,
		Kind:      claims.Type,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}
