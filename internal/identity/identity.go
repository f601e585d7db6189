// Package identity resolves the user handle a collaboration session runs under.
package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/cafe-collab/internal/errs"
)

// Anonymous is the sentinel handle used when an identity cannot produce one.
const Anonymous = "anonymous-user"

// Identity exposes a stable, comparable user handle.
type Identity interface {
	// Handle returns the user handle or an error if the identity is malformed.
	Handle() (string, error)
}

// Bearer is implemented by identities that can authenticate transport calls.
type Bearer interface {
	BearerToken() string
}

// Static is an identity with a fixed handle.
type Static string

// Handle implements Identity.
func (s Static) Handle() (string, error) {
	h := strings.TrimSpace(string(s))
	if h == "" {
		return "", errs.ErrMalformedIdentity
	}
	return h, nil
}

// Token is an identity backed by a bearer JWT whose subject is the user handle.
// Without VerifyKey the token is only decoded; the remote is expected to verify it.
type Token struct {
	Raw       string
	VerifyKey []byte // optional HS256 key
}

// NewToken wraps a raw JWT.
func NewToken(raw string) *Token {
	return &Token{Raw: strings.TrimSpace(raw)}
}

// Claims decodes (and verifies when a key is set) the registered claims.
func (t *Token) Claims() (*jwt.RegisteredClaims, error) {
	if t == nil || t.Raw == "" {
		return nil, errs.ErrMalformedIdentity
	}
	var claims jwt.RegisteredClaims
	if len(t.VerifyKey) == 0 {
		if _, _, err := jwt.NewParser().ParseUnverified(t.Raw, &claims); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrMalformedIdentity, err)
		}
		return &claims, nil
	}
	_, err := jwt.ParseWithClaims(t.Raw, &claims, func(*jwt.Token) (any, error) {
		return t.VerifyKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrMalformedIdentity, err)
	}
	return &claims, nil
}

// Handle implements Identity using the "sub" claim.
func (t *Token) Handle() (string, error) {
	claims, err := t.Claims()
	if err != nil {
		return "", err
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", fmt.Errorf("%w: empty subject", errs.ErrMalformedIdentity)
	}
	return sub, nil
}

// BearerToken implements Bearer.
func (t *Token) BearerToken() string {
	if t == nil {
		return ""
	}
	return t.Raw
}

// Resolve returns the identity handle, or Anonymous together with the reason when the
// identity is missing or malformed. Callers log the reason and carry on.
func Resolve(id Identity) (string, error) {
	if id == nil {
		return Anonymous, errs.ErrMalformedIdentity
	}
	h, err := id.Handle()
	if err != nil {
		if !errors.Is(err, errs.ErrMalformedIdentity) {
			err = fmt.Errorf("%w: %v", errs.ErrMalformedIdentity, err)
		}
		return Anonymous, err
	}
	if h == "" {
		return Anonymous, errs.ErrMalformedIdentity
	}
	return h, nil
}

// BearerOf returns the bearer token of id, or "" when it has none.
func BearerOf(id Identity) string {
	if b, ok := id.(Bearer); ok {
		return b.BearerToken()
	}
	return ""
}
