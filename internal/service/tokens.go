package service

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock"
)

// TokenIssuer mints HS256 bearer tokens the storage server accepts.
type TokenIssuer struct {
	signKey []byte
	ttl     time.Duration
	clock   clock.Clock
}

// NewTokenIssuer constructs an issuer. A nil clock means wall clock.
func NewTokenIssuer(signKey []byte, ttl time.Duration, clk clock.Clock) *TokenIssuer {
	if clk == nil {
		clk = clock.WallClock
	}
	return &TokenIssuer{signKey: signKey, ttl: ttl, clock: clk}
}

// Issue signs a token whose subject is handle.
func (s *TokenIssuer) Issue(handle string) (string, time.Time, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return "", time.Time{}, errors.New("empty handle")
	}
	if len(s.signKey) == 0 {
		return "", time.Time{}, errors.New("empty signing key")
	}
	now := s.clock.Now()
	exp := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   handle,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
	return signed, exp, err
}
