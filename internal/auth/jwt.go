package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthorized = errors.New("unauthorized")

// Verifier turns a bearer credential into a stable caller identity.
type Verifier interface {
	Verify(token string) (string, error)
}

// JWT verifies HS256 tokens; the sub claim is the identity.
type JWT struct{ secret []byte }

var _ Verifier = (*JWT)(nil)

func New(secret string) *JWT { return &JWT{secret: []byte(secret)} }

func (j *JWT) Verify(tok string) (string, error) {
	if tok == "" {
		return "", ErrUnauthorized
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tok, claims, func(*jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	uid, _ := claims["sub"].(string)
	if uid == "" {
		return "", fmt.Errorf("%w: no sub", ErrUnauthorized)
	}
	return uid, nil
}

// Sign issues a token for uid. Token minting belongs to the account service;
// this exists for local tooling and tests.
func (j *JWT) Sign(uid string, ttl time.Duration) (string, error) {
	if uid == "" {
		return "", errors.New("empty uid")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": uid,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}
