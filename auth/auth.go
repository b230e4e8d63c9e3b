// Package auth issues and verifies the HS256 tokens that carry the actor
// identity of API callers.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the kind of actor behind a token.
type Role string

const (
	RoleRequester Role = "requester"
	RoleProvider  Role = "provider"
	RoleSupport   Role = "support"
)

func (r Role) valid() bool {
	return r == RoleRequester || r == RoleProvider || r == RoleSupport
}

// Claims are the token claims. Subject is the actor id.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Actor is the verified identity of a caller.
type Actor struct {
	ID   string
	Role Role
}

// ErrInvalidToken is returned for every token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Signer issues and verifies tokens with a shared secret.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner returns a Signer using secret.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: empty secret")
	}
	return &Signer{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a token for the actor valid for ttl.
func (s *Signer) Issue(actorID string, role Role, ttl time.Duration) (string, error) {
	if actorID == "" || !role.valid() {
		return "", fmt.Errorf("auth: actor id and a known role are required")
	}
	now := s.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses the token and returns its actor.
func (s *Signer) Verify(token string) (Actor, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || !claims.Role.valid() {
		return Actor{}, fmt.Errorf("%w: missing subject or role", ErrInvalidToken)
	}
	return Actor{ID: claims.Subject, Role: claims.Role}, nil
}
