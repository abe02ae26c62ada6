// Package authn verifies the bearer tokens protecting the management API.
// Tokens are HS256 JWTs signed with a shared secret; an empty secret
// disables authentication entirely, which is the development default.
package authn

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// Principal is an authenticated API caller.
type Principal struct {
	Subject string
	Roles   []string
}

// HasRole reports whether the principal carries the role,
// case-insensitively.
func (p Principal) HasRole(role string) bool {
	for _, have := range p.Roles {
		if strings.EqualFold(have, role) {
			return true
		}
	}
	return false
}

type claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Verifier issues and validates API tokens.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier builds a verifier. An empty secret yields a disabled one.
func NewVerifier(secret, issuer string) *Verifier {
	v := &Verifier{issuer: issuer}
	if secret != "" {
		v.secret = []byte(secret)
	}
	return v
}

// Enabled reports whether token checks are active.
func (v *Verifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// Issue signs a token for the subject with the given roles.
func (v *Verifier) Issue(subject string, roles []string, ttl time.Duration) (string, time.Time, error) {
	if !v.Enabled() {
		return "", time.Time{}, errors.New("token issuing is disabled")
	}
	now := time.Now()
	expires := now.Add(ttl)
	c := claims{
		Roles: normalizeRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// Verify parses and validates a token, returning its principal.
func (v *Verifier) Verify(token string) (Principal, error) {
	if !v.Enabled() {
		return Principal{}, errors.New("token verification is disabled")
	}
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if v.issuer != "" && c.Issuer != v.issuer {
		return Principal{}, fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}
	return Principal{Subject: c.Subject, Roles: c.Roles}, nil
}

func normalizeRoles(roles []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" || seen[role] {
			continue
		}
		seen[role] = true
		out = append(out, role)
	}
	return out
}
