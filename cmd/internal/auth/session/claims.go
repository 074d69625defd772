package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims is the identity envelope of an access credential. Its only
// authority is the signature; it is never persisted.
type AccessClaims struct {
	Subject   string
	ID        string
	Email     string
	Tier      string
	Scope     []string
	Audience  string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Remaining is the validity left at now (never negative).
func (c AccessClaims) Remaining(now time.Time) time.Duration {
	if d := c.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// HasScope reports whether scope s was granted.
func (c AccessClaims) HasScope(s string) bool {
	for _, v := range c.Scope {
		if v == s {
			return true
		}
	}
	return false
}

// RefreshClaims is the payload of a refresh credential. The signed string is
// only a transport wrapper: authority lives in the ledger row.
type RefreshClaims struct {
	Subject    string
	ID         string
	Audience   string
	Issuer     string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	RememberMe bool
}

// registeredWire carries the claim names shared by both credential types.
// aud is a single string on the wire.
type registeredWire struct {
	Subject   string `json:"sub"`
	ID        string `json:"jti"`
	Audience  string `json:"aud"`
	Issuer    string `json:"iss"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

func (r registeredWire) GetExpirationTime() (*jwt.NumericDate, error) {
	if r.ExpiresAt == 0 {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(r.ExpiresAt, 0)), nil
}

func (r registeredWire) GetIssuedAt() (*jwt.NumericDate, error) {
	if r.IssuedAt == 0 {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(r.IssuedAt, 0)), nil
}

func (r registeredWire) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }

func (r registeredWire) GetIssuer() (string, error) { return r.Issuer, nil }

func (r registeredWire) GetSubject() (string, error) { return r.Subject, nil }

func (r registeredWire) GetAudience() (jwt.ClaimStrings, error) {
	if r.Audience == "" {
		return nil, nil
	}
	return jwt.ClaimStrings{r.Audience}, nil
}

type accessWire struct {
	registeredWire
	Email string   `json:"email"`
	Tier  string   `json:"tier"`
	Scope []string `json:"scope"`
}

type refreshWire struct {
	registeredWire
	RememberMe bool `json:"remember_me"`
}

func newRegisteredWire(sub, jti, aud, iss string, iat, exp time.Time) registeredWire {
	return registeredWire{
		Subject:   sub,
		ID:        jti,
		Audience:  aud,
		Issuer:    iss,
		IssuedAt:  iat.Unix(),
		ExpiresAt: exp.Unix(),
	}
}

func (a AccessClaims) wire() *accessWire {
	scope := a.Scope
	if scope == nil {
		scope = []string{}
	}
	return &accessWire{
		registeredWire: newRegisteredWire(a.Subject, a.ID, a.Audience, a.Issuer, a.IssuedAt, a.ExpiresAt),
		Email:          a.Email,
		Tier:           a.Tier,
		Scope:          scope,
	}
}

func (w *accessWire) claims() AccessClaims {
	return AccessClaims{
		Subject:   w.Subject,
		ID:        w.ID,
		Email:     w.Email,
		Tier:      w.Tier,
		Scope:     w.Scope,
		Audience:  w.Audience,
		Issuer:    w.Issuer,
		IssuedAt:  time.Unix(w.IssuedAt, 0).UTC(),
		ExpiresAt: time.Unix(w.ExpiresAt, 0).UTC(),
	}
}

func (r RefreshClaims) wire() *refreshWire {
	return &refreshWire{
		registeredWire: newRegisteredWire(r.Subject, r.ID, r.Audience, r.Issuer, r.IssuedAt, r.ExpiresAt),
		RememberMe:     r.RememberMe,
	}
}

func (w *refreshWire) claims() RefreshClaims {
	return RefreshClaims{
		Subject:    w.Subject,
		ID:         w.ID,
		Audience:   w.Audience,
		Issuer:     w.Issuer,
		IssuedAt:   time.Unix(w.IssuedAt, 0).UTC(),
		ExpiresAt:  time.Unix(w.ExpiresAt, 0).UTC(),
		RememberMe: w.RememberMe,
	}
}
