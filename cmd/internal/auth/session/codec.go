package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errUnknownKeyVersion = errors.New("unknown key version")

// Codec encodes and decodes compact signed credentials. It is a pure
// function of its inputs and the injected clock; expiry is checked with zero
// leeway, so a credential with exp == now is already expired.
type Codec struct {
	now func() time.Time
}

// NewCodec returns a Codec reading time from now (time.Now when nil).
func NewCodec(now func() time.Time) *Codec {
	if now == nil {
		now = time.Now
	}
	return &Codec{now: now}
}

// EncodeAccess signs an access credential with key. The header carries alg and kid.
func (c *Codec) EncodeAccess(claims AccessClaims, key SigningKey) (string, error) {
	return encode(claims.wire(), key)
}

// EncodeRefresh signs a refresh credential with key.
func (c *Codec) EncodeRefresh(claims RefreshClaims, key SigningKey) (string, error) {
	return encode(claims.wire(), key)
}

// DecodeAccess verifies an access credential against key (algorithm, kid,
// signature, exact aud/iss, exp) and returns its claims.
func (c *Codec) DecodeAccess(token string, key SigningKey) (AccessClaims, error) {
	var w accessWire
	if err := c.decode(token, key, &w); err != nil {
		return AccessClaims{}, err
	}
	return w.claims(), nil
}

// DecodeRefresh verifies a refresh credential against key and returns its claims.
func (c *Codec) DecodeRefresh(token string, key SigningKey) (RefreshClaims, error) {
	var w refreshWire
	if err := c.decode(token, key, &w); err != nil {
		return RefreshClaims{}, err
	}
	return w.claims(), nil
}

func encode(claims jwt.Claims, key SigningKey) (string, error) {
	method := jwt.GetSigningMethod(key.Algorithm)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return "", fmt.Errorf("%w: unsupported algorithm %q", ErrConfig, key.Algorithm)
	}

	t := jwt.NewWithClaims(method, claims)
	t.Header["kid"] = key.Kid()

	s, err := t.SignedString(key.Secret)
	if err != nil {
		return "", fmt.Errorf("session: sign: %w", err)
	}
	return s, nil
}

type wireClaims interface {
	jwt.Claims
	registered() registeredWire
}

func (r registeredWire) registered() registeredWire { return r }

func (c *Codec) decode(token string, key SigningKey, dst wireClaims) error {
	if token == "" || len(token) > 8192 {
		return ErrMalformedToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{key.Algorithm}),
		jwt.WithAudience(key.Audience),
		jwt.WithIssuer(key.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(0),
		jwt.WithTimeFunc(c.now),
	)

	_, err := parser.ParseWithClaims(token, dst, func(t *jwt.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid != key.Kid() {
			return nil, errUnknownKeyVersion
		}
		return key.Secret, nil
	})
	if err != nil {
		return classifyJWTError(err, dst.registered())
	}

	r := dst.registered()
	if r.Subject == "" || r.ID == "" || r.IssuedAt == 0 {
		return ErrMalformedToken
	}
	if r.ExpiresAt <= r.IssuedAt {
		return ErrMalformedToken
	}
	return nil
}

// classifyJWTError maps golang-jwt failures onto the codec taxonomy.
// w holds whatever claims were decoded before the failure.
func classifyJWTError(err error, w registeredWire) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrAudienceMismatch
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrIssuerMismatch
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		switch {
		case w.Audience == "":
			return ErrAudienceMismatch
		case w.Issuer == "":
			return ErrIssuerMismatch
		default:
			return ErrMalformedToken
		}
	default:
		return ErrMalformedToken
	}
}
