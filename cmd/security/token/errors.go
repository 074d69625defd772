package token

import "errors"

// Public, stable errors for callers.
var (
	ErrSaltMissing  = errors.New("jti hash salt missing")
	ErrSaltTooShort = errors.New("jti hash salt too short")
)
