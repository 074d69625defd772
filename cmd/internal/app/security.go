package app

import (
	"errors"
	"fmt"

	"qck/cmd/internal/auth/session"
	"qck/cmd/security/token"
)

// ValidateSecurityConfig loads the signing keys and the credential-id salt.
// The process must not start without both: there is no weaker fallback.
func ValidateSecurityConfig() (session.Keys, token.Hasher, error) {
	keys, err := session.LoadKeysFromEnv()
	if err != nil {
		return session.Keys{}, token.Hasher{}, fmt.Errorf("security policy: %w", err)
	}

	hasher, err := token.HasherFromEnv()
	if err != nil {
		switch {
		case errors.Is(err, token.ErrSaltMissing):
			return session.Keys{}, token.Hasher{}, fmt.Errorf("security policy: %s is missing", token.SaltEnvKey)
		case errors.Is(err, token.ErrSaltTooShort):
			return session.Keys{}, token.Hasher{}, fmt.Errorf("security policy: %s is too short (min %d bytes)", token.SaltEnvKey, token.MinSaltBytes)
		default:
			return session.Keys{}, token.Hasher{}, err
		}
	}
	return keys, hasher, nil
}
