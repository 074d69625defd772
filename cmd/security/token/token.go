package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// SaltEnvKey is the env var holding the jti hash salt.
	// #nosec G101 -- not a credential; it's an environment variable name.
	SaltEnvKey = "QCK_JTI_HASH_SALT"

	// MinSaltBytes is the minimum accepted salt length.
	MinSaltBytes = 32
)

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// Hasher derives ledger keys from credential ids. It is immutable and safe
// for concurrent use.
type Hasher struct {
	salt []byte
}

// NewHasher validates salt and returns a Hasher. The salt is copied.
func NewHasher(salt []byte) (Hasher, error) {
	if len(salt) == 0 {
		return Hasher{}, ErrSaltMissing
	}
	if len(salt) < MinSaltBytes {
		return Hasher{}, ErrSaltTooShort
	}
	return Hasher{salt: append([]byte(nil), salt...)}, nil
}

// HasherFromEnv builds a Hasher from QCK_JTI_HASH_SALT (trimmed).
func HasherFromEnv() (Hasher, error) {
	return NewHasher([]byte(strings.TrimSpace(os.Getenv(SaltEnvKey))))
}

// Ready reports whether the Hasher carries a salt.
func (h Hasher) Ready() bool { return len(h.salt) > 0 }

// Hash returns HMAC-SHA256(id, salt) as hex. A zero Hasher panics so a
// missing salt can never silently degrade to an unkeyed digest.
func (h Hasher) Hash(id string) string {
	if len(h.salt) == 0 {
		panic("token: Hasher used without salt")
	}
	return HashHMACSHA256Hex(id, h.salt)
}
