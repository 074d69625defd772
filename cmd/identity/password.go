package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

const argon2Version = 19 // argon2.Version (0x13)

// Password policy errors.
var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrInvalidHash      = errors.New("invalid password hash")
)

// Argon2idParams controls hashing cost. MemoryKiB is in KiB as argon2.IDKey expects.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// PasswordConfig holds Argon2id cost and the length policy for new passwords.
type PasswordConfig struct {
	Params    Argon2idParams
	MinLength int
	MaxLength int
}

// DefaultPasswordConfig returns the production baseline.
func DefaultPasswordConfig() PasswordConfig {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return PasswordConfig{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		MinLength: 8,
		MaxLength: 256,
	}
}

// PasswordConfigFromEnv overlays env on DefaultPasswordConfig.
//
// Env surface:
//   - QCK_PASSWORD_MIN_LEN, QCK_PASSWORD_MAX_LEN
//   - QCK_ARGON2_MEMORY_KIB, QCK_ARGON2_ITERATIONS, QCK_ARGON2_PARALLELISM
func PasswordConfigFromEnv() (PasswordConfig, error) {
	cfg := DefaultPasswordConfig()

	if v, ok := os.LookupEnv("QCK_PASSWORD_MIN_LEN"); ok {
		n, err := parseUintRange(v, 1, 1024)
		if err != nil {
			return PasswordConfig{}, fmt.Errorf("QCK_PASSWORD_MIN_LEN: %w", err)
		}
		cfg.MinLength = int(n)
	}
	if v, ok := os.LookupEnv("QCK_PASSWORD_MAX_LEN"); ok {
		n, err := parseUintRange(v, 1, 4096)
		if err != nil {
			return PasswordConfig{}, fmt.Errorf("QCK_PASSWORD_MAX_LEN: %w", err)
		}
		cfg.MaxLength = int(n)
	}
	if v, ok := os.LookupEnv("QCK_ARGON2_MEMORY_KIB"); ok {
		n, err := parseUintRange(v, 8*1024, 1024*1024)
		if err != nil {
			return PasswordConfig{}, fmt.Errorf("QCK_ARGON2_MEMORY_KIB: %w", err)
		}
		cfg.Params.MemoryKiB = n
	}
	if v, ok := os.LookupEnv("QCK_ARGON2_ITERATIONS"); ok {
		n, err := parseUintRange(v, 1, 20)
		if err != nil {
			return PasswordConfig{}, fmt.Errorf("QCK_ARGON2_ITERATIONS: %w", err)
		}
		cfg.Params.Iterations = n
	}
	if v, ok := os.LookupEnv("QCK_ARGON2_PARALLELISM"); ok {
		n, err := parseUintRange(v, 1, math.MaxUint8)
		if err != nil {
			return PasswordConfig{}, fmt.Errorf("QCK_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = uint8(n) // #nosec G115 -- bounded above.
	}

	if cfg.MinLength > cfg.MaxLength {
		return PasswordConfig{}, fmt.Errorf("password policy invalid: min_len(%d) > max_len(%d)", cfg.MinLength, cfg.MaxLength)
	}
	return cfg, nil
}

// Validate checks the length policy, counting runes.
func (c PasswordConfig) Validate(password string) error {
	n := utf8.RuneCountInString(password)
	if n < c.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.MaxLength {
		return ErrPasswordTooLong
	}
	return nil
}

// Hash returns $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<key_b64>.
func (c PasswordConfig) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, c.Params.Iterations, c.Params.MemoryKiB, c.Params.Parallelism, c.Params.KeyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		c.Params.MemoryKiB,
		c.Params.Iterations,
		c.Params.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encoded. Malformed hashes, and
// hashes whose cost is far above the configured one, return ErrInvalidHash.
func (c PasswordConfig) Verify(encoded, password string) (bool, error) {
	params, salt, expected, err := decodeArgon2id(encoded)
	if err != nil {
		return false, err
	}
	if !withinBounds(params, c.Params) {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey([]byte(password), salt, params.Iterations, params.MemoryKiB, params.Parallelism, params.KeyLength)
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}

var dummySalt = []byte("qck-dummy-salt-0")

// VerifyDummy spends the same work as Verify against a hash made with c.
func (c PasswordConfig) VerifyDummy(password string) {
	_ = argon2.IDKey([]byte(password), dummySalt, c.Params.Iterations, c.Params.MemoryKiB, c.Params.Parallelism, c.Params.KeyLength)
}

func withinBounds(got, limits Argon2idParams) bool {
	switch {
	case got.MemoryKiB > limits.MemoryKiB*2:
		return false
	case got.Iterations > limits.Iterations*2:
		return false
	case uint32(got.Parallelism) > uint32(limits.Parallelism)*2:
		return false
	case got.SaltLength < 8 || got.SaltLength > 64:
		return false
	case got.KeyLength < 16 || got.KeyLength > 128:
		return false
	}
	return true
}

func decodeArgon2id(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" || parts[2] != "v=19" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > math.MaxUint8 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	return Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  it,
		Parallelism: uint8(par),        // #nosec G115 -- checked above.
		SaltLength:  uint32(len(salt)), // #nosec G115 -- bounded by withinBounds.
		KeyLength:   uint32(len(key)),  // #nosec G115 -- bounded by withinBounds.
	}, salt, key, nil
}

func parseUintRange(s string, minVal, maxVal uint32) (uint32, error) {
	u64, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}
