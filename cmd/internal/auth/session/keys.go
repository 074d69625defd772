package session

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// MinSecretBytes is the minimum length of a signing secret.
const MinSecretBytes = 32

var supportedAlgorithms = map[string]bool{
	"HS256": true,
	"HS384": true,
	"HS512": true,
}

// SigningKey is the key material and claim policy for one credential type.
// It is built once at startup and never mutated.
type SigningKey struct {
	Secret     []byte
	Algorithm  string
	KeyVersion int
	Audience   string
	Issuer     string
	TTL        time.Duration
}

// Kid is the JWS "kid" header value for this key.
func (k SigningKey) Kid() string { return strconv.Itoa(k.KeyVersion) }

// String redacts the secret.
func (k SigningKey) String() string {
	return fmt.Sprintf("SigningKey{alg=%s kid=%d aud=%s iss=%s ttl=%s secret=[REDACTED]}",
		k.Algorithm, k.KeyVersion, k.Audience, k.Issuer, k.TTL)
}

// LogValue implements slog.LogValuer with the secret redacted.
func (k SigningKey) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("alg", k.Algorithm),
		slog.Int("kid", k.KeyVersion),
		slog.String("aud", k.Audience),
		slog.String("iss", k.Issuer),
		slog.Duration("ttl", k.TTL),
	)
}

func (k SigningKey) validate(name string) error {
	switch {
	case len(k.Secret) < MinSecretBytes:
		return fmt.Errorf("%w: %s secret must be at least %d bytes", ErrConfig, name, MinSecretBytes)
	case !supportedAlgorithms[k.Algorithm]:
		return fmt.Errorf("%w: %s algorithm %q not supported", ErrConfig, name, k.Algorithm)
	case k.KeyVersion < 1:
		return fmt.Errorf("%w: %s key version must be >= 1", ErrConfig, name)
	case strings.TrimSpace(k.Audience) == "":
		return fmt.Errorf("%w: %s audience is empty", ErrConfig, name)
	case strings.TrimSpace(k.Issuer) == "":
		return fmt.Errorf("%w: %s issuer is empty", ErrConfig, name)
	case k.TTL <= 0:
		return fmt.Errorf("%w: %s ttl must be positive", ErrConfig, name)
	}
	return nil
}

// Keys holds the two independent signing keys. Access and refresh
// credentials never share a secret.
type Keys struct {
	Access  SigningKey
	Refresh SigningKey

	// RememberMeTTL replaces Refresh.TTL when the user asked to be remembered.
	RememberMeTTL time.Duration
}

// Validate enforces the key invariants.
func (k Keys) Validate() error {
	if err := k.Access.validate("access"); err != nil {
		return err
	}
	if err := k.Refresh.validate("refresh"); err != nil {
		return err
	}
	if string(k.Access.Secret) == string(k.Refresh.Secret) {
		return fmt.Errorf("%w: access and refresh secrets must differ", ErrConfig)
	}
	if k.RememberMeTTL < k.Refresh.TTL {
		return fmt.Errorf("%w: remember-me ttl must not be shorter than refresh ttl", ErrConfig)
	}
	return nil
}

// RefreshTTL returns the refresh lifetime for a login.
func (k Keys) RefreshTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return k.RememberMeTTL
	}
	return k.Refresh.TTL
}

// DefaultKeys returns the non-secret defaults. Secrets must be supplied.
func DefaultKeys() Keys {
	base := SigningKey{
		Algorithm:  "HS256",
		KeyVersion: 1,
		Audience:   "qck.sh",
		Issuer:     "qck.sh",
	}
	access, refresh := base, base
	access.TTL = time.Hour
	refresh.TTL = 7 * 24 * time.Hour

	return Keys{
		Access:        access,
		Refresh:       refresh,
		RememberMeTTL: 30 * 24 * time.Hour,
	}
}

// LoadKeysFromEnv builds Keys from environment variables.
//
// Required:
//   - QCK_JWT_ACCESS_SECRET
//   - QCK_JWT_REFRESH_SECRET
//
// Optional:
//   - QCK_JWT_ALGORITHM (HS256, HS384, HS512)
//   - QCK_JWT_KEY_VERSION
//   - QCK_JWT_AUDIENCE
//   - QCK_JWT_ISSUER
//   - QCK_JWT_ACCESS_TTL, QCK_JWT_REFRESH_TTL, QCK_REMEMBER_ME_TTL (Go durations)
//
// Returns an error wrapping ErrConfig if configuration is invalid.
func LoadKeysFromEnv() (Keys, error) {
	k := DefaultKeys()

	if v := strings.TrimSpace(os.Getenv("QCK_JWT_ALGORITHM")); v != "" {
		k.Access.Algorithm = strings.ToUpper(v)
		k.Refresh.Algorithm = strings.ToUpper(v)
	}

	if v := strings.TrimSpace(os.Getenv("QCK_JWT_KEY_VERSION")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Keys{}, fmt.Errorf("%w: QCK_JWT_KEY_VERSION", ErrConfig)
		}
		k.Access.KeyVersion = n
		k.Refresh.KeyVersion = n
	}

	if v := strings.TrimSpace(os.Getenv("QCK_JWT_AUDIENCE")); v != "" {
		k.Access.Audience = v
		k.Refresh.Audience = v
	}
	if v := strings.TrimSpace(os.Getenv("QCK_JWT_ISSUER")); v != "" {
		k.Access.Issuer = v
		k.Refresh.Issuer = v
	}

	var err error
	if k.Access.TTL, err = envPositiveDuration("QCK_JWT_ACCESS_TTL", k.Access.TTL); err != nil {
		return Keys{}, err
	}
	if k.Refresh.TTL, err = envPositiveDuration("QCK_JWT_REFRESH_TTL", k.Refresh.TTL); err != nil {
		return Keys{}, err
	}
	if k.RememberMeTTL, err = envPositiveDuration("QCK_REMEMBER_ME_TTL", k.RememberMeTTL); err != nil {
		return Keys{}, err
	}

	k.Access.Secret = []byte(strings.TrimSpace(os.Getenv("QCK_JWT_ACCESS_SECRET")))
	k.Refresh.Secret = []byte(strings.TrimSpace(os.Getenv("QCK_JWT_REFRESH_SECRET")))

	if err := k.Validate(); err != nil {
		return Keys{}, err
	}
	return k, nil
}

func envPositiveDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrConfig, key)
	}
	return d, nil
}
