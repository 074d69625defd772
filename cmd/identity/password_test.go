package identity

import (
	"errors"
	"strings"
	"testing"
)

func cheapPasswordConfig() PasswordConfig {
	cfg := DefaultPasswordConfig()
	cfg.Params.MemoryKiB = 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func TestPassword_HashAndVerify(t *testing.T) {
	t.Parallel()

	cfg := cheapPasswordConfig()
	h, err := cfg.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(h, "$argon2id$v=19$m=1024,t=1,p=1$") {
		t.Fatalf("unexpected encoding: %s", h)
	}

	ok, err := cfg.Verify(h, "correct horse battery")
	if err != nil || !ok {
		t.Fatalf("Verify match: ok=%v err=%v", ok, err)
	}
	ok, err = cfg.Verify(h, "wrong horse battery")
	if err != nil || ok {
		t.Fatalf("Verify mismatch: ok=%v err=%v", ok, err)
	}
}

func TestPassword_SaltsDiffer(t *testing.T) {
	t.Parallel()

	cfg := cheapPasswordConfig()
	a, err := cfg.Hash("same password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	b, err := cfg.Hash("same password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if a == b {
		t.Fatalf("two hashes of the same password must differ")
	}
}

func TestPassword_Validate(t *testing.T) {
	t.Parallel()

	cfg := cheapPasswordConfig()
	cfg.MinLength = 8
	cfg.MaxLength = 12

	if err := cfg.Validate("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := cfg.Validate("much too long for this"); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
	// Runes, not bytes.
	if err := cfg.Validate("ééééééééé"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestPassword_VerifyRejectsBadHashes(t *testing.T) {
	t.Parallel()

	cfg := cheapPasswordConfig()
	heavy := cfg
	heavy.Params.MemoryKiB = 64 * 1024
	heavyHash, err := heavy.Hash("some password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	tests := []struct {
		name string
		enc  string
	}{
		{"garbage", "not-a-hash"},
		{"bcrypt", "$2a$10$abcdefghijklmnopqrstuu"},
		{"wrong version", "$argon2id$v=16$m=1024,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5a2V5"},
		{"zero memory", "$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5a2V5"},
		{"cost far above configured", heavyHash},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := cfg.Verify(tt.enc, "some password")
			if !errors.Is(err, ErrInvalidHash) || ok {
				t.Fatalf("got ok=%v err=%v, want ErrInvalidHash", ok, err)
			}
		})
	}
}

func TestPasswordConfigFromEnv(t *testing.T) {
	t.Setenv("QCK_PASSWORD_MIN_LEN", "10")
	t.Setenv("QCK_ARGON2_ITERATIONS", "4")
	t.Setenv("QCK_ARGON2_PARALLELISM", "2")

	cfg, err := PasswordConfigFromEnv()
	if err != nil {
		t.Fatalf("PasswordConfigFromEnv: %v", err)
	}
	if cfg.MinLength != 10 || cfg.Params.Iterations != 4 || cfg.Params.Parallelism != 2 {
		t.Fatalf("override failed: %+v", cfg)
	}

	t.Setenv("QCK_PASSWORD_MAX_LEN", "5")
	if _, err := PasswordConfigFromEnv(); err == nil {
		t.Fatalf("expected error for min > max")
	}

	t.Setenv("QCK_PASSWORD_MAX_LEN", "64")
	t.Setenv("QCK_ARGON2_MEMORY_KIB", "12")
	if _, err := PasswordConfigFromEnv(); err == nil {
		t.Fatalf("expected error for memory below floor")
	}
}
