package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryDirectory is an in-process Directory for dev mode and tests.
type MemoryDirectory struct {
	pw PasswordConfig

	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
}

// NewMemoryDirectory returns an empty directory hashing with pw.
func NewMemoryDirectory(pw PasswordConfig) *MemoryDirectory {
	return &MemoryDirectory{
		pw:      pw,
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
	}
}

func (d *MemoryDirectory) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	email := NormalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "valid email is required"}
	}
	pwHash, err := d.pw.Hash(in.Password)
	if err != nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := NewUserID(now)
	if err != nil {
		return User{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byEmail[email]; ok {
		return User{}, ConflictError{Op: op, Field: "email"}
	}
	u := User{
		ID:           id,
		Email:        email,
		PasswordHash: pwHash,
		Tier:         NormalizeTier(in.Tier),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	d.byID[u.ID] = u
	d.byEmail[email] = u.ID
	return u, nil
}

func (d *MemoryDirectory) GetUser(_ context.Context, id string) (User, error) {
	const op = "identity.GetUser"

	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "id is required"}
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return u, nil
}

func (d *MemoryDirectory) GetUserByEmail(_ context.Context, email string) (User, error) {
	const op = "identity.GetUserByEmail"

	email = NormalizeEmail(email)
	if email == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "email is required"}
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byEmail[email]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return d.byID[id], nil
}

// SetTier changes a user's tier. Scope in already-issued access credentials
// is unaffected until they rotate.
func (d *MemoryDirectory) SetTier(_ context.Context, id, tier string, now time.Time) error {
	const op = "identity.SetTier"

	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	u.Tier = NormalizeTier(tier)
	u.UpdatedAt = now
	d.byID[id] = u
	return nil
}
