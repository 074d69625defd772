package identity

import (
	"context"
	"time"
)

// User is a directory row. PasswordHash is never serialized to clients.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Tier         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Scope returns the scope derived from the user's tier.
func (u User) Scope() []string { return TierScopes(u.Tier) }

// CreateUserInput creates a directory row. Password is hashed with Argon2id
// before it reaches storage.
type CreateUserInput struct {
	Email    string
	Password string
	Tier     string
	Now      time.Time
}

// Directory is the storage surface used by login and the session engine.
type Directory interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	// GetUser returns NotFoundError when id is unknown.
	GetUser(ctx context.Context, id string) (User, error)

	// GetUserByEmail looks up by normalized email. NotFoundError when unknown.
	GetUserByEmail(ctx context.Context, email string) (User, error)
}

// Authenticate checks email + password against dir.
//
// Unknown emails still pay for one Argon2id verification so response timing
// does not reveal which accounts exist. Every failure is ErrInvalidCredentials.
func Authenticate(ctx context.Context, dir Directory, pw PasswordConfig, email, password string) (User, error) {
	const op = "identity.Authenticate"

	email = NormalizeEmail(email)
	if email == "" || password == "" {
		pw.VerifyDummy(password)
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	u, err := dir.GetUserByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			pw.VerifyDummy(password)
			return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
		}
		return User{}, err
	}

	ok, err := pw.Verify(u.PasswordHash, password)
	if err != nil || !ok {
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}
	return u, nil
}
