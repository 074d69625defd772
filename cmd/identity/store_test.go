package identity

import (
	"context"
	"errors"
	"testing"
)

type mapDirectory struct {
	byEmail map[string]User
	err     error
}

func (d mapDirectory) CreateUser(context.Context, CreateUserInput) (User, error) {
	return User{}, errors.New("not supported")
}

func (d mapDirectory) GetUser(_ context.Context, id string) (User, error) {
	for _, u := range d.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return User{}, NotFoundError{Op: "test.GetUser", Resource: "user"}
}

func (d mapDirectory) GetUserByEmail(_ context.Context, email string) (User, error) {
	if d.err != nil {
		return User{}, d.err
	}
	u, ok := d.byEmail[email]
	if !ok {
		return User{}, NotFoundError{Op: "test.GetUserByEmail", Resource: "user"}
	}
	return u, nil
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	pw := cheapPasswordConfig()
	h, err := pw.Hash("hunter2hunter2")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	dir := mapDirectory{byEmail: map[string]User{
		"alice@example.com": {ID: "u1", Email: "alice@example.com", PasswordHash: h, Tier: TierBasic},
		"broken@example.com": {ID: "u2", Email: "broken@example.com", PasswordHash: "garbage", Tier: TierFree},
	}}
	ctx := context.Background()

	u, err := Authenticate(ctx, dir, pw, " Alice@Example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if u.ID != "u1" {
		t.Fatalf("wrong user: %+v", u)
	}

	fails := []struct {
		name, email, password string
	}{
		{"wrong password", "alice@example.com", "hunter3hunter3"},
		{"unknown user", "bob@example.com", "hunter2hunter2"},
		{"empty email", "", "hunter2hunter2"},
		{"empty password", "alice@example.com", ""},
		{"malformed stored hash", "broken@example.com", "whatever"},
	}
	for _, tt := range fails {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Authenticate(ctx, dir, pw, tt.email, tt.password)
			if !IsInvalidCredentials(err) {
				t.Fatalf("expected ErrInvalidCredentials, got %v", err)
			}
		})
	}
}

func TestAuthenticate_StorageErrorPassesThrough(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	_, err := Authenticate(context.Background(), mapDirectory{err: boom}, cheapPasswordConfig(), "a@b.c", "pw")
	if !errors.Is(err, boom) || IsInvalidCredentials(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
}
