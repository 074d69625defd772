package session

import "context"

// Profile is the owner view the engine embeds into access credentials.
type Profile struct {
	ID    string
	Email string
	Tier  string
	Scope []string
}

// UserDirectory loads the current profile of a user.
//
// Rotation reloads the profile on every call, so tier and scope changes take
// effect at the next refresh rather than at the next login.
type UserDirectory interface {
	FindProfile(ctx context.Context, userID string) (Profile, error)
}

// UserDirectoryFunc adapts a function to UserDirectory.
type UserDirectoryFunc func(ctx context.Context, userID string) (Profile, error)

func (f UserDirectoryFunc) FindProfile(ctx context.Context, userID string) (Profile, error) {
	return f(ctx, userID)
}
