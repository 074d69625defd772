package authapi

import (
	"context"

	"qck/cmd/identity"
	"qck/cmd/internal/auth/session"
)

// Profiles adapts an identity directory to the engine's UserDirectory.
// Lookup failures other than an unknown or malformed id are reported as
// storage errors so rotation answers 503 instead of invalidating the client.
func Profiles(users identity.Directory) session.UserDirectory {
	return session.UserDirectoryFunc(func(ctx context.Context, userID string) (session.Profile, error) {
		u, err := users.GetUser(ctx, userID)
		if err != nil {
			if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
				return session.Profile{}, err
			}
			return session.Profile{}, session.StorageError{Op: "authapi.Profiles", Err: err}
		}
		return profileOf(u), nil
	})
}

func profileOf(u identity.User) session.Profile {
	return session.Profile{
		ID:    u.ID,
		Email: u.Email,
		Tier:  u.Tier,
		Scope: u.Scope(),
	}
}
