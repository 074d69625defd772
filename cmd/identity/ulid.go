package identity

import (
	"time"

	"qck/cmd/identity/ids"
)

// NewUserID returns a new ULID for a user row.
func NewUserID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
