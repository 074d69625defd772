package session

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// newCredentialID returns a random UUIDv4 used as jti and as lineage id.
func newCredentialID() string {
	return uuid.NewString()
}

// newRowID returns a ULID row key ordered by issue time.
func newRowID(now time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
