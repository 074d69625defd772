package session

import (
	"context"
	"net"
	"time"
)

// RevokeReason is the recorded cause of a ledger row revocation.
type RevokeReason string

const (
	// ReasonLogout is set by logout and explicit revoke-all.
	ReasonLogout RevokeReason = "logout"
	// ReasonRotation marks a predecessor replaced by a successful rotation.
	ReasonRotation RevokeReason = "rotation"
	// ReasonReuseDetected marks every row of a lineage after a rotated credential came back.
	ReasonReuseDetected RevokeReason = "reuse_detected"
	// ReasonSuspiciousActivity marks every row of a user after a suspicion verdict.
	ReasonSuspiciousActivity RevokeReason = "suspicious_activity"
)

// DeviceContext is the caller-supplied, opaque description of the client.
type DeviceContext struct {
	Fingerprint string
	IP          net.IP
	UserAgent   string
}

// Record mirrors one qck.refresh_tokens row. The raw credential id is never
// stored; IDHash is its keyed one-way hash.
type Record struct {
	ID                string
	UserID            string
	IDHash            string
	LineageID         string
	IssuedAt          time.Time
	ExpiresAt         time.Time
	LastUsedAt        *time.Time
	RevokedAt         *time.Time
	RevokedReason     *RevokeReason
	DeviceFingerprint *string
	IPAddress         *string
	UserAgent         *string
}

// Active reports whether the row can still authorize a rotation at now.
func (r Record) Active(now time.Time) bool {
	return r.RevokedAt == nil && r.ExpiresAt.After(now)
}

// Reason returns the revocation reason or "".
func (r Record) Reason() RevokeReason {
	if r.RevokedReason == nil {
		return ""
	}
	return *r.RevokedReason
}

// classify applies the same ordering as rotation: expiry first, then revocation.
func (r Record) classify(now time.Time) error {
	if !r.ExpiresAt.After(now) {
		return ErrExpired
	}
	if r.RevokedAt != nil {
		return RevokedError{Reason: r.Reason()}
	}
	return nil
}

// Ledger is the durable store of refresh credential lifecycle state.
//
// Implementations must make LedgerTx.LockByHash an exclusive read: a second
// unit locking the same hash waits until the first commits or rolls back and
// then observes its writes.
type Ledger interface {
	// Store inserts a new row.
	Store(ctx context.Context, rec Record) error

	// Validate loads a row by id hash and classifies it:
	// ErrInvalidToken (missing), RevokedError, ErrExpired, or nil with the row.
	Validate(ctx context.Context, idHash string, now time.Time) (Record, error)

	// Begin opens one atomic unit of work.
	Begin(ctx context.Context) (LedgerTx, error)

	// Revoke revokes a single row; a row already revoked keeps its first reason.
	Revoke(ctx context.Context, idHash string, now time.Time, reason RevokeReason) error

	// RevokeLineage revokes every not-yet-revoked row of a lineage.
	RevokeLineage(ctx context.Context, lineageID string, now time.Time, reason RevokeReason) (int64, error)

	// RevokeAllForUser revokes every not-yet-revoked row of a user.
	RevokeAllForUser(ctx context.Context, userID string, now time.Time, reason RevokeReason) (int64, error)

	// MarkUsed records last_used_at. Telemetry only; never consulted for authorization.
	MarkUsed(ctx context.Context, idHash string, now time.Time) error

	// CountActiveForUser counts rows that are not revoked and not expired at now.
	CountActiveForUser(ctx context.Context, userID string, now time.Time) (int64, error)

	// CleanupExpired deletes rows with expires_at <= now regardless of revocation state.
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)
}

// LedgerTx is one atomic unit of work. Rollback after Commit is a no-op.
type LedgerTx interface {
	// LockByHash reads a row and holds an exclusive lock on it until the unit ends.
	// A missing row returns ErrInvalidToken.
	LockByHash(ctx context.Context, idHash string) (Record, error)

	Revoke(ctx context.Context, idHash string, now time.Time, reason RevokeReason) error
	RevokeLineage(ctx context.Context, lineageID string, now time.Time, reason RevokeReason) (int64, error)
	RevokeAllForUser(ctx context.Context, userID string, now time.Time, reason RevokeReason) (int64, error)
	Insert(ctx context.Context, rec Record) error

	// RecentActiveForUser returns up to limit rows of the user issued at or
	// after since that are still active at now, newest first. Rows revoked
	// earlier in the same unit are excluded.
	RecentActiveForUser(ctx context.Context, userID string, since, now time.Time, limit int) ([]Record, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
