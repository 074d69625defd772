package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger implements Ledger on qck.refresh_tokens.
//
// The pool is owned by the caller and never closed here.
type PostgresLedger struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// PostgresLedgerOption configures a PostgresLedger.
type PostgresLedgerOption func(*PostgresLedger)

// WithLockTimeout bounds how long a rotation waits on a row lock before the
// unit is aborted and retried. Zero disables the bound.
func WithLockTimeout(d time.Duration) PostgresLedgerOption {
	return func(l *PostgresLedger) {
		if d >= 0 {
			l.lockTimeout = d
		}
	}
}

// NewPostgresLedger creates a Postgres-backed ledger.
func NewPostgresLedger(pool *pgxpool.Pool, opts ...PostgresLedgerOption) *PostgresLedger {
	l := &PostgresLedger{pool: pool, lockTimeout: 5 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

const recordColumns = `
	id, user_id, id_hash, lineage_id,
	issued_at, expires_at, last_used_at, revoked_at, revoked_reason,
	device_fingerprint, ip_address, user_agent`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec    Record
		reason *string
	)
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.IDHash,
		&rec.LineageID,
		&rec.IssuedAt,
		&rec.ExpiresAt,
		&rec.LastUsedAt,
		&rec.RevokedAt,
		&reason,
		&rec.DeviceFingerprint,
		&rec.IPAddress,
		&rec.UserAgent,
	)
	if err != nil {
		return Record{}, err
	}
	if reason != nil {
		r := RevokeReason(*reason)
		rec.RevokedReason = &r
	}
	return rec, nil
}

// Store inserts a new row.
func (l *PostgresLedger) Store(ctx context.Context, rec Record) error {
	return insertRecord(ctx, l.pool, "session.Ledger.Store", rec)
}

// Validate loads a row by id hash and classifies it.
func (l *PostgresLedger) Validate(ctx context.Context, idHash string, now time.Time) (Record, error) {
	const op = "session.Ledger.Validate"

	rec, err := scanRecord(l.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM qck.refresh_tokens
		WHERE id_hash = $1
	`, idHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrInvalidToken
	}
	if err != nil {
		return Record{}, mapPgError(op, err)
	}
	if err := rec.classify(now); err != nil {
		return rec, err
	}
	return rec, nil
}

// Begin opens a READ COMMITTED transaction. Under READ COMMITTED a waiter on
// SELECT ... FOR UPDATE re-reads the row after the holder commits, which is
// what lets a concurrent duplicate rotation observe reason=rotation.
func (l *PostgresLedger) Begin(ctx context.Context) (LedgerTx, error) {
	const op = "session.Ledger.Begin"

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return nil, mapPgError(op, err)
	}

	if l.lockTimeout > 0 {
		// SET LOCAL does not accept bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", l.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			return nil, mapPgError(op, err)
		}
	}

	return &pgLedgerTx{tx: tx}, nil
}

// Revoke revokes a single row (idempotent).
func (l *PostgresLedger) Revoke(ctx context.Context, idHash string, now time.Time, reason RevokeReason) error {
	return revokeOne(ctx, l.pool, idHash, now, reason)
}

// RevokeLineage revokes every active row of a lineage.
func (l *PostgresLedger) RevokeLineage(ctx context.Context, lineageID string, now time.Time, reason RevokeReason) (int64, error) {
	return revokeLineage(ctx, l.pool, lineageID, now, reason)
}

// RevokeAllForUser revokes every active row of a user.
func (l *PostgresLedger) RevokeAllForUser(ctx context.Context, userID string, now time.Time, reason RevokeReason) (int64, error) {
	return revokeAllForUser(ctx, l.pool, userID, now, reason)
}

// MarkUsed updates last_used_at.
func (l *PostgresLedger) MarkUsed(ctx context.Context, idHash string, now time.Time) error {
	_, err := l.pool.Exec(ctx, `
		UPDATE qck.refresh_tokens
		SET last_used_at = $2, updated_at = $2
		WHERE id_hash = $1
	`, idHash, now)
	return mapPgError("session.Ledger.MarkUsed", err)
}

// CountActiveForUser counts active rows of a user.
func (l *PostgresLedger) CountActiveForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	var n int64
	err := l.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM qck.refresh_tokens
		WHERE user_id = $1
		  AND revoked_at IS NULL
		  AND expires_at > $2
	`, userID, now).Scan(&n)
	if err != nil {
		return 0, mapPgError("session.Ledger.CountActiveForUser", err)
	}
	return n, nil
}

// CleanupExpired deletes rows past expiry regardless of revocation state.
func (l *PostgresLedger) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := l.pool.Exec(ctx, `
		DELETE FROM qck.refresh_tokens
		WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, mapPgError("session.Ledger.CleanupExpired", err)
	}
	return tag.RowsAffected(), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func strPtrValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// mapPgError converts pgx/pgconn failures into the session taxonomy.
// Lock waits and serialization failures become errLockContention so the
// rotation unit can be retried; everything else is storage unavailability.
func mapPgError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40P01", "40001":
			return fmt.Errorf("%s: %w", op, errLockContention)
		case "23505":
			return fmt.Errorf("%s: %w", op, errDuplicateHash)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return StorageError{Op: op, Err: err}
}
