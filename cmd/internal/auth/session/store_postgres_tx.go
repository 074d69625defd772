package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx so every statement is
// written once and reused inside and outside a rotation unit.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type pgLedgerTx struct {
	tx pgx.Tx
}

func (t *pgLedgerTx) LockByHash(ctx context.Context, idHash string) (Record, error) {
	rec, err := scanRecord(t.tx.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM qck.refresh_tokens
		WHERE id_hash = $1
		FOR UPDATE
	`, idHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrInvalidToken
	}
	if err != nil {
		return Record{}, mapPgError("session.LedgerTx.LockByHash", err)
	}
	return rec, nil
}

func (t *pgLedgerTx) Revoke(ctx context.Context, idHash string, now time.Time, reason RevokeReason) error {
	return revokeOne(ctx, t.tx, idHash, now, reason)
}

func (t *pgLedgerTx) RevokeLineage(ctx context.Context, lineageID string, now time.Time, reason RevokeReason) (int64, error) {
	return revokeLineage(ctx, t.tx, lineageID, now, reason)
}

func (t *pgLedgerTx) RevokeAllForUser(ctx context.Context, userID string, now time.Time, reason RevokeReason) (int64, error) {
	return revokeAllForUser(ctx, t.tx, userID, now, reason)
}

func (t *pgLedgerTx) Insert(ctx context.Context, rec Record) error {
	return insertRecord(ctx, t.tx, "session.LedgerTx.Insert", rec)
}

func (t *pgLedgerTx) RecentActiveForUser(ctx context.Context, userID string, since, now time.Time, limit int) ([]Record, error) {
	const op = "session.LedgerTx.RecentActiveForUser"

	rows, err := t.tx.Query(ctx, `
		SELECT `+recordColumns+`
		FROM qck.refresh_tokens
		WHERE user_id = $1
		  AND issued_at >= $2
		  AND revoked_at IS NULL
		  AND expires_at > $3
		ORDER BY issued_at DESC
		LIMIT $4
	`, userID, since, now, limit)
	if err != nil {
		return nil, mapPgError(op, err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, mapPgError(op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(op, err)
	}
	return out, nil
}

func (t *pgLedgerTx) Commit(ctx context.Context) error {
	return mapPgError("session.LedgerTx.Commit", t.tx.Commit(ctx))
}

func (t *pgLedgerTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return mapPgError("session.LedgerTx.Rollback", err)
}

func insertRecord(ctx context.Context, db dbtx, op string, rec Record) error {
	var reason *string
	if rec.RevokedReason != nil {
		s := string(*rec.RevokedReason)
		reason = &s
	}

	_, err := db.Exec(ctx, `
		INSERT INTO qck.refresh_tokens (
			id, user_id, id_hash, lineage_id,
			issued_at, expires_at, last_used_at, revoked_at, revoked_reason,
			device_fingerprint, ip_address, user_agent, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $5
		)
	`,
		rec.ID, rec.UserID, rec.IDHash, rec.LineageID,
		rec.IssuedAt, rec.ExpiresAt, rec.LastUsedAt, rec.RevokedAt, reason,
		nullIfEmpty(strPtrValue(rec.DeviceFingerprint)),
		nullIfEmpty(strPtrValue(rec.IPAddress)),
		nullIfEmpty(strPtrValue(rec.UserAgent)),
	)
	return mapPgError(op, err)
}

func revokeOne(ctx context.Context, db dbtx, idHash string, now time.Time, reason RevokeReason) error {
	_, err := db.Exec(ctx, `
		UPDATE qck.refresh_tokens
		SET revoked_at = COALESCE(revoked_at, $2),
		    revoked_reason = COALESCE(revoked_reason, $3),
		    updated_at = $2
		WHERE id_hash = $1
	`, idHash, now, string(reason))
	return mapPgError("session.Ledger.Revoke", err)
}

func revokeLineage(ctx context.Context, db dbtx, lineageID string, now time.Time, reason RevokeReason) (int64, error) {
	tag, err := db.Exec(ctx, `
		UPDATE qck.refresh_tokens
		SET revoked_at = $2,
		    revoked_reason = $3,
		    updated_at = $2
		WHERE lineage_id = $1
		  AND revoked_at IS NULL
	`, lineageID, now, string(reason))
	if err != nil {
		return 0, mapPgError("session.Ledger.RevokeLineage", err)
	}
	return tag.RowsAffected(), nil
}

func revokeAllForUser(ctx context.Context, db dbtx, userID string, now time.Time, reason RevokeReason) (int64, error) {
	tag, err := db.Exec(ctx, `
		UPDATE qck.refresh_tokens
		SET revoked_at = $2,
		    revoked_reason = $3,
		    updated_at = $2
		WHERE user_id = $1
		  AND revoked_at IS NULL
	`, userID, now, string(reason))
	if err != nil {
		return 0, mapPgError("session.Ledger.RevokeAllForUser", err)
	}
	return tag.RowsAffected(), nil
}
