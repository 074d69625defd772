package authapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strings"
	"time"

	"qck/cmd/identity/ids"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions.
const (
	ActionLoginSuccess      = "auth.login.success"
	ActionLoginFailed       = "auth.login.failed"
	ActionRefreshSuccess    = "auth.refresh.success"
	ActionRefreshReuse      = "auth.refresh.reuse_detected"
	ActionRefreshSuspicious = "auth.refresh.suspicious_activity"
	ActionLogout            = "auth.logout"
	ActionLogoutAll         = "auth.logout_all"
)

// AuditEvent is one security-relevant action.
type AuditEvent struct {
	Action    string
	UserID    string
	IP        net.IP
	UserAgent string
	Meta      map[string]any
	At        time.Time
}

// AuditSink records audit events. Recording is best-effort: a failing sink
// never fails the request.
type AuditSink interface {
	Record(ctx context.Context, ev AuditEvent)
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, AuditEvent) {}

// PostgresAudit writes events into qck.audit_log.
type PostgresAudit struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgresAudit returns a sink over pool. The pool is owned by the caller.
func NewPostgresAudit(pool *pgxpool.Pool, log *slog.Logger) *PostgresAudit {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresAudit{pool: pool, log: log}
}

func (a *PostgresAudit) Record(ctx context.Context, ev AuditEvent) {
	if a == nil || a.pool == nil {
		return
	}
	action := strings.TrimSpace(ev.Action)
	if action == "" {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	id, err := ids.NewULID(ev.At)
	if err != nil {
		a.log.Error("auth.audit.id.fail", "err", err, "action", action)
		return
	}

	var ipVal any
	if ev.IP != nil {
		ipVal = ev.IP.String()
	}

	var metaVal *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	// Request cancellation must not drop the audit row.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	_, err = a.pool.Exec(ctx, `
		INSERT INTO qck.audit_log (
			id, user_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
	`, id, trimOrNil(ev.UserID), action, ev.At, ipVal, trimOrNil(ev.UserAgent), metaVal)
	if err != nil {
		a.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func (h *Handler) audit(ctx context.Context, action, userID string, rc requestContext, meta map[string]any) {
	h.auditor.Record(ctx, AuditEvent{
		Action:    action,
		UserID:    userID,
		IP:        rc.ip,
		UserAgent: rc.userAgent,
		Meta:      meta,
		At:        time.Now().UTC(),
	})
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
