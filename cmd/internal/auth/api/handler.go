package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"qck/cmd/identity"
	"qck/cmd/internal/auth/session"
)

// Handler wires HTTP auth endpoints to the directory and the session engine.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions *session.Service
	users    identity.Directory
	pw       identity.PasswordConfig

	auditor AuditSink
	limiter *ipLimiter
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithAudit sets the audit sink. The default discards events.
func WithAudit(sink AuditSink) HandlerOption {
	return func(h *Handler) {
		if sink != nil {
			h.auditor = sink
		}
	}
}

// WithPasswordConfig sets the Argon2id cost used for the unknown-user dummy
// verification. It should match the cost of stored hashes.
func WithPasswordConfig(pw identity.PasswordConfig) HandlerOption {
	return func(h *Handler) { h.pw = pw }
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, sessions *session.Service, users identity.Directory, opts ...HandlerOption) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("authapi: nil session service")
	}
	if users == nil {
		return nil, errors.New("authapi: nil user directory")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		users:    users,
		pw:       identity.DefaultPasswordConfig(),
		auditor:  nopAudit{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if cfg.RateRPS > 0 {
		h.limiter = newIPLimiter(cfg.RateRPS, cfg.RateBurst, cfg.RateIdleTTL, nil)
	}
	return h, nil
}

// Register wires auth routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/login", h.limitByIP(h.handleLogin))
	mux.HandleFunc("/auth/refresh", h.limitByIP(h.handleRefresh))
	mux.Handle("/auth/logout", h.RequireAuth(http.HandlerFunc(h.handleLogout)))
	mux.Handle("/auth/logout_all", h.RequireAuth(http.HandlerFunc(h.handleLogoutAll)))
	mux.Handle("/auth/me", h.RequireAuth(http.HandlerFunc(h.handleMe)))
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	rc := h.requestContextOf(r)
	email := identity.NormalizeEmail(req.Email)

	u, err := identity.Authenticate(ctx, h.users, h.pw, email, req.Password)
	if err != nil {
		if identity.IsInvalidCredentials(err) {
			h.audit(ctx, ActionLoginFailed, "", rc, map[string]any{"email": email})
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		h.log.Error("auth.login.lookup.fail", "err", err)
		writeUnavailable(w, h.cfg.RetryAfter)
		return
	}

	pair, err := h.sessions.IssueInitialPair(ctx, profileOf(u), nil, req.RememberMe, rc.device(req.Device))
	if err != nil {
		h.log.Error("auth.login.issue.fail", "err", err, "user_id", u.ID)
		if errors.Is(err, session.ErrStorageUnavailable) {
			writeUnavailable(w, h.cfg.RetryAfter)
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.audit(ctx, ActionLoginSuccess, u.ID, rc, map[string]any{
		"lineage_id":  pair.LineageID,
		"remember_me": req.RememberMe,
	})
	h.writePair(w, pair, h.shouldUseWebCookieTransport(req.Platform))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	fromCookie := false
	if refreshToken == "" {
		refreshToken, fromCookie = h.refreshTokenFromCookie(r)
	}
	if refreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}
	if fromCookie && !h.csrfDoubleSubmitValid(r) {
		writeError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
		return
	}

	ctx := r.Context()
	rc := h.requestContextOf(r)

	pair, err := h.sessions.Rotate(ctx, refreshToken, rc.device(req.Device))
	if err != nil {
		h.writeRotateError(ctx, w, rc, err)
		return
	}

	var userID string
	if claims, err := h.sessions.ValidateAccess(pair.AccessToken); err == nil {
		userID = claims.Subject
	}
	h.audit(ctx, ActionRefreshSuccess, userID, rc, map[string]any{"lineage_id": pair.LineageID})
	h.writePair(w, pair, fromCookie)
}

func (h *Handler) writeRotateError(ctx context.Context, w http.ResponseWriter, rc requestContext, err error) {
	userID, lineageID, _ := session.SecuritySubject(err)
	var meta map[string]any
	if lineageID != "" {
		meta = map[string]any{"lineage_id": lineageID}
	}

	switch {
	case errors.Is(err, session.ErrTokenReuseDetected):
		h.audit(ctx, ActionRefreshReuse, userID, rc, meta)
		h.writeSecurityEvent(w, string(session.CodeTokenReuseDetected), "refresh token reuse detected")
	case errors.Is(err, session.ErrSuspiciousActivity):
		h.audit(ctx, ActionRefreshSuspicious, userID, rc, meta)
		h.writeSecurityEvent(w, string(session.CodeSuspiciousActivity), "suspicious activity detected")
	case errors.Is(err, session.ErrStorageUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		h.log.Warn("auth.refresh.unavailable", "err", err)
		writeUnavailable(w, h.cfg.RetryAfter)
	default:
		h.log.Info("auth.refresh.fail", "code", string(session.CodeOf(err)))
		writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
	}
}

// writeSecurityEvent answers a lineage- or user-wide revocation: the client
// must discard everything it holds and sign in again.
func (h *Handler) writeSecurityEvent(w http.ResponseWriter, code, msg string) {
	clearSiteData(w)
	h.clearWebSessionCookies(w)
	writeError(w, http.StatusUnauthorized, code, msg)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, _ := ClaimsFromContext(r.Context())

	ctx := r.Context()
	n, err := h.sessions.Logout(ctx, claims)
	if err != nil {
		h.log.Error("auth.logout.fail", "err", err)
		writeUnavailable(w, h.cfg.RetryAfter)
		return
	}

	h.audit(ctx, ActionLogout, claims.Subject, h.requestContextOf(r), map[string]any{"revoked": n})
	h.clearWebSessionCookies(w)
	writeJSON(w, http.StatusOK, revokeResponse{RevokedSessions: n})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, _ := ClaimsFromContext(r.Context())

	ctx := r.Context()
	n, err := h.sessions.RevokeAllForUser(ctx, claims.Subject)
	if err != nil {
		h.log.Error("auth.logout_all.fail", "err", err)
		writeUnavailable(w, h.cfg.RetryAfter)
		return
	}

	h.audit(ctx, ActionLogoutAll, claims.Subject, h.requestContextOf(r), map[string]any{"revoked": n})
	h.clearWebSessionCookies(w)
	writeJSON(w, http.StatusOK, revokeResponse{RevokedSessions: n})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, _ := ClaimsFromContext(r.Context())

	n, err := h.sessions.CountActiveForUser(r.Context(), claims.Subject)
	if err != nil {
		h.log.Error("auth.me.fail", "err", err)
		writeUnavailable(w, h.cfg.RetryAfter)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		UserID:         claims.Subject,
		Email:          claims.Email,
		Tier:           claims.Tier,
		Scope:          claims.Scope,
		ExpiresAt:      claims.ExpiresAt,
		ActiveSessions: n,
	})
}

// ---- helpers ----

func (h *Handler) writePair(w http.ResponseWriter, pair session.Pair, cookie bool) {
	resp := tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		TokenType:    pair.TokenType,
	}
	if cookie {
		if _, err := h.setWebSessionCookies(w, pair.RefreshToken, pair.RefreshExpiresAt); err != nil {
			h.log.Error("auth.web_cookie.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		resp.RefreshToken = ""
	}
	writeJSON(w, http.StatusOK, resp)
}
