package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// TokenTypeBearer is the token_type of every issued pair.
const TokenTypeBearer = "Bearer"

// IDHasher derives the ledger key of a credential id.
// security/token.Hasher is the production implementation.
type IDHasher interface {
	Hash(id string) string
}

// Pair is the result of login or rotation.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64 // seconds until the access credential expires
	TokenType        string
	LineageID        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Service is the session security engine. It issues, validates and rotates
// credential pairs and contains breaches through lineage tracking.
//
// It is the only component that mutates the ledger, apart from the sweeper's
// CleanupExpired. A Service is safe for concurrent use.
type Service struct {
	cfg    Config
	keys   Keys
	codec  *Codec
	ledger Ledger
	cache  RevocationCache
	users  UserDirectory
	hasher IDHasher
	policy SuspicionPolicy

	now     func() time.Time
	log     *slog.Logger
	metrics *Metrics
}

// Option customizes a Service.
type Option func(*Service)

// WithClock sets the time source used for minting, validation and ledger writes.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithPolicy replaces the suspicion policy built from Config.
func WithPolicy(p SuspicionPolicy) Option {
	return func(s *Service) {
		if p != nil {
			s.policy = p
		}
	}
}

// NewService validates its inputs and constructs a Service.
func NewService(cfg Config, keys Keys, hasher IDHasher, ledger Ledger, cache RevocationCache, users UserDirectory, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := keys.Validate(); err != nil {
		return nil, err
	}
	if hasher == nil || ledger == nil || cache == nil || users == nil {
		return nil, fmt.Errorf("%w: hasher, ledger, cache and user directory are required", ErrConfig)
	}
	if r, ok := hasher.(interface{ Ready() bool }); ok && !r.Ready() {
		return nil, fmt.Errorf("%w: id hasher has no salt", ErrConfig)
	}

	s := &Service{
		cfg:    cfg,
		keys:   keys,
		ledger: ledger,
		cache:  cache,
		users:  users,
		hasher: hasher,
		policy: cfg.Suspicion.Policy(),
		now:    time.Now,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.codec = NewCodec(s.now)
	return s, nil
}

// Config returns the engine configuration.
func (s *Service) Config() Config { return s.cfg }

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// IssueInitialPair starts a new lineage for user and returns its first pair.
// A nil scope falls back to the profile's scope. rememberMe selects the long
// refresh lifetime; the access lifetime is unaffected.
func (s *Service) IssueInitialPair(ctx context.Context, user Profile, scope []string, rememberMe bool, dev DeviceContext) (Pair, error) {
	if user.ID == "" {
		return Pair{}, errors.New("session: profile id is required")
	}
	if scope == nil {
		scope = user.Scope
	}

	now := s.clock()
	pair, rec, err := s.mint(user, scope, rememberMe, newCredentialID(), dev, now)
	if err != nil {
		return Pair{}, err
	}
	if err := s.ledger.Store(ctx, rec); err != nil {
		return Pair{}, err
	}

	s.metrics.pairIssued()
	s.log.Info("session.issue",
		slog.String("user_id", user.ID),
		slog.String("lineage_id", pair.LineageID),
		slog.Bool("remember_me", rememberMe),
	)
	return pair, nil
}

// ValidateAccess verifies an access credential. It never touches storage;
// denied ids are checked separately with IsDenied.
func (s *Service) ValidateAccess(token string) (AccessClaims, error) {
	return s.codec.DecodeAccess(token, s.keys.Access)
}

// Authenticate is ValidateAccess followed by a deny-list check. A denied
// credential reports RevokedError with ReasonLogout.
func (s *Service) Authenticate(ctx context.Context, token string) (AccessClaims, error) {
	claims, err := s.ValidateAccess(token)
	if err != nil {
		return AccessClaims{}, err
	}
	denied, err := s.cache.IsDenied(ctx, claims.ID)
	if err != nil {
		return AccessClaims{}, err
	}
	if denied {
		return AccessClaims{}, RevokedError{Reason: ReasonLogout}
	}
	return claims, nil
}

// ValidateRefresh verifies a refresh credential and its ledger row without
// rotating it. Missing, expired and revoked rows are reported distinctly.
func (s *Service) ValidateRefresh(ctx context.Context, token string) (RefreshClaims, error) {
	claims, err := s.codec.DecodeRefresh(token, s.keys.Refresh)
	if err != nil {
		return RefreshClaims{}, err
	}
	if _, err := s.ledger.Validate(ctx, s.hasher.Hash(claims.ID), s.clock()); err != nil {
		return RefreshClaims{}, err
	}
	return claims, nil
}

// Rotate exchanges a refresh credential for a new pair in the same lineage.
//
// The ledger work runs as one unit detached from ctx and bounded by
// Config.RotationTimeout. If ctx ends first the caller gets ctx.Err() while
// the unit still commits or rolls back on its own.
//
// Presenting an already rotated credential revokes the whole lineage and
// returns ErrTokenReuseDetected. A suspicion verdict revokes every row of the
// user and returns ErrSuspiciousActivity. Both revocations are committed
// before the error is returned.
func (s *Service) Rotate(ctx context.Context, oldToken string, dev DeviceContext) (Pair, error) {
	claims, err := s.codec.DecodeRefresh(oldToken, s.keys.Refresh)
	if err != nil {
		s.metrics.rotation(err)
		return Pair{}, err
	}
	idHash := s.hasher.Hash(claims.ID)

	type result struct {
		pair Pair
		err  error
	}
	done := make(chan result, 1)

	go func() {
		unitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RotationTimeout)
		defer cancel()

		pair, err := s.rotateWithRetry(unitCtx, claims, idHash, dev)
		s.metrics.rotation(err)
		s.logRotation(claims, pair, err)
		done <- result{pair: pair, err: err}
	}()

	select {
	case r := <-done:
		return r.pair, r.err
	case <-ctx.Done():
		return Pair{}, ctx.Err()
	}
}

func (s *Service) rotateWithRetry(ctx context.Context, claims RefreshClaims, idHash string, dev DeviceContext) (Pair, error) {
	const op = "session.Rotate"

	backoff := s.cfg.LockRetryBackoff
	for attempt := 0; ; attempt++ {
		pair, err := s.rotateOnce(ctx, claims, idHash, dev)
		switch {
		case err == nil:
			return pair, nil
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			return Pair{}, StorageError{Op: op, Err: err}
		case !errors.Is(err, errLockContention):
			return Pair{}, err
		case attempt >= s.cfg.LockRetries:
			return Pair{}, StorageError{Op: op, Err: err}
		}

		s.metrics.lockRetry()
		t := time.NewTimer(backoff)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return Pair{}, StorageError{Op: op, Err: ctx.Err()}
		}
		backoff *= 2
	}
}

func (s *Service) rotateOnce(ctx context.Context, claims RefreshClaims, idHash string, dev DeviceContext) (Pair, error) {
	now := s.clock()

	tx, err := s.ledger.Begin(ctx)
	if err != nil {
		return Pair{}, err
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	row, err := tx.LockByHash(ctx, idHash)
	if err != nil {
		return Pair{}, err
	}

	if !row.ExpiresAt.After(now) {
		return Pair{}, ErrExpired
	}
	if row.RevokedAt != nil {
		if row.Reason() != ReasonRotation {
			return Pair{}, RevokedError{Reason: row.Reason()}
		}
		n, err := tx.RevokeLineage(ctx, row.LineageID, now, ReasonReuseDetected)
		if err != nil {
			return Pair{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return Pair{}, err
		}
		s.metrics.rowsRevoked(ReasonReuseDetected, n)
		s.log.Warn("session.rotate.reuse_detected",
			slog.Bool("security_event", true),
			slog.String("user_id", row.UserID),
			slog.String("lineage_id", row.LineageID),
			slog.Int64("revoked", n),
			slog.String("ip", ipString(dev.IP)),
		)
		return Pair{}, SecurityEventError{Err: ErrTokenReuseDetected, UserID: row.UserID, LineageID: row.LineageID}
	}
	if row.UserID != claims.Subject {
		return Pair{}, ErrInvalidToken
	}

	if err := tx.Revoke(ctx, idHash, now, ReasonRotation); err != nil {
		return Pair{}, err
	}

	if lookback, limit := s.policy.Window(); limit > 0 {
		recent, err := tx.RecentActiveForUser(ctx, row.UserID, now.Add(-lookback), now, limit)
		if err != nil {
			return Pair{}, err
		}
		verdict := s.policy.Evaluate(SuspicionInput{Presented: row, Device: dev, Recent: recent})
		if verdict.Suspicious {
			n, err := tx.RevokeAllForUser(ctx, row.UserID, now, ReasonSuspiciousActivity)
			if err != nil {
				return Pair{}, err
			}
			if err := tx.Commit(ctx); err != nil {
				return Pair{}, err
			}
			s.metrics.rowsRevoked(ReasonRotation, 1)
			s.metrics.rowsRevoked(ReasonSuspiciousActivity, n)
			s.log.Warn("session.rotate.suspicious_activity",
				slog.Bool("security_event", true),
				slog.String("user_id", row.UserID),
				slog.String("lineage_id", row.LineageID),
				slog.String("verdict", verdict.Reason),
				slog.Int64("revoked", n),
				slog.String("ip", ipString(dev.IP)),
			)
			return Pair{}, SecurityEventError{Err: ErrSuspiciousActivity, UserID: row.UserID, LineageID: row.LineageID}
		}
	}

	profile, err := s.users.FindProfile(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			return Pair{}, err
		}
		return Pair{}, fmt.Errorf("%w: owner lookup: %v", ErrInvalidToken, err)
	}

	pair, rec, err := s.mint(profile, profile.Scope, claims.RememberMe, row.LineageID, dev, now)
	if err != nil {
		return Pair{}, err
	}
	if err := tx.Insert(ctx, rec); err != nil {
		return Pair{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Pair{}, err
	}
	s.metrics.rowsRevoked(ReasonRotation, 1)

	// Telemetry only; the row is already revoked.
	if err := s.ledger.MarkUsed(ctx, idHash, now); err != nil {
		s.log.Debug("session.rotate.mark_used_failed", "err", err)
	}
	return pair, nil
}

func (s *Service) logRotation(claims RefreshClaims, pair Pair, err error) {
	switch {
	case err == nil:
		s.log.Info("session.rotate",
			slog.String("user_id", claims.Subject),
			slog.String("lineage_id", pair.LineageID),
		)
	case IsSecurityEvent(err):
		// Already logged with full context inside the unit.
	default:
		s.log.Info("session.rotate.fail",
			slog.String("user_id", claims.Subject),
			slog.String("code", string(CodeOf(err))),
			"err", err,
		)
	}
}

// RevokeAllForUser revokes every active refresh row of userID with reason
// logout and returns how many rows changed.
func (s *Service) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	n, err := s.ledger.RevokeAllForUser(ctx, userID, s.clock(), ReasonLogout)
	if err != nil {
		return 0, err
	}
	s.metrics.rowsRevoked(ReasonLogout, n)
	return n, nil
}

// Logout denies the presented access credential for its remaining lifetime
// and revokes every refresh row of its owner.
func (s *Service) Logout(ctx context.Context, claims AccessClaims) (int64, error) {
	if ttl := claims.Remaining(s.now()); ttl > 0 {
		if err := s.cache.Deny(ctx, claims.ID, ttl); err != nil {
			return 0, err
		}
	}
	n, err := s.RevokeAllForUser(ctx, claims.Subject)
	if err != nil {
		return 0, err
	}
	s.log.Info("session.logout",
		slog.String("user_id", claims.Subject),
		slog.Int64("revoked", n),
	)
	return n, nil
}

// IsDenied reports whether an access credential id is on the deny list.
func (s *Service) IsDenied(ctx context.Context, jti string) (bool, error) {
	return s.cache.IsDenied(ctx, jti)
}

// CountActiveForUser counts the user's active refresh rows.
func (s *Service) CountActiveForUser(ctx context.Context, userID string) (int64, error) {
	return s.ledger.CountActiveForUser(ctx, userID, s.clock())
}

// CleanupExpired deletes ledger rows past their expiry.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.ledger.CleanupExpired(ctx, s.clock())
	if err != nil {
		return 0, err
	}
	s.metrics.rowsSwept(n)
	return n, nil
}

func (s *Service) mint(user Profile, scope []string, rememberMe bool, lineageID string, dev DeviceContext, now time.Time) (Pair, Record, error) {
	accessExp := now.Add(s.keys.Access.TTL)
	refreshExp := now.Add(s.keys.RefreshTTL(rememberMe))

	if scope == nil {
		scope = []string{}
	}
	access := AccessClaims{
		Subject:   user.ID,
		ID:        newCredentialID(),
		Email:     user.Email,
		Tier:      user.Tier,
		Scope:     scope,
		Audience:  s.keys.Access.Audience,
		Issuer:    s.keys.Access.Issuer,
		IssuedAt:  now,
		ExpiresAt: accessExp,
	}
	refresh := RefreshClaims{
		Subject:    user.ID,
		ID:         newCredentialID(),
		Audience:   s.keys.Refresh.Audience,
		Issuer:     s.keys.Refresh.Issuer,
		IssuedAt:   now,
		ExpiresAt:  refreshExp,
		RememberMe: rememberMe,
	}

	accessToken, err := s.codec.EncodeAccess(access, s.keys.Access)
	if err != nil {
		return Pair{}, Record{}, err
	}
	refreshToken, err := s.codec.EncodeRefresh(refresh, s.keys.Refresh)
	if err != nil {
		return Pair{}, Record{}, err
	}
	rowID, err := newRowID(now)
	if err != nil {
		return Pair{}, Record{}, err
	}

	rec := Record{
		ID:                rowID,
		UserID:            user.ID,
		IDHash:            s.hasher.Hash(refresh.ID),
		LineageID:         lineageID,
		IssuedAt:          now,
		ExpiresAt:         refreshExp,
		DeviceFingerprint: optString(dev.Fingerprint),
		IPAddress:         optString(ipString(dev.IP)),
		UserAgent:         optString(dev.UserAgent),
	}
	pair := Pair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		ExpiresIn:        int64(s.keys.Access.TTL / time.Second),
		TokenType:        TokenTypeBearer,
		LineageID:        lineageID,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}
	return pair, rec, nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
