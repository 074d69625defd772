package session

import (
	"errors"
	"fmt"
)

// Code is the stable, closed failure taxonomy exposed to callers and logs.
type Code string

const (
	CodeNone               Code = ""
	CodeMalformedToken     Code = "malformed_token"
	CodeSignatureInvalid   Code = "signature_invalid"
	CodeExpired            Code = "expired"
	CodeAudienceMismatch   Code = "audience_mismatch"
	CodeIssuerMismatch     Code = "issuer_mismatch"
	CodeInvalidToken       Code = "invalid_token"
	CodeTokenRevoked       Code = "token_revoked"
	CodeTokenReuseDetected Code = "token_reuse_detected"
	CodeSuspiciousActivity Code = "suspicious_activity"
	CodeStorageUnavailable Code = "storage_unavailable"
	// CodeInternal covers errors outside the taxonomy (bugs, misconfiguration).
	CodeInternal Code = "internal"
)

var (
	// ErrMalformedToken is returned when a token is not a structurally valid compact JWS
	// or lacks a required claim.
	ErrMalformedToken = errors.New("malformed token")

	// ErrSignatureInvalid is returned when the signature, algorithm or key version does not verify.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrExpired is returned when exp <= now, or when a ledger row is past its expiry.
	ErrExpired = errors.New("token expired")

	// ErrAudienceMismatch is returned when aud is not exactly the configured audience.
	ErrAudienceMismatch = errors.New("audience mismatch")

	// ErrIssuerMismatch is returned when iss is not exactly the configured issuer.
	ErrIssuerMismatch = errors.New("issuer mismatch")

	// ErrInvalidToken is returned when a refresh credential has no ledger row,
	// or its owner can no longer be loaded.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenRevoked is returned for a ledger row that was revoked (logout, lineage or user revocation).
	ErrTokenRevoked = errors.New("token revoked")

	// ErrTokenReuseDetected is returned when an already rotated refresh credential is presented again.
	// The whole lineage has been revoked by the time the caller sees it.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")

	// ErrSuspiciousActivity is returned when the suspicion policy flagged a rotation.
	// Every refresh row of the user has been revoked by the time the caller sees it.
	ErrSuspiciousActivity = errors.New("suspicious activity detected")

	// ErrStorageUnavailable marks infrastructure failures of the ledger or revocation cache.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")

	// errLockContention is a transient lock wait inside a rotation unit; the unit is retried.
	errLockContention = errors.New("ledger lock contention")

	// errTxDone is returned when a unit is used after Commit or Rollback.
	errTxDone = errors.New("ledger unit already finished")

	// errDuplicateHash is returned by Store/Insert when the id hash already exists.
	errDuplicateHash = errors.New("duplicate id hash")
)

// RevokedError reports a revoked ledger row together with the recorded reason.
type RevokedError struct {
	Reason RevokeReason
}

func (e RevokedError) Error() string {
	if e.Reason == "" {
		return ErrTokenRevoked.Error()
	}
	return fmt.Sprintf("%s: %s", ErrTokenRevoked.Error(), e.Reason)
}

func (e RevokedError) Unwrap() error { return ErrTokenRevoked }

// SecurityEventError carries the subject of a reuse or suspicion event.
// It matches ErrTokenReuseDetected or ErrSuspiciousActivity via errors.Is.
type SecurityEventError struct {
	Err       error
	UserID    string
	LineageID string
}

func (e SecurityEventError) Error() string { return e.Err.Error() }

func (e SecurityEventError) Unwrap() error { return e.Err }

// SecuritySubject returns the user and lineage a security event concerns.
func SecuritySubject(err error) (userID, lineageID string, ok bool) {
	var se SecurityEventError
	if !errors.As(err, &se) {
		return "", "", false
	}
	return se.UserID, se.LineageID, true
}

// StorageError wraps an infrastructure failure. It matches ErrStorageUnavailable
// via errors.Is and keeps the cause reachable via errors.As/Unwrap.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrStorageUnavailable, e.Err)
}

func (e StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorageUnavailable) match without losing the cause.
func (e StorageError) Is(target error) bool { return target == ErrStorageUnavailable }

// CodeOf classifies err into the closed taxonomy. Security events win over
// everything else so they are never downgraded.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeNone
	case errors.Is(err, ErrTokenReuseDetected):
		return CodeTokenReuseDetected
	case errors.Is(err, ErrSuspiciousActivity):
		return CodeSuspiciousActivity
	case errors.Is(err, ErrStorageUnavailable):
		return CodeStorageUnavailable
	case errors.Is(err, ErrMalformedToken):
		return CodeMalformedToken
	case errors.Is(err, ErrSignatureInvalid):
		return CodeSignatureInvalid
	case errors.Is(err, ErrExpired):
		return CodeExpired
	case errors.Is(err, ErrAudienceMismatch):
		return CodeAudienceMismatch
	case errors.Is(err, ErrIssuerMismatch):
		return CodeIssuerMismatch
	case errors.Is(err, ErrTokenRevoked):
		return CodeTokenRevoked
	case errors.Is(err, ErrInvalidToken):
		return CodeInvalidToken
	default:
		return CodeInternal
	}
}

// IsSecurityEvent reports whether err must be treated as a breach signal:
// never retried, always audited, and forcing full re-authentication.
func IsSecurityEvent(err error) bool {
	switch CodeOf(err) {
	case CodeTokenReuseDetected, CodeSuspiciousActivity:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether the caller may retry with backoff.
func IsRetryable(err error) bool {
	return CodeOf(err) == CodeStorageUnavailable
}
