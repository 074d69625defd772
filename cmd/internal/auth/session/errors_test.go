package session

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want Code
	}{
		{nil, CodeNone},
		{ErrMalformedToken, CodeMalformedToken},
		{fmt.Errorf("wrap: %w", ErrSignatureInvalid), CodeSignatureInvalid},
		{ErrExpired, CodeExpired},
		{ErrAudienceMismatch, CodeAudienceMismatch},
		{ErrIssuerMismatch, CodeIssuerMismatch},
		{ErrInvalidToken, CodeInvalidToken},
		{RevokedError{Reason: ReasonLogout}, CodeTokenRevoked},
		{ErrTokenReuseDetected, CodeTokenReuseDetected},
		{ErrSuspiciousActivity, CodeSuspiciousActivity},
		{StorageError{Op: "op", Err: errors.New("conn reset")}, CodeStorageUnavailable},
		{errors.New("something else"), CodeInternal},
		// Security events are never downgraded.
		{errors.Join(ErrTokenRevoked, ErrTokenReuseDetected), CodeTokenReuseDetected},
	}
	for _, tt := range tests {
		if got := CodeOf(tt.err); got != tt.want {
			t.Errorf("CodeOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestStorageError_KeepsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("outer: %w", StorageError{Op: "session.Ledger.Store", Err: cause})

	if !errors.Is(err, ErrStorageUnavailable) || !errors.Is(err, cause) {
		t.Fatalf("StorageError must match both the sentinel and its cause")
	}
	if !IsRetryable(err) || IsSecurityEvent(err) {
		t.Fatalf("storage errors are retryable, not security events")
	}
}

func TestSecurityEventError_CarriesSubject(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("rotate: %w", SecurityEventError{Err: ErrSuspiciousActivity, UserID: "u1", LineageID: "lin-a"})

	if !errors.Is(err, ErrSuspiciousActivity) || CodeOf(err) != CodeSuspiciousActivity || !IsSecurityEvent(err) {
		t.Fatalf("subject wrapper must keep the security classification")
	}
	user, lineage, ok := SecuritySubject(err)
	if !ok || user != "u1" || lineage != "lin-a" {
		t.Fatalf("SecuritySubject = %q, %q, %v", user, lineage, ok)
	}
	if _, _, ok := SecuritySubject(ErrTokenReuseDetected); ok {
		t.Fatalf("bare sentinel has no subject")
	}
}
