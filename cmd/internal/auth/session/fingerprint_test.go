package session

import (
	"encoding/hex"
	"testing"
)

func TestFingerprint(t *testing.T) {
	t.Parallel()

	base := FingerprintInput{
		UserAgent:        "Mozilla/5.0",
		IP:               "192.168.1.1",
		Timezone:         "America/New_York",
		ScreenResolution: "1920x1080",
		Language:         "en-US",
		AcceptEncoding:   "gzip, deflate",
	}

	fp := Fingerprint(base)
	if len(fp) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(fp))
	}
	if _, err := hex.DecodeString(fp); err != nil {
		t.Fatalf("not hex: %v", err)
	}
	if Fingerprint(base) != fp {
		t.Fatalf("fingerprint not stable")
	}

	other := base
	other.IP = "192.168.1.2"
	if Fingerprint(other) == fp {
		t.Fatalf("different IP produced the same fingerprint")
	}

	// Explicit language wins over Accept-Language.
	withHeader := base
	withHeader.AcceptLanguage = "de-DE"
	if Fingerprint(withHeader) != fp {
		t.Fatalf("Accept-Language must be ignored when Language is set")
	}
	headerOnly := base
	headerOnly.Language = ""
	headerOnly.AcceptLanguage = "en-US"
	if Fingerprint(headerOnly) != fp {
		t.Fatalf("Accept-Language fallback must hash like Language")
	}
}

func TestFingerprint_NoUserAgent(t *testing.T) {
	t.Parallel()

	if fp := Fingerprint(FingerprintInput{IP: "10.0.0.1"}); fp != "" {
		t.Fatalf("expected empty fingerprint without user agent, got %q", fp)
	}
}
