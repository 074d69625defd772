package session

import (
	"crypto/sha256"
	"encoding/hex"
)

// FingerprintInput holds the client characteristics hashed into a device fingerprint.
// Language takes precedence over AcceptLanguage.
type FingerprintInput struct {
	UserAgent        string
	IP               string
	Timezone         string
	ScreenResolution string
	Language         string
	AcceptLanguage   string
	AcceptEncoding   string
}

// Fingerprint returns the SHA-256 hex of the client characteristics, or ""
// when no user agent is present.
//
// The value is an opaque correlation hint for the suspicion policy, not a
// device identity.
func Fingerprint(in FingerprintInput) string {
	if in.UserAgent == "" {
		return ""
	}

	h := sha256.New()
	h.Write([]byte(in.UserAgent))
	h.Write([]byte(in.IP))
	h.Write([]byte(in.Timezone))
	h.Write([]byte(in.ScreenResolution))
	if in.Language != "" {
		h.Write([]byte(in.Language))
	} else {
		h.Write([]byte(in.AcceptLanguage))
	}
	h.Write([]byte(in.AcceptEncoding))
	return hex.EncodeToString(h.Sum(nil))
}
