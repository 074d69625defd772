package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization.
// Login lookups and inserts both go through it, so stored emails are always
// in normalized form.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeTier maps an unknown or empty tier to TierFree.
func NormalizeTier(s string) string {
	t := strings.ToLower(strings.TrimSpace(s))
	switch t {
	case TierEnterprise, TierPremium, TierBasic, TierFree:
		return t
	default:
		return TierFree
	}
}
