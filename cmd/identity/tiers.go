package identity

// Account tiers.
const (
	TierEnterprise = "enterprise"
	TierPremium    = "premium"
	TierBasic      = "basic"
	TierFree       = "free"
)

var tierScopes = map[string][]string{
	TierEnterprise: {
		"admin", "premium", "basic",
		"links:unlimited", "analytics:advanced", "domains:custom",
		"api:unlimited", "teams:manage", "billing:manage",
	},
	TierPremium: {
		"premium", "basic",
		"links:1000", "analytics:basic", "domains:5",
		"api:10000", "teams:view",
	},
	TierBasic: {
		"basic",
		"links:100", "analytics:limited", "api:1000",
	},
	TierFree: {
		"free",
		"links:10", "api:100",
	},
}

// TierScopes returns the scope granted to tier. Unknown tiers get the free
// scope. The result is a fresh slice the caller may keep.
func TierScopes(tier string) []string {
	s := tierScopes[NormalizeTier(tier)]
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// HasScope reports whether scope contains want.
func HasScope(scope []string, want string) bool {
	for _, s := range scope {
		if s == want {
			return true
		}
	}
	return false
}
