package identity

import "testing"

func TestTierScopes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tier    string
		want    []string
		missing string
	}{
		{"enterprise", []string{"admin", "links:unlimited", "billing:manage"}, ""},
		{"premium", []string{"premium", "basic", "domains:5", "teams:view"}, "admin"},
		{"basic", []string{"basic", "links:100", "api:1000"}, "premium"},
		{"free", []string{"free", "links:10", "api:100"}, "basic"},
		{"  PREMIUM ", []string{"premium"}, ""},
		{"platinum", []string{"free"}, "basic"},
		{"", []string{"free"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.tier, func(t *testing.T) {
			got := TierScopes(tt.tier)
			for _, w := range tt.want {
				if !HasScope(got, w) {
					t.Fatalf("TierScopes(%q) = %v, missing %q", tt.tier, got, w)
				}
			}
			if tt.missing != "" && HasScope(got, tt.missing) {
				t.Fatalf("TierScopes(%q) must not grant %q", tt.tier, tt.missing)
			}
		})
	}
}

func TestTierScopes_ReturnsCopy(t *testing.T) {
	t.Parallel()

	a := TierScopes(TierBasic)
	a[0] = "admin"
	if b := TierScopes(TierBasic); b[0] != "basic" {
		t.Fatalf("table was mutated through returned slice: %v", b)
	}
}

func TestNormalizeEmail(t *testing.T) {
	t.Parallel()

	if got := NormalizeEmail("  Alice@Example.COM "); got != "alice@example.com" {
		t.Fatalf("NormalizeEmail = %q", got)
	}
}
