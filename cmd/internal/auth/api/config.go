package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Per-IP token bucket on /auth/login and /auth/refresh.
	RateRPS     float64
	RateBurst   int
	RateIdleTTL time.Duration

	// RetryAfter is advertised on 503 responses.
	RetryAfter time.Duration

	// Web clients may carry the refresh credential in an HttpOnly cookie
	// guarded by a double-submit CSRF token instead of the response body.
	WebRefreshCookieEnabled bool
	RefreshCookieName       string
	CSRFCookieName          string
	CSRFHeaderName          string
	CookiePath              string
	CookieDomain            string
	CookieSecure            bool
	CookieSameSite          http.SameSite
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:   envBool("QCK_AUTH_TRUST_PROXY", false),
		MaxBodyBytes: envInt64("QCK_AUTH_MAX_BODY_BYTES", 64<<10),

		RateRPS:     envFloat("QCK_AUTH_RATE_RPS", 5),
		RateBurst:   envInt("QCK_AUTH_RATE_BURST", 10),
		RateIdleTTL: envDuration("QCK_AUTH_RATE_IDLE_TTL", 10*time.Minute),

		RetryAfter: envDuration("QCK_AUTH_RETRY_AFTER", 2*time.Second),

		WebRefreshCookieEnabled: envBool("QCK_AUTH_REFRESH_COOKIE", false),
		RefreshCookieName:       envString("QCK_AUTH_REFRESH_COOKIE_NAME", "qck_refresh"),
		CSRFCookieName:          envString("QCK_AUTH_CSRF_COOKIE_NAME", "qck_csrf"),
		CSRFHeaderName:          envString("QCK_AUTH_CSRF_HEADER", "X-CSRF-Token"),
		CookiePath:              envString("QCK_AUTH_COOKIE_PATH", "/auth"),
		CookieDomain:            envString("QCK_AUTH_COOKIE_DOMAIN", ""),
		CookieSecure:            envBool("QCK_AUTH_COOKIE_SECURE", true),
		CookieSameSite:          parseSameSite(envString("QCK_AUTH_COOKIE_SAMESITE", "strict")),
	}

	// Guardrails: the CSRF cookie must never shadow the refresh cookie,
	// and browsers drop SameSite=None cookies that are not Secure.
	if cfg.CSRFCookieName == cfg.RefreshCookieName {
		cfg.CSRFCookieName = cfg.RefreshCookieName + "_csrf"
	}
	if cfg.CookieSameSite == http.SameSiteNoneMode {
		cfg.CookieSecure = true
	}
	return cfg
}

func parseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
