package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setSecurityEnv(t *testing.T) {
	t.Helper()
	t.Setenv("QCK_JWT_ACCESS_SECRET", "access-secret-for-app-tests-0123456789abcdef")
	t.Setenv("QCK_JWT_REFRESH_SECRET", "refresh-secret-for-app-tests-0123456789abcdef")
	t.Setenv("QCK_JTI_HASH_SALT", "jti-salt-for-app-tests-0123456789abcdef")
	t.Setenv("QCK_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("QCK_ARGON2_ITERATIONS", "1")
	t.Setenv("QCK_ARGON2_PARALLELISM", "1")
	t.Setenv("QCK_SWEEP_SCHEDULE", "off")
}

func discardLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qck.yaml")
	doc := `
http_addr: "127.0.0.1:9000"
log_format: pretty
read_timeout: 7s
db_max_conns: 20
cors_allowed_origins:
  - https://app.qck.sh
dev_user:
  email: dev@qck.sh
  tier: premium
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("QCK_CONFIG_FILE", path)
	t.Setenv("QCK_HTTP_ADDR", "127.0.0.1:9100")
	t.Setenv("QCK_DB_MIN_CONNS", "2")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9100" {
		t.Fatalf("env must override file: %q", cfg.HTTPAddr)
	}
	if cfg.LogFormat != "pretty" || cfg.ReadTimeout != 7*time.Second || cfg.DBMaxConns != 20 || cfg.DBMinConns != 2 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.WriteTimeout != 15*time.Second || !cfg.MetricsEnabled {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.DevUser.Email != "dev@qck.sh" || cfg.DevUser.Tier != "premium" {
		t.Fatalf("nested values not applied: %+v", cfg)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv("QCK_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
		if _, err := LoadConfig(); err == nil {
			t.Fatalf("expected error for missing config file")
		}
	})
	t.Run("bad log format", func(t *testing.T) {
		t.Setenv("QCK_LOG_FORMAT", "xml")
		if _, err := LoadConfig(); err == nil {
			t.Fatalf("expected error for unknown log format")
		}
	})
	t.Run("min conns above max", func(t *testing.T) {
		t.Setenv("QCK_DB_MAX_CONNS", "2")
		t.Setenv("QCK_DB_MIN_CONNS", "5")
		if _, err := LoadConfig(); err == nil {
			t.Fatalf("expected error for min > max conns")
		}
	})
}

func TestValidateSecurityConfig(t *testing.T) {
	setSecurityEnv(t)
	if _, _, err := ValidateSecurityConfig(); err != nil {
		t.Fatalf("ValidateSecurityConfig: %v", err)
	}

	t.Setenv("QCK_JTI_HASH_SALT", "short")
	if _, _, err := ValidateSecurityConfig(); err == nil || !strings.Contains(err.Error(), "QCK_JTI_HASH_SALT") {
		t.Fatalf("expected salt error, got %v", err)
	}

	setSecurityEnv(t)
	t.Setenv("QCK_JWT_REFRESH_SECRET", "")
	if _, _, err := ValidateSecurityConfig(); err == nil {
		t.Fatalf("expected error for missing refresh secret")
	}
}

func TestApp_InMemoryEndToEnd(t *testing.T) {
	setSecurityEnv(t)
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.RedisURL = "redis://" + mr.Addr()
	cfg.DevUser = DevUser{Email: "dev@qck.sh", Password: "correct horse battery", Tier: "premium"}

	a, err := New(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.close)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		_ = res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status=%d", path, res.StatusCode)
		}
		if res.Header.Get("X-Content-Type-Options") != "nosniff" {
			t.Fatalf("GET %s missing security headers", path)
		}
	}

	body, _ := json.Marshal(map[string]any{"email": "dev@qck.sh", "password": "correct horse battery"})
	res, err := http.Post(srv.URL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	var pair struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	err = json.NewDecoder(res.Body).Decode(&pair)
	_ = res.Body.Close()
	if res.StatusCode != http.StatusOK || err != nil || pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("login status=%d err=%v pair=%+v", res.StatusCode, err, pair)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("logout status=%d", res.StatusCode)
	}
	if len(mr.Keys()) == 0 {
		t.Fatalf("logout must write the denied credential to redis")
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("denied credential accepted: status=%d", res.StatusCode)
	}

	res, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	metrics, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()
	if !strings.Contains(string(metrics), "qck_session_pairs_issued_total 1") {
		t.Fatalf("metrics missing issued counter:\n%s", metrics)
	}
}

func TestApp_ReadyzFailsWhenRedisDown(t *testing.T) {
	setSecurityEnv(t)
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.RedisURL = "redis://" + mr.Addr()

	a, err := New(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.close)

	mr.Close()

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d", rr.Code)
	}
}

func TestApp_ReadyzRequiresDB(t *testing.T) {
	setSecurityEnv(t)

	cfg := DefaultConfig()
	cfg.ReadinessRequireDB = true
	cfg.MetricsEnabled = false

	a, err := New(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d", rr.Code)
	}

	rr = httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("metrics must be off: status=%d", rr.Code)
	}
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	setSecurityEnv(t)
	t.Setenv("QCK_SWEEP_SCHEDULE", "@every 1h")

	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"

	a, err := New(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.sweeper == nil {
		t.Fatalf("sweeper must be configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestNew_RejectsMissingSecrets(t *testing.T) {
	setSecurityEnv(t)
	t.Setenv("QCK_JWT_ACCESS_SECRET", "")

	if _, err := New(context.Background(), DefaultConfig(), discardLogger()); err == nil {
		t.Fatalf("expected New to fail without an access secret")
	}
}
