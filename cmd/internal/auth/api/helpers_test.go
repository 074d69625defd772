package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"qck/cmd/identity"
	"qck/cmd/internal/auth/session"
	"qck/cmd/security/token"

	"github.com/stretchr/testify/require"
)

const testPassword = "correct horse battery"

type memDirectory struct {
	mu    sync.Mutex
	users map[string]identity.User
	err   error
}

func (d *memDirectory) CreateUser(context.Context, identity.CreateUserInput) (identity.User, error) {
	return identity.User{}, errors.New("not supported")
}

func (d *memDirectory) GetUser(_ context.Context, id string) (identity.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return identity.User{}, d.err
	}
	for _, u := range d.users {
		if u.ID == id {
			return u, nil
		}
	}
	return identity.User{}, identity.NotFoundError{Op: "test.GetUser", Resource: "user"}
}

func (d *memDirectory) GetUserByEmail(_ context.Context, email string) (identity.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return identity.User{}, d.err
	}
	u, ok := d.users[email]
	if !ok {
		return identity.User{}, identity.NotFoundError{Op: "test.GetUserByEmail", Resource: "user"}
	}
	return u, nil
}

func (d *memDirectory) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

type recordingAudit struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (a *recordingAudit) Record(_ context.Context, ev AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, ev := range a.events {
		out = append(out, ev.Action)
	}
	return out
}

func (a *recordingAudit) last(action string) (AuditEvent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.events) - 1; i >= 0; i-- {
		if a.events[i].Action == action {
			return a.events[i], true
		}
	}
	return AuditEvent{}, false
}

// failingLedger fails every write unit, as an unreachable database would.
type failingLedger struct {
	*session.MemoryLedger
}

func (failingLedger) Begin(context.Context) (session.LedgerTx, error) {
	return nil, session.StorageError{Op: "test.Begin", Err: errors.New("connection refused")}
}

type apiFixture struct {
	srv    *httptest.Server
	mux    *http.ServeMux
	h      *Handler
	users  *memDirectory
	ledger *session.MemoryLedger
	audit  *recordingAudit
}

type fixtureOpts struct {
	cfg    *Config
	ledger session.Ledger
}

func testPasswordConfig() identity.PasswordConfig {
	pw := identity.DefaultPasswordConfig()
	pw.Params.MemoryKiB = 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1
	return pw
}

func testConfig() Config {
	return Config{
		MaxBodyBytes:      64 << 10,
		RetryAfter:        2 * time.Second,
		RefreshCookieName: "qck_refresh",
		CSRFCookieName:    "qck_csrf",
		CSRFHeaderName:    "X-CSRF-Token",
		CookiePath:        "/auth",
		CookieSecure:      true,
		CookieSameSite:    http.SameSiteStrictMode,
	}
}

func newAPI(t *testing.T, o fixtureOpts) apiFixture {
	t.Helper()

	pw := testPasswordConfig()
	hash, err := pw.Hash(testPassword)
	require.NoError(t, err)

	users := &memDirectory{users: map[string]identity.User{
		"alice@example.com": {ID: "01HZX3Q6T0ALICE00000000000", Email: "alice@example.com", PasswordHash: hash, Tier: identity.TierPremium},
		"bob@example.com":   {ID: "01HZX3Q6T0BOB0000000000000", Email: "bob@example.com", PasswordHash: hash, Tier: identity.TierFree},
	}}

	mem := session.NewMemoryLedger()
	var ledger session.Ledger = mem
	if o.ledger != nil {
		ledger = o.ledger
	}

	keys := session.DefaultKeys()
	keys.Access.Secret = []byte("access-secret-for-tests-0123456789abcdef")
	keys.Refresh.Secret = []byte("refresh-secret-for-tests-0123456789abcdef")

	hasher, err := token.NewHasher([]byte("jti-hash-salt-for-tests-0123456789abcdef"))
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := session.NewService(session.DefaultConfig(), keys, hasher, ledger,
		session.NewMemoryRevocationCache(nil), Profiles(users), session.WithLogger(log))
	require.NoError(t, err)

	cfg := testConfig()
	if o.cfg != nil {
		cfg = *o.cfg
	}
	audit := &recordingAudit{}
	h, err := NewHandler(log, cfg, svc, users, WithAudit(audit), WithPasswordConfig(pw))
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return apiFixture{srv: srv, mux: mux, h: h, users: users, ledger: mem, audit: audit}
}

func (f apiFixture) post(t *testing.T, path string, body any, bearer string) (*http.Response, []byte) {
	t.Helper()

	var rd io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "qck-test/1.0")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return f.do(t, req)
}

func (f apiFixture) get(t *testing.T, path, bearer string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+path, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return f.do(t, req)
}

func (f apiFixture) do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()

	res, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, b
}

func (f apiFixture) login(t *testing.T, email string) tokenResponse {
	t.Helper()

	res, body := f.post(t, "/auth/login", loginRequest{Email: email, Password: testPassword}, "")
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var out tokenResponse
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()

	var e errorResponse
	require.NoError(t, json.Unmarshal(body, &e), string(body))
	return e.Error.Code
}
