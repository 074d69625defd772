package authapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShouldUseWebCookieTransport(t *testing.T) {
	h := &Handler{cfg: Config{WebRefreshCookieEnabled: true}}
	if !h.shouldUseWebCookieTransport("web") || !h.shouldUseWebCookieTransport(" WEB ") {
		t.Fatalf("expected web cookie transport enabled for web platform")
	}
	if h.shouldUseWebCookieTransport("ios") {
		t.Fatalf("expected web cookie transport disabled for non-web platform")
	}

	h.cfg.WebRefreshCookieEnabled = false
	if h.shouldUseWebCookieTransport("web") {
		t.Fatalf("expected web cookie transport disabled by config")
	}
}

func TestSetWebSessionCookies(t *testing.T) {
	h := &Handler{cfg: testConfig()}
	h.cfg.WebRefreshCookieEnabled = true

	rr := httptest.NewRecorder()
	exp := time.Now().UTC().Add(30 * time.Minute)
	csrf, err := h.setWebSessionCookies(rr, "refresh-token-123", exp)
	if err != nil {
		t.Fatalf("setWebSessionCookies: %v", err)
	}
	if csrf == "" {
		t.Fatalf("expected csrf token")
	}

	cookies := rr.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(cookies))
	}
	for _, c := range cookies {
		switch c.Name {
		case "qck_refresh":
			if !c.HttpOnly || !c.Secure || c.Value != "refresh-token-123" {
				t.Fatalf("refresh cookie attributes: %+v", c)
			}
		case "qck_csrf":
			if c.HttpOnly || c.Value != csrf {
				t.Fatalf("csrf cookie must be readable by the client: %+v", c)
			}
		default:
			t.Fatalf("unexpected cookie %q", c.Name)
		}
	}
}

func TestCSRFDoubleSubmitValidation(t *testing.T) {
	h := &Handler{cfg: testConfig()}
	h.cfg.WebRefreshCookieEnabled = true

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "qck_csrf", Value: "csrf-abc"})
	req.Header.Set("X-CSRF-Token", "csrf-abc")

	if !h.csrfDoubleSubmitValid(req) {
		t.Fatalf("expected csrf validation success")
	}

	req.Header.Set("X-CSRF-Token", "csrf-def")
	if h.csrfDoubleSubmitValid(req) {
		t.Fatalf("expected csrf validation failure on mismatch")
	}

	req.Header.Del("X-CSRF-Token")
	if h.csrfDoubleSubmitValid(req) {
		t.Fatalf("expected csrf validation failure without header")
	}
}

func TestWebCookieFlow(t *testing.T) {
	cfg := testConfig()
	cfg.WebRefreshCookieEnabled = true
	f := newAPI(t, fixtureOpts{cfg: &cfg})

	res, body := f.post(t, "/auth/login", loginRequest{Email: "alice@example.com", Password: testPassword, Platform: "web"}, "")
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	var tok tokenResponse
	require.NoError(t, json.Unmarshal(body, &tok))
	require.Empty(t, tok.RefreshToken, "refresh credential must not be in the body for web clients")

	var refresh, csrf string
	for _, c := range res.Cookies() {
		switch c.Name {
		case "qck_refresh":
			refresh = c.Value
		case "qck_csrf":
			csrf = c.Value
		}
	}
	require.NotEmpty(t, refresh)
	require.NotEmpty(t, csrf)

	refreshReq := func(withCSRF bool) *http.Request {
		req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/auth/refresh", bytes.NewReader(nil))
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: "qck_refresh", Value: refresh})
		req.AddCookie(&http.Cookie{Name: "qck_csrf", Value: csrf})
		if withCSRF {
			req.Header.Set("X-CSRF-Token", csrf)
		}
		return req
	}

	res, body = f.do(t, refreshReq(false))
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	require.Equal(t, "csrf_invalid", errorCode(t, body))

	res, body = f.do(t, refreshReq(true))
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &tok))
	require.Empty(t, tok.RefreshToken)
	require.NotEmpty(t, tok.AccessToken)

	// Replaying the first cookie is reuse; the response wipes client state.
	res, body = f.do(t, refreshReq(true))
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Equal(t, "token_reuse_detected", errorCode(t, body))
	require.NotEmpty(t, res.Header.Get("Clear-Site-Data"))

	expired := map[string]bool{}
	for _, c := range res.Cookies() {
		if c.MaxAge < 0 {
			expired[c.Name] = true
		}
	}
	require.True(t, expired["qck_refresh"] && expired["qck_csrf"], "cookies must be expired")
}
