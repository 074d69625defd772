// Package main provides a CI-friendly smoke test for the qck auth endpoints.
//
// It validates:
//   - login returns a credential pair
//   - /auth/me accepts the access credential
//   - refresh rotates the pair
//   - replaying the consumed refresh credential is reported as reuse
//   - the rotated refresh credential is dead after reuse containment
//   - logout denies the access credential it was called with
//
// Run it against a server started with QCK_DEV_USER_EMAIL/QCK_DEV_USER_PASSWORD.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error apiError `json:"error"`
}

type smokeClient struct {
	base    string
	http    *http.Client
	timeout time.Duration
	verbose bool
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		email    = flag.String("email", os.Getenv("QCK_DEV_USER_EMAIL"), "Account email")
		password = flag.String("password", os.Getenv("QCK_DEV_USER_PASSWORD"), "Account password")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if strings.TrimSpace(*email) == "" || *password == "" {
		fatalf("-email and -password are required")
	}

	c := &smokeClient{
		base:    strings.TrimRight(*baseURL, "/"),
		http:    &http.Client{},
		timeout: *timeout,
		verbose: *verbose,
	}
	root := context.Background()

	first := c.mustLogin(root, *email, *password)
	c.mustMe(root, first.AccessToken, http.StatusOK, "")

	second := c.mustRefresh(root, first.RefreshToken)
	if second.RefreshToken == first.RefreshToken || second.AccessToken == first.AccessToken {
		fatalf("refresh did not rotate the pair")
	}

	c.mustRefreshFail(root, first.RefreshToken, http.StatusUnauthorized, "token_reuse_detected")
	c.mustRefreshFail(root, second.RefreshToken, http.StatusUnauthorized, "session_not_active")

	third := c.mustLogin(root, *email, *password)
	c.mustLogout(root, third.AccessToken)
	c.mustMe(root, third.AccessToken, http.StatusUnauthorized, "token_revoked")

	fmt.Printf("OK: login, rotate, reuse containment and logout verified against %s\n", c.base)
}

func (c *smokeClient) mustLogin(parent context.Context, email, password string) tokenPair {
	var pair tokenPair
	status, apiErr := c.do(parent, http.MethodPost, "/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &pair)
	if status != http.StatusOK {
		fatalf("login: status=%d code=%q", status, apiErr.Code)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.TokenType != "Bearer" {
		fatalf("login: incomplete pair: %+v", redact(pair))
	}
	c.logf("login ok: expires_in=%d", pair.ExpiresIn)
	return pair
}

func (c *smokeClient) mustRefresh(parent context.Context, refresh string) tokenPair {
	var pair tokenPair
	status, apiErr := c.do(parent, http.MethodPost, "/auth/refresh", "", map[string]any{"refresh_token": refresh}, &pair)
	if status != http.StatusOK {
		fatalf("refresh: status=%d code=%q", status, apiErr.Code)
	}
	c.logf("refresh ok")
	return pair
}

func (c *smokeClient) mustRefreshFail(parent context.Context, refresh string, wantStatus int, wantCode string) {
	status, apiErr := c.do(parent, http.MethodPost, "/auth/refresh", "", map[string]any{"refresh_token": refresh}, nil)
	if status != wantStatus || apiErr.Code != wantCode {
		fatalf("refresh: got status=%d code=%q want status=%d code=%q", status, apiErr.Code, wantStatus, wantCode)
	}
	c.logf("refresh rejected as expected: %s", apiErr.Code)
}

func (c *smokeClient) mustMe(parent context.Context, access string, wantStatus int, wantCode string) {
	status, apiErr := c.do(parent, http.MethodGet, "/auth/me", access, nil, nil)
	if status != wantStatus || (wantCode != "" && apiErr.Code != wantCode) {
		fatalf("me: got status=%d code=%q want status=%d code=%q", status, apiErr.Code, wantStatus, wantCode)
	}
	c.logf("me: status=%d", status)
}

func (c *smokeClient) mustLogout(parent context.Context, access string) {
	status, apiErr := c.do(parent, http.MethodPost, "/auth/logout", access, nil, nil)
	if status != http.StatusOK {
		fatalf("logout: status=%d code=%q", status, apiErr.Code)
	}
	c.logf("logout ok")
}

// do sends one request. out receives the body on 2xx; error bodies are
// decoded into the returned apiError.
func (c *smokeClient) do(parent context.Context, method, path, bearer string, in, out any) (int, apiError) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			fatalf("marshal %s: %v", path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		fatalf("new request %s: %v", path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := c.http.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		fatalf("read %s: %v", path, err)
	}

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				fatalf("decode %s: %v", path, err)
			}
		}
		return res.StatusCode, apiError{}
	}
	var eb errorBody
	_ = json.Unmarshal(raw, &eb)
	return res.StatusCode, eb.Error
}

func (c *smokeClient) logf(format string, args ...any) {
	if c.verbose {
		fmt.Printf(format+"\n", args...)
	}
}

func redact(p tokenPair) tokenPair {
	if p.AccessToken != "" {
		p.AccessToken = "<redacted>"
	}
	if p.RefreshToken != "" {
		p.RefreshToken = "<redacted>"
	}
	return p
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
