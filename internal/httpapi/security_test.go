package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dededemahendra/crm/internal/domain"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
	if got := res.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "DELETE") {
		t.Fatalf("expected DELETE in allowed methods, got %q", got)
	}
}

func TestPreflightShortCircuits(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/products", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", res.Code)
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
		if i == 5 && res.Header().Get("Retry-After") == "" {
			t.Fatalf("expected Retry-After on throttled login")
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")

	body, _ := json.Marshal(map[string]any{"sku": "TEA-EARL", "name": "Earl Grey", "unit": "box", "unit_cost": 4})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", res.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/products", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", "not-a-token")
	res = httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with forged csrf token, got %d", res.Code)
	}
}

func TestCSRFTokenAcceptsPreviousWindow(t *testing.T) {
	signer := newCSRFSigner([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	clock := time.Date(2026, time.March, 15, 10, 20, 0, 0, time.UTC)
	signer.now = func() time.Time { return clock }

	issued := signer.Issue()
	if !signer.Valid(issued) {
		t.Fatalf("expected freshly issued token to validate")
	}

	clock = clock.Add(time.Hour)
	if !signer.Valid(issued) {
		t.Fatalf("expected token from the previous window to validate")
	}

	clock = clock.Add(time.Hour)
	if signer.Valid(issued) {
		t.Fatalf("expected token two windows old to be rejected")
	}

	other := newCSRFSigner([]byte("another-secret-another-secret-xx"), time.Hour)
	other.now = signer.now
	if signer.Valid(other.Issue()) {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
	if signer.Valid("") {
		t.Fatalf("expected empty token to be rejected")
	}
}

func TestAttemptLimiterWindowAndSweep(t *testing.T) {
	limiter := newAttemptLimiter(2, time.Minute)
	clock := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }

	if ok, _ := limiter.Allow("10.0.0.1"); !ok {
		t.Fatalf("expected first attempt to pass")
	}
	clock = clock.Add(20 * time.Second)
	if ok, _ := limiter.Allow("10.0.0.1"); !ok {
		t.Fatalf("expected second attempt to pass")
	}
	ok, wait := limiter.Allow("10.0.0.1")
	if ok {
		t.Fatalf("expected third attempt to be throttled")
	}
	if wait != 40*time.Second {
		t.Fatalf("expected 40s until the oldest attempt expires, got %s", wait)
	}
	if ok, _ := limiter.Allow("10.0.0.2"); !ok {
		t.Fatalf("expected other clients to keep their own budget")
	}

	clock = clock.Add(41 * time.Second)
	if ok, _ := limiter.Allow("10.0.0.1"); !ok {
		t.Fatalf("expected attempt to pass once the window slid")
	}

	clock = clock.Add(5 * time.Minute)
	if ok, _ := limiter.Allow("10.0.0.3"); !ok {
		t.Fatalf("expected new client to pass")
	}
	if got := limiter.tracked(); got != 1 {
		t.Fatalf("expected idle keys to be swept, still tracking %d", got)
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 50, 200); got != 200 {
		t.Fatalf("expected capped limit 200, got %d", got)
	}
	if got := parsePositiveLimit("", 50, 200); got != 50 {
		t.Fatalf("expected fallback limit 50, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 50, 200); got != 50 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
	if got := parsePositiveLimit("-3", 50, 200); got != 50 {
		t.Fatalf("expected fallback on negative input, got %d", got)
	}
}

func TestClientKeyStripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	if got := clientKey(req); got != "10.1.2.3" {
		t.Fatalf("expected ip without port, got %q", got)
	}
	req.RemoteAddr = "[::1]:8080"
	if got := clientKey(req); got != "::1" {
		t.Fatalf("expected ipv6 without port, got %q", got)
	}
	req.RemoteAddr = "[::ffff:10.1.2.3]:5555"
	if got := clientKey(req); got != "10.1.2.3" {
		t.Fatalf("expected mapped ipv4 to share the ipv4 key, got %q", got)
	}
	req.RemoteAddr = ""
	if got := clientKey(req); got != "unknown" {
		t.Fatalf("expected unknown for empty remote addr, got %q", got)
	}
}

// fetchCSRFToken calls the CSRF token endpoint and returns the token string.
func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", res.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf-token response failed: %v", err)
	}
	tok := payload["csrf_token"]
	if strings.TrimSpace(tok) == "" {
		t.Fatalf("expected non-empty csrf_token in response")
	}
	return tok
}

func loginAs(t *testing.T, api *API, username, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.1:4000"
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d", username, res.Code)
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}
