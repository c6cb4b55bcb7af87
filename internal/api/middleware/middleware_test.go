package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/auth"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestIsOriginAllowed(t *testing.T) {
	allowed := []string{"0.0.0.0/0", "https://example.com"}

	if !isOriginAllowed("https://example.com", allowed) {
		t.Fatalf("expected origin to be allowed")
	}

	if !isOriginAllowed("https://anything.local", allowed) {
		t.Fatalf("expected wildcard allowlist to permit origin")
	}

	if !isOriginAllowed("", allowed) {
		t.Fatalf("expected empty origin to be allowed")
	}

	if isOriginAllowed("https://evil.example", []string{"https://example.com"}) {
		t.Fatalf("expected unknown origin to be rejected")
	}
}

func TestContainsWildcard(t *testing.T) {
	if !containsWildcard([]string{"0.0.0.0/0"}) {
		t.Fatalf("expected wildcard to be detected")
	}

	if containsWildcard([]string{"https://example.com"}) {
		t.Fatalf("did not expect wildcard to be detected")
	}
}

func TestRateLimiter(t *testing.T) {
	limiter := newRateLimiter(true, 60, 2)
	key := "127.0.0.1"

	if !limiter.allow(key) {
		t.Fatalf("expected first request to be allowed")
	}
	if !limiter.allow(key) {
		t.Fatalf("expected second request to be allowed")
	}
	if limiter.allow(key) {
		t.Fatalf("expected third request to be rate limited")
	}
	if !limiter.allow("10.0.0.1") {
		t.Fatalf("expected other clients to have their own bucket")
	}

	limiter.entries[key].lastSeen = time.Now().Add(-time.Hour)
	limiter.cleanup(time.Now())
	if _, ok := limiter.entries[key]; ok {
		t.Fatalf("expected idle entry to be removed")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RateLimit(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 1}))
	router.GET("/api/v1/server/status", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(path string) int {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w.Code
	}

	if code := do("/api/v1/server/status"); code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", code)
	}
	if code := do("/api/v1/server/status"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := do("/health"); code != http.StatusOK {
		t.Fatalf("expected health to bypass the limiter, got %d", code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	manager := auth.NewJWTManager("test-secret", time.Minute)
	token, _, err := manager.GenerateToken("alice")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	router := gin.New()
	router.Use(Auth(manager))
	router.GET("/whoami", func(c *gin.Context) { c.String(http.StatusOK, Actor(c)) })

	cases := []struct {
		name   string
		header string
		query  string
		code   int
	}{
		{"bearer", "Bearer " + token, "", http.StatusOK},
		{"query", "", "?token=" + token, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"bad format", "Token " + token, "", http.StatusUnauthorized},
		{"bad token", "Bearer nope", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/whoami"+tc.query, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.code, w.Code)
		}
		if tc.code == http.StatusOK && w.Body.String() != "alice" {
			t.Fatalf("%s: expected actor alice, got %q", tc.name, w.Body.String())
		}
	}
}

func TestAnonymousActor(t *testing.T) {
	router := gin.New()
	router.Use(Anonymous())
	router.GET("/whoami", func(c *gin.Context) { c.String(http.StatusOK, Actor(c)) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	if w.Body.String() != LocalActor {
		t.Fatalf("expected local actor, got %q", w.Body.String())
	}
}

func TestSecurityHeaders(t *testing.T) {
	router := gin.New()
	router.Use(SecurityHeaders(false), CORS(config.CORSConfig{AllowedOrigins: []string{"https://panel.example"}}))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://panel.example")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("expected X-Frame-Options header")
	}
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("did not expect HSTS without TLS")
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "https://panel.example" {
		t.Fatalf("expected CORS origin echo, got %q", w.Header().Get("Access-Control-Allow-Origin"))
	}

	pre := httptest.NewRequest(http.MethodOptions, "/x", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, pre)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", w.Code)
	}
}
