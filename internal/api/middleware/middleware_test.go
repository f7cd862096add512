package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/campus/internal/crypto"
	"github.com/eldtechnologies/campus/internal/models"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestFindLimitPrefersLongestPattern(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{})

	cases := map[string]string{
		"POST /conversations":                 "POST /conversations",
		"POST /conversations/abc/messages":    "POST /conversations/",
		"GET /listings/housing":               "GET /listings/",
		"POST /profile/avatar":                "POST /profile/",
		"GET /health":                         "",
		"DELETE /listings/housing/1234-56789": "",
	}
	for req, want := range cases {
		method, path, _ := strings.Cut(req, " ")
		pattern, limit := rl.findLimit(httptest.NewRequest(method, path, nil))
		assert.Equal(t, want, pattern, req)
		if want == "" {
			assert.Nil(t, limit, req)
		} else {
			assert.NotNil(t, limit, req)
		}
	}
}

func TestRateLimitLocalBackend(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{})
	h := rl.Middleware(okHandler)
	assert.Nil(t, rl.Blocker())

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/resend", nil))
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/resend", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate limit exceeded")

	// Other endpoints keep their own budget.
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// So do other clients.
	req := httptest.NewRequest(http.MethodPost, "/auth/resend", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLocalBucketsEvictLeastRecentlyUsed(t *testing.T) {
	b := newLocalBuckets(3)
	ctx := context.Background()

	allowed, _, _ := b.Allow(ctx, "login:victim", 1, time.Hour)
	require.True(t, allowed)
	allowed, _, _ = b.Allow(ctx, "login:victim", 1, time.Hour)
	require.False(t, allowed)

	// A flood of fresh keys must not hand the exhausted key a new budget.
	for i := 0; i < 20; i++ {
		allowed, _, _ = b.Allow(ctx, fmt.Sprintf("token:%d", i), 1, time.Hour)
		assert.True(t, allowed)
		allowed, _, _ = b.Allow(ctx, "login:victim", 1, time.Hour)
		assert.False(t, allowed, "victim budget reset after key %d", i)
		assert.LessOrEqual(t, b.size(), 3)
	}

	// Idle keys are the ones dropped.
	allowed, _, _ = b.Allow(ctx, "token:0", 1, time.Hour)
	assert.True(t, allowed, "token:0 was evicted and starts fresh")
}

func TestRateLimitWhitelist(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{Whitelist: []string{"192.0.2.0/24", "bogus/cidr"}})
	h := rl.Middleware(okHandler)

	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/resend", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestTokenKeysDifferPerToken(t *testing.T) {
	a := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	a.Header.Set("Authorization", "Bearer token-a")
	b := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	b.Header.Set("Authorization", "Bearer token-b")
	anon := httptest.NewRequest(http.MethodGet, "/conversations", nil)

	assert.NotEqual(t, tokenOrIPKey(a), tokenOrIPKey(b))
	assert.NotContains(t, tokenOrIPKey(a), "token-a")
	assert.Equal(t, ipKey(anon), tokenOrIPKey(anon))
}

func TestRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "192.0.2.1", RealIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", RealIP(req))

	req.Header.Set("Fly-Client-IP", "203.0.113.1")
	assert.Equal(t, "203.0.113.1", RealIP(req))
}

func TestNormalizePath(t *testing.T) {
	id := uuid.New().String()
	assert.Equal(t, "/conversations/:id/messages", normalizePath("/conversations/"+id+"/messages"))
	assert.Equal(t, "/listings/housing/:id", normalizePath("/listings/housing/"+id))
	assert.Equal(t, "/roles/:role", normalizePath("/roles/whatever"))
	assert.Equal(t, "/health", normalizePath("/health"))
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/inbox?access_token=q", nil)
	assert.Empty(t, bearerToken(req))

	req.Header.Set("Upgrade", "websocket")
	assert.Equal(t, "q", bearerToken(req))

	req.Header.Set("Authorization", "bearer  h ")
	assert.Equal(t, "h", bearerToken(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, bearerToken(req))
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(models.RoleAdmin, models.RoleModerator)(okHandler)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/pending", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	user := &models.User{ID: uuid.New()}
	for roles, want := range map[string]int{
		"":          http.StatusForbidden,
		"moderator": http.StatusOK,
		"admin":     http.StatusOK,
	} {
		var list []string
		if roles != "" {
			list = []string{roles}
		}
		req := httptest.NewRequest(http.MethodGet, "/admin/pending", nil)
		req = req.WithContext(WithSession(req.Context(), &Session{User: user, Roles: list}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, "roles %q", roles)
	}
}

func TestSessionRoles(t *testing.T) {
	s := &Session{Roles: []string{models.RoleModerator}}
	assert.True(t, s.HasRole(models.RoleModerator))
	assert.False(t, s.HasRole(models.RoleAdmin))
	assert.True(t, s.IsModerator())
	assert.False(t, (&Session{}).IsModerator())
}

func TestValidateRequest(t *testing.T) {
	h := ValidateRequest(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/feed", strings.NewReader("body=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/profile/avatar", strings.NewReader("--x--"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/search?q=<script>", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(8, 64)(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/feed", strings.NewReader(strings.Repeat("a", 16)))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/profile/avatar", strings.NewReader(strings.Repeat("a", 16)))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "default-src 'none'", w.Header().Get("Content-Security-Policy"))
}

func TestIssuedBeforePasswordChange(t *testing.T) {
	changed := time.Date(2026, 3, 1, 12, 0, 0, 700_000_000, time.UTC)
	claimsAt := func(at time.Time) *crypto.Claims {
		return &crypto.Claims{RegisteredClaims: jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(at)}}
	}

	assert.False(t, issuedBeforePasswordChange(claimsAt(changed.Add(-time.Hour)), &models.User{}), "never changed")
	assert.False(t, issuedBeforePasswordChange(&crypto.Claims{}, &models.User{PasswordChangedAt: &changed}), "no iat")

	user := &models.User{PasswordChangedAt: &changed}
	assert.True(t, issuedBeforePasswordChange(claimsAt(changed.Add(-time.Second)), user))
	assert.False(t, issuedBeforePasswordChange(claimsAt(changed), user), "same second as the change")
	assert.False(t, issuedBeforePasswordChange(claimsAt(changed.Add(time.Minute)), user))
}
