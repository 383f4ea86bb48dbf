package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

func TestChain_Order(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(okHandler(), mk("outer"), mk("inner"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestRecovery(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	handler := Recovery(zap.NewNop())(panicking)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRequestID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})
	handler := RequestID()(inner)

	// 未提供时生成
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
	assert.Equal(t, w.Header().Get("X-Request-Id"), seen)

	// 已提供时透传
	w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-Id", "req-fixed")
	handler.ServeHTTP(w, r)
	assert.Equal(t, "req-fixed", w.Header().Get("X-Request-Id"))
	assert.Equal(t, "req-fixed", seen)
}

func TestRateLimiter(t *testing.T) {
	handler := RateLimiter(t.Context(), 1, 1, zap.NewNop())(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	// 突发容量 1，第二个请求被限流
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// 其它 IP 不受影响
	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, other)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_Disabled(t *testing.T) {
	handler := RateLimiter(t.Context(), 0, 0, zap.NewNop())(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestAdminAuth_APIKey(t *testing.T) {
	handler := AdminAuth([]string{"rk-admin"}, "", zap.NewNop())(okHandler())

	// 缺凭证
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/channels", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 错误密钥
	r := httptest.NewRequest(http.MethodGet, "/api/v1/channels", nil)
	r.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 正确密钥
	r = httptest.NewRequest(http.MethodGet, "/api/v1/channels", nil)
	r.Header.Set("X-API-Key", "rk-admin")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminAuth_JWT(t *testing.T) {
	const secret = "test-secret"
	handler := AdminAuth(nil, secret, zap.NewNop())(okHandler())

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/channels", nil)
	r.Header.Set("Authorization", "Bearer "+signed)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	// 错误签名
	forged, err := token.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	r = httptest.NewRequest(http.MethodGet, "/api/v1/channels", nil)
	r.Header.Set("Authorization", "Bearer "+forged)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 过期 token
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signedExpired, err := expired.SignedString([]byte(secret))
	require.NoError(t, err)
	r = httptest.NewRequest(http.MethodGet, "/api/v1/channels", nil)
	r.Header.Set("Authorization", "Bearer "+signedExpired)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAuth_OpenWhenUnconfigured(t *testing.T) {
	handler := AdminAuth(nil, "", zap.NewNop())(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/channels", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/v1/messages", "/v1/messages"},
		{"/api/v1/channels", "/api/v1/channels"},
		{"/api/v1/channels/stats", "/api/v1/channels/stats"},
		{"/api/v1/channels/3f2504e0-4f89-41d3-9a0c-0305e82c3301", "/api/v1/channels/:id"},
		{"/api/v1/rules/12345", "/api/v1/rules/:id"},
		{"/api/v1/tee/destinations/deadbeef01", "/api/v1/tee/destinations/:id"},
		{"/api/v1/rules/my-rule", "/api/v1/rules/my-rule"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.in), tt.in)
	}
}
