package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"snap-gateway/internal/platform/logger"
	"snap-gateway/internal/security/audit"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func whoAmI(c *gin.Context) {
	c.String(http.StatusOK, GetUserID(c))
}

func newAuthRouter(a *Authenticator) *gin.Engine {
	r := gin.New()
	r.Use(RequestIDMiddleware(), a.GinMiddleware())
	r.GET("/me", whoAmI)
	return r
}

func TestJWTValidator(t *testing.T) {
	v, err := NewJWTValidator("test-secret", "snap-gateway")
	require.NoError(t, err)

	token, err := v.IssueToken("bob", time.Minute)
	require.NoError(t, err)

	userID, err := v.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "bob", userID)

	expired, err := v.IssueToken("bob", -time.Minute)
	require.NoError(t, err)
	_, err = v.ValidateToken(expired)
	assert.Error(t, err)

	other, err := NewJWTValidator("other-secret", "snap-gateway")
	require.NoError(t, err)
	forged, err := other.IssueToken("bob", time.Minute)
	require.NoError(t, err)
	_, err = v.ValidateToken(forged)
	assert.Error(t, err)

	wrongIssuer, err := NewJWTValidator("test-secret", "someone-else")
	require.NoError(t, err)
	foreign, err := wrongIssuer.IssueToken("bob", time.Minute)
	require.NoError(t, err)
	_, err = v.ValidateToken(foreign)
	assert.Error(t, err)

	noSubject, err := v.IssueToken("", time.Minute)
	require.NoError(t, err)
	_, err = v.ValidateToken(noSubject)
	assert.Error(t, err)

	_, err = NewJWTValidator(" ", "")
	assert.Error(t, err)
}

func TestAuthenticator_Gin(t *testing.T) {
	v, err := NewJWTValidator("test-secret", "")
	require.NoError(t, err)
	token, err := v.IssueToken("alice", time.Minute)
	require.NoError(t, err)

	sink := &audit.MemorySink{}
	r := newAuthRouter(NewAuthenticator(v, audit.NewAuditServiceWithSink(true, sink)))

	tests := []struct {
		name       string
		header     string
		devUser    string
		wantStatus int
		wantBody   string
	}{
		{"valid bearer", "Bearer " + token, "", http.StatusOK, "alice"},
		{"lowercase scheme", "bearer " + token, "", http.StatusOK, "alice"},
		{"missing", "", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + token, "", http.StatusUnauthorized, ""},
		{"garbage", "Bearer abc.def.ghi", "", http.StatusUnauthorized, ""},
		{"dev header ignored when jwt enabled", "", "alice", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.devUser != "" {
				req.Header.Set(UserIDHeader, tt.devUser)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantBody, w.Body.String())
			} else {
				assert.Contains(t, w.Body.String(), `"request_id"`)
			}
		})
	}

	var failures int
	for _, e := range sink.Events() {
		if e.EventType == audit.EventAuthentication {
			failures++
		}
	}
	assert.Equal(t, 4, failures)
}

func TestAuthenticator_DevHeader(t *testing.T) {
	r := newAuthRouter(NewAuthenticator(nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(UserIDHeader, "carol")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "carol", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticator_GRPC(t *testing.T) {
	v, err := NewJWTValidator("test-secret", "")
	require.NoError(t, err)
	token, err := v.IssueToken("bob", time.Minute)
	require.NoError(t, err)

	interceptor := NewAuthenticator(v, nil).GRPCUnaryInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/snap.v1.SnapViewService/CanViewSnap"}
	handler := func(ctx context.Context, _ interface{}) (interface{}, error) {
		id, _ := UserIDFromContext(ctx)
		return id, nil
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
	got, err := interceptor(ctx, nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "bob", got)

	_, err = interceptor(context.Background(), nil, info, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	dev := NewAuthenticator(nil, nil).GRPCUnaryInterceptor()
	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-user-id", "carol"))
	got, err = dev(ctx, nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "carol", got)
}

func TestRateLimiter_Window(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "k")
	assert.False(t, ok)

	ok, _ = rl.Allow(ctx, "other")
	assert.True(t, ok, "keys are independent")

	now = now.Add(61 * time.Second)
	ok, _ = rl.Allow(ctx, "k")
	assert.True(t, ok, "new window")

	now = now.Add(time.Hour)
	rl.evictIdle(10 * time.Minute)
	rl.mu.Lock()
	assert.Empty(t, rl.visitors)
	rl.mu.Unlock()
}

func TestPerEndpointRateLimiter(t *testing.T) {
	sink := &audit.MemorySink{}
	views := NewRateLimiter(1, time.Minute)
	defer views.Stop()
	def := NewRateLimiter(100, time.Minute)
	defer def.Stop()

	p := NewPerEndpointRateLimiter(def, audit.NewAuditServiceWithSink(true, sink))
	p.SetLimit("/snaps/:message_id/views", views)

	r := gin.New()
	r.Use(RequestIDMiddleware(), NewAuthenticator(nil, nil).GinMiddleware(), p.Middleware())
	r.POST("/snaps/:message_id/views", whoAmI)
	r.GET("/other", whoAmI)

	do := func(method, path, user string) int {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set(UserIDHeader, user)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/snaps/m1/views", "bob"))
	assert.Equal(t, http.StatusTooManyRequests, do(http.MethodPost, "/snaps/m2/views", "bob"), "limit is per route template")
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/snaps/m1/views", "carol"), "limit is per user")
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/other", "bob"))

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventRateLimit, events[0].EventType)
	assert.Equal(t, "/snaps/:message_id/views", events[0].Details["endpoint"])
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, assert.AnError
}

func TestPerEndpointRateLimiter_BackendErrorAllows(t *testing.T) {
	p := NewPerEndpointRateLimiter(failingLimiter{}, nil)
	r := gin.New()
	r.Use(p.Middleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRedisRateLimiter(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	prefix := "test-" + time.Now().Format("150405.000000000")
	rl := NewRedisRateLimiter(client, prefix, 2, time.Minute)

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "bob")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := client.TTL(ctx, "ratelimit:"+prefix+":bob").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRequestIDAndMetadata(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware(), RequestMetadataMiddleware(), SecurityHeaders())
	r.GET("/x", func(c *gin.Context) {
		info, ok := audit.ClientInfoFrom(c.Request.Context())
		require.True(t, ok)
		assert.True(t, strings.HasSuffix(logger.GetTraceID(c.Request.Context()), "/traces/"+GetRequestID(c)))
		c.String(http.StatusOK, info.IPAddress+"|"+info.UserAgent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req.Header.Set("User-Agent", "snap-android/2.1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "203.0.113.7|snap-android/2.1", w.Body.String())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Len(t, w.Header().Get(RequestIDHeader), 36, "generated uuid")
}

func TestRequestSizeLimiter(t *testing.T) {
	r := gin.New()
	r.Use(RequestSizeLimiter(16))
	r.POST("/x", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"a":1}`)))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(strings.Repeat("x", 64))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestValidatePathID(t *testing.T) {
	r := gin.New()
	r.GET("/snaps/:message_id", ValidatePathID("message_id"), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/snaps/msg-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/snaps/"+strings.Repeat("a", 200), nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
