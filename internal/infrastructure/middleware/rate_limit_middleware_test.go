package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"rillcall/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func limitedRouter(guard gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(guard)
	router.GET("/api/v1/rooms/:room/peers/:peer/stats", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

// statuses replays the same request n times, optionally from a forwarded client.
func statuses(router http.Handler, n int, forwardedFor string) []int {
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/standup/peers/alice/stats", nil)
		if forwardedFor != "" {
			req.Header.Set("X-Forwarded-For", forwardedFor)
		}
		router.ServeHTTP(w, req)
		out = append(out, w.Code)
	}
	return out
}

func strictHTTPLimits(cfg *config.Config) {
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 1
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
}

func TestHTTPRateLimitMiddleware(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.RateLimiting.Enabled = false
		router := limitedRouter(NewHTTPRateLimitMiddleware(cfg))

		assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusOK}, statuses(router, 3, ""))
	})

	t.Run("burst exhausted", func(t *testing.T) {
		cfg := config.DefaultConfig()
		strictHTTPLimits(cfg)
		router := limitedRouter(NewHTTPRateLimitMiddleware(cfg))

		assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, statuses(router, 2, ""))
	})

	t.Run("forwarded clients get their own bucket", func(t *testing.T) {
		cfg := config.DefaultConfig()
		strictHTTPLimits(cfg)
		router := limitedRouter(NewHTTPRateLimitMiddleware(cfg))

		assert.Equal(t, []int{http.StatusOK}, statuses(router, 1, "203.0.113.1"))
		assert.Equal(t, []int{http.StatusOK}, statuses(router, 1, "203.0.113.2, 10.0.0.1"))
		assert.Equal(t, []int{http.StatusTooManyRequests}, statuses(router, 1, "203.0.113.1"))
	})
}

func TestWebSocketLimitMiddleware_ConnectionsPerMinute(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 2
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0
	router := limitedRouter(NewWebSocketLimitMiddleware(cfg))

	assert.Equal(t,
		[]int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests},
		statuses(router, 3, ""),
	)
}

func TestClientIP(t *testing.T) {
	cases := map[string]struct {
		remote, xff, want string
	}{
		"remote addr":     {remote: "192.0.2.10:5555", want: "192.0.2.10"},
		"first hop":       {remote: "10.0.0.1:80", xff: "198.51.100.4, 10.0.0.1", want: "198.51.100.4"},
		"garbage header":  {remote: "10.0.0.1:80", xff: "not-an-ip", want: "10.0.0.1"},
		"no port in addr": {remote: "192.0.2.10", want: "192.0.2.10"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			assert.Equal(t, tc.want, clientIP(req))
		})
	}
}

func TestSemaphore(t *testing.T) {
	var unlimited semaphore
	assert.True(t, unlimited.acquire(), "nil semaphore admits everything")
	unlimited.release()

	s := newSemaphore(1)
	assert.True(t, s.acquire())
	assert.False(t, s.acquire(), "held semaphore must refuse")
	s.release()
	assert.True(t, s.acquire())
}
