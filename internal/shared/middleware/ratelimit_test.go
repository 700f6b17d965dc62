package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Allow(t *testing.T) {
	t.Run("enforces burst per key", func(t *testing.T) {
		r := NewRateLimiter(RateLimitConfig{RPS: 1, Burst: 3})

		for i := 0; i < 3; i++ {
			assert.True(t, r.Allow("1.2.3.4"), "request %d within burst", i)
		}
		assert.False(t, r.Allow("1.2.3.4"))
	})

	t.Run("keys are independent", func(t *testing.T) {
		r := NewRateLimiter(RateLimitConfig{RPS: 1, Burst: 1})

		assert.True(t, r.Allow("1.1.1.1"))
		assert.False(t, r.Allow("1.1.1.1"))
		assert.True(t, r.Allow("2.2.2.2"))
	})

	t.Run("bucket refills over time", func(t *testing.T) {
		r := NewRateLimiter(RateLimitConfig{RPS: 100, Burst: 1})

		assert.True(t, r.Allow("1.2.3.4"))
		assert.False(t, r.Allow("1.2.3.4"))

		time.Sleep(20 * time.Millisecond)
		assert.True(t, r.Allow("1.2.3.4"))
	})
}

func TestRateLimiter_Cleanup(t *testing.T) {
	r := NewRateLimiter(RateLimitConfig{RPS: 1, Burst: 1, IdleTTL: time.Nanosecond})

	r.Allow("1.2.3.4")
	time.Sleep(time.Millisecond)
	r.Cleanup()

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Empty(t, r.entries)
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := NewRateLimiter(RateLimitConfig{RPS: 1, Burst: 2})
	router := gin.New()
	router.Use(RateLimit(limiter, func(c *gin.Context) string { return "key" }))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
