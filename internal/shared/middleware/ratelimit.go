package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures the per-client request-rate guard. This is an
// abuse guard on raw request rate and is independent of the upload quota.
type RateLimitConfig struct {
	RPS   float64
	Burst int
	// IdleTTL controls how long an idle client's limiter is retained.
	IdleTTL time.Duration
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token-bucket limiter keyed by client IP.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	cfg     RateLimitConfig
}

// NewRateLimiter creates a new per-IP rate limiter.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 15 * time.Minute
	}
	return &RateLimiter{
		entries: make(map[string]*limiterEntry),
		cfg:     cfg,
	}
}

// Allow reports whether a request from the given key may proceed.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	ent, ok := r.entries[key]
	if !ok {
		ent = &limiterEntry{lim: rate.NewLimiter(rate.Limit(r.cfg.RPS), r.cfg.Burst)}
		r.entries[key] = ent
	}
	ent.lastSeen = time.Now()
	r.mu.Unlock()

	return ent.lim.Allow()
}

// Cleanup removes limiters for clients not seen within IdleTTL.
func (r *RateLimiter) Cleanup() {
	cutoff := time.Now().Add(-r.cfg.IdleTTL)

	r.mu.Lock()
	defer r.mu.Unlock()

	for k, ent := range r.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(r.entries, k)
		}
	}
}

// StartJanitor starts a background goroutine that evicts idle limiters until
// the done channel closes.
func (r *RateLimiter) StartJanitor(done <-chan struct{}, every time.Duration) {
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				r.Cleanup()
			}
		}
	}()
}

// RateLimit returns a middleware enforcing the request-rate guard. keyFn
// extracts the limiter key from the request, typically the client IP.
func RateLimit(r *RateLimiter, keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.Allow(keyFn(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests",
				"code":  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
