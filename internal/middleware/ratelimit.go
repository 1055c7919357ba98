package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/couchcast/internal/logger"
	"github.com/stwalsh4118/couchcast/internal/metrics"
	"golang.org/x/time/rate"
)

// clientLimiterTTL is how long an idle client's limiter is kept
const clientLimiterTTL = 10 * time.Minute

// RateLimiter throttles requests globally and per client IP
type RateLimiter struct {
	global *rate.Limiter
	limit  rate.Limit
	burst  int

	mu          sync.Mutex
	clients     map[string]*rate.Limiter
	lastCleanup time.Time
}

// NewRateLimiter creates a limiter allowing limit requests per second with the given burst.
// The global budget is four times the per-client one.
func NewRateLimiter(limit rate.Limit, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		global:      rate.NewLimiter(limit*4, burst*4),
		limit:       limit,
		burst:       burst,
		clients:     make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}
}

// Allow reports whether a request from clientIP may proceed
func (l *RateLimiter) Allow(clientIP string) bool {
	if !l.global.Allow() {
		metrics.RateLimited("global")
		return false
	}
	if !l.clientLimiter(clientIP).Allow() {
		metrics.RateLimited("per_client")
		return false
	}
	return true
}

func (l *RateLimiter) clientLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Dropping every limiter only resets budgets, which is harmless
	if time.Since(l.lastCleanup) > clientLimiterTTL {
		l.clients = make(map[string]*rate.Limiter)
		l.lastCleanup = time.Now()
	}

	limiter, ok := l.clients[ip]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.clients[ip] = limiter
	}
	return limiter
}

// RateLimit returns a Gin middleware rejecting throttled requests with 429
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			logger.Log.Debug().
				Str("path", c.Request.URL.Path).
				Str("client_ip", c.ClientIP()).
				Msg("Request rate limited")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "Too many requests, try again shortly",
			})
			return
		}
		c.Next()
	}
}
