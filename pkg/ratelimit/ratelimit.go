package ratelimit

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration
type Config struct {
	// Rate is the number of requests allowed per second
	Rate float64
	// Burst is the maximum number of requests allowed in a burst
	Burst int
}

// DefaultCallbackConfig allows 10 req/s with a burst of 20, far above what a
// browser redirect needs.
func DefaultCallbackConfig() Config {
	return Config{Rate: 10, Burst: 20}
}

// Limiter is a single token bucket shared by every client. Loopback listeners
// see one client address, so per-IP buckets buy nothing.
type Limiter struct {
	limiter  *rate.Limiter
	rejected atomic.Int64
}

func New(cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst)}
}

func (l *Limiter) Allow() bool {
	if l.limiter.Allow() {
		return true
	}
	l.rejected.Add(1)
	return false
}

// Rejected returns how many requests were turned away.
func (l *Limiter) Rejected() int64 {
	return l.rejected.Load()
}

// Middleware returns a Gin middleware that rejects requests once the bucket is
// empty. Requests for which skip returns true bypass the limiter. onReject
// writes the response; nil answers with a bare 429.
func (l *Limiter) Middleware(skip func(*gin.Context) bool, onReject gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if skip != nil && skip(c) {
			c.Next()
			return
		}
		if !l.Allow() {
			if onReject != nil {
				onReject(c)
			} else {
				c.Status(http.StatusTooManyRequests)
			}
			c.Abort()
			return
		}
		c.Next()
	}
}
