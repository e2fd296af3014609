package server

import (
	"net/http"
	"sync"

	"github.com/MarcoPoloResearchLab/quill/internal/metrics"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// rateLimiter keeps one token bucket per client address.
type rateLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rps      float64
	burst    int
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	return &rateLimiter{rps: rps, burst: burst}
}

func (l *rateLimiter) limiterFor(key string) *rate.Limiter {
	if existing, ok := l.limiters.Load(key); ok {
		return existing.(*rate.Limiter)
	}
	created, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(rate.Limit(l.rps), l.burst))
	return created.(*rate.Limiter)
}

func (l *rateLimiter) middleware(route string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !l.limiterFor(route + "|" + ip).Allow() {
			c.Header("Retry-After", "1")
			metrics.RateLimitRejected.WithLabelValues(route).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorPayload{
				Error:   "rate_limited",
				Message: "Rate limit exceeded",
				Code:    route + ".rate_limited",
			})
			return
		}
		c.Next()
	}
}
