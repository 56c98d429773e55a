package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterIdle  = 10 * time.Minute
	limiterSweep = 5 * time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet hands out one token bucket per client IP and forgets buckets
// idle for longer than limiterIdle.
type limiterSet struct {
	mu        sync.Mutex
	r         rate.Limit
	b         int
	byIP      map[string]*ipLimiter
	lastSweep time.Time
}

func (s *limiterSet) get(ip string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastSweep) > limiterSweep {
		for k, v := range s.byIP {
			if now.Sub(v.lastSeen) > limiterIdle {
				delete(s.byIP, k)
			}
		}
		s.lastSweep = now
	}
	il, ok := s.byIP[ip]
	if !ok {
		il = &ipLimiter{limiter: rate.NewLimiter(s.r, s.b)}
		s.byIP[ip] = il
	}
	il.lastSeen = now
	return il.limiter
}

// RateLimit provides per-IP token-bucket rate limiting.
// r = requests per second, b = burst size. A non-positive r disables it.
func RateLimit(r rate.Limit, b int) gin.HandlerFunc {
	if r <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	set := &limiterSet{r: r, b: b, byIP: make(map[string]*ipLimiter), lastSweep: time.Now()}
	return func(c *gin.Context) {
		if !set.get(c.ClientIP(), time.Now()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
