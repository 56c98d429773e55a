package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

// hits sends n list requests from ip and returns the status codes.
func hits(r *gin.Engine, ip string, n int) []int {
	codes := make([]int, 0, n)
	for i := 0; i < n; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/quests", nil)
		if ip != "" {
			req.Header.Set("X-Real-IP", ip)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	return codes
}

func newRateLimitRouter(r rate.Limit, b int) *gin.Engine {
	eng := gin.New()
	eng.Use(RateLimit(r, b))
	eng.GET("/api/quests", func(c *gin.Context) { c.Status(http.StatusOK) })
	return eng
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	// Near-zero refill so the bucket stays empty.
	r := newRateLimitRouter(0.001, 3)
	assert.Equal(t, []int{200, 200, 200, 429}, hits(r, "10.0.1.1", 4))
}

func TestRateLimit_PerIP(t *testing.T) {
	r := newRateLimitRouter(0.001, 1)
	assert.Equal(t, []int{200, 429}, hits(r, "10.1.1.1", 2))
	assert.Equal(t, []int{200}, hits(r, "10.1.1.2", 1), "separate bucket")
}

func TestRateLimit_GenerousLimit(t *testing.T) {
	r := newRateLimitRouter(100, 5)
	assert.Equal(t, []int{200, 200}, hits(r, "10.0.0.1", 2))
}

func TestRateLimit_DisabledWhenZero(t *testing.T) {
	r := newRateLimitRouter(0, 0)
	for _, code := range hits(r, "", 5) {
		assert.Equal(t, http.StatusOK, code)
	}
}

func TestLimiterSet_ForgetsIdleClients(t *testing.T) {
	start := time.Now()
	set := &limiterSet{r: 1, b: 1, byIP: make(map[string]*ipLimiter), lastSweep: start}
	set.get("10.0.0.1", start)
	set.get("10.0.0.2", start.Add(limiterIdle))
	assert.Len(t, set.byIP, 2)

	set.get("10.0.0.2", start.Add(limiterIdle+limiterSweep+time.Second))
	assert.Len(t, set.byIP, 1)
	assert.Contains(t, set.byIP, "10.0.0.2")
}
