package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	// visitorTTL is how long an idle client keeps its limiter.
	visitorTTL = 10 * time.Minute
	// maxVisitors caps the limiter map; hitting it forces a prune.
	maxVisitors = 10000
)

// RateLimit limits requests per client IP using a token bucket per
// visitor. Idle visitors are pruned so the map cannot grow without bound.
func RateLimit(rps, burst int) gin.HandlerFunc {
	type visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)

	prune := func(now time.Time) {
		for ip, v := range visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(visitors, ip)
			}
		}
	}

	return func(c *gin.Context) {
		now := time.Now()
		ip := c.ClientIP()

		mu.Lock()
		v, ok := visitors[ip]
		if !ok {
			if len(visitors) >= maxVisitors {
				prune(now)
			}
			v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			visitors[ip] = v
		}
		v.lastSeen = now
		mu.Unlock()

		if !v.limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}
