package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type keyLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// RateLimit provides token-bucket rate limiting keyed by the authenticated
// player when Auth ran first, and by client IP otherwise.
// r = requests per second, b = burst size. Stale buckets are swept until ctx
// is done.
func RateLimit(ctx context.Context, r rate.Limit, b int) gin.HandlerFunc {
	limiters := &sync.Map{}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			cutoff := time.Now().Add(-10 * time.Minute).UnixNano()
			limiters.Range(func(k, v interface{}) bool {
				if v.(*keyLimiter).lastSeen.Load() < cutoff {
					limiters.Delete(k)
				}
				return true
			})
		}
	}()

	getLimiter := func(key string) *rate.Limiter {
		v, _ := limiters.LoadOrStore(key, &keyLimiter{limiter: rate.NewLimiter(r, b)})
		kl := v.(*keyLimiter)
		kl.lastSeen.Store(time.Now().UnixNano())
		return kl.limiter
	}

	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if pid := GetPlayerID(c); pid > 0 {
			key = "player:" + strconv.FormatInt(pid, 10)
		}
		if !getLimiter(key).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded", "code": "RATE_LIMITED"})
			return
		}
		c.Next()
	}
}
