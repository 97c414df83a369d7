package web

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterIdleAge is how long an address may stay quiet before its
// token bucket is dropped.
const limiterIdleAge = 10 * time.Minute

// RateLimiter keeps one token bucket per client address.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*limiterEntry
	rate    rate.Limit
	burst   int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter pool allowing r requests per second
// with a burst of b, tracked per client address.
func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*limiterEntry),
		rate:    r,
		burst:   b,
	}
}

// getLimiter returns the bucket for addr, creating it on first sight.
func (rl *RateLimiter) getLimiter(addr string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.clients[addr]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.clients[addr] = entry
	}
	entry.lastSeen = time.Now()

	return entry.limiter
}

// evictIdle drops buckets for addresses not seen within limiterIdleAge
// and reports how many were removed.
func (rl *RateLimiter) evictIdle(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	evicted := 0
	for addr, entry := range rl.clients {
		if now.Sub(entry.lastSeen) > limiterIdleAge {
			delete(rl.clients, addr)
			evicted++
		}
	}

	return evicted
}

func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for now := range ticker.C {
		rl.evictIdle(now)
	}
}

// RateLimitMiddleware rejects requests over the per-address budget with 429.
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	go rl.evictLoop()

	return func(c *gin.Context) {
		if !rl.getLimiter(c.ClientIP()).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// MaxBytesMiddleware caps request bodies at maxBytes. A declared
// Content-Length over the cap is rejected outright; the reader wrap
// catches bodies that lie about their length.
func MaxBytesMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "Request body too large",
			})
			c.Abort()
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// TokenAuthMiddleware guards private endpoints with a bearer token. An
// empty configured token locks them entirely.
func TokenAuthMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "No API token configured",
			})
			c.Abort()
			return
		}

		header := c.GetHeader("Authorization")
		presented := strings.TrimPrefix(header, "Bearer ")
		if presented == header || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or missing bearer token",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
