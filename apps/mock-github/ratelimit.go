package main

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	anonymousLimit     = 60
	authenticatedLimit = 5000
)

type bucket struct {
	limit, used int
	reset       time.Time
}

// limiter keeps a core budget per Authorization header, resetting every window.
type limiter struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	buckets map[string]*bucket
}

func newLimiter(window time.Duration) *limiter {
	return &limiter{window: window, now: time.Now, buckets: make(map[string]*bucket)}
}

func (l *limiter) bucketLocked(auth string) *bucket {
	now := l.now()
	b, ok := l.buckets[auth]
	if !ok || !now.Before(b.reset) {
		limit := anonymousLimit
		if auth != "" {
			limit = authenticatedLimit
		}
		b = &bucket{limit: limit, reset: now.Add(l.window).Truncate(time.Second)}
		l.buckets[auth] = b
	}
	return b
}

// take spends one request from auth's budget and reports whether any was left.
func (l *limiter) take(auth string) (bucket, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.bucketLocked(auth)
	if b.used >= b.limit {
		return *b, false
	}
	b.used++
	return *b, true
}

// peek returns auth's budget without spending any.
func (l *limiter) peek(auth string) bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.bucketLocked(auth)
}

// exhaust spends the rest of auth's budget.
func (l *limiter) exhaust(auth string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.bucketLocked(auth)
	b.used = b.limit
}

func setRateHeaders(c *gin.Context, b bucket) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(b.limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(b.limit-b.used))
	c.Header("X-RateLimit-Used", strconv.Itoa(b.used))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(b.reset.Unix(), 10))
	c.Header("X-RateLimit-Resource", "core")
}

// middleware charges every request against the caller's budget and rejects
// callers that have none left, like GitHub's primary rate limit. GET
// /rate_limit is free.
func (l *limiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := strings.TrimSpace(c.GetHeader("Authorization"))
		if c.Request.URL.Path == "/rate_limit" || c.Request.URL.Path == "/health" {
			setRateHeaders(c, l.peek(auth))
			c.Next()
			return
		}

		b, ok := l.take(auth)
		setRateHeaders(c, b)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"message":           "API rate limit exceeded. Authenticated requests get a higher rate limit.",
				"documentation_url": "https://docs.github.com/rest/overview/resources-in-the-rest-api#rate-limiting",
			})
			return
		}
		c.Next()
	}
}
