package http

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures the per client rate limit of the API.
type RateLimitConfig struct {
	// The number of requests a client can send per second.
	RequestsPerSecond float64

	// The number of requests a client can send at once.
	Burst int

	// The interval after which an inactive client is forgotten.
	CleanupInterval time.Duration
}

var DefaultRateLimitConfig = RateLimitConfig{
	RequestsPerSecond: 20,
	Burst:             40,
	CleanupInterval:   time.Minute * 5,
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests by client IP.
type RateLimiter struct {
	config RateLimitConfig

	mutex    sync.Mutex
	limiters map[string]*clientLimiter
}

func NewRateLimiter(c RateLimitConfig) *RateLimiter {
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultRateLimitConfig.CleanupInterval
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}

	return &RateLimiter{
		config:   c,
		limiters: make(map[string]*clientLimiter),
	}
}

// Start forgets inactive clients until ctx is done.
func (l *RateLimiter) Start(ctx context.Context) {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			l.cleanup(time.Now())
		}
	}
}

// Allow reports whether a request from ip can be served now.
func (l *RateLimiter) Allow(ip string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	c, ok := l.limiters[ip]
	if !ok {
		c = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.Burst),
		}
		l.limiters[ip] = c
	}
	c.lastSeen = time.Now()
	return c.limiter.Allow()
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.Allow(ip) {
			logs.WithTag("ip", ip).
				WithTag("path", r.URL.Path).
				Debug("request rate limited")

			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) cleanup(now time.Time) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	cutoff := now.Add(-l.config.CleanupInterval)
	for ip, c := range l.limiters {
		if c.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

func (l *RateLimiter) len() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return len(l.limiters)
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(ip)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
