package ratelimit

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Config holds rate limiting configuration
type Config struct {
	// Per-IP limit across all endpoints
	PerIPCapacity   int
	PerIPRefillRate float64 // requests per second

	// Tighter per-IP limits for specific endpoints, keyed "METHOD /path"
	EndpointLimits map[string]EndpointLimit

	// How long to keep inactive buckets in memory
	BucketTTL time.Duration
}

// EndpointLimit defines the per-IP limit for a single endpoint
type EndpointLimit struct {
	Capacity   int
	RefillRate float64
}

// DefaultConfig allows 100 requests per minute per IP. Endpoint limits for
// credential-guessing surfaces (login, OTP verification) are left to the
// caller since they depend on route prefixes.
func DefaultConfig() *Config {
	return &Config{
		PerIPCapacity:   100,
		PerIPRefillRate: 100.0 / 60.0,
		EndpointLimits:  make(map[string]EndpointLimit),
		BucketTTL:       time.Hour,
	}
}

// Middleware applies per-IP and per-endpoint request limits
type Middleware struct {
	config           *Config
	ipLimiter        *RateLimiter
	endpointLimiters map[string]*RateLimiter
}

// NewMiddleware creates a new rate limiting middleware
func NewMiddleware(config *Config) *Middleware {
	if config == nil {
		config = DefaultConfig()
	}

	m := &Middleware{
		config:           config,
		ipLimiter:        NewRateLimiter(config.PerIPCapacity, config.PerIPRefillRate, config.BucketTTL),
		endpointLimiters: make(map[string]*RateLimiter),
	}
	for endpoint, limit := range config.EndpointLimits {
		m.endpointLimiters[endpoint] = NewRateLimiter(limit.Capacity, limit.RefillRate, config.BucketTTL)
	}
	return m
}

// Handler returns the rate limiting middleware handler
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		if !m.ipLimiter.Allow(ip) {
			m.rateLimitExceeded(w, r, ip)
			return
		}

		endpointKey := r.Method + " " + r.URL.Path
		if limiter, exists := m.endpointLimiters[endpointKey]; exists {
			if !limiter.Allow(ip) {
				m.rateLimitExceeded(w, r, ip)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) rateLimitExceeded(w http.ResponseWriter, r *http.Request, ip string) {
	slog.Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path, "method", r.Method)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "60")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"code":"RATE_LIMITED","message":"Too many requests. Please try again later."}`))
}

// clientIP extracts the client IP, honoring proxy headers
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
