package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds configuration for the connection rate limiter.
type RateLimitConfig struct {
	// ConnectionsPerSecond is the rate limit for new connections per IP.
	ConnectionsPerSecond float64
	// BurstSize is the maximum burst size allowed.
	BurstSize int
	// CleanupInterval is how often to clean up old entries.
	CleanupInterval time.Duration
	// EntryTTL is how long to keep entries after last access.
	EntryTTL time.Duration
}

// DefaultRateLimitConfig returns sensible defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		ConnectionsPerSecond: 20,
		BurstSize:            40,
		CleanupInterval:      5 * time.Minute,
		EntryTTL:             10 * time.Minute,
	}
}

// rateLimitEntry tracks rate limiting state for a single IP.
type rateLimitEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// ConnRateLimiter limits connection attempts per IP. It is safe for
// concurrent use.
type ConnRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rateLimitEntry
	config   RateLimitConfig

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// NewConnRateLimiter creates a new rate limiter with the given configuration.
func NewConnRateLimiter(config RateLimitConfig) *ConnRateLimiter {
	rl := &ConnRateLimiter{
		limiters:    make(map[string]*rateLimitEntry),
		config:      config,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Close stops the cleanup goroutine and releases resources.
func (rl *ConnRateLimiter) Close() {
	close(rl.stopCleanup)
	<-rl.cleanupDone
}

// Allow checks if a connection from the given IP should be allowed.
func (rl *ConnRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[ip]
	if !exists {
		entry = &rateLimitEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.ConnectionsPerSecond), rl.config.BurstSize),
		}
		rl.limiters[ip] = entry
	}
	entry.lastAccess = time.Now()

	return entry.limiter.Allow()
}

// cleanupLoop periodically removes stale entries.
func (rl *ConnRateLimiter) cleanupLoop() {
	defer close(rl.cleanupDone)

	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCleanup:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup removes entries that haven't been accessed recently.
func (rl *ConnRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.config.EntryTTL)
	for ip, entry := range rl.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(rl.limiters, ip)
		}
	}
}
