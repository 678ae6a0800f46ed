// Package ratelimit provides keyed token-bucket limiters for chatters, HTTP
// clients and RPC methods.
package ratelimit

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Limit defines a sustained rate and burst.
type Limit struct {
	// PerSecond is the sustainable rate (tokens added per second).
	PerSecond float64

	// Burst is the maximum number of requests allowed in a burst.
	Burst int
}

// tokenBucket implements the token bucket algorithm.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastUpdate time.Time
	ratePerSec float64
	maxTokens  float64
	requests   int64
	denied     int64
}

func newTokenBucket(l Limit, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(l.Burst),
		lastUpdate: now,
		ratePerSec: l.PerSecond,
		maxTokens:  float64(l.Burst),
	}
}

func (tb *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastUpdate).Seconds()
	tb.tokens += elapsed * tb.ratePerSec
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	tb.lastUpdate = now
}

func (tb *tokenBucket) allow(now time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.requests++
	tb.refill(now)
	if tb.tokens >= 1.0 {
		tb.tokens--
		return true
	}
	tb.denied++
	return false
}

// full reports whether the bucket has refilled completely and can be dropped.
func (tb *tokenBucket) full(now time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill(now)
	return tb.tokens >= tb.maxTokens
}

func (tb *tokenBucket) stats(now time.Time) (available float64, requests, denied int64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill(now)
	return tb.tokens, tb.requests, tb.denied
}

// Limiter holds one bucket per key. Keys without an override share the
// default limit; a zero default leaves them unlimited.
type Limiter struct {
	mu        sync.RWMutex
	buckets   map[string]*tokenBucket
	overrides map[string]Limit
	def       Limit
	global    *tokenBucket
	enabled   bool
	now       func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithOverrides sets limits for specific keys.
func WithOverrides(limits map[string]Limit) Option {
	return func(l *Limiter) {
		for key, limit := range limits {
			l.overrides[key] = limit
		}
	}
}

// WithGlobal adds a limit shared by every key.
func WithGlobal(limit Limit) Option {
	return func(l *Limiter) { l.global = newTokenBucket(limit, l.now()) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter applying def to every key.
func New(def Limit, opts ...Option) *Limiter {
	l := &Limiter{
		buckets:   make(map[string]*tokenBucket),
		overrides: make(map[string]Limit),
		def:       def,
		enabled:   true,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow consumes a token for key, reporting whether the request may proceed.
func (l *Limiter) Allow(key string) bool {
	if !l.IsEnabled() {
		return true
	}
	now := l.now()
	if l.global != nil && !l.global.allow(now) {
		return false
	}
	bucket := l.bucket(key, now)
	if bucket == nil {
		return true
	}
	return bucket.allow(now)
}

func (l *Limiter) bucket(key string, now time.Time) *tokenBucket {
	l.mu.RLock()
	bucket, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return bucket
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if bucket, ok = l.buckets[key]; ok {
		return bucket
	}
	limit, ok := l.overrides[key]
	if !ok {
		limit = l.def
	}
	if limit.PerSecond <= 0 && limit.Burst <= 0 {
		return nil
	}
	bucket = newTokenBucket(limit, now)
	l.buckets[key] = bucket
	return bucket
}

// Prune drops buckets that have refilled completely. Call periodically when
// keys are unbounded, such as chatter names.
func (l *Limiter) Prune() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, bucket := range l.buckets {
		if bucket.full(now) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// KeyStats describes one bucket.
type KeyStats struct {
	Key              string  `json:"key"`
	Available        float64 `json:"available"`
	TotalRequests    int64   `json:"total_requests"`
	DeniedRequests   int64   `json:"denied_requests"`
	DeniedPercentage float64 `json:"denied_percentage"`
}

// Stats returns statistics for every active bucket, sorted by key.
func (l *Limiter) Stats() []KeyStats {
	now := l.now()
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make([]KeyStats, 0, len(l.buckets))
	for key, bucket := range l.buckets {
		ks := KeyStats{Key: key}
		ks.Available, ks.TotalRequests, ks.DeniedRequests = bucket.stats(now)
		if ks.TotalRequests > 0 {
			ks.DeniedPercentage = float64(ks.DeniedRequests) / float64(ks.TotalRequests) * 100
		}
		stats = append(stats, ks)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Key < stats[j].Key })
	return stats
}

// SetEnabled enables or disables limiting at runtime.
func (l *Limiter) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// IsEnabled returns whether limiting is active.
func (l *Limiter) IsEnabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.enabled
}

// Middleware rejects requests over the limit with 429. Requests are keyed by
// client IP.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// UnaryServerInterceptor applies the limiter to gRPC calls, keyed by method.
func (l *Limiter) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !l.Allow(info.FullMethod) {
			return nil, status.Errorf(codes.ResourceExhausted,
				"rate limit exceeded for method %s", info.FullMethod)
		}
		return handler(ctx, req)
	}
}
