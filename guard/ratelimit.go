package guard

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bjaus/gateway"
	"golang.org/x/time/rate"
)

// KeyRateLimit is the error key of rejected requests.
const KeyRateLimit = "rate"

// KeyFunc extracts the bucket a request is counted against.
type KeyFunc func(req *gateway.Request) string

// ByHeader counts requests per value of the named header. For
// "x-forwarded-for" the first (client) address of the list is used.
func ByHeader(name string) KeyFunc {
	return func(req *gateway.Request) string {
		v, _ := req.Header(name)
		if first, _, ok := strings.Cut(v, ","); ok {
			v = first
		}
		return strings.TrimSpace(v)
	}
}

// ByHandler counts requests per resolved handler and method.
func ByHandler(req *gateway.Request) string {
	return req.Method + " " + req.Handler
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter is a token bucket per key, kept in memory.
//
// Idle buckets are swept while requests arrive; there is no background
// goroutine. A bucket idle for longer than the TTL starts over full.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	keyFunc KeyFunc
	ttl     time.Duration
	now     func() time.Time

	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	lastSweep time.Time
}

// RateLimitOption configures a RateLimiter.
type RateLimitOption func(*RateLimiter)

// WithKeyFunc sets how requests are grouped. The default is
// ByHeader("x-forwarded-for").
func WithKeyFunc(fn KeyFunc) RateLimitOption {
	return func(l *RateLimiter) {
		l.keyFunc = fn
	}
}

// WithTTL sets how long an idle bucket is kept. The default is 10 minutes.
func WithTTL(d time.Duration) RateLimitOption {
	return func(l *RateLimiter) {
		l.ttl = d
	}
}

// NewRateLimiter allows limit requests per second per key, with bursts of up
// to burst requests.
//
// Example:
//
//	limiter := guard.NewRateLimiter(10, 20, guard.WithKeyFunc(guard.ByHeader("x-api-key")))
//	r := gateway.New(cfg, gateway.WithBeforeAll(limiter.Hook))
func NewRateLimiter(limit rate.Limit, burst int, opts ...RateLimitOption) *RateLimiter {
	l := &RateLimiter{
		limit:    limit,
		burst:    burst,
		keyFunc:  ByHeader("x-forwarded-for"),
		ttl:      10 * time.Minute,
		now:      time.Now,
		limiters: make(map[string]*limiterEntry),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether one more request for key fits in its bucket.
func (l *RateLimiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)
	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastAccess = now
	return entry.limiter.AllowN(now, 1)
}

// Reset forgets the bucket of key.
func (l *RateLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
}

// Len returns the number of live buckets.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// sweep drops idle buckets, at most once per TTL. Callers hold mu.
func (l *RateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.ttl {
		return
	}
	l.lastSweep = now
	for key, entry := range l.limiters {
		if now.Sub(entry.lastAccess) > l.ttl {
			delete(l.limiters, key)
		}
	}
}

// Hook rejects the request with a 429 once its bucket is empty. It is meant
// for WithBeforeAll, so only requests for existing handlers are counted.
func (l *RateLimiter) Hook(_ context.Context, req *gateway.Request, res *gateway.Response) error {
	if l.Allow(l.keyFunc(req)) {
		return nil
	}
	res.Fail(gateway.NewError(429, KeyRateLimit, "rate limit exceeded"))
	return nil
}

// Chain runs hooks in order in a single hook slot. It stops at the first hook
// that fails or records an error on the response.
//
// Example:
//
//	gateway.WithBeforeAll(guard.Chain(limiter.Hook, requireTenant))
func Chain(hooks ...gateway.HookFunc) gateway.HookFunc {
	return func(ctx context.Context, req *gateway.Request, res *gateway.Response) error {
		for _, hook := range hooks {
			if err := hook(ctx, req, res); err != nil {
				return err
			}
			if res.HasErrors() {
				return nil
			}
		}
		return nil
	}
}
