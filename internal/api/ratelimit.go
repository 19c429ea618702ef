package api

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL   = 10 * time.Minute
	limiterPruneSize = 10_000
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter hands out one token bucket per caller key. Idle buckets are
// pruned inline once the table grows past limiterPruneSize.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	log      *zap.Logger
	now      func() time.Time
}

func newRateLimiter(rps float64, burst int, logger *zap.Logger) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(rps),
		burst:    burst,
		log:      logger,
		now:      time.Now,
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= limiterPruneSize {
			rl.pruneLocked(now)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// exhausted reports whether key has no token left, without spending one.
func (rl *rateLimiter) exhausted(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	entry, ok := rl.limiters[key]
	if !ok {
		return false
	}
	return entry.limiter.TokensAt(rl.now()) < 1
}

func (rl *rateLimiter) pruneLocked(now time.Time) {
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(rl.limiters, key)
		}
	}
}

func authFailureKey(r *http.Request) string {
	return "authfail:" + r.RemoteAddr
}

func (rl *rateLimiter) reject(w http.ResponseWriter, r *http.Request, key string) {
	rl.log.Warn("rate limit exceeded",
		zap.String("key", key),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)
	w.Header().Set("Retry-After", "1")
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
}

// Handler limits by acting account when the request is authenticated and by
// client address otherwise.
func (rl *rateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if user, err := userFromContext(r.Context()); err == nil {
			key = "acct:" + user.AccountID
		}
		if !rl.allow(key) {
			rl.reject(w, r, key)
			return
		}
		next.ServeHTTP(w, r)
	})
}
