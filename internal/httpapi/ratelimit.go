package httpapi

import (
	"strconv"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-client token-bucket limiting, grounded on
// the teacher's pkg/web/middleware/security/rate_limit.go.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	IdleTTL           time.Duration
	KeyFunc           func(*RequestContext) string
}

// DefaultRateLimitConfig returns a conservative default.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		Burst:             100,
		IdleTTL:           10 * time.Minute,
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterStore struct {
	mu     sync.Mutex
	items  map[string]*clientLimiter
	rps    float64
	burst  int
	ttl    time.Duration
}

func newLimiterStore(rps float64, burst int, ttl time.Duration) *limiterStore {
	s := &limiterStore{items: make(map[string]*clientLimiter), rps: rps, burst: burst, ttl: ttl}
	go s.cleanupLoop()
	return s
}

func (s *limiterStore) cleanupLoop() {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		for key, cl := range s.items {
			if time.Since(cl.lastSeen) > s.ttl {
				delete(s.items, key)
			}
		}
		s.mu.Unlock()
	}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	cl, ok := s.items[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(s.rps), s.burst)}
		s.items[key] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter
}

// RateLimit returns middleware that rejects requests over the configured
// rate with a 429 and a computed Retry-After header.
func RateLimit(config RateLimitConfig) Middleware {
	if config.KeyFunc == nil {
		config.KeyFunc = func(ctx *RequestContext) string {
			return ctx.RequestCtx.RemoteIP().String()
		}
	}
	store := newLimiterStore(config.RequestsPerSecond, config.Burst, config.IdleTTL)

	return func(next Handler) Handler {
		return func(ctx *RequestContext) error {
			limiter := store.get(config.KeyFunc(ctx))
			if limiter.Allow() {
				return next(ctx)
			}

			reservation := limiter.Reserve()
			delay := reservation.Delay()
			reservation.Cancel()

			ctx.RequestCtx.Response.Header.Set("Retry-After", strconv.Itoa(int(delay.Seconds())+1))
			return ctx.Error(fasthttp.StatusTooManyRequests, "rate_limited", "too many requests")
		}
	}
}
