package server

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// rateLimiter keeps one token bucket per client IP
type rateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

// limiter returns the bucket for ip, creating one if needed
func (rl *rateLimiter) limiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[ip]
	if !ok {
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[ip] = l
	}
	return l
}

// middleware rejects requests over the limit with 429. RealIP runs first,
// so RemoteAddr already holds the client address.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !rl.limiter(ip).Allow() {
			WriteError(w, http.StatusTooManyRequests, "RateLimited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
