package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter is an in-process fixed-window limiter keyed by client address.
// Use RedisRateLimiter when more than one gateway instance runs.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

type window struct {
	count int
	reset time.Time
}

func NewRateLimiter(limit int, win time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if win <= 0 {
		win = time.Minute
	}
	return &RateLimiter{
		limit:   limit,
		window:  win,
		now:     time.Now,
		windows: map[string]*window{},
	}
}

func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retryAfter := rl.allow(clientKey(r))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
				WriteError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	win := rl.windows[key]
	if win == nil || !now.Before(win.reset) {
		rl.windows[key] = &window{count: 1, reset: now.Add(rl.window)}
		return true, 0
	}
	if win.count >= rl.limit {
		return false, win.reset.Sub(now)
	}
	win.count++
	return true, 0
}

// sweep drops expired windows at most once per window length.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.window {
		return
	}
	for k, win := range rl.windows {
		if !now.Before(win.reset) {
			delete(rl.windows, k)
		}
	}
	rl.lastSweep = now
}

func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
