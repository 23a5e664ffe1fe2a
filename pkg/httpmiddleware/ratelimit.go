package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig bounds requests per client over a sliding window.
type RateLimitConfig struct {
	Requests int           `default:"300" usage:"Requests per window per client"`
	Window   time.Duration `default:"1m" usage:"Rate limit window"`
	// TrustProxy keys clients by X-Forwarded-For / X-Real-IP instead of the
	// socket address. Enable only behind a proxy that overwrites them.
	TrustProxy bool `default:"false" usage:"Key clients by forwarded headers" flag:"trust-proxy"`
}

// KeyFunc identifies the client a request is counted against.
type KeyFunc func(*http.Request) string

// counter approximates a sliding window from the current and previous
// fixed windows, weighting the previous one by its remaining overlap.
type counter struct {
	start time.Time
	prev  int
	curr  int
}

// Limiter is a per-key sliding window limiter.
type Limiter struct {
	limit  int
	window time.Duration
	key    KeyFunc

	mu       sync.Mutex
	counters map[string]*counter
}

// NewLimiter creates a limiter from cfg. A nil key uses the client IP.
func NewLimiter(cfg RateLimitConfig, key KeyFunc) *Limiter {
	if key == nil {
		key = ClientIP(cfg.TrustProxy)
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Limiter{
		limit:    cfg.Requests,
		window:   cfg.Window,
		key:      key,
		counters: make(map[string]*counter),
	}
}

// Allow records a hit for key at now. It reports whether the hit fits within
// the limit, how many hits remain and when the current window ends.
func (l *Limiter) Allow(key string, now time.Time) (ok bool, remaining int, reset time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := now.Truncate(l.window)
	c, found := l.counters[key]
	switch {
	case !found:
		c = &counter{start: start}
		l.counters[key] = c
	case start.Sub(c.start) == l.window:
		c.prev, c.curr, c.start = c.curr, 0, start
	case start.Sub(c.start) > l.window:
		c.prev, c.curr, c.start = 0, 0, start
	}
	reset = start.Add(l.window)

	overlap := 1 - float64(now.Sub(start))/float64(l.window)
	used := float64(c.prev)*overlap + float64(c.curr)
	if used >= float64(l.limit) {
		return false, 0, reset
	}
	c.curr++
	remaining = int(math.Floor(float64(l.limit) - used - 1))
	return true, max(remaining, 0), reset
}

// Sweep drops keys idle for two windows.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int
	for k, c := range l.counters {
		if now.Sub(c.start) >= 2*l.window {
			delete(l.counters, k)
			n++
		}
	}
	return n
}

// Run sweeps idle keys until ctx is done.
func (l *Limiter) Run(ctx context.Context) error {
	t := time.NewTicker(2 * l.window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			l.Sweep(now)
		}
	}
}

// Middleware rejects requests over the limit with 429 and Retry-After.
func (l *Limiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			ok, remaining, reset := l.Allow(l.key(r), now)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !ok {
				wait := int(math.Ceil(reset.Sub(now).Seconds()))
				h.Set("Retry-After", strconv.Itoa(max(wait, 1)))
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP keys requests by remote address, or by the first forwarded
// address when trustProxy is set.
func ClientIP(trustProxy bool) KeyFunc {
	return func(r *http.Request) string {
		if trustProxy {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				return strings.TrimSpace(first)
			}
			if ip := r.Header.Get("X-Real-IP"); ip != "" {
				return strings.TrimSpace(ip)
			}
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}
