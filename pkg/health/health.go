// Package health serves liveness and readiness checks.
//
// Checks run periodically in the background and the HTTP handlers only read
// their last outcome. A check flips to unhealthy after Failures consecutive
// errors and back to healthy on the first success.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CheckFunc returns nil when the component is healthy.
type CheckFunc func(ctx context.Context) error

// Kind selects the endpoint a check contributes to.
type Kind string

const (
	Liveness  Kind = "liveness"
	Readiness Kind = "readiness"
)

const defaultFailures = 3

// Check is a registered health check.
type Check struct {
	Name     string
	Kind     Kind
	Timeout  time.Duration
	Failures int
	Func     CheckFunc
}

type state struct {
	Check

	healthy atomic.Bool
	lastErr atomic.Pointer[string]
	fails   int // owned by the checking goroutine
}

func (s *state) observe(ctx context.Context, lg *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	err := s.Func(ctx)
	if err == nil {
		s.fails = 0
		s.lastErr.Store(nil)
		if !s.healthy.Swap(true) {
			lg.Info("Check recovered", zap.String("check", s.Name))
		}
		return
	}
	msg := err.Error()
	s.lastErr.Store(&msg)
	s.fails++
	if s.fails >= s.Failures && s.healthy.Swap(false) {
		lg.Warn("Check failing",
			zap.String("check", s.Name),
			zap.String("kind", string(s.Kind)),
			zap.Int("failures", s.fails),
			zap.Error(err),
		)
	}
}

// Health aggregates checks for the /livez and /readyz endpoints.
type Health struct {
	lg    *zap.Logger
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*state
}

// New creates a Health that is not ready until SetReady(true).
func New(lg *zap.Logger) *Health {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Health{lg: lg}
}

// Add registers c. Checks start out healthy.
func (h *Health) Add(c Check) {
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	if c.Failures <= 0 {
		c.Failures = defaultFailures
	}
	s := &state{Check: c}
	s.healthy.Store(true)

	h.mu.Lock()
	h.checks = append(h.checks, s)
	h.mu.Unlock()
}

func (h *Health) snapshot(k Kind) []*state {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*state, 0, len(h.checks))
	for _, s := range h.checks {
		if s.Kind == k {
			out = append(out, s)
		}
	}
	return out
}

// Run evaluates every check each interval until ctx is done.
func (h *Health) Run(ctx context.Context, interval time.Duration) error {
	h.mu.RLock()
	checks := append([]*state(nil), h.checks...)
	h.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range checks {
		g.Go(func() error {
			t := time.NewTicker(interval)
			defer t.Stop()
			for {
				s.observe(ctx, h.lg)
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
				}
			}
		})
	}
	return g.Wait()
}

// SetReady marks the process as accepting traffic. It is cleared on
// shutdown before the server drains.
func (h *Health) SetReady(v bool) { h.ready.Store(v) }

// Ready reports SetReady state combined with readiness checks.
func (h *Health) Ready() bool {
	return h.ready.Load() && len(failures(h.snapshot(Readiness))) == 0
}

// Register mounts GET /livez and GET /readyz on mux.
func (h *Health) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /livez", h.live)
	mux.HandleFunc("GET /readyz", h.readyz)
}

func (h *Health) live(w http.ResponseWriter, _ *http.Request) {
	respond(w, failures(h.snapshot(Liveness)))
}

func (h *Health) readyz(w http.ResponseWriter, _ *http.Request) {
	failed := failures(h.snapshot(Readiness))
	if !h.ready.Load() {
		failed["ready"] = "not ready"
	}
	respond(w, failed)
}

func failures(checks []*state) map[string]string {
	out := make(map[string]string)
	for _, s := range checks {
		if s.healthy.Load() {
			continue
		}
		msg := "unhealthy"
		if p := s.lastErr.Load(); p != nil {
			msg = *p
		}
		out[s.Name] = msg
	}
	return out
}

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func respond(w http.ResponseWriter, failed map[string]string) {
	code, resp := http.StatusOK, response{Status: "ok"}
	if len(failed) > 0 {
		code, resp = http.StatusServiceUnavailable, response{Status: "unhealthy", Checks: failed}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
