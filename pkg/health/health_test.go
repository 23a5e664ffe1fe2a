package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func get(t *testing.T, h *Health, path string) (int, response) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	var body response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func observeN(h *Health, n int) {
	for range n {
		for _, s := range h.checks {
			s.observe(context.Background(), h.lg)
		}
	}
}

func TestLivez(t *testing.T) {
	h := New(zaptest.NewLogger(t))
	h.Add(Check{Name: "goroutines", Kind: Liveness, Func: Goroutines(1 << 20)})
	h.Add(Check{Name: "db", Kind: Readiness, Func: Ping(stubPinger{err: errors.New("refused")})})
	observeN(h, defaultFailures)

	code, body := get(t, h, "/livez")
	assert.Equal(t, http.StatusOK, code, "readiness failures do not affect liveness")
	assert.Equal(t, "ok", body.Status)
}

func TestReadyz(t *testing.T) {
	t.Run("NotReady", func(t *testing.T) {
		h := New(nil)
		code, body := get(t, h, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "not ready", body.Checks["ready"])
	})
	t.Run("Ready", func(t *testing.T) {
		h := New(nil)
		h.Add(Check{Name: "db", Kind: Readiness, Func: Ping(stubPinger{})})
		h.SetReady(true)
		observeN(h, 1)

		code, body := get(t, h, "/readyz")
		assert.Equal(t, http.StatusOK, code)
		assert.Empty(t, body.Checks)
		assert.True(t, h.Ready())
	})
	t.Run("FailingCheck", func(t *testing.T) {
		h := New(zaptest.NewLogger(t))
		h.Add(Check{Name: "db", Kind: Readiness, Func: Ping(stubPinger{err: errors.New("refused")})})
		h.SetReady(true)
		observeN(h, defaultFailures)

		code, body := get(t, h, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", body.Status)
		assert.Equal(t, "ping: refused", body.Checks["db"])
		assert.False(t, h.Ready())
	})
}

func TestThreshold(t *testing.T) {
	var err error
	h := New(zaptest.NewLogger(t))
	h.Add(Check{Name: "flaky", Kind: Liveness, Failures: 2, Func: func(context.Context) error { return err }})

	err = errors.New("blip")
	observeN(h, 1)
	assert.True(t, h.checks[0].healthy.Load(), "single failure tolerated")

	observeN(h, 1)
	assert.False(t, h.checks[0].healthy.Load())

	err = nil
	observeN(h, 1)
	assert.True(t, h.checks[0].healthy.Load(), "first success recovers")
	assert.Nil(t, h.checks[0].lastErr.Load())
}

func TestRun_StopsWithContext(t *testing.T) {
	h := New(nil)
	calls := make(chan struct{}, 16)
	h.Add(Check{Name: "tick", Kind: Liveness, Func: func(context.Context) error {
		select {
		case calls <- struct{}{}:
		default:
		}
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, time.Millisecond) }()

	<-calls
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestStarted(t *testing.T) {
	ch := make(chan struct{})
	check := Started(ch)
	require.Error(t, check(context.Background()))
	close(ch)
	require.NoError(t, check(context.Background()))
}

func TestWritable(t *testing.T) {
	require.NoError(t, Writable(t.TempDir())(context.Background()))
	require.Error(t, Writable("/nonexistent/bookshop")(context.Background()))
}

func TestGoroutines(t *testing.T) {
	require.NoError(t, Goroutines(1<<20)(context.Background()))
	require.Error(t, Goroutines(0)(context.Background()))
}

func TestGCPause(t *testing.T) {
	require.NoError(t, GCPause(time.Hour)(context.Background()))
}
