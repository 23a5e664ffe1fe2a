package app

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9090")

	cfg := Config{Addr: defaultAddr}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)

	cfg = Config{Addr: "127.0.0.1:1", DatabaseURL: "postgres://explicit/db"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit/db", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:1", cfg.Addr, "explicit address wins over PORT")
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		DatabaseURL:   "postgres://localhost/bookshop",
		SessionPepper: "0123456789abcdef",
		SessionTTL:    time.Hour,
	}
	require.NoError(t, valid.validate())

	for name, mutate := range map[string]func(*Config){
		"NoDatabase":  func(c *Config) { c.DatabaseURL = "" },
		"ShortPepper": func(c *Config) { c.SessionPepper = "short" },
		"NoTTL":       func(c *Config) { c.SessionTTL = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			require.Error(t, cfg.validate())
		})
	}
}

type countingSessions struct {
	calls atomic.Int32
	err   error
}

func (c *countingSessions) DeleteExpiredSessions(context.Context, time.Time) (int64, error) {
	c.calls.Add(1)
	return 2, c.err
}

func TestSweepSessions(t *testing.T) {
	store := &countingSessions{err: errors.New("db down")}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweepSessions(ctx, zaptest.NewLogger(t), store, time.Millisecond) }()

	require.Eventually(t, func() bool { return store.calls.Load() >= 2 }, 5*time.Second, time.Millisecond,
		"keeps sweeping after a failure")
	cancel()
	require.NoError(t, <-done)
}

func TestSweepSessions_Disabled(t *testing.T) {
	store := &countingSessions{}
	require.NoError(t, sweepSessions(context.Background(), zaptest.NewLogger(t), store, 0))
	assert.Zero(t, store.calls.Load())
}
