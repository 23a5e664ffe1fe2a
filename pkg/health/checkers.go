package health

import (
	"context"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks a database connection.
func Ping(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// Started fails until ch is closed. It fits watermill's Router.Running.
func Started(ch <-chan struct{}) CheckFunc {
	return func(context.Context) error {
		select {
		case <-ch:
			return nil
		default:
			return errors.New("not started")
		}
	}
}

// Writable checks that files can be created in dir.
func Writable(dir string) CheckFunc {
	return func(context.Context) error {
		f, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			return errors.Wrap(err, "create check file")
		}
		name := f.Name()
		_ = f.Close()
		return os.Remove(name)
	}
}

// Goroutines fails when more than limit goroutines are running, which
// usually means leaked websocket pumps or stuck handlers.
func Goroutines(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines, limit %d", n, limit)
		}
		return nil
	}
}

// GCPause fails when any recent stop-the-world pause exceeded limit.
func GCPause(limit time.Duration) CheckFunc {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		for _, p := range stats.Pause {
			if p > limit {
				return errors.Errorf("gc pause %s over %s", p, limit)
			}
		}
		return nil
	}
}
