package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bookshop/internal/domain/announcement"
	"github.com/xenking/bookshop/internal/domain/auth"
	"github.com/xenking/bookshop/internal/domain/bookmark"
	"github.com/xenking/bookshop/internal/domain/cart"
	"github.com/xenking/bookshop/internal/domain/order"
	"github.com/xenking/bookshop/internal/domain/review"
	"github.com/xenking/bookshop/internal/handler"
	"github.com/xenking/bookshop/internal/notify"
	"github.com/xenking/bookshop/internal/realtime"
	"github.com/xenking/bookshop/internal/storage/postgres"
	"github.com/xenking/bookshop/internal/upload"
	"github.com/xenking/bookshop/pkg/health"
	"github.com/xenking/bookshop/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the order event
// bus, and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	covers, err := upload.NewStore(cfg.Upload)
	if err != nil {
		return errors.Wrap(err, "upload store")
	}

	// Repositories.
	books := postgres.NewBookRepository(pool)
	users := postgres.NewUserRepository(pool)
	carts := postgres.NewCartRepository(pool)
	orders := postgres.NewOrderStore(pool)

	accounts := auth.NewService(users, []byte(cfg.SessionPepper), cfg.SessionTTL)

	// Order events: email to the buyer, live feed to admins and staff.
	bus, err := notify.NewBus(cfg.Events, lg.Named("notify"), m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create event bus")
	}
	defer func() {
		if err := bus.Close(); err != nil {
			lg.Error("Close event bus", zap.Error(err))
		}
	}()

	hub := realtime.NewHub(accounts, lg, cfg.CORS.Origins)
	defer hub.Close()

	var mailer notify.Mailer = notify.LogMailer{}
	if cfg.SMTP.Host != "" {
		smtpMailer, err := notify.NewSMTPMailer(cfg.SMTP)
		if err != nil {
			return errors.Wrap(err, "smtp mailer")
		}
		mailer = smtpMailer
	} else {
		lg.Warn("SMTP host not configured, order emails are only logged")
	}
	if err := bus.Subscribe("email", notify.EmailHandler(mailer)); err != nil {
		return errors.Wrap(err, "subscribe email")
	}
	if err := bus.Subscribe("broadcast", notify.BroadcastHandler(hub)); err != nil {
		return errors.Wrap(err, "subscribe broadcast")
	}

	orderService, err := order.NewService(orders, bus,
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "order service")
	}

	// Health checks.
	healthSvc := health.New(lg.Named("health"))
	healthSvc.Add(health.Check{Name: "postgres", Kind: health.Readiness, Timeout: 5 * time.Second, Func: health.Ping(pool)})
	healthSvc.Add(health.Check{Name: "events", Kind: health.Readiness, Func: health.Started(bus.Running())})
	healthSvc.Add(health.Check{Name: "uploads", Kind: health.Readiness, Func: health.Writable(cfg.Upload.Dir)})
	healthSvc.Add(health.Check{Name: "goroutines", Kind: health.Liveness, Func: health.Goroutines(50_000)})
	healthSvc.Add(health.Check{Name: "gc", Kind: health.Liveness, Func: health.GCPause(time.Second)})

	limiter := httpmiddleware.NewLimiter(cfg.RateLimit, nil)
	loginLimiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Requests:   cfg.LoginAttempts,
		Window:     time.Minute,
		TrustProxy: cfg.RateLimit.TrustProxy,
	}, nil)

	api := handler.New(handler.Deps{
		Accounts:      accounts,
		Books:         books,
		Carts:         cart.NewService(carts, books, users),
		Orders:        orderService,
		Reviews:       review.NewService(postgres.NewReviewRepository(pool), books),
		Bookmarks:     bookmark.NewService(postgres.NewBookmarkRepository(pool), books),
		Announcements: announcement.NewService(postgres.NewAnnouncementRepository(pool)),
		Covers:        covers,
		Hub:           hub,
		LoginLimit:    loginLimiter.Middleware(),
		SecureCookies: cfg.SecureCookies,
	})

	mux := http.NewServeMux()
	healthSvc.Register(mux)
	api.Routes(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(cfg.CORS),
			limiter.Middleware(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Instrument("bookshop-api", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
			api.Authenticate(),
			httpmiddleware.Labeler(),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bus.Run(gctx)
	})
	g.Go(func() error {
		return healthSvc.Run(gctx, 10*time.Second)
	})
	g.Go(func() error {
		return limiter.Run(gctx)
	})
	g.Go(func() error {
		return loginLimiter.Run(gctx)
	})
	g.Go(func() error {
		return sweepSessions(gctx, lg, users, cfg.SessionSweep)
	})
	g.Go(func() error {
		// Graceful shutdown: fail readiness, let load balancers notice, drain.
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "server shutdown")
		}
		return nil
	})
	g.Go(func() error {
		healthSvc.SetReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}

// sessionStore is the part of the user repository the sweeper needs.
type sessionStore interface {
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// sweepSessions deletes expired sessions every interval.
func sweepSessions(ctx context.Context, lg *zap.Logger, s sessionStore, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			n, err := s.DeleteExpiredSessions(ctx, now.UTC())
			if err != nil {
				lg.Warn("Delete expired sessions", zap.Error(err))
				continue
			}
			if n > 0 {
				lg.Debug("Deleted expired sessions", zap.Int64("count", n))
			}
		}
	}
}
