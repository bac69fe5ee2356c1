// Package app wires the promotion processor service.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-promotions/internal/adjustment"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
	"github.com/xenking/kart-promotions/internal/domain/promotion/filter"
	"github.com/xenking/kart-promotions/internal/processor"
	"github.com/xenking/kart-promotions/internal/repository"
	"github.com/xenking/kart-promotions/pkg/health"
	"github.com/xenking/kart-promotions/pkg/httpmiddleware"
)

// NewActionRegistry returns the registry of promotion actions known to the
// service.
func NewActionRegistry() (*promotion.ActionRegistry, error) {
	expression, err := filter.NewExpression()
	if err != nil {
		return nil, errors.Wrap(err, "create expression filter")
	}

	registry := promotion.NewActionRegistry()
	if err := registry.Register(promotion.ActionUnitFixedDiscount, promotion.NewUnitFixedDiscount(
		adjustment.NewFactory(),
		filter.NewPriceRange(filter.ChannelPricingCalculator{}),
		filter.Taxon{},
		filter.Product{},
		expression,
	)); err != nil {
		return nil, err
	}
	return registry, nil
}

// Run creates all dependencies, runs the processor loop next to the admin
// server, and handles graceful shutdown.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	ctx = zctx.Base(ctx, lg)
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	heartbeat := health.NewHeartbeat()
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("processor", time.Second, heartbeat.Check(cfg.Processor.HeartbeatMaxAge),
		health.WithFailureThreshold(2),
	)

	registry, err := NewActionRegistry()
	if err != nil {
		return errors.Wrap(err, "create action registry")
	}

	proc, err := processor.New(
		repository.NewOrderRepository(pool),
		promotion.NewCachedRepository(repository.NewPromotionRepository(pool), cfg.Processor.PromotionCacheTTL),
		repository.NewApplicationRepository(pool),
		promotion.NewApplicator(registry),
		promotion.NewEligibilityChecker(),
		heartbeat,
		processor.Config{
			Interval:     cfg.Processor.Interval,
			BatchSize:    cfg.Processor.BatchSize,
			Workers:      cfg.Processor.Workers,
			SeenCapacity: uint(cfg.Processor.SeenCapacity),
		},
		m.MeterProvider(),
		m.TracerProvider(),
	)
	if err != nil {
		return errors.Wrap(err, "create processor")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(
			otelhttp.NewHandler(mux, "admin",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.LogRequests(),
			httpmiddleware.Recovery(),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	defer healthSvc.Stop()
	healthSvc.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return proc.Run(gctx)
	})
	g.Go(func() error {
		lg.Info("Admin server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "admin server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down admin server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown admin server")
		}
		return nil
	})

	return g.Wait()
}
