// Package app собирает зависимости магазина и управляет жизненным циклом сервера.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/observability"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/customer"
	httpsvc "github.com/vladislavdragonenkov/storefront/internal/service/http"
	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
	"github.com/vladislavdragonenkov/storefront/internal/service/order"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	readHeaderTimeout   = 5 * time.Second
	outboxMaxBacklogAge = 5 * time.Minute
)

// App — собранное приложение: HTTP API и outbox worker.
type App struct {
	cfg        Config
	logger     *log.Entry
	deps       runtimeDependencies
	publishers publishers
	handler    http.Handler
	worker     *outbox.Worker
	tracing    observability.ShutdownFunc
}

// New проверяет конфигурацию и собирает приложение. Ресурсы освобождает Close.
func New(ctx context.Context, cfg Config, logger *log.Entry) (*App, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	build := version.Get()
	tracingShutdown, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: build.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger.WithField("layer", "storage"))
	if err != nil {
		_ = tracingShutdown(ctx)
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	registry.MustRegister(deps.collectors...)
	shop := metrics.NewShopMetricsWithRegisterer(registry)

	adjuster := inventory.NewAdjuster(deps.products, deps.tx,
		inventory.WithMetrics(shop),
		inventory.WithLogger(logger.WithField("component", "inventory")),
	)
	orders := order.NewService(order.Dependencies{
		Customers: deps.customers,
		Products:  deps.products,
		Orders:    deps.orders,
		Outbox:    deps.outbox,
		Tx:        deps.tx,
		Inventory: adjuster,
		Metrics:   shop,
		Logger:    logger.WithField("component", "order-service"),
	})

	healthHandler := health.NewHandler(build.Version)
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}
	healthHandler.RegisterChecker("outbox", health.NewOutboxChecker(deps.outbox, cfg.OutboxMaxPending, outboxMaxBacklogAge))

	pubs := initPublishers(cfg, logger.WithField("layer", "messaging"))
	worker := outbox.NewWorker(deps.outbox, pubs.events,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithMetrics(metrics.NewOutboxMetrics(registry)),
		outbox.WithDeadLetterPublisher(pubs.deadLetter),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)

	handler := httpsvc.NewRouter(httpsvc.Dependencies{
		Customers: customer.NewService(deps.customers, shop, logger.WithField("component", "customer-service")),
		Catalog:   catalog.NewService(deps.products, shop, logger.WithField("component", "catalog-service")),
		Orders:    orders,
		Health:    healthHandler,
		Gatherer:  registry,
		Metrics:   metrics.NewHTTPMetrics(registry),
		Logger:    logger.WithField("component", "http"),
	})

	return &App{
		cfg:        cfg,
		logger:     logger,
		deps:       deps,
		publishers: pubs,
		handler:    handler,
		worker:     worker,
		tracing:    tracingShutdown,
	}, nil
}

// Handler возвращает корневой HTTP-обработчик.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run обслуживает HTTP и outbox до отмены ctx, затем аккуратно останавливается.
// При остановке по ctx возвращает ctx.Err().
func (a *App) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.HTTPAddr, err)
	}
	return a.Serve(ctx, lis)
}

// Serve работает как Run, но на готовом listener.
func (a *App) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.WithFields(log.Fields{
			"addr":    lis.Addr().String(),
			"storage": a.cfg.StorageDriver,
			"version": version.GetVersion(),
		}).Info("http server listening")
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down http server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.WithError(err).Warn("http server shutdown with error")
			return srv.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Close освобождает хранилище, Kafka producer и провайдер трейсов.
func (a *App) Close() error {
	a.publishers.close(a.logger)

	var errs []error
	if err := a.deps.close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.tracing(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
	}
	return errors.Join(errs...)
}

// Run собирает приложение и обслуживает запросы до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	a, err := New(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to release resources")
		}
	}()
	return a.Run(ctx)
}
