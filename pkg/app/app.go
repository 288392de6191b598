package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zoff-tech/go-notifier/pkg/broker"
	"github.com/zoff-tech/go-notifier/pkg/bus"
	"github.com/zoff-tech/go-notifier/pkg/config"
	"github.com/zoff-tech/go-notifier/pkg/demo"
	"github.com/zoff-tech/go-notifier/pkg/fulfillment"
	"github.com/zoff-tech/go-notifier/pkg/processor"
	"github.com/zoff-tech/go-notifier/pkg/scheduler"
	"github.com/zoff-tech/go-notifier/pkg/store"
	"github.com/zoff-tech/go-notifier/pkg/telemetry"
)

const shutdownTimeout = 30 * time.Second

// App owns one instance of every component.
type App struct {
	Settings    *config.Settings
	Logger      *zap.Logger
	Metrics     *telemetry.Metrics
	Repo        store.Repository
	Scheduler   *scheduler.Scheduler
	Bus         *bus.Bus
	Fulfillment *fulfillment.Fulfillment
	Broker      broker.MessageBroker
	Relay       *processor.Relay
	Facade      *demo.Facade

	shutdownTelemetry func()
}

type options struct {
	clock  scheduler.Clock
	logger *zap.Logger
	broker broker.MessageBroker
}

type Option func(*options)

// WithClock replaces the wall clock, e.g. with a scheduler.ManualClock.
func WithClock(clock scheduler.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBroker skips broker.NewBroker and relays to b.
func WithBroker(b broker.MessageBroker) Option {
	return func(o *options) {
		o.broker = b
	}
}

// New wires the components described by cfg.
func New(ctx context.Context, cfg *config.Settings, opts ...Option) (*App, error) {
	o := options{clock: scheduler.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := o.logger
	if logger == nil {
		var err error
		if logger, err = telemetry.NewLogger(cfg.Log); err != nil {
			return nil, err
		}
	}

	a := &App{
		Settings:          cfg,
		Logger:            logger,
		Metrics:           telemetry.NewMetrics(),
		shutdownTelemetry: func() {},
	}

	if cfg.Observability.TracingURL != "" {
		shutdown, err := telemetry.Init(ctx, cfg.Observability, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		a.shutdownTelemetry = shutdown
	} else {
		logger.Info("tracing disabled, no observability.tracing_url configured")
	}

	repo, err := store.NewRepository(ctx, cfg.Store)
	if err != nil {
		a.shutdownTelemetry()
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	a.Repo = repo

	a.Scheduler = scheduler.New(
		scheduler.WithClock(o.clock),
		scheduler.WithMaxSequences(cfg.Fulfillment.MaxActive),
	)
	a.Bus = bus.New(repo, repo, repo,
		bus.WithLogger(logger.Named("bus")),
		bus.WithMetrics(a.Metrics),
		bus.WithNow(o.clock.Now),
	)
	a.Fulfillment = fulfillment.New(a.Bus, repo, a.Scheduler,
		fulfillment.WithSettings(cfg.Fulfillment),
		fulfillment.WithLogger(logger.Named("fulfillment")),
		fulfillment.WithMetrics(a.Metrics),
	)
	a.Fulfillment.Attach(a.Bus)

	if cfg.Relay.Enabled {
		b := o.broker
		if b == nil {
			if b, err = broker.NewBroker(ctx, &cfg.Broker, logger.Named("broker")); err != nil {
				a.Close(ctx)
				return nil, fmt.Errorf("failed to initialize broker: %w", err)
			}
		}
		a.Broker = b
		a.Relay = processor.NewRelay(b, cfg.Relay,
			processor.WithLogger(logger.Named("relay")),
			processor.WithMetrics(a.Metrics),
		)
		a.Relay.Attach(a.Bus)
	}

	a.Facade = demo.NewFacade(a.Bus, a.Fulfillment, repo, logger.Named("demo"))
	return a, nil
}

func (a *App) Handler() http.Handler {
	return demo.NewHandler(a.Facade, a.Metrics.Handler(), a.Logger.Named("http"))
}

// StartRelay runs the relay worker until ctx is done. It is a no-op when the relay is disabled.
func (a *App) StartRelay(ctx context.Context, wg *sync.WaitGroup) {
	if a.Relay == nil {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Relay.Run(ctx)
	}()
}

// Serve runs the HTTP surface and the relay until ctx is done, then shuts down gracefully.
func (a *App) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              a.Settings.Server.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	a.StartRelay(ctx, &wg)

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("HTTP server shutdown", zap.Error(err))
	}
	wg.Wait()
	a.Logger.Info("HTTP server stopped")
	return serveErr
}

// Close cancels pending fulfillment stages and releases the broker, the store and telemetry.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Fulfillment != nil {
		a.Fulfillment.Close()
	}
	if a.Scheduler != nil {
		a.Scheduler.Close()
	}
	if a.Broker != nil {
		if err := a.Broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close broker: %w", err))
		}
	}
	if a.Repo != nil {
		if err := a.Repo.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repository: %w", err))
		}
	}
	a.shutdownTelemetry()
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}
