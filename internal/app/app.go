package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/stockledger/internal/config"
	"github.com/utafrali/stockledger/internal/event"
	handler "github.com/utafrali/stockledger/internal/handler/http"
	"github.com/utafrali/stockledger/internal/repository"
	"github.com/utafrali/stockledger/internal/repository/memory"
	"github.com/utafrali/stockledger/internal/repository/postgres"
	"github.com/utafrali/stockledger/internal/service"
	"github.com/utafrali/stockledger/migrations"
	"github.com/utafrali/stockledger/pkg/database"
	"github.com/utafrali/stockledger/pkg/health"
	pkgkafka "github.com/utafrali/stockledger/pkg/kafka"
	"github.com/utafrali/stockledger/pkg/tracing"
)

// ServiceName identifies the process in logs, metrics and traces.
const ServiceName = "stockledger"

// App wires together all dependencies and runs the stock ledger.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	consumers      []*pkgkafka.Consumer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
	now            func() time.Time

	Stocks      *service.StockService
	Adjustments *service.AdjustmentService
	Orders      *service.OrderService
	Sweeper     *service.Sweeper
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger, now: func() time.Time { return time.Now().UTC() }}

	tracerShutdown, err := tracing.InitTracer(ctx, cfg.Tracing(ServiceName))
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	healthHandler := health.NewHandler()

	backend, err := a.initBackend(ctx, healthHandler)
	if err != nil {
		return nil, errors.Join(err, a.Shutdown())
	}

	var publisher service.Publisher
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		guarded := pkgkafka.NewBreakerPublisher(a.producer, pkgkafka.DefaultBreakerConfig(ServiceName+"-producer"), logger)
		publisher = event.NewProducer(guarded, logger)
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
	}

	opts := []service.Option{
		service.WithReservationTimeouts(cfg.ReservationTimeouts()),
		service.WithLowStockThreshold(cfg.LowStock()),
		service.WithSweepBatchSize(cfg.SweepBatchSize),
		service.WithDefaultScale(cfg.DefaultQuantityScale),
	}
	a.Stocks = service.NewStockService(backend, logger, opts...)
	a.Adjustments = service.NewAdjustmentService(backend, publisher, logger, opts...)
	a.Orders = service.NewOrderService(backend, publisher, logger, opts...)
	a.Sweeper = service.NewSweeper(a.Orders, logger, opts...)

	if cfg.KafkaEnabled {
		if err := a.initConsumers(ctx, healthHandler); err != nil {
			return nil, errors.Join(err, a.Shutdown())
		}
	}

	router := handler.NewRouter(healthHandler, handler.RouterConfig{PprofCIDRs: cfg.PprofAllowedCIDRs}, logger)
	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initBackend opens the configured store and registers its health check.
func (a *App) initBackend(ctx context.Context, hh *health.Handler) (repository.Backend, error) {
	if a.cfg.StoreDriver == config.StoreDriverMemory {
		a.logger.Warn("using in-memory store, data is lost on restart")
		return memory.New(), nil
	}

	pool, err := database.NewPostgresPool(ctx, a.cfg.Postgres(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", a.cfg.PostgresHost),
		slog.Int("port", a.cfg.PostgresPort),
		slog.String("database", a.cfg.PostgresDB),
	)
	if err := prometheus.Register(database.NewPoolStatsCollector(pool, ServiceName)); err != nil {
		a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")

	if a.cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(a.cfg.SlowQueryThreshold(), a.logger)
	}

	hh.RegisterCritical("postgres", pool.Ping)
	return postgres.NewStore(pool), nil
}

// initConsumers builds one consumer group per order topic, sharing an
// idempotency store and a dead-letter producer.
func (a *App) initConsumers(ctx context.Context, hh *health.Handler) error {
	var store pkgkafka.IdempotencyStore
	if a.cfg.RedisEnabled {
		client, err := database.NewRedisClient(ctx, a.cfg.Redis())
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = client
		store = pkgkafka.NewRedisIdempotencyStore(client, ServiceName+":idem:", a.cfg.IdempotencyTTL())
		hh.RegisterNonCritical("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	} else {
		store = pkgkafka.NewMemoryIdempotencyStore(a.cfg.IdempotencyTTL())
	}

	a.dlq = pkgkafka.NewDLQProducer(a.cfg.KafkaBrokers, a.logger)
	handlers := event.NewConsumer(a.Orders, a.logger).Handlers()
	for _, topic := range []string{event.TopicOrderConfirmed, event.TopicOrderCanceled, event.TopicOrderFulfilled} {
		c := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:  a.cfg.KafkaBrokers,
			GroupID:  a.cfg.KafkaGroupID + "-" + topic,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
			DLQ:      a.dlq,
		}, pkgkafka.IdempotentHandler(store, handlers[topic], a.logger), a.logger)
		a.consumers = append(a.consumers, c)
	}
	return nil
}

// Run starts the HTTP server, Kafka consumers and the expiry sweeper, then
// blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1+len(a.consumers))

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	for _, c := range a.consumers {
		go func() {
			if err := c.Start(ctx); err != nil {
				errCh <- fmt.Errorf("consumer: %w", err)
			}
		}()
	}

	go a.runSweeper(ctx)

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// runSweeper expires overdue reservations every sweep interval.
func (a *App) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweepOnce(ctx)
		}
	}
}

func (a *App) sweepOnce(ctx context.Context) int {
	released, err := a.Sweeper.SweepExpired(ctx, a.now())
	if err != nil && ctx.Err() == nil {
		a.logger.ErrorContext(ctx, "expiry sweep failed", slog.String("error", err.Error()))
	}
	return released
}

// Shutdown stops all components in order: HTTP server, tracer, consumers,
// producers, redis, then the PostgreSQL pool. It tolerates partially
// initialized apps.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error
	record := func(what string, err error) {
		if err != nil {
			a.logger.Error(what+" shutdown error", slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", what, err))
		}
	}

	if a.httpServer != nil {
		httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer httpCancel()
		record("http server", a.httpServer.Shutdown(httpCtx))
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		record("tracer", a.tracerShutdown(tracerCtx))
	}

	for _, c := range a.consumers {
		record("kafka consumer", c.Close())
	}
	if a.producer != nil {
		record("kafka producer", a.producer.Close())
	}
	if a.dlq != nil {
		record("kafka dlq producer", a.dlq.Close())
	}
	if a.redis != nil {
		record("redis", a.redis.Close())
	}
	if a.pool != nil {
		a.pool.Close()
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
