package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/shopdesk/coupon-service/internal/auth"
	"github.com/shopdesk/coupon-service/internal/config"
	"github.com/shopdesk/coupon-service/internal/event"
	handler "github.com/shopdesk/coupon-service/internal/handler/http"
	"github.com/shopdesk/coupon-service/internal/repository/postgres"
	redisrepo "github.com/shopdesk/coupon-service/internal/repository/redis"
	"github.com/shopdesk/coupon-service/internal/service"
	"github.com/shopdesk/coupon-service/migrations"
	"github.com/shopdesk/coupon-service/pkg/database"
	"github.com/shopdesk/coupon-service/pkg/health"
	pkgkafka "github.com/shopdesk/coupon-service/pkg/kafka"
	"github.com/shopdesk/coupon-service/pkg/middleware"
	"github.com/shopdesk/coupon-service/pkg/tracing"
)

// ServiceName identifies the service in logs, traces and metrics.
const ServiceName = "coupon-service"

// Version is set at build time with -ldflags "-X .../internal/app.Version=...".
var Version = "dev"

// App wires together all dependencies and runs the coupon service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	consumer       *pkgkafka.Consumer
	httpServer     *http.Server
	shutdownTracer func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeResources(context.Background())
		}
	}()

	// Tracing.
	a.shutdownTracer, err = tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	database.SetSlowQueryLogging(cfg.SlowQuery, logger)

	// Initialize PostgreSQL connection pool.
	a.pool, err = database.NewPostgresPool(ctx, &database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.PostgresMaxConns,
		MinConns:        cfg.PostgresMinConns,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)

	// Run database migrations.
	if cfg.RunMigrations {
		if err = database.RunMigrations(ctx, a.pool, migrations.FS, logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations completed")
	}

	// Initialize Redis.
	a.redis, err = database.NewRedisClient(ctx, database.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis", slog.String("addr", cfg.RedisAddr))

	// Metrics.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err = database.RegisterPoolMetrics(reg, a.pool, ServiceName); err != nil {
		return nil, fmt.Errorf("register pool metrics: %w", err)
	}
	kafkaMetrics := pkgkafka.NewMetrics(reg)

	// Initialize Kafka producer. A nil publisher turns event publishing off.
	var publisher event.Publisher
	if cfg.EventsEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.ProducerConfig{Brokers: cfg.KafkaBrokers}, kafkaMetrics, logger)
		publisher = a.producer
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Build the dependency graph.
	repo := postgres.NewCouponRepository(a.pool)
	eventProducer := event.NewProducer(publisher, logger)
	metrics := service.NewMetrics(reg)

	validatorService := service.NewValidatorService(repo, metrics, logger, nil)
	recorderService := service.NewRecorderService(repo, eventProducer, metrics, logger)
	adminService := service.NewAdminService(repo, eventProducer, logger)
	authService := service.NewAuthService(
		auth.NewTokenManager(cfg.JWTSecret, cfg.JWTAccessExpiry),
		redisrepo.NewRevocationStore(a.redis),
		service.AdminAccount{Email: cfg.AdminEmail, PasswordHash: cfg.AdminPasswordHash},
		logger,
	)
	if cfg.AdminPasswordHash == "" {
		logger.Warn("ADMIN_PASSWORD_HASH is not set, admin login is disabled")
	}

	// Order events consumer.
	if cfg.OrderEventsEnabled {
		a.dlq = pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
		orderConsumer := event.NewConsumer(recorderService, logger)
		handle := pkgkafka.IdempotentHandler(
			redisrepo.NewEventStore(a.redis, cfg.ProcessedEventsTTL),
			orderConsumer.HandleOrderPaid,
			kafkaMetrics.Duplicates.WithLabelValues(event.TopicOrderPaid, event.ConsumerGroup),
			logger,
		)
		a.consumer = pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: event.ConsumerGroup,
			Topic:   event.TopicOrderPaid,
		}, handle, a.dlq, kafkaMetrics, logger)
		logger.Info("order events consumer initialized", slog.String("topic", event.TopicOrderPaid))
	}

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", a.pool.Ping)
	healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
		return a.redis.Ping(ctx).Err()
	})
	if a.producer != nil {
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
	}

	// HTTP router.
	router := handler.NewRouter(handler.RouterDeps{
		Validator: validatorService,
		Recorder:  recorderService,
		Admin:     adminService,
		Auth:      authService,
		Health:    healthHandler,
		Metrics:   middleware.NewHTTPMetrics(reg, handler.ServiceName),
		Gatherer:  reg,
		CORS: middleware.CORSConfig{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowCredentials: true,
		},
		OpsAllowlist:   cfg.OpsAllowedCIDRs,
		EnablePprof:    cfg.EnablePprof,
		RequestTimeout: cfg.RequestTimeout,
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return a, nil
}

// Run starts the HTTP server and the optional consumer, and blocks until
// the context is canceled or the server fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var wg sync.WaitGroup
	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	if a.consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.consumer.Start(consumerCtx); err != nil {
				a.logger.Error("order events consumer stopped", slog.String("error", err.Error()))
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	stopConsumer()
	wg.Wait()

	if err := a.Shutdown(); err != nil {
		return err
	}
	return runErr
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	a.closeResources(shutdownCtx)

	a.logger.Info("application shutdown complete")
	return nil
}

// closeResources releases whatever NewApp managed to open, in reverse order.
func (a *App) closeResources(ctx context.Context) {
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
		}
	}
	if a.dlq != nil {
		if err := a.dlq.Close(); err != nil {
			a.logger.Error("kafka dlq producer close error", slog.String("error", err.Error()))
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(ctx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		}
	}
}
