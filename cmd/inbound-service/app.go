package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq" // PostgreSQL driver

	"deskrelay/internal/config"
	"deskrelay/internal/constants"
	"deskrelay/internal/ingest"
	"deskrelay/internal/logger"
	"deskrelay/internal/notify"
	"deskrelay/pkg/bootstrap"
	"deskrelay/pkg/circuitbreaker"
	"deskrelay/pkg/health"
	"deskrelay/pkg/metrics"
	"deskrelay/pkg/middleware"
	"deskrelay/pkg/migrations"
	"deskrelay/pkg/ratelimit"
	"deskrelay/pkg/tracing"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redisClient    *redis.Client
	server         *http.Server
	router         *gin.Engine
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("inbound-service")
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitBroker(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, "inbound-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterIngestMetrics()
	if a.Config.RateLimit.Enabled {
		metrics.RegisterRateLimitMetrics()
	}
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initRouter(ctx); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds * time.Second,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds * time.Second,
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if a.Config.Database.RunMigrations {
		if err := migrations.RunPostgres(a.db, a.Config.Database.MigrationsPath, a.Logger); err != nil {
			return err
		}
	}

	redisClient, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "Redis connection failed, duplicate detection falls back to the database constraint",
			"error", err,
		)
	} else {
		a.redisClient = redisClient
	}

	return nil
}

func (a *App) initRouter(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware("inbound-service"))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.Config.RateLimit.Enabled {
		rateLimitConfig := ratelimit.RateLimitConfig{
			RPS:             a.Config.RateLimit.RPS,
			Burst:           a.Config.RateLimit.Burst,
			CleanupInterval: time.Duration(a.Config.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.Config.RateLimit.MaxAge) * time.Second,
		}
		router.Use(ratelimit.RateLimitMiddleware(rateLimitConfig))
		a.Logger.InfowCtx(ctx, "Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	service, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}

	handler := ingest.NewHandler(service, a.maxPayloadBytes(), a.Logger)
	handler.RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	if a.redisClient != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.router = router
	return nil
}

func (a *App) buildPipeline(ctx context.Context) (*ingest.Service, error) {
	webhook := a.Config.Webhook

	policy := ingest.Enforce
	if webhook.SkipVerification {
		a.Logger.WarnwCtx(ctx, "Webhook signature verification is DISABLED")
		policy = ingest.SkipForTesting
	}

	window := time.Duration(webhook.TimestampWindowSeconds) * time.Second
	if window <= 0 {
		window = constants.DefaultTimestampWindow
	}

	verifier := ingest.NewVerifier(webhook.SigningSecret, policy, window, a.Logger)
	extractor := ingest.NewExtractor(a.maxPayloadBytes(), a.Logger)

	classifier, err := ingest.NewClassifier(webhook.ClassifierRules, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build classifier: %w", err)
	}

	var dedup ingest.DedupStore
	if a.redisClient != nil {
		ttl := time.Duration(a.Config.Database.Redis.TTLSeconds) * time.Second
		dedup = ingest.NewRedisDedupStore(a.redisClient, ttl)
	}

	var breaker *circuitbreaker.Wrapper
	if a.Config.CircuitBreaker.Enabled {
		breaker = circuitbreaker.NewWrapper(a.breakerConfig())
	}

	mailer := notify.NewMailer(
		a.Config.Notifications.RelayBaseURL,
		a.Config.Notifications.RelayAPIKey,
		time.Duration(a.Config.Notifications.TimeoutSeconds)*time.Second,
		a.Logger,
	)
	dispatcher := ingest.NewDispatcher(mailer, breaker, a.Logger)

	var events ingest.EventPublisher
	if a.Producer != nil {
		topic := a.Config.Broker.Kafka.EventsTopic
		if topic == "" {
			topic = constants.DefaultEventsTopic
		}
		events = ingest.NewKafkaEventPublisher(a.Producer, topic, a.Logger)
	}

	minContent := webhook.MinContentBytes
	if minContent <= 0 {
		minContent = constants.DefaultMinContentBytes
	}

	return ingest.NewService(ingest.ServiceDeps{
		Verifier:        verifier,
		Extractor:       extractor,
		Classifier:      classifier,
		Tickets:         ingest.NewTicketRepository(a.db),
		Messages:        ingest.NewMessageRepository(a.db),
		Dedup:           dedup,
		Dispatcher:      dispatcher,
		Events:          events,
		MinContentBytes: minContent,
		Logger:          a.Logger,
	}), nil
}

func (a *App) maxPayloadBytes() int64 {
	if a.Config.Webhook.MaxPayloadBytes > 0 {
		return a.Config.Webhook.MaxPayloadBytes
	}
	return constants.DefaultMaxPayloadBytes
}

func (a *App) breakerConfig() circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig("notification-relay")

	cb := a.Config.CircuitBreaker
	if cb.MaxRequests > 0 {
		cfg.MaxRequests = cb.MaxRequests
	}
	if cb.Interval > 0 {
		cfg.Interval = cb.Interval
	}
	if cb.Timeout > 0 {
		cfg.Timeout = cb.Timeout
	}
	if cb.FailureRatio > 0 && cb.MinRequests > 0 {
		cfg.ReadyToTrip = func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cb.MinRequests && failureRatio >= cb.FailureRatio
		}
	}

	return cfg
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "Server listening", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		return a.ShutdownApp(gCtx)
	})

	return g.Wait()
}

func (a *App) ShutdownApp(ctx context.Context) error {
	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.db)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
