// Package app wires the checkout service together and runs its HTTP server.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/shop-checkout/internal/cache"
	"github.com/xenking/shop-checkout/internal/domain/auth"
	"github.com/xenking/shop-checkout/internal/domain/coupon"
	"github.com/xenking/shop-checkout/internal/domain/order"
	"github.com/xenking/shop-checkout/internal/domain/pricing"
	"github.com/xenking/shop-checkout/internal/domain/product"
	"github.com/xenking/shop-checkout/internal/events"
	"github.com/xenking/shop-checkout/internal/handler"
	"github.com/xenking/shop-checkout/internal/repository"
	"github.com/xenking/shop-checkout/pkg/health"
	"github.com/xenking/shop-checkout/pkg/httpmiddleware"
)

const serviceName = "shop-checkout"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	if err := repository.RunMigrations(cfg.DatabaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	svc, err := build(ctx, lg, m, cfg, pool)
	if err != nil {
		return err
	}
	defer svc.close()

	svc.health.Start(ctx, 10*time.Second)
	svc.health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		svc.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		svc.health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// service is the assembled HTTP service.
type service struct {
	handler http.Handler
	health  *health.Health
	closers []func()
}

func (s *service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// build wires repositories, optional Redis and Kafka, domain services and
// the middleware chain on top of pool. Health checks are registered but not
// started.
func build(
	ctx context.Context,
	lg *zap.Logger,
	t httpmiddleware.TelemetryProvider,
	cfg *Config,
	pool *pgxpool.Pool,
) (*service, error) {
	rules, err := cfg.Pricing.Rules()
	if err != nil {
		return nil, errors.Wrap(err, "pricing rules")
	}

	svc := &service{health: health.New(lg.Named("health"))}
	svc.health.AddReadinessCheck("postgres", health.PingCheck(pool))
	svc.health.AddLivenessCheck("goroutines", health.GoroutineCountCheck(10000), health.WithTimeout(time.Second))
	svc.health.AddLivenessCheck("gc_pause", health.GCMaxPauseCheck(time.Second), health.WithTimeout(time.Second))

	// Repositories.
	productRepo := repository.NewProductRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)

	var (
		products   product.Repository = productRepo
		publishers events.Fanout
		limiter    httpmiddleware.Limiter
	)

	// Redis: product cache and the shared rate limiter.
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		svc.closers = append(svc.closers, func() { _ = rdb.Close() })

		productCache := cache.NewProductCache(productRepo, rdb, cfg.Redis.TTL)
		products = productCache
		publishers = append(publishers, productCache)
		limiter = httpmiddleware.NewRedisLimiter(rdb, cfg.RateLimit.Max, cfg.RateLimit.Window)
		svc.health.AddReadinessCheck("redis", health.RedisCheck(rdb))
		lg.Info("Redis enabled", zap.String("addr", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.TTL))
	} else {
		memLimiter := httpmiddleware.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
		cleanupCtx, cancel := context.WithCancel(ctx)
		go memLimiter.RunCleanup(cleanupCtx)
		svc.closers = append(svc.closers, cancel)
		limiter = memLimiter
	}

	// Kafka: order lifecycle events.
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		svc.closers = append(svc.closers, func() {
			if err := kp.Close(); err != nil {
				lg.Warn("Close kafka publisher", zap.Error(err))
			}
		})
		publishers = append(publishers, kp)
		svc.health.AddReadinessCheck("kafka", health.KafkaCheck(cfg.Kafka.Brokers),
			health.WithThresholds(5, 1),
		)
		lg.Info("Kafka enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	metrics, err := order.NewMetrics(t.MeterProvider().Meter("github.com/xenking/shop-checkout/internal/domain/order"))
	if err != nil {
		svc.close()
		return nil, errors.Wrap(err, "create order metrics")
	}

	// Domain services.
	couponService := coupon.NewService(couponRepo)
	orderService := order.NewService(
		products,
		couponService,
		orderRepo,
		pricing.NewCalculator(rules),
		order.WithEvents(publishers),
		order.WithMetrics(metrics),
	)
	authenticator := auth.NewAuthenticator(apikeyRepo, []byte(cfg.APIKeyPepper))

	// HTTP: API routes and health endpoints on one router.
	router := handler.New(
		handler.Config{ImageBaseURL: cfg.ImageBaseURL},
		products,
		orderService,
		couponService,
		authenticator,
	).Routes()
	router.Get("/livez", svc.health.LiveEndpoint)
	router.Get("/readyz", svc.health.ReadyEndpoint)

	routeFinder := httpmiddleware.MakeRouteFinder(router)
	svc.handler = httpmiddleware.Wrap(router,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}, limiter),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument(serviceName, routeFinder, t),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.Labeler(routeFinder),
	)
	return svc, nil
}
