package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dejobratic/checkout/internal/checkout/adapters"
	httpadapter "github.com/dejobratic/checkout/internal/checkout/adapters/http"
	"github.com/dejobratic/checkout/internal/checkout/adapters/khalti"
	checkoutpostgres "github.com/dejobratic/checkout/internal/checkout/adapters/postgres"
	cartcache "github.com/dejobratic/checkout/internal/checkout/adapters/redis"
	"github.com/dejobratic/checkout/internal/checkout/app"
	checkoutmetrics "github.com/dejobratic/checkout/internal/checkout/metrics"
	"github.com/dejobratic/checkout/internal/config"
	"github.com/dejobratic/checkout/internal/database"
	idempostgres "github.com/dejobratic/checkout/internal/idempotency/postgres"
	"github.com/dejobratic/checkout/internal/kafka"
	"github.com/dejobratic/checkout/internal/outbox"
	"github.com/dejobratic/checkout/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/dejobratic/checkout"

func main() {
	if err := run(); err != nil {
		slog.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, err := telemetry.ParseLevel(cfg.Telemetry.LogLevel)
	if err != nil {
		return err
	}
	logger := telemetry.NewLogger(os.Stdout, level).With("service", cfg.Service.Name)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Initialize(ctx, telemetry.Config{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: cfg.Service.Version,
		Environment:    cfg.Service.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTelEndpoint,
		EnableTracing:  cfg.Telemetry.EnableTracing,
		EnableMetrics:  cfg.Telemetry.EnableMetrics,
		SampleRate:     cfg.Telemetry.SampleRate,
		MetricInterval: cfg.Telemetry.MetricInterval,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()
	meter := tel.Meter(meterName)

	pool, err := database.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("create database pool: %w", err)
	}
	defer pool.Close()

	if err := database.ObservePool(meter, pool); err != nil {
		return fmt.Errorf("observe pool: %w", err)
	}

	if cfg.Database.AutoMigrate {
		logger.Info("running database migrations", "path", cfg.Database.MigrationsPath)
		version, err := database.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsPath)
		if err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("migrations completed", "version", version)
	}

	dbMetrics, err := database.NewMetrics(meter)
	if err != nil {
		return err
	}
	checkoutMetrics, err := checkoutmetrics.NewMetrics(meter)
	if err != nil {
		return err
	}
	httpMetrics, err := httpadapter.NewMetrics(meter)
	if err != nil {
		return err
	}

	gateway := adapters.NewObservableGateway(khalti.NewClient(khalti.Config{
		BaseURL:         cfg.Gateway.BaseURL,
		SecretKey:       cfg.Gateway.SecretKey,
		ReturnURL:       cfg.Gateway.ReturnURL,
		WebsiteURL:      cfg.Gateway.WebsiteURL,
		Timeout:         cfg.Gateway.Timeout,
		BreakerFailures: cfg.Gateway.BreakerFailures,
		BreakerCooldown: cfg.Gateway.BreakerCooldown,
	}, &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}), checkoutMetrics)

	deps := app.Dependencies{
		UnitOfWork:  adapters.NewObservableUnitOfWork(checkoutpostgres.NewUnitOfWork(pool), dbMetrics),
		Gateway:     gateway,
		Classifier:  khalti.ClassifyStatus,
		Idempotency: idempostgres.NewStore(pool),
		Logger:      logger,
		Metrics:     checkoutMetrics,
	}
	if cfg.Gateway.VerifyCallbacks {
		deps.Verifier = gateway
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("cart cache unreachable, continuing without it", "addr", cfg.Redis.Addr, "error", err)
		} else {
			deps.Cache = cartcache.NewCartCache(rdb, cfg.Redis.CartTTL)
		}
	}

	service := app.NewService(deps, app.Config{
		PurchaseOrderPrefix: cfg.Checkout.PurchaseOrderPrefix,
		MaxPaymentAttempts:  cfg.Checkout.MaxPaymentAttempts,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if cfg.Outbox.Enabled {
		publisher, err := newPublisher(cfg.Kafka, meter, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("closing publisher failed", "error", err)
			}
		}()

		outboxMetrics, err := outbox.NewMetrics(registry)
		if err != nil {
			return err
		}
		relay := outbox.NewRelay(outbox.NewPostgresStore(pool), publisher, outboxMetrics, logger, outbox.Config{
			PollInterval:    cfg.Outbox.PollInterval,
			BatchSize:       cfg.Outbox.BatchSize,
			MaxRetryElapsed: cfg.Outbox.MaxRetryElapsed,
		})
		relayDone := relay.Start(ctx)
		// Runs before the publisher and pool are closed.
		defer func() {
			stop()
			<-relayDone
			logger.Info("outbox relay stopped")
		}()
	}

	router := httpadapter.NewRouter(httpadapter.NewHandler(service, logger), httpadapter.RouterConfig{
		Auth:           httpadapter.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Metrics:        httpMetrics,
		Ready:          database.Readiness(pool),
		MetricsPath:    cfg.HTTP.MetricsPath,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           otelhttp.NewHandler(router, "checkout-api"),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownGrace)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("http server stopped")
	return nil
}

// newPublisher returns a Kafka producer when brokers are configured and a logging no-op otherwise.
func newPublisher(cfg config.KafkaConfig, meter metric.Meter, logger *slog.Logger) (kafka.Publisher, error) {
	kafkaMetrics, err := kafka.NewMetrics(meter)
	if err != nil {
		return nil, err
	}

	var publisher kafka.Publisher
	if len(cfg.Brokers) > 0 {
		logger.Info("publishing events to kafka", "brokers", cfg.Brokers)
		publisher = kafka.NewProducer(cfg.Brokers, cfg.ClientID)
	} else {
		logger.Warn("no kafka brokers configured, events are only logged")
		publisher = kafka.NewNoopPublisher(logger)
	}

	return kafka.NewObservablePublisher(publisher, kafkaMetrics), nil
}
