package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisClient "github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"market-feed/internal/config"
	"market-feed/internal/delivery/handler"
	"market-feed/internal/delivery/router"
	"market-feed/internal/hub"
	"market-feed/internal/infrastructure/cache"
	"market-feed/internal/infrastructure/metrics"
	"market-feed/internal/messaging"
	kafkapub "market-feed/internal/messaging/kafka"
	"market-feed/internal/messaging/noop"
	"market-feed/internal/repository"
	"market-feed/internal/service"
	"market-feed/internal/validation"
	"market-feed/pkg/database"
	"market-feed/pkg/logger"
	"market-feed/pkg/utils"
)

func main() {
	cfg := config.MustLoadConfig()

	loggers, err := logger.SetupLogger(cfg.Logger.Level)
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}
	loggers.InfoLogger.Info("Logger initialized")

	tracerProvider := setupTracer(cfg, loggers)
	defer shutdownTracer(tracerProvider, loggers)

	registry := metrics.NewRegistry()
	handlerMetrics := metrics.NewHandlerMetrics(registry)
	serviceMetrics := metrics.NewServiceMetrics(registry)
	repositoryMetrics := metrics.NewRepositoryMetrics(registry)
	hubMetrics := metrics.NewHubMetrics(registry)
	loggers.InfoLogger.Info("Prometheus metrics initialized")

	listingRepo, cleanupStore := setupStore(cfg, loggers, repositoryMetrics)
	defer cleanupStore()

	events, cleanupEvents := setupEvents(cfg, loggers)
	defer cleanupEvents()

	listingHub := hub.New(loggers.InfoLogger,
		hub.WithBufferSize(cfg.Hub.BufferSize),
		hub.WithMaxSessions(cfg.Hub.MaxSessions),
		hub.WithMetrics(hubMetrics),
	)
	defer listingHub.Close()

	validator := validation.New(
		validation.WithPricePolicy(validation.PricePolicy(cfg.Validation.PricePolicy)),
		validation.WithRequiredCategory(cfg.Validation.RequireCategory),
		validation.WithMaxLengths(cfg.Validation.MaxTitleLength, cfg.Validation.MaxDescriptionLength),
	)

	listingService := service.NewListingService(validator, listingRepo, listingHub, events, loggers, serviceMetrics)
	feedReader := service.NewFeedReader(listingRepo, cfg.Feed.DefaultLimit, cfg.Feed.MaxLimit, serviceMetrics)
	loggers.InfoLogger.Info("Service and repository layers initialized")

	listingHandler := handler.NewListingHandler(listingService, feedReader, listingHub, loggers, handlerMetrics, cfg.Hub.Heartbeat)
	r := router.NewRouter(listingHandler, handlerMetrics, cfg.HTTP.AllowedOrigins)
	loggers.InfoLogger.Info("Router and routes initialized")

	server := startServer(cfg, r, loggers)

	waitForShutdown(cfg, server, listingHub, loggers)
}

// setupStore opens the configured listing store, wrapped in the Redis cache
// when enabled. The cleanup closes everything it opened, store first.
func setupStore(cfg *config.Config, loggers *logger.Loggers, m *metrics.RepositoryMetrics) (repository.ListingRepository, func()) {
	var (
		repo     repository.ListingRepository
		closers  []func() error
		closeErr = func(what string, err error) {
			if err != nil {
				loggers.ErrorLogger.Error("Failed to close "+what, utils.Err(err))
			}
		}
	)

	switch cfg.Store.Driver {
	case "file":
		fileRepo, err := repository.NewFileListingRepository(cfg.Store.Path,
			repository.WithMetrics(m),
			repository.WithLogger(loggers.ErrorLogger),
		)
		if err != nil {
			loggers.ErrorLogger.Error("Failed to open listing file", utils.Err(err))
			os.Exit(1)
		}
		repo = fileRepo
		loggers.InfoLogger.Info("Opened file listing store", "path", cfg.Store.Path)

	default:
		db, err := database.NewDatabase(cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			loggers.ErrorLogger.Error("Failed to connect to database", utils.Err(err))
			os.Exit(1)
		}
		closers = append(closers, db.Close)

		if err := repository.Migrate(context.Background(), db); err != nil {
			loggers.ErrorLogger.Error("Failed to apply database schema", utils.Err(err))
			os.Exit(1)
		}
		repo = repository.NewSQLListingRepository(db, repository.WithMetrics(m))
		loggers.InfoLogger.Info("Connected to database", "driver", cfg.Store.Driver)
	}

	if cfg.Redis.Enabled {
		rdb := redisClient.NewClient(&redisClient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		if _, err := rdb.Ping(context.Background()).Result(); err != nil {
			loggers.ErrorLogger.Error("Failed to connect to Redis", utils.Err(err))
			os.Exit(1)
		}
		loggers.InfoLogger.Info("Connected to Redis")

		closers = append(closers, rdb.Close)
		repo = repository.NewCachedListingRepository(repo, cache.NewRedisCache(rdb), cfg.Redis.TTL, loggers.ErrorLogger, m)
	}

	cleanup := func() {
		closeErr("listing store", repo.Close())
		for i := len(closers) - 1; i >= 0; i-- {
			closeErr("store connection", closers[i]())
		}
	}

	return repo, cleanup
}

func setupEvents(cfg *config.Config, loggers *logger.Loggers) (messaging.EventPublisher, func()) {
	if !cfg.Kafka.Enabled {
		return noop.Publisher{}, func() {}
	}

	publisher := kafkapub.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	loggers.InfoLogger.Info("Kafka publisher initialized", "topic", cfg.Kafka.Topic)

	cleanup := func() {
		if err := publisher.Close(); err != nil {
			loggers.ErrorLogger.Error("Failed to close Kafka publisher", utils.Err(err))
		}
	}
	return publisher, cleanup
}

func setupTracer(cfg *config.Config, loggers *logger.Loggers) *sdktrace.TracerProvider {
	if !cfg.Tracing.Enabled {
		return nil
	}

	tracerProvider, err := metrics.InitTracer(metrics.TracerConfig{
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		Version:     cfg.Tracing.Version,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		loggers.ErrorLogger.Error("Failed to initialize tracer", utils.Err(err))
		os.Exit(1)
	}
	loggers.InfoLogger.Info("OpenTelemetry Tracer initialized")
	return tracerProvider
}

func shutdownTracer(tp *sdktrace.TracerProvider, loggers *logger.Loggers) {
	if tp == nil {
		return
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		loggers.ErrorLogger.Error("Failed to shut down tracer provider", utils.Err(err))
	}
}

func startServer(cfg *config.Config, handler http.Handler, loggers *logger.Loggers) *http.Server {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.Timeout,
		WriteTimeout: cfg.HTTP.Timeout,
	}

	go func() {
		loggers.InfoLogger.Info("Starting server", "port", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			loggers.ErrorLogger.Error("Failed to start server", utils.Err(err))
			os.Exit(1)
		}
	}()

	return server
}

func waitForShutdown(cfg *config.Config, server *http.Server, listingHub *hub.Hub, loggers *logger.Loggers) {
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	<-shutdownCh
	loggers.InfoLogger.Info("Shutdown signal received, shutting down gracefully")

	timeout := cfg.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Streams never finish on their own; closing the hub ends them so
	// Shutdown can drain the rest.
	server.RegisterOnShutdown(listingHub.Close)

	if err := server.Shutdown(ctx); err != nil {
		loggers.ErrorLogger.Error("Server forced to shutdown", utils.Err(err))
	} else {
		loggers.InfoLogger.Info("Server shutdown gracefully")
	}
}
