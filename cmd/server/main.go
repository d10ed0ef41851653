package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/checkout/internal/adapter/events"
	"github.com/rl1809/checkout/internal/adapter/handler"
	"github.com/rl1809/checkout/internal/adapter/storage"
	"github.com/rl1809/checkout/internal/config"
	"github.com/rl1809/checkout/internal/core/service"
	"github.com/rl1809/checkout/internal/logger"
	"github.com/rl1809/checkout/internal/metrics"
	"github.com/rl1809/checkout/internal/port"
	"github.com/rl1809/checkout/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, zl *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize MySQL
	db, err := storage.OpenMySQL(ctx, cfg.MySQL.DSN, storage.PoolConfig{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	zl.Info("connected to mysql")

	if cfg.MySQL.AutoMigrate {
		if err := storage.RunMigrations(db); err != nil {
			return err
		}
		zl.Info("migrations applied")
	}
	mysqlAdapter := storage.NewMySQLAdapter(db)

	// Initialize Redis
	var idempotency port.IdempotencyStore
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			zl.Warn("redis unreachable, relying on breaker until it recovers", zap.Error(err))
		} else {
			zl.Info("connected to redis")
		}

		idempotency = storage.NewBreakerIdempotencyStore(
			storage.NewRedisAdapter(rdb, cfg.Checkout.IdempotencyPending, cfg.Checkout.IdempotencyReplay),
			storage.BreakerSettings{
				ConsecutiveFailures: cfg.Redis.BreakerFailures,
				OpenTimeout:         cfg.Redis.BreakerTimeout,
			},
			zl,
		)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	checkoutService := service.NewCheckoutService(service.Dependencies{
		Catalog:     mysqlAdapter,
		UoW:         mysqlAdapter,
		Orders:      mysqlAdapter,
		Idempotency: idempotency,
		Metrics:     m,
		Logger:      zl,
		Timeout:     cfg.Checkout.Timeout,
	})

	// Start outbox relay
	var wg sync.WaitGroup
	if brokers := events.ParseBrokers(cfg.Kafka.Brokers); len(brokers) > 0 {
		publisher := events.NewKafkaPublisher(brokers, cfg.Kafka.PublishTimeout)
		defer publisher.Close()

		relay := worker.NewOutboxRelay(mysqlAdapter, publisher, m, zl, worker.RelayConfig{
			PollInterval:   cfg.Kafka.PollInterval,
			BatchSize:      cfg.Kafka.BatchSize,
			Workers:        cfg.Kafka.Workers,
			PublishTimeout: cfg.Kafka.PublishTimeout,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Run(ctx)
		}()
		zl.Info("started outbox relay", zap.Strings("brokers", brokers), zap.Int("workers", cfg.Kafka.Workers))
	} else {
		zl.Warn("kafka brokers not configured, outbox events stay unpublished")
	}

	errCh := make(chan error, 2)

	// Initialize gRPC server
	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		grpcServer = grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryLoggingInterceptor(zl)))
		handler.RegisterCheckoutServer(grpcServer, handler.NewGRPCHandler(checkoutService, zl))

		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}

		go func() {
			zl.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	// Initialize HTTP server
	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		httpHandler := handler.NewHTTPHandler(checkoutService, handler.HTTPOptions{
			Metrics:      m,
			Gatherer:     reg,
			Logger:       zl,
			MaxBodyBytes: cfg.Checkout.MaxRequestBodyBytes,
		})
		httpServer = &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: httpHandler.Routes(),
		}

		go func() {
			zl.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-quit:
		zl.Info("shutting down", zap.String("signal", sig.String()))
	case serveErr = <-errCh:
		zl.Error("server failed, shutting down", zap.Error(serveErr))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			zl.Warn("HTTP shutdown", zap.Error(err))
		}
		zl.Info("HTTP server stopped")
	}

	if grpcServer != nil {
		grpcServer.GracefulStop()
		zl.Info("gRPC server stopped")
	}

	// Stop the relay and wait for in-flight publishes
	cancel()
	wg.Wait()
	zl.Info("workers stopped")

	return serveErr
}
