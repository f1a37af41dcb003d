// Package main is the entry point for the txgate worker. It wires all
// dependencies together and starts the HTTP trigger server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/copperline/txgate/internal/activity"
	"github.com/copperline/txgate/internal/config"
	"github.com/copperline/txgate/internal/history"
	"github.com/copperline/txgate/internal/observability"
	"github.com/copperline/txgate/internal/orchestration"
	"github.com/copperline/txgate/internal/policy"
	"github.com/copperline/txgate/internal/routing"
	"github.com/copperline/txgate/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0"
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	store, cleanup, err := buildStore(ctx, cfg.Store)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}
	defer cleanup()

	policies, err := policy.NewStaticStore(cfg.Policies.File)
	if err != nil {
		logger.Error("policy store initialization failed", zap.Error(err))
		return 1
	}

	router, err := buildRouter(cfg, logger)
	if err != nil {
		logger.Error("broker initialization failed", zap.Error(err))
		return 1
	}

	registry := activity.NewRegistry()
	activity.RegisterAll(registry, policies, router, logger)

	invoker := activity.NewInvoker(registry, activity.RetryPolicy{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		BackoffInitial:    cfg.Retry.BackoffInitial,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		BackoffMax:        cfg.Retry.BackoffMax,
	}, logger, metrics)

	executor := orchestration.NewExecutor(store, invoker, logger, metrics)
	runner := orchestration.NewRunner(executor, cfg.Runner.Workers, cfg.Runner.QueueDepth, logger)
	runner.Start(ctx)
	defer runner.Stop()

	if err := runner.Resume(ctx); err != nil {
		logger.Error("resuming in-flight workflows failed", zap.Error(err))
		return 1
	}

	handler := transport.NewHandler(executor, runner, store, logger)
	httpRouter := transport.NewRouter(transport.Dependencies{
		Handler:     handler,
		Logger:      logger,
		MetricsPath: cfg.Observability.MetricsPath,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("txgate listening",
			zap.String("version", version),
			zap.Int("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Driver),
			zap.String("broker", cfg.Broker.Driver),
		)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
		return 1
	}
	return 0
}

// buildStore creates the configured history store.
func buildStore(ctx context.Context, cfg config.StoreConfig) (history.Store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("store: %s is not set", cfg.DSNEnv)
		}
		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("store: parse dsn: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("store: connect: %w", err)
		}
		return history.NewPgStore(pool), pool.Close, nil
	default:
		return history.NewMemoryStore(), func() {}, nil
	}
}

// buildRouter creates the configured message router, wrapping it with the
// dedup table when one is enabled.
func buildRouter(cfg *config.Config, logger *zap.Logger) (routing.Router, error) {
	var router routing.Router

	switch cfg.Broker.Driver {
	case "nats":
		url := os.Getenv(cfg.Broker.URLEnv)
		if url == "" {
			url = nats.DefaultURL
		}
		conn, err := nats.Connect(url,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("broker: connect %s: %w", url, err)
		}
		js, err := conn.JetStream()
		if err != nil {
			return nil, fmt.Errorf("broker: jetstream: %w", err)
		}
		router, err = routing.NewNatsRouter(js, map[routing.Destination]string{
			routing.ProcessingQueue:   cfg.Broker.ProcessingSubject,
			routing.AlertSink:         cfg.Broker.AlertSubject,
			routing.OperationsChannel: cfg.Broker.OperationsSubject,
		})
		if err != nil {
			return nil, err
		}
	default:
		router = routing.NewMemoryBroker()
	}

	if !cfg.Dedup.Enabled {
		return router, nil
	}

	var dedup routing.DedupStore
	switch cfg.Dedup.Driver {
	case "redis":
		addr := os.Getenv(cfg.Dedup.AddrEnv)
		if addr == "" {
			return nil, fmt.Errorf("dedup: %s is not set", cfg.Dedup.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.Dedup.DB})
		dedup = routing.NewRedisDedupStore(client)
	default:
		dedup = routing.NewMemoryDedupStore()
	}

	logger.Info("publish deduplication enabled", zap.String("driver", cfg.Dedup.Driver))
	return routing.NewDedupRouter(router, dedup, cfg.Dedup.TTL), nil
}
