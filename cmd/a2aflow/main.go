package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aescanero/a2aflow/internal/application/orchestrator"
	"github.com/aescanero/a2aflow/internal/application/workers"
	"github.com/aescanero/a2aflow/internal/config"
	"github.com/aescanero/a2aflow/internal/directory"
	"github.com/aescanero/a2aflow/internal/engine"
	"github.com/aescanero/a2aflow/internal/rpc"
	compositesfile "github.com/aescanero/a2aflow/pkg/adapters/composites/file"
	compositesmemory "github.com/aescanero/a2aflow/pkg/adapters/composites/memory"
	compositesredis "github.com/aescanero/a2aflow/pkg/adapters/composites/redis"
	eventsmemory "github.com/aescanero/a2aflow/pkg/adapters/events/memory"
	eventsredis "github.com/aescanero/a2aflow/pkg/adapters/events/redis"
	"github.com/aescanero/a2aflow/pkg/adapters/metrics/prometheus"
	storagememory "github.com/aescanero/a2aflow/pkg/adapters/storage/memory"
	storageredis "github.com/aescanero/a2aflow/pkg/adapters/storage/redis"
	"github.com/aescanero/a2aflow/pkg/api/grpc"
	"github.com/aescanero/a2aflow/pkg/api/http"
	"github.com/aescanero/a2aflow/pkg/api/websocket"
	"github.com/aescanero/a2aflow/pkg/ports"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting a2aflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	ctx := context.Background()

	var redisClient *goredis.Client
	if cfg.UsesRedis() {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	compositeStore, err := newCompositeStore(cfg, redisClient, logger)
	if err != nil {
		logger.Fatal("failed to create composite store", zap.Error(err))
	}
	executionStore := newExecutionStore(cfg, redisClient, logger)
	eventBus := newEventBus(cfg, redisClient, logger)

	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsCollector := prometheus.NewCollector(registry)

	slow, err := cfg.RPC.ParseSlowMethods()
	if err != nil {
		logger.Fatal("invalid slow method overrides", zap.Error(err))
	}
	overrides := make(map[string]rpc.Timeouts, len(slow))
	for ref, read := range slow {
		overrides[ref] = rpc.Timeouts{Read: read}
	}
	rpcClient := rpc.NewClient(rpc.Config{
		Timeouts: rpc.Timeouts{
			Connect: cfg.RPC.ConnectTimeout,
			Write:   cfg.RPC.WriteTimeout,
			Pool:    cfg.RPC.PoolTimeout,
			Read:    cfg.RPC.ReadTimeout,
		},
		Overrides:    overrides,
		MaxBodyBytes: cfg.RPC.MaxBodyBytes,
	}, logger)

	dir := directory.New(directory.Config{
		RegistryURL: cfg.Directory.RegistryURL,
		CacheTTL:    cfg.Directory.CacheTTL,
		Timeout:     cfg.Directory.Timeout,
	}, rpcClient, compositeStore, logger)

	if n, err := dir.Refresh(ctx); err != nil {
		logger.Warn("capability directory not reachable at startup", zap.Error(err))
	} else {
		logger.Info("capability directory loaded", zap.Int("capabilities", n))
	}

	eng := engine.New(engine.Config{
		FanOutConcurrency: cfg.Engine.FanOutConcurrency,
		MaxDepth:          cfg.Engine.MaxDepth,
	}, dir, rpcClient, metricsCollector, logger)

	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		cfg.Workers.QueueSize,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
	)

	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	orchestratorMgr := orchestrator.NewManager(orchestrator.Options{
		Executor:         eng,
		Store:            executionStore,
		EventBus:         eventBus,
		Metrics:          metricsCollector,
		Queue:            workerPool,
		Validator:        orchestrator.NewValidator(dir),
		Logger:           logger,
		ExecutionTimeout: cfg.Timeouts.ExecutionTimeout,
	})
	workerPool.Health().TrackExecutions(orchestratorMgr)

	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orchestratorMgr,
		Capabilities: dir,
		Composites:   compositeStore,
		Health:       workerPool.Health(),
		Gatherer:     registry,
		Logger:       logger,
	})

	wsHandler := websocket.NewHandler(eventBus, orchestratorMgr, logger)
	httpServer.SetupWebSocket(wsHandler.HandleExecutionStream)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:          cfg.GRPCPort,
		Ready:         workerPool.Health().IsHealthy,
		CheckInterval: cfg.Workers.HealthCheckInterval,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("a2aflow started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize),
		zap.String("composite_store", cfg.Storage.CompositeStore),
		zap.String("execution_store", cfg.Storage.ExecutionStore),
		zap.String("event_bus", cfg.Storage.EventBus))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	rpcClient.Close()

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("a2aflow shut down complete")
}

func newCompositeStore(cfg *config.Config, client *goredis.Client, logger *zap.Logger) (ports.CompositeStore, error) {
	switch cfg.Storage.CompositeStore {
	case config.BackendRedis:
		return compositesredis.NewStore(client, logger), nil
	case config.BackendFile:
		return compositesfile.NewStore(cfg.Storage.CompositeDir, logger)
	default:
		return compositesmemory.NewStore(), nil
	}
}

func newExecutionStore(cfg *config.Config, client *goredis.Client, logger *zap.Logger) ports.ExecutionStore {
	if cfg.Storage.ExecutionStore == config.BackendRedis {
		return storageredis.NewExecutionStore(client, cfg.Storage.ExecutionTTL, logger)
	}
	return storagememory.NewExecutionStore()
}

func newEventBus(cfg *config.Config, client *goredis.Client, logger *zap.Logger) ports.EventBus {
	if cfg.Storage.EventBus == config.BackendRedis {
		return eventsredis.NewStreamsEventBus(client, logger)
	}
	return eventsmemory.NewEventBus(logger)
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
