// Package main provides the entry point for the audit server
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/glueful/audit-engine/internal/api/rest"
	"github.com/glueful/audit-engine/internal/audit"
	"github.com/glueful/audit-engine/internal/cache"
	"github.com/glueful/audit-engine/internal/config"
	"github.com/glueful/audit-engine/internal/db"
	"github.com/glueful/audit-engine/internal/export"
	"github.com/glueful/audit-engine/internal/metrics"
	"github.com/glueful/audit-engine/internal/queue"
	"github.com/glueful/audit-engine/internal/ratelimit"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to the YAML configuration file")
		envFile     = flag.String("env-file", ".env", "Optional dotenv file loaded before the environment is read")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "json", "Log format (json, console)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("audit-server %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	logger, err := initLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// A missing dotenv file is not an error
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Fatal("Failed to load env file", zap.String("path", *envFile), zap.Error(err))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Starting audit server",
		zap.String("version", Version),
		zap.String("store", cfg.Store.Driver),
		zap.String("addr", cfg.Server.Addr),
	)

	if err := run(cfg, *configPath, logger); err != nil {
		logger.Fatal("Audit server failed", zap.Error(err))
	}
	logger.Info("Server stopped successfully")
}

func run(cfg *config.Config, configPath string, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Closers run in reverse order on return
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn("Close failed", zap.Error(err))
			}
		}
	}()

	settings, err := cfg.ToSettings()
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	closers = append(closers, store)

	sinks, err := buildSinks(cfg, logger)
	if err != nil {
		return err
	}

	var redisClient redis.UniversalClient
	if needsRedis(cfg) {
		redisClient, err = cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		closers = append(closers, redisClient)
	}

	reportCache, err := cache.NewCache(cache.Options{
		Type:     cache.CacheType(cfg.Cache.Type),
		Capacity: cfg.Cache.Capacity,
		TTL:      cfg.Cache.TTL,
		Redis:    &cfg.Redis,
	})
	if err != nil {
		return fmt.Errorf("create report cache: %w", err)
	}

	var (
		producer audit.EventQueue
		consumer audit.EventSource
	)
	if cfg.Async.Enabled {
		q, src, qClosers, err := openQueue(cfg.Async.Queue, redisClient, logger)
		if err != nil {
			return err
		}
		producer, consumer = q, src
		closers = append(closers, qClosers...)
	}

	var archiver audit.Archiver
	if cfg.Archive.Enabled {
		archiver, err = export.NewMinioArchiver(ctx, cfg.Archive.Minio, logger)
		if err != nil {
			return fmt.Errorf("create archiver: %w", err)
		}
	}

	var m metrics.Metrics = metrics.NewNoOpMetrics()
	if cfg.Server.MetricsEnabled {
		m = metrics.NewPrometheusMetrics("audit")
	}

	svc, err := audit.NewService(settings, audit.Deps{
		Store:    store,
		Sinks:    sinks,
		Queue:    producer,
		Cache:    reportCache,
		Archiver: archiver,
		Logger:   logger,
		Metrics:  m,
	})
	if err != nil {
		return fmt.Errorf("create audit service: %w", err)
	}
	svc.Start(ctx)
	svc.StartRetention(ctx, cfg.Retention.Interval)

	var worker *audit.AsyncWorker
	if consumer != nil {
		worker = audit.NewAsyncWorker(consumer, svc.Deliverer(), logger, m)
		worker.Start(ctx, cfg.Async.Workers)
	}

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, svc, logger)
		if err != nil {
			return fmt.Errorf("create config watcher: %w", err)
		}
		if err := watcher.Watch(ctx); err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		defer watcher.Stop()
	}

	srv, err := newServer(cfg, svc, redisClient, m, logger)
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("rest server: %w", err)
		}
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("REST server shutdown failed", zap.Error(err))
	}

	// Stop the workers and scheduler before flushing the last batch
	cancel()
	if worker != nil {
		worker.Wait()
	}
	if err := svc.Close(shutdownCtx); err != nil {
		logger.Error("Failed to flush audit pipeline", zap.Error(err))
	}
	return nil
}

// openStore opens the configured record store. PostgreSQL schemas are
// migrated when enabled.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (audit.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pg, err := audit.OpenPostgres(ctx, cfg.Store.DSN, cfg.Store.MaxOpenConns)
		if err != nil {
			return nil, err
		}
		if cfg.Store.Migrate {
			// The runner shares the pool, so it is not closed here
			runner, err := db.NewMigrationRunner(pg, logger)
			if err != nil {
				pg.Close()
				return nil, err
			}
			if err := runner.Up(); err != nil {
				pg.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return audit.NewPostgresStore(pg), nil

	default:
		return audit.NewSQLiteStore(cfg.Store.DSN)
	}
}

func buildSinks(cfg *config.Config, logger *zap.Logger) ([]audit.Sink, error) {
	var sinks []audit.Sink

	if cfg.Sinks.File.Enabled {
		s, err := audit.NewFileSink(cfg.Sinks.File.File)
		if err != nil {
			return nil, fmt.Errorf("file sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if cfg.Sinks.Syslog.Enabled {
		s, err := audit.NewSyslogSink(cfg.Sinks.Syslog.Network, cfg.Sinks.Syslog.Address, cfg.Sinks.Syslog.Tag)
		if err != nil {
			return nil, fmt.Errorf("syslog sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if cfg.Sinks.Webhook.Enabled {
		s, err := audit.NewWebhookSink(cfg.Sinks.Webhook.Webhook)
		if err != nil {
			return nil, fmt.Errorf("webhook sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if cfg.Sinks.Log.Enabled {
		sinks = append(sinks, audit.NewLogSink(logger.Named("audit")))
	}

	return sinks, nil
}

func needsRedis(cfg *config.Config) bool {
	switch cache.CacheType(cfg.Cache.Type) {
	case cache.RedisOnly, cache.HybridCacheType:
		return true
	}
	if cfg.Async.Enabled && cfg.Async.Queue.Driver == queue.DriverRedis {
		return true
	}
	return cfg.RateLimit.Enabled && cfg.RateLimit.Backend == ratelimit.BackendRedis
}

// openQueue returns the producer and consumer of the async hand-off
func openQueue(qcfg queue.Config, client redis.UniversalClient, logger *zap.Logger) (audit.EventQueue, audit.EventSource, []io.Closer, error) {
	switch qcfg.Driver {
	case queue.DriverKafka:
		producer, err := queue.NewKafkaQueue(qcfg, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("kafka producer: %w", err)
		}
		consumer, err := queue.NewKafkaConsumer(qcfg)
		if err != nil {
			producer.Close()
			return nil, nil, nil, fmt.Errorf("kafka consumer: %w", err)
		}
		return producer, consumer, []io.Closer{producer, consumer}, nil

	default:
		q := queue.NewRedisQueue(client, qcfg)
		return q, q, nil, nil
	}
}

func newServer(cfg *config.Config, svc *audit.Service, client redis.UniversalClient, m metrics.Metrics, logger *zap.Logger) (*rest.Server, error) {
	restCfg := rest.DefaultConfig()
	restCfg.Addr = cfg.Server.Addr
	restCfg.ReadTimeout = cfg.Server.ReadTimeout
	restCfg.WriteTimeout = cfg.Server.WriteTimeout
	restCfg.EnableCORS = cfg.Server.EnableCORS
	restCfg.Version = Version

	if cfg.Server.MetricsEnabled {
		restCfg.Metrics = m.HTTPHandler()
	}

	if cfg.Auth.Enabled {
		auth, err := rest.NewAuthenticator(rest.AuthConfig{
			Secret:   cfg.Auth.JWTSecret,
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
		})
		if err != nil {
			return nil, err
		}
		restCfg.Auth = auth
	}

	if cfg.RateLimit.Enabled {
		limiter, err := ratelimit.New(&cfg.RateLimit, client)
		if err != nil {
			return nil, fmt.Errorf("create rate limiter: %w", err)
		}
		restCfg.Limiter = limiter
	}

	return rest.New(restCfg, svc, logger)
}

// initLogger initializes the zap logger
func initLogger(level, format string) (*zap.Logger, error) {
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

	var zapConfig zap.Config
	if format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(zapLevel)

	return zapConfig.Build()
}
