// Command server starts the wavecrate upload API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"wavecrate/internal/api"
	"wavecrate/internal/catalog"
	"wavecrate/internal/cleanup"
	"wavecrate/internal/config"
	"wavecrate/internal/delivery"
	"wavecrate/internal/media"
	"wavecrate/internal/objectstore"
	"wavecrate/internal/observability/logging"
	"wavecrate/internal/observability/metrics"
	"wavecrate/internal/server"
	"wavecrate/internal/sessionstore"
	"wavecrate/internal/upload"

	"golang.org/x/time/rate"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	addr := flag.String("addr", "", "HTTP listen address")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	redisAddr := flag.String("redis-addr", "", "Redis address for the session store")
	storageEndpoint := flag.String("storage-endpoint", "", "S3-compatible storage endpoint")
	storageBucket := flag.String("storage-bucket", "", "object storage bucket")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres DSN for the finalized-object catalog")
	pipelineEndpoint := flag.String("pipeline-endpoint", "", "media pipeline endpoint")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	cleanupInterval := flag.Duration("cleanup-interval", 0, "interval between cleanup sweeps")
	flag.Parse()

	cfg, err := config.Load(firstNonEmpty(*configPath, os.Getenv("WAVECRATE_CONFIG")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	cfg.Server.Addr = firstNonEmpty(*addr, os.Getenv("WAVECRATE_ADDR"), cfg.Server.Addr)
	cfg.Server.TLSCert = firstNonEmpty(*tlsCert, os.Getenv("WAVECRATE_TLS_CERT"), cfg.Server.TLSCert)
	cfg.Server.TLSKey = firstNonEmpty(*tlsKey, os.Getenv("WAVECRATE_TLS_KEY"), cfg.Server.TLSKey)
	cfg.Logging.Level = firstNonEmpty(*logLevel, os.Getenv("WAVECRATE_LOG_LEVEL"), cfg.Logging.Level)
	cfg.Logging.Format = firstNonEmpty(*logFormat, os.Getenv("WAVECRATE_LOG_FORMAT"), cfg.Logging.Format)
	cfg.Redis.Addr = firstNonEmpty(*redisAddr, os.Getenv("WAVECRATE_REDIS_ADDR"), cfg.Redis.Addr)
	cfg.Redis.Password = firstNonEmpty(os.Getenv("WAVECRATE_REDIS_PASSWORD"), cfg.Redis.Password)
	cfg.Storage.Endpoint = firstNonEmpty(*storageEndpoint, os.Getenv("WAVECRATE_STORAGE_ENDPOINT"), cfg.Storage.Endpoint)
	cfg.Storage.Bucket = firstNonEmpty(*storageBucket, os.Getenv("WAVECRATE_STORAGE_BUCKET"), cfg.Storage.Bucket)
	cfg.Storage.AccessKey = firstNonEmpty(os.Getenv("WAVECRATE_STORAGE_ACCESS_KEY"), cfg.Storage.AccessKey)
	cfg.Storage.SecretKey = firstNonEmpty(os.Getenv("WAVECRATE_STORAGE_SECRET_KEY"), cfg.Storage.SecretKey)
	cfg.Catalog.PostgresDSN = firstNonEmpty(*postgresDSN, os.Getenv("WAVECRATE_POSTGRES_DSN"), cfg.Catalog.PostgresDSN)
	cfg.Pipeline.Endpoint = firstNonEmpty(*pipelineEndpoint, os.Getenv("WAVECRATE_PIPELINE_ENDPOINT"), cfg.Pipeline.Endpoint)
	cfg.Delivery.SigningSecret = firstNonEmpty(os.Getenv("WAVECRATE_DELIVERY_SIGNING_SECRET"), cfg.Delivery.SigningSecret)
	cfg.Cleanup.Interval = resolveDuration(*cleanupInterval, "WAVECRATE_CLEANUP_INTERVAL", cfg.Cleanup.Interval)

	logger := logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	recorder := metrics.New()
	ctx := context.Background()

	// Session store: Redis when configured, in-memory degraded mode otherwise.
	var (
		store       sessionstore.Store
		storeProbe  api.Pinger
		storeCloser func() error
	)
	if cfg.Redis.Addr != "" || len(cfg.Redis.Addrs) > 0 {
		redisStore, err := sessionstore.NewRedisStore(sessionstore.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Addrs:        cfg.Redis.Addrs,
			Username:     cfg.Redis.Username,
			Password:     cfg.Redis.Password,
			MasterName:   cfg.Redis.MasterName,
			KeyPrefix:    cfg.Redis.KeyPrefix,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			Logger:       logging.WithComponent(logger, "sessionstore"),
			TLS: sessionstore.RedisTLSConfig{
				CAFile:             cfg.Redis.TLSCA,
				CertFile:           cfg.Redis.TLSCert,
				KeyFile:            cfg.Redis.TLSKey,
				ServerName:         cfg.Redis.TLSServer,
				InsecureSkipVerify: cfg.Redis.TLSSkip,
			},
		})
		if err != nil {
			logger.Error("failed to configure redis session store", "error", err)
			os.Exit(1)
		}
		if err := redisStore.Ping(ctx); err != nil {
			logger.Error("redis session store unreachable", "error", err)
			os.Exit(1)
		}
		store = redisStore
		storeProbe = redisStore
		storeCloser = redisStore.Close
		logger.Info("session store connected", "driver", "redis", "addr", cfg.Redis.Addr)
	} else {
		memStore := sessionstore.NewMemoryStore()
		store = memStore
		storeProbe = memStore
		logger.Warn("no redis configured, using in-memory session store (single-instance mode)")
	}

	// Object storage: S3 when a bucket is configured, in-memory otherwise.
	var (
		gateway      objectstore.Gateway
		gatewayProbe api.Pinger
	)
	if cfg.Storage.Bucket != "" {
		s3Gateway, err := objectstore.NewS3Gateway(ctx, objectstore.S3Config{
			Endpoint:     cfg.Storage.Endpoint,
			Region:       cfg.Storage.Region,
			AccessKey:    cfg.Storage.AccessKey,
			SecretKey:    cfg.Storage.SecretKey,
			Bucket:       cfg.Storage.Bucket,
			UsePathStyle: cfg.Storage.UsePathStyle,
			Logger:       logging.WithComponent(logger, "objectstore"),
		})
		if err != nil {
			logger.Error("failed to configure object storage", "error", err)
			os.Exit(1)
		}
		gateway = s3Gateway
		gatewayProbe = s3Gateway
		logger.Info("object storage configured", "bucket", cfg.Storage.Bucket, "endpoint", cfg.Storage.Endpoint)
	} else {
		gateway = objectstore.NewMemoryGateway()
		logger.Warn("no storage bucket configured, using in-memory object store (development mode)")
	}
	keys := objectstore.NewKeyspace(cfg.Storage.ChunkPrefix, cfg.Storage.FinalPrefix)

	// Catalog: Postgres when a DSN is configured, otherwise in-memory.
	var ledger catalog.Catalog
	if strings.TrimSpace(cfg.Catalog.PostgresDSN) != "" {
		pgCatalog, err := catalog.NewPostgresCatalog(ctx, catalog.PostgresConfig{
			DSN:      cfg.Catalog.PostgresDSN,
			MaxConns: cfg.Catalog.MaxConns,
		})
		if err != nil {
			logger.Error("failed to connect catalog", "error", err)
			os.Exit(1)
		}
		ledger = pgCatalog
		logger.Info("catalog connected", "driver", "postgres")
	} else {
		ledger = catalog.NewMemoryCatalog()
		logger.Warn("no postgres configured, using in-memory catalog")
	}

	// Media pipeline: remote service when configured, stub otherwise.
	var pipeline media.Pipeline
	if cfg.Pipeline.Endpoint != "" {
		httpPipeline, err := media.NewHTTPPipeline(cfg.Pipeline.Endpoint, cfg.Pipeline.Timeout, cfg.Pipeline.MaxRetries)
		if err != nil {
			logger.Error("failed to configure media pipeline", "error", err)
			os.Exit(1)
		}
		pipeline = httpPipeline
		logger.Info("media pipeline configured", "endpoint", cfg.Pipeline.Endpoint)
	} else {
		pipeline = media.StubPipeline{}
		logger.Info("media pipeline running in stub mode")
	}
	processor := media.NewProcessor(media.ProcessorConfig{
		Pipeline:  pipeline,
		Recorder:  ledger,
		Workers:   cfg.Pipeline.Workers,
		QueueSize: cfg.Pipeline.QueueSize,
		Timeout:   cfg.Pipeline.Timeout,
		Logger:    logging.WithComponent(logger, "media"),
	})
	processor.Start()

	kindRules := make(map[upload.FileKind]upload.KindRule, len(cfg.Upload.Kinds))
	for name, rule := range cfg.Upload.Kinds {
		kind, err := upload.ParseFileKind(name)
		if err != nil {
			logger.Error("invalid file kind in configuration", "kind", name, "error", err)
			os.Exit(1)
		}
		kindRules[kind] = upload.KindRule{MIMETypes: rule.MIMETypes, MaxSize: rule.MaxSize.Int64()}
	}
	manager, err := upload.NewManager(upload.ManagerConfig{
		Store:      store,
		Gateway:    gateway,
		Keys:       keys,
		Catalog:    ledger,
		Dispatcher: processor,
		Bounds: upload.Bounds{
			DefaultChunkSize: cfg.Upload.DefaultChunkSize.Int64(),
			MinChunkSize:     cfg.Upload.MinChunkSize.Int64(),
			MaxChunkSize:     cfg.Upload.MaxChunkSize.Int64(),
			MaxFileSize:      cfg.Upload.MaxFileSize.Int64(),
		},
		Kinds:         kindRules,
		SessionTTL:    cfg.Upload.SessionTTL,
		PresignExpiry: cfg.Upload.PresignExpiry,
		Logger:        logging.WithComponent(logger, "upload"),
		Metrics:       recorder,
	})
	if err != nil {
		logger.Error("failed to build upload manager", "error", err)
		os.Exit(1)
	}

	sweeper := cleanup.NewSweeper(cleanup.SweeperConfig{
		Reaper:       manager,
		Gateway:      gateway,
		Keys:         keys,
		ChunkMaxAge:  cfg.Cleanup.ChunkMaxAge,
		SweepOrphans: cfg.Cleanup.SweepOrphans,
		DeleteRate:   rate.Limit(cfg.Cleanup.DeleteRate),
		Concurrency:  cfg.Cleanup.Concurrency,
		Logger:       logging.WithComponent(logger, "cleanup"),
		Metrics:      recorder,
	})
	scheduler, err := cleanup.NewScheduler(cfg.Cleanup.Interval, sweeper, logging.WithComponent(logger, "cleanup"))
	if err != nil {
		logger.Error("failed to build cleanup scheduler", "error", err)
		os.Exit(1)
	}
	scheduler.Start()

	generator := delivery.NewGenerator(delivery.Config{
		BaseURL:       cfg.Delivery.BaseURL,
		StreamingBase: cfg.Delivery.StreamingBase,
		SigningSecret: cfg.Delivery.SigningSecret,
		CacheTTLs:     cfg.Delivery.CacheTTLs,
	})

	handler := &api.Handler{
		Manager:  manager,
		Delivery: generator,
		Logger:   logging.WithComponent(logger, "api"),
	}
	srv, err := server.New(handler, server.Config{
		Addr:    cfg.Server.Addr,
		TLS:     server.TLSConfig{CertFile: cfg.Server.TLSCert, KeyFile: cfg.Server.TLSKey},
		Logger:  logger,
		Metrics: recorder,
		Checks: api.HealthChecks{
			"session_store":  storeProbe,
			"object_storage": gatewayProbe,
		},
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("wavecrate upload API listening", "addr", cfg.Server.Addr)
		if cfg.Server.TLSCert != "" && cfg.Server.TLSKey != "" {
			logger.Info("TLS enabled", "cert_file", cfg.Server.TLSCert)
		}
		logger.Info("metrics endpoint available", "path", "/metrics")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	scheduler.Stop(shutdownCtx)
	if err := processor.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to stop media processor", "error", err)
	}
	if err := ledger.Close(shutdownCtx); err != nil {
		logger.Warn("failed to close catalog", "error", err)
	}
	if storeCloser != nil {
		if err := storeCloser(); err != nil {
			logger.Warn("failed to close session store", "error", err)
		}
	}
	logger.Info("server stopped")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}
