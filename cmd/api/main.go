package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/bryanwahyu/sans-pilot/internal/application"
	"github.com/bryanwahyu/sans-pilot/internal/application/analyses"
	"github.com/bryanwahyu/sans-pilot/internal/application/models"
	"github.com/bryanwahyu/sans-pilot/internal/application/uploads"
	"github.com/bryanwahyu/sans-pilot/internal/catalog"
	"github.com/bryanwahyu/sans-pilot/internal/config"
	"github.com/bryanwahyu/sans-pilot/internal/domain/fitting"
	"github.com/bryanwahyu/sans-pilot/internal/domain/runs"
	"github.com/bryanwahyu/sans-pilot/internal/infra/db/memory"
	mysqlp "github.com/bryanwahyu/sans-pilot/internal/infra/db/mysql"
	"github.com/bryanwahyu/sans-pilot/internal/infra/db/postgres"
	"github.com/bryanwahyu/sans-pilot/internal/infra/fitter/fake"
	"github.com/bryanwahyu/sans-pilot/internal/infra/fitter/worker"
	"github.com/bryanwahyu/sans-pilot/internal/infra/httpserver"
	"github.com/bryanwahyu/sans-pilot/internal/infra/mcp"
	"github.com/bryanwahyu/sans-pilot/internal/infra/metrics"
	minioStore "github.com/bryanwahyu/sans-pilot/internal/infra/storage"
	"github.com/bryanwahyu/sans-pilot/internal/infra/tracing"
	"github.com/bryanwahyu/sans-pilot/internal/middleware"
)

var version = "dev"

func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", "config.yaml"), "path to config.yaml")
	stdio := flag.Bool("stdio", false, "serve MCP on stdin/stdout instead of HTTP")
	addr := flag.String("addr", "", "listen address, overrides server.port")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	// stdout carries MCP messages in stdio mode
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(*configPath, *stdio, *addr, logger); err != nil {
		logger.Error("server.exit", "error", err.Error())
		os.Exit(1)
	}
}

func run(configPath string, stdio bool, addr string, logger *slog.Logger) error {
	// load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config load error: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.Storage.UploadDir, cfg.Storage.RunsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	// init fitter
	var fitters fitting.Factory
	switch cfg.Fitter.Mode {
	case config.FitterFake:
		logger.Warn("fitter.fake_engine", "reason", "fitter.mode=fake")
		fitters = fake.NewFactory()
	default:
		fitters = worker.NewFactory(cfg.Fitter.Command, cfg.Fitter.Args, logger)
	}

	// init ledger
	ledger, pinger, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLedger()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	checkers := map[string]middleware.HealthChecker{
		"uploads": &middleware.DirChecker{Path: cfg.Storage.UploadDir},
		"runs":    &middleware.DirChecker{Path: cfg.Storage.RunsDir},
		"ledger":  &middleware.PingChecker{Target: pinger},
	}
	if cfg.Fitter.Mode == config.FitterWorker {
		checkers["fitter"] = &middleware.CommandChecker{Command: cfg.Fitter.Command}
	}

	// init minio
	var artifacts analyses.ArtifactStore
	if cfg.Minio.Enabled {
		store, err := minioStore.New(ctx, minioStore.Options{
			Endpoint:   cfg.Minio.Endpoint,
			Region:     cfg.Minio.Region,
			Bucket:     cfg.Minio.BucketName,
			AccessKey:  cfg.Minio.AccessKey,
			SecretKey:  cfg.Minio.SecretKey,
			UseSSL:     cfg.Minio.UseSSL,
			PresignTTL: cfg.Minio.PresignTTL,
		})
		if err != nil {
			return fmt.Errorf("minio init error: %w", err)
		}
		artifacts = store
		checkers["artifacts"] = middleware.CheckerFunc(store.Ping)
	}

	// init tracing
	tp, err := tracing.New(tracing.Options{
		Exporter:       cfg.Tracing.Exporter,
		ServiceName:    "sans-pilot",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("tracing init error: %w", err)
	}
	tp.Install()
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(flushCtx); err != nil {
			logger.Warn("tracing.shutdown_error", "error", err.Error())
		}
	}()

	// init services
	clock := application.SystemClock{}
	registry := analyses.NewRegistry(catalog.Manifest(catalog.Deps{Fitters: fitters, Logger: logger}, cfg.Analyses.Disabled...), logger)
	resolver := uploads.NewResolver(cfg.Storage.UploadDir)
	analysesSvc := &analyses.Service{
		Registry: registry,
		Dispatcher: analyses.NewDispatcher(registry, cfg.Workers.MaxConcurrent,
			analyses.WithDispatcherLogger(logger), analyses.WithObserver(m),
			analyses.WithTracer(tp.Tracer("github.com/bryanwahyu/sans-pilot/analyses"))),
		Allocator: analyses.NewAllocator(cfg.Storage.RunsDir, clock),
		Resolver:  resolver,
		Ledger:    ledger,
		Artifacts: artifacts,
		Clock:     clock,
		Logger:    logger,
	}
	uploadsSvc := uploads.NewService(resolver)

	server := mcp.NewServer(mcp.Services{
		Analyses: analysesSvc,
		Uploads:  uploadsSvc,
		Models:   models.NewService(fitters),
	}, mcp.WithLogger(logger), mcp.WithToolObserver(m), mcp.WithVersion(version),
		mcp.WithTracer(tp.Tracer("github.com/bryanwahyu/sans-pilot/internal/infra/mcp")))

	logger.Info("server.starting",
		"version", version,
		"analyses", registry.Names(),
		"tools", server.ToolNames(),
		"fitter", cfg.Fitter.Mode,
		"ledger", cfg.Database.Driver,
		"tracing", cfg.Tracing.Exporter,
	)

	if stdio {
		err := server.ServeStdio(ctx, os.Stdin, os.Stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Capacity > 0 && cfg.RateLimit.RefillRate > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate)
		defer limiter.Stop()
	}

	readiness := &middleware.Readiness{}

	// init router
	handler := httpserver.NewRouter(httpserver.Deps{
		MCP:            server,
		Uploads:        uploadsSvc,
		Logger:         logger,
		Requests:       m,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Limiter:        limiter,
		Checkers:       checkers,
		Readiness:      readiness,
		APIToken:       cfg.Auth.APIToken,
		UserHeader:     cfg.Auth.UserHeader,
		CORSOrigins:    cfg.Server.CORSOrigins,
	})

	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.Server.Port)
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// run server
	errc := make(chan error, 1)
	go func() {
		logger.Info("server.listening", "addr", addr, "auth", cfg.Auth.APIToken != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	// graceful shutdown
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("server.shutting_down")
	readiness.Drain()
	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Warn("server.shutdown_error", "error", err.Error())
	}
	return nil
}

func openLedger(ctx context.Context, cfg *config.Config) (runs.Repository, middleware.Pinger, func(), error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Database.Driver {
	case config.DriverMySQL:
		db, err = mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("mysql connect error: %w", err)
		}
		if err := mysqlp.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("mysql schema error: %w", err)
		}
		repo := mysqlp.NewRunRepository(db)
		return repo, repo, func() { db.Close() }, nil
	case config.DriverPostgres:
		db, err = postgres.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("postgres connect error: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("postgres schema error: %w", err)
		}
		repo := postgres.NewRunRepository(db)
		return repo, repo, func() { db.Close() }, nil
	default:
		repo := memory.NewRunRepository(memory.DefaultCapacity)
		return repo, repo, func() {}, nil
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
