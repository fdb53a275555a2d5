package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/sdko-org/filevault/internal/auth"
	"github.com/sdko-org/filevault/internal/cache"
	"github.com/sdko-org/filevault/internal/config"
	"github.com/sdko-org/filevault/internal/database"
	"github.com/sdko-org/filevault/internal/handlers"
	"github.com/sdko-org/filevault/internal/metrics"
	"github.com/sdko-org/filevault/internal/pipeline"
	"github.com/sdko-org/filevault/internal/ratelimit"
	"github.com/sdko-org/filevault/internal/repository"
	"github.com/sdko-org/filevault/internal/storage"
	"github.com/sdko-org/filevault/internal/telemetry"
)

const serviceName = "filevault"

type Options struct {
	// Migrate creates or updates the schema after connecting.
	Migrate bool
	// TraceOutput receives exported spans when tracing is enabled.
	TraceOutput io.Writer
}

// App holds the long-lived collaborators shared by every request.
type App struct {
	Config     *config.Config
	Logger     *logrus.Logger
	DB         *database.DB
	Cache      *cache.Store
	RateLimits *ratelimit.Store
	Metrics    *metrics.Store
	CORS       *pipeline.CORSConfig
	Routes     []handlers.Route
	Router     *handlers.Router

	closers []func(context.Context) error
}

// New connects to the database and object store and assembles the route
// table.
func New(ctx context.Context, logger *logrus.Logger, cfg *config.Config, opts Options) (*App, error) {
	a := &App{
		Config:     cfg,
		Logger:     logger,
		Cache:      cache.NewStore(logger),
		RateLimits: ratelimit.NewStore(logger),
		Metrics:    metrics.NewStore(),
		CORS:       CORSConfig(cfg),
	}

	var tracer trace.Tracer
	if cfg.TracingEnabled {
		out := opts.TraceOutput
		if out == nil {
			out = os.Stdout
		}
		shutdown, err := telemetry.InitTracer(serviceName, cfg.Environment, out, logger)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		a.closers = append(a.closers, shutdown)
		tracer = telemetry.Tracer()
	}

	db, err := database.Connect(ctx, logger, database.PostgresConfig{
		DSN:     cfg.PostgresDSN(),
		Migrate: opts.Migrate,
	})
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })

	objects, err := storage.NewS3Store(logger, storage.S3Config{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	verifier := auth.NewCognitoVerifier(logger, auth.CognitoConfig{
		Issuer:   cfg.CognitoIssuer(),
		ClientID: cfg.CognitoClientID,
	})

	a.Routes = handlers.Routes(handlers.Deps{
		Logger:     logger,
		Config:     cfg,
		Files:      repository.NewFiles(db),
		Objects:    objects,
		Verifier:   verifier,
		RateLimits: a.RateLimits,
		Cache:      a.Cache,
		Metrics:    a.Metrics,
		Tracer:     tracer,
		CORS:       a.CORS,
	})
	a.Router = handlers.NewRouter(logger, a.Routes, a.CORS)

	logger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"routes":      len(a.Routes),
		"tracing":     cfg.TracingEnabled,
	}).Info("Application initialized")
	return a, nil
}

// CORSConfig is the default CORS policy restricted to the configured origins.
func CORSConfig(cfg *config.Config) *pipeline.CORSConfig {
	cors := pipeline.DefaultCORSConfig()
	if len(cfg.CORSAllowedOrigins) > 0 {
		cors.AllowedOrigins = cfg.CORSAllowedOrigins
	}
	return cors
}

// RunSweepers evicts expired cache entries and idle rate-limit buckets until
// ctx is cancelled.
func (a *App) RunSweepers(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Cache.Start(ctx, cache.DefaultSweepInterval)
		return nil
	})
	g.Go(func() error {
		a.RateLimits.Start(ctx, ratelimit.DefaultSweepInterval)
		return nil
	})
	return g.Wait()
}

// Close releases everything New opened, in reverse order.
func (a *App) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
