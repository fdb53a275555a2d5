package handlers

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/sdko-org/filevault/internal/cache"
	"github.com/sdko-org/filevault/internal/config"
	"github.com/sdko-org/filevault/internal/metrics"
	"github.com/sdko-org/filevault/internal/pipeline"
	"github.com/sdko-org/filevault/internal/ratelimit"
	"github.com/sdko-org/filevault/internal/storage"
)

const healthPath = "/health"

// Route binds a method and an API Gateway style resource path such as
// /files/{fileId} to a fully composed handler.
type Route struct {
	Method  string
	Path    string
	Handler pipeline.Handler
}

type Deps struct {
	Logger     *logrus.Logger
	Config     *config.Config
	Files      FileRepository
	Objects    storage.ObjectStore
	Verifier   pipeline.Verifier
	RateLimits *ratelimit.Store
	Cache      *cache.Store
	Metrics    *metrics.Store
	// Tracer defaults to a no-op tracer.
	Tracer trace.Tracer
	CORS   *pipeline.CORSConfig
}

// Routes wires every endpoint through its middleware chain. Outermost first:
// tracing, metrics, error handling, logging, CORS, then auth where required,
// rate limiting, caching and request validation.
func Routes(d Deps) []Route {
	cfg := d.Config
	tracer := d.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	presetDeps := pipeline.PresetDeps{Logger: d.Logger, CORS: d.CORS, Verifier: d.Verifier}
	presets := pipeline.DefaultPresetConfig()
	observed := pipeline.Compose(pipeline.Tracing(tracer), pipeline.Metrics(d.Metrics))

	public := pipeline.Compose(
		observed,
		pipeline.Standard(presets, presetDeps),
		pipeline.RateLimit(d.RateLimits, pipeline.RateLimitOptions{
			MaxRequests: cfg.RateLimit,
			Window:      cfg.RateLimitWindow,
			Skip:        skipHealth,
		}),
	)
	authenticated := func(maxRequests int, key pipeline.KeyFunc) pipeline.Middleware {
		return pipeline.Compose(
			observed,
			pipeline.Authenticated(presets, presetDeps),
			pipeline.RateLimit(d.RateLimits, pipeline.RateLimitOptions{
				MaxRequests: maxRequests,
				Window:      cfg.RateLimitWindow,
				KeyFunc:     key,
			}),
		)
	}
	authed := authenticated(cfg.RateLimit, pipeline.UserKey)

	vary := []string{"Authorization"}
	cached := pipeline.Cache(d.Cache, pipeline.CacheOptions{
		TTL:         cfg.CacheTTL,
		VaryHeaders: vary,
		KeyFunc:     userCacheKey(vary),
	})
	needsFileID := pipeline.Validate(pipeline.ValidationRules{RequiredPath: []string{"fileId"}})
	ownsPath := pipeline.RequireOwnership(pipeline.PathOwner("userId"))

	files := NewFileHandler(d.Logger, d.Files, d.Objects, d.Cache, cfg.MaxUploadBytes, cfg.PresignTTL)
	tokens := NewAuthHandler(d.Verifier)
	system := NewSystemHandler(cfg.Environment, d.Metrics, d.Cache, d.RateLimits)

	return []Route{
		{http.MethodGet, healthPath, pipeline.Wrap(system.Health, public)},
		{http.MethodGet, "/metrics", pipeline.Wrap(system.Metrics, authed)},
		{http.MethodPost, "/auth/validate", pipeline.Wrap(tokens.ValidateToken, public)},

		{http.MethodGet, "/files", pipeline.Wrap(files.ListFiles, authed, cached)},
		{http.MethodGet, "/users/{userId}/files", pipeline.Wrap(files.ListFiles, authed, ownsPath, cached)},
		{http.MethodPost, "/files", pipeline.Wrap(files.Upload,
			authenticated(cfg.UploadRateLimit, uploadKey),
			pipeline.Validate(pipeline.ValidationRules{
				AllowedContentTypes: []string{"multipart/form-data"},
				MaxBodyBytes:        cfg.MaxUploadBytes,
				RequireBody:         true,
			}),
		)},
		{http.MethodGet, "/files/{fileId}", pipeline.Wrap(files.GetFile, authed, needsFileID, cached)},
		{http.MethodGet, "/files/{fileId}/download", pipeline.Wrap(files.DownloadURL, authed, needsFileID)},
		{http.MethodDelete, "/files/{fileId}", pipeline.Wrap(files.DeleteFile, authed, needsFileID)},
	}
}

// uploadKey keeps upload budgets apart from the read budget on the same path.
func uploadKey(ctx context.Context, req events.APIGatewayProxyRequest) string {
	return "upload:" + pipeline.UserKey(ctx, req)
}

func skipHealth(_ context.Context, req events.APIGatewayProxyRequest) bool {
	return req.Resource == healthPath || req.Path == healthPath
}

