package handlers

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/sdko-org/filevault/internal/cache"
	"github.com/sdko-org/filevault/internal/metrics"
	"github.com/sdko-org/filevault/internal/pipeline"
	"github.com/sdko-org/filevault/internal/ratelimit"
)

type healthResponse struct {
	Status      string `json:"status"`
	Environment string `json:"environment"`
	Timestamp   string `json:"timestamp"`
}

// cacheSummary leaves out entry keys; they embed caller ids.
type cacheSummary struct {
	Size int `json:"size"`
}

type metricsResponse struct {
	Metrics          map[string]metrics.Summary `json:"metrics"`
	Cache            cacheSummary               `json:"cache"`
	RateLimitBuckets int                        `json:"rateLimitBuckets"`
}

type SystemHandler struct {
	environment string
	metrics     *metrics.Store
	cache       *cache.Store
	limits      *ratelimit.Store
	now         func() time.Time
}

func NewSystemHandler(environment string, m *metrics.Store, c *cache.Store, l *ratelimit.Store) *SystemHandler {
	return &SystemHandler{environment: environment, metrics: m, cache: c, limits: l, now: time.Now}
}

func (h *SystemHandler) Health(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return pipeline.OK(healthResponse{
		Status:      "healthy",
		Environment: h.environment,
		Timestamp:   h.now().UTC().Format(time.RFC3339),
	}), nil
}

// Metrics reports the in-process metric summaries and cache occupancy.
func (h *SystemHandler) Metrics(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return pipeline.OK(metricsResponse{
		Metrics:          h.metrics.Summary(),
		Cache:            cacheSummary{Size: h.cache.Stats().Size},
		RateLimitBuckets: h.limits.Len(),
	}), nil
}
