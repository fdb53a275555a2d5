package pipeline

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/sdko-org/filevault/internal/metrics"
)

const (
	MetricRequestsTotal   = "http_requests_total"
	MetricRequestDuration = "http_request_duration_ms"
	MetricResponseStatus  = "http_response_status_total"
	MetricRequestsSuccess = "http_requests_success_total"
	MetricRequestsError   = "http_requests_error_total"
)

// Metrics records request counts, latency and status outcome. Returned errors
// and panics are recorded as status 500 and then passed on unchanged.
func Metrics(store *metrics.Store) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req events.APIGatewayProxyRequest) (resp events.APIGatewayProxyResponse, err error) {
			start := time.Now()
			path := req.Resource
			if path == "" {
				path = req.Path
			}
			labels := metrics.Labels{"path": path, "method": req.HTTPMethod}
			store.Increment(MetricRequestsTotal, labels)

			defer func() {
				if r := recover(); r != nil {
					record(store, labels, start, "500")
					panic(r)
				}
			}()

			resp, err = next(ctx, req)

			// An error that reached this layer was never formatted into a
			// response, so it counts as unhandled.
			status := strconv.Itoa(resp.StatusCode)
			if err != nil {
				status = "500"
			}
			record(store, labels, start, status)
			return resp, err
		}
	}
}

func record(store *metrics.Store, labels metrics.Labels, start time.Time, status string) {
	store.RecordHistogram(MetricRequestDuration, float64(time.Since(start).Microseconds())/1000, labels)
	store.Increment(MetricResponseStatus, metrics.Labels{
		"path":   labels["path"],
		"method": labels["method"],
		"status": status,
	})

	code, _ := strconv.Atoi(status)
	if code >= 200 && code < 400 {
		store.Increment(MetricRequestsSuccess, labels)
		return
	}
	store.Increment(MetricRequestsError, metrics.Labels{
		"path":   labels["path"],
		"method": labels["method"],
		"status": status,
	})
}
