package pipeline

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sdko-org/filevault/internal/apperr"
	"github.com/sdko-org/filevault/internal/logging"
)

const HeaderRequestID = "X-Request-ID"

// Logging attaches a request-scoped entry to the context and logs one line
// per completed request.
func Logging(logger *logrus.Logger) Middleware {
	base := logger.WithField("component", "http_middleware")

	return func(next Handler) Handler {
		return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
			start := time.Now()

			requestID := req.RequestContext.RequestID
			if requestID == "" {
				requestID = uuid.New().String()
			}

			reqLog := base.WithFields(logrus.Fields{
				"request_id": requestID,
				"method":     req.HTTPMethod,
				"path":       req.Path,
			})
			ctx = logging.WithEntry(ctx, reqLog)
			ctx, sink := logging.WithFieldSink(ctx)

			resp, err := next(ctx, req)

			status := resp.StatusCode
			if err != nil {
				status = apperr.From(err).Status()
			}

			fields := logrus.Fields{
				"status":      status,
				"duration_ms": time.Since(start).Milliseconds(),
				"client_ip":   SourceIP(req),
				"user_agent":  Header(req, "User-Agent"),
			}
			for k, v := range sink {
				fields[k] = v
			}
			if err != nil {
				fields["error"] = err.Error()
			}
			reqLog.WithFields(fields).Info("Request processed")

			if err == nil {
				setHeader(&resp, HeaderRequestID, requestID)
			}
			return resp, err
		}
	}
}
