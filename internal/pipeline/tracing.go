package pipeline

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sdko-org/filevault/internal/apperr"
)

// Tracing opens one server span per request.
func Tracing(tracer trace.Tracer) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
			route := req.Resource
			if route == "" {
				route = req.Path
			}

			ctx, span := tracer.Start(ctx, req.HTTPMethod+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", req.HTTPMethod),
					attribute.String("http.route", route),
					attribute.String("http.target", req.Path),
					attribute.String("net.peer.ip", SourceIP(req)),
				),
			)
			defer span.End()

			resp, err := next(ctx, req)

			status := resp.StatusCode
			if err != nil {
				status = apperr.From(err).Status()
				span.RecordError(err)
			}
			span.SetAttributes(attribute.Int("http.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			return resp, err
		}
	}
}
