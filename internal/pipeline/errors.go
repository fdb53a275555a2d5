package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"

	"github.com/sdko-org/filevault/internal/apperr"
)

// ErrorHandling converts returned errors and panics from inner layers into
// the error envelope. It is meant to be the outermost layer. cors may be nil.
func ErrorHandling(logger *logrus.Logger, cors *CORSConfig) Middleware {
	base := logger.WithField("component", "error_handler")

	return func(next Handler) Handler {
		return func(ctx context.Context, req events.APIGatewayProxyRequest) (resp events.APIGatewayProxyResponse, err error) {
			defer func() {
				if r := recover(); r != nil {
					base.WithFields(logrus.Fields{
						"panic":  fmt.Sprint(r),
						"stack":  string(debug.Stack()),
						"method": req.HTTPMethod,
						"path":   req.Path,
					}).Error("Recovered from panic")
					resp = formatError(apperr.Internal("An unexpected error occurred", fmt.Errorf("panic: %v", r)), req, cors)
					err = nil
				}
			}()

			resp, err = next(ctx, req)
			if err == nil {
				return resp, nil
			}

			appErr := apperr.From(err)
			log := base.WithFields(logrus.Fields{
				"error":  err.Error(),
				"code":   appErr.Code(),
				"method": req.HTTPMethod,
				"path":   req.Path,
			})
			if appErr.Status() >= 500 {
				log.Error("Request failed")
			} else {
				log.Warn("Request rejected")
			}

			return formatError(appErr, req, cors), nil
		}
	}
}

func formatError(appErr *apperr.Error, req events.APIGatewayProxyRequest, cors *CORSConfig) events.APIGatewayProxyResponse {
	if appErr.Kind == apperr.KindInternal {
		appErr = apperr.Internal("An unexpected error occurred", appErr.Err)
	}
	resp := ErrorResponse(appErr)
	if cors != nil {
		cors.apply(&resp, req)
	} else {
		setHeader(&resp, HeaderAllowOrigin, "*")
	}
	return resp
}
