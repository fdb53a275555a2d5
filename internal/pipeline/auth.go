package pipeline

import (
	"context"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sdko-org/filevault/internal/apperr"
	"github.com/sdko-org/filevault/internal/logging"
)

// VerifyResult is what a token verifier reports about a bearer token.
type VerifyResult struct {
	Valid  bool
	UserID string
	Email  string
	Error  string
}

type Verifier interface {
	Verify(ctx context.Context, token string) (VerifyResult, error)
}

type VerifierFunc func(ctx context.Context, token string) (VerifyResult, error)

func (f VerifierFunc) Verify(ctx context.Context, token string) (VerifyResult, error) {
	return f(ctx, token)
}

type AuthOptions struct {
	Verifier Verifier
	// Optional admits requests without a token as anonymous.
	Optional bool
	Logger   *logrus.Logger
}

// BearerToken extracts the token from the Authorization header, dropping a
// case-insensitive "Bearer " prefix.
func BearerToken(req events.APIGatewayProxyRequest) string {
	value := strings.TrimSpace(Header(req, "Authorization"))
	if len(value) >= 7 && strings.EqualFold(value[:7], "bearer ") {
		value = value[7:]
	}
	return strings.TrimSpace(value)
}

// Auth verifies the bearer token and passes the caller identity inward on
// the context. It always answers with a well-formed response: verifier
// failures become 401 for authentication errors and 500 otherwise.
func Auth(opts AuthOptions) Middleware {
	var log *logrus.Entry
	if opts.Logger != nil {
		log = opts.Logger.WithField("component", "auth_middleware")
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
			token := BearerToken(req)
			if token == "" {
				if opts.Optional {
					return next(WithIdentity(ctx, Identity{}), req)
				}
				return ErrorResponse(apperr.AuthenticationRequired("Authentication required")), nil
			}

			result, err := verify(ctx, opts.Verifier, token)
			if err != nil {
				appErr := apperr.From(err)
				if log != nil {
					log.WithError(err).WithField("path", req.Path).Warn("Token verification failed")
				}
				if appErr.Kind.IsAuthentication() {
					return ErrorResponse(appErr), nil
				}
				return ErrorResponse(apperr.Internal("An unexpected error occurred", err)), nil
			}

			if !result.Valid {
				msg := result.Error
				if msg == "" {
					msg = "Invalid or expired token"
				}
				return ErrorResponse(apperr.InvalidToken(msg)), nil
			}

			logging.AddField(ctx, "user_id", result.UserID)
			trace.SpanFromContext(ctx).SetAttributes(attribute.String("enduser.id", result.UserID))
			ctx = logging.Enrich(ctx, logrus.Fields{"user_id": result.UserID})
			return next(WithIdentity(ctx, Identity{UserID: result.UserID, Email: result.Email}), req)
		}
	}
}

// verify shields the middleware from verifier panics.
func verify(ctx context.Context, v Verifier, token string) (result VerifyResult, err error) {
	if v == nil {
		return VerifyResult{}, apperr.Internal("no token verifier configured", nil)
	}
	defer func() {
		if r := recover(); r != nil {
			err = apperr.Internal("token verifier panicked", nil)
		}
	}()
	return v.Verify(ctx, token)
}

// OwnerExtractor returns the user id that owns the requested resource.
type OwnerExtractor func(ctx context.Context, req events.APIGatewayProxyRequest) string

// PathOwner reads the owner id from a path parameter.
func PathOwner(param string) OwnerExtractor {
	return func(_ context.Context, req events.APIGatewayProxyRequest) string {
		return req.PathParameters[param]
	}
}

// RequireOwnership admits only callers whose identity matches the resource
// owner. It must sit inside Auth.
func RequireOwnership(extract OwnerExtractor) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
			id := IdentityFrom(ctx)
			if id.Anonymous() {
				return ErrorResponse(apperr.AuthenticationRequired("Authentication required")), nil
			}

			owner := extract(ctx, req)
			if owner == "" {
				return ErrorResponse(apperr.InvalidRequest("Resource owner could not be determined")), nil
			}
			if owner != id.UserID {
				return ErrorResponse(apperr.Forbidden("You do not have access to this resource")), nil
			}
			return next(ctx, req)
		}
	}
}
