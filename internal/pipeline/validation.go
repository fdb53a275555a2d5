package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/sdko-org/filevault/internal/apperr"
)

type ValidationRules struct {
	RequiredQuery       []string
	RequiredPath        []string
	AllowedContentTypes []string
	MaxBodyBytes        int64
	RequireBody         bool
	RequireJSONBody     bool
}

// Validate rejects requests that break rules with 400 VALIDATION_ERROR (or
// 413 for oversized bodies) listing every offending field in details.
func Validate(rules ValidationRules) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
			if err := rules.check(req); err != nil {
				return ErrorResponse(err), nil
			}
			return next(ctx, req)
		}
	}
}

func (r ValidationRules) check(req events.APIGatewayProxyRequest) error {
	problems := map[string]any{}

	for _, name := range r.RequiredQuery {
		if strings.TrimSpace(req.QueryStringParameters[name]) == "" {
			problems[name] = "query parameter is required"
		}
	}
	for _, name := range r.RequiredPath {
		if strings.TrimSpace(req.PathParameters[name]) == "" {
			problems[name] = "path parameter is required"
		}
	}

	if len(r.AllowedContentTypes) > 0 {
		ct := Header(req, HeaderContentType)
		mediaType, _, _ := strings.Cut(ct, ";")
		mediaType = strings.ToLower(strings.TrimSpace(mediaType))
		allowed := false
		for _, want := range r.AllowedContentTypes {
			if mediaType == strings.ToLower(want) {
				allowed = true
				break
			}
		}
		if !allowed {
			problems[HeaderContentType] = fmt.Sprintf("must be one of %s", strings.Join(r.AllowedContentTypes, ", "))
		}
	}

	body, err := Body(req)
	if err != nil {
		return err
	}
	if r.MaxBodyBytes > 0 && int64(len(body)) > r.MaxBodyBytes {
		return apperr.PayloadTooLarge(fmt.Sprintf("request body exceeds %d bytes", r.MaxBodyBytes))
	}
	if (r.RequireBody || r.RequireJSONBody) && len(body) == 0 {
		problems["body"] = "request body is required"
	} else if r.RequireJSONBody && !json.Valid(body) {
		problems["body"] = "request body must be valid JSON"
	}

	if len(problems) > 0 {
		return apperr.Validation("Request validation failed").WithDetails(problems)
	}
	return nil
}
