package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"

	"github.com/sdko-org/filevault/internal/apperr"
	"github.com/sdko-org/filevault/internal/pipeline"
)

// Router dispatches API Gateway proxy events to routes by method and
// resource, falling back to matching the raw path against the route
// templates.
type Router struct {
	routes   []Route
	notFound pipeline.Handler
	log      *logrus.Entry
}

func NewRouter(logger *logrus.Logger, routes []Route, cors *pipeline.CORSConfig) *Router {
	notFound := func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return pipeline.ErrorResponse(apperr.NotFound("Route not found")), nil
	}
	return &Router{
		routes:   routes,
		notFound: pipeline.Wrap(notFound, pipeline.CORS(cors)),
		log:      logger.WithField("component", "router"),
	}
}

// Handle is the Lambda entry point.
func (r *Router) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	route, params, ok := r.match(req)
	if !ok {
		r.log.WithFields(logrus.Fields{"method": req.HTTPMethod, "path": req.Path}).Debug("No route matched")
		return r.notFound(ctx, req)
	}

	if len(req.PathParameters) == 0 && len(params) > 0 {
		req.PathParameters = params
	}
	req.Resource = route.Path
	return route.Handler(ctx, req)
}

func (r *Router) match(req events.APIGatewayProxyRequest) (Route, map[string]string, bool) {
	preflight := req.HTTPMethod == http.MethodOptions

	if req.Resource != "" {
		for _, route := range r.routes {
			if route.Path == req.Resource && (preflight || route.Method == req.HTTPMethod) {
				return route, nil, true
			}
		}
	}

	for _, route := range r.routes {
		if !preflight && route.Method != req.HTTPMethod {
			continue
		}
		if params, ok := matchTemplate(route.Path, req.Path); ok {
			return route, params, true
		}
	}
	return Route{}, nil, false
}

// matchTemplate matches path against a template such as /files/{fileId},
// returning the bound parameters.
func matchTemplate(template, path string) (map[string]string, bool) {
	tparts := strings.Split(strings.Trim(template, "/"), "/")
	pparts := strings.Split(strings.Trim(path, "/"), "/")
	if len(tparts) != len(pparts) {
		return nil, false
	}

	params := map[string]string{}
	for i, t := range tparts {
		if strings.HasPrefix(t, "{") && strings.HasSuffix(t, "}") {
			if pparts[i] == "" {
				return nil, false
			}
			params[t[1:len(t)-1]] = pparts[i]
			continue
		}
		if t != pparts[i] {
			return nil, false
		}
	}
	return params, true
}
