package pipeline

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

const (
	HeaderAllowOrigin      = "Access-Control-Allow-Origin"
	HeaderAllowMethods     = "Access-Control-Allow-Methods"
	HeaderAllowHeaders     = "Access-Control-Allow-Headers"
	HeaderExposeHeaders    = "Access-Control-Expose-Headers"
	HeaderAllowCredentials = "Access-Control-Allow-Credentials"
	HeaderMaxAge           = "Access-Control-Max-Age"
)

type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAgeSeconds    int
}

func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Requested-With"},
		ExposedHeaders: []string{
			HeaderRetryAfter, HeaderRateLimitLimit, HeaderRateLimitRemaining, HeaderRateLimitReset,
			HeaderCache, "X-Request-ID",
		},
		MaxAgeSeconds: 86400,
	}
}

// allowOrigin returns the value for Access-Control-Allow-Origin, or "" when
// the request origin is not allowed.
func (c *CORSConfig) allowOrigin(origin string) string {
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" {
			if c.AllowCredentials && origin != "" {
				return origin
			}
			return "*"
		}
		if origin != "" && strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}

func (c *CORSConfig) apply(resp *events.APIGatewayProxyResponse, req events.APIGatewayProxyRequest) {
	origin := c.allowOrigin(Header(req, "Origin"))
	if origin == "" {
		return
	}
	setHeader(resp, HeaderAllowOrigin, origin)
	if origin != "*" {
		setHeader(resp, "Vary", "Origin")
	}
	if c.AllowCredentials {
		setHeader(resp, HeaderAllowCredentials, "true")
	}
	if len(c.ExposedHeaders) > 0 {
		setHeader(resp, HeaderExposeHeaders, strings.Join(c.ExposedHeaders, ", "))
	}
}

// CORS stamps CORS headers on every response and answers preflight requests
// without calling the inner handler.
func CORS(cfg *CORSConfig) Middleware {
	if cfg == nil {
		cfg = DefaultCORSConfig()
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
			if req.HTTPMethod == http.MethodOptions {
				resp := events.APIGatewayProxyResponse{
					StatusCode: http.StatusNoContent,
					Headers:    map[string]string{HeaderContentType: ContentTypeJSON},
				}
				cfg.apply(&resp, req)
				setHeader(&resp, HeaderAllowMethods, strings.Join(cfg.AllowedMethods, ", "))
				setHeader(&resp, HeaderAllowHeaders, strings.Join(cfg.AllowedHeaders, ", "))
				if cfg.MaxAgeSeconds > 0 {
					setHeader(&resp, HeaderMaxAge, strconv.Itoa(cfg.MaxAgeSeconds))
				}
				return resp, nil
			}

			resp, err := next(ctx, req)
			if err != nil {
				return resp, err
			}
			cfg.apply(&resp, req)
			return resp, nil
		}
	}
}
