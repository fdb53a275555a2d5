package pipeline

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/sdko-org/filevault/internal/apperr"
)

// Identity is the authenticated caller attached by the Auth middleware.
type Identity struct {
	UserID string
	Email  string
}

func (i Identity) Anonymous() bool {
	return i.UserID == ""
}

type identityKey struct{}

// WithIdentity returns a derived context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller identity; the zero Identity when the request
// is anonymous.
func IdentityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}

// Header looks name up case-insensitively across single and multi-value
// headers.
func Header(req events.APIGatewayProxyRequest, name string) string {
	if v, ok := req.Headers[name]; ok {
		return v
	}
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	for k, v := range req.MultiValueHeaders {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// Body returns the raw request body, decoding base64 payloads.
func Body(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	b, err := base64.StdEncoding.DecodeString(req.Body)
	if err != nil {
		return nil, apperr.Validation("request body is not valid base64")
	}
	return b, nil
}

// SourceIP prefers the gateway-reported address, then forwarding headers.
func SourceIP(req events.APIGatewayProxyRequest) string {
	if ip := req.RequestContext.Identity.SourceIP; ip != "" {
		return ip
	}
	ip := Header(req, "X-Forwarded-For")
	if ip == "" {
		ip = Header(req, "X-Real-IP")
	}
	if first, _, found := strings.Cut(ip, ","); found {
		ip = first
	}
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return "unknown"
	}
	return ip
}
