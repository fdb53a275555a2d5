package pipeline

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		rules   ValidationRules
		prepare func(r *events.APIGatewayProxyRequest)
		status  int
		details []string
	}{
		{
			name:   "all satisfied",
			rules:  ValidationRules{RequiredPath: []string{"fileId"}, RequireJSONBody: true},
			status: http.StatusOK,
			prepare: func(r *events.APIGatewayProxyRequest) {
				r.PathParameters = map[string]string{"fileId": "f1"}
				r.Body = `{"a":1}`
			},
		},
		{
			name:    "missing query and path",
			rules:   ValidationRules{RequiredQuery: []string{"limit"}, RequiredPath: []string{"fileId"}},
			status:  http.StatusBadRequest,
			details: []string{"limit", "fileId"},
		},
		{
			name:    "wrong content type",
			rules:   ValidationRules{AllowedContentTypes: []string{"multipart/form-data"}},
			prepare: func(r *events.APIGatewayProxyRequest) { r.Headers["Content-Type"] = "text/plain" },
			status:  http.StatusBadRequest,
			details: []string{"Content-Type"},
		},
		{
			name:    "content type parameters ignored",
			rules:   ValidationRules{AllowedContentTypes: []string{"multipart/form-data"}},
			prepare: func(r *events.APIGatewayProxyRequest) { r.Headers["content-type"] = "Multipart/Form-Data; boundary=xyz" },
			status:  http.StatusOK,
		},
		{
			name:    "body required",
			rules:   ValidationRules{RequireBody: true},
			status:  http.StatusBadRequest,
			details: []string{"body"},
		},
		{
			name:    "invalid json",
			rules:   ValidationRules{RequireJSONBody: true},
			prepare: func(r *events.APIGatewayProxyRequest) { r.Body = "{nope" },
			status:  http.StatusBadRequest,
			details: []string{"body"},
		},
		{
			name:    "oversized",
			rules:   ValidationRules{MaxBodyBytes: 4},
			prepare: func(r *events.APIGatewayProxyRequest) { r.Body = strings.Repeat("x", 5) },
			status:  http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest(http.MethodPost, "/files")
			if tt.prepare != nil {
				tt.prepare(&req)
			}

			resp, err := Validate(tt.rules)(okHandler("ok"))(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			if len(tt.details) > 0 {
				body := decodeError(t, resp)
				assert.Equal(t, "VALIDATION_ERROR", body["error"])
				details := body["details"].(map[string]any)
				for _, field := range tt.details {
					assert.Contains(t, details, field)
				}
			}
		})
	}
}
