package pipeline

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdko-org/filevault/internal/apperr"
)

func failing(err error) Handler {
	return func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return events.APIGatewayProxyResponse{}, err
	}
}

func TestErrorHandlingRecoversPanics(t *testing.T) {
	logger, hook := test.NewNullLogger()
	h := ErrorHandling(logger, nil)(func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		panic("nil map write")
	})

	resp, err := h(context.Background(), newRequest(http.MethodGet, "/files"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "*", resp.Headers[HeaderAllowOrigin])
	assert.JSONEq(t, `{"error":"INTERNAL_ERROR","message":"An unexpected error occurred"}`, resp.Body)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "Recovered from panic", entry.Message)
	assert.Equal(t, "nil map write", entry.Data["panic"])
}

func TestErrorHandlingFormatsErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
		level  logrus.Level
	}{
		{
			name:   "not found",
			err:    apperr.NotFound("File not found"),
			status: http.StatusNotFound,
			body:   `{"error":"NOT_FOUND","message":"File not found"}`,
			level:  logrus.WarnLevel,
		},
		{
			name:   "validation with details",
			err:    apperr.Validation("Request validation failed").WithDetails(map[string]any{"file": "required"}),
			status: http.StatusBadRequest,
			body:   `{"error":"VALIDATION_ERROR","message":"Request validation failed","details":{"file":"required"}}`,
			level:  logrus.WarnLevel,
		},
		{
			name:   "raw error hides text",
			err:    errors.New("pq: password authentication failed"),
			status: http.StatusInternalServerError,
			body:   `{"error":"INTERNAL_ERROR","message":"An unexpected error occurred"}`,
			level:  logrus.ErrorLevel,
		},
		{
			name:   "internal error hides message",
			err:    apperr.Internal("connection string leaked", nil),
			status: http.StatusInternalServerError,
			body:   `{"error":"INTERNAL_ERROR","message":"An unexpected error occurred"}`,
			level:  logrus.ErrorLevel,
		},
		{
			name:   "database error",
			err:    apperr.Database("Failed to query files", errors.New("timeout")),
			status: http.StatusInternalServerError,
			body:   `{"error":"DATABASE_ERROR","message":"Failed to query files"}`,
			level:  logrus.ErrorLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			resp, err := ErrorHandling(logger, nil)(failing(tt.err))(context.Background(), newRequest(http.MethodGet, "/files"))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.JSONEq(t, tt.body, resp.Body)
			require.NotNil(t, hook.LastEntry())
			assert.Equal(t, tt.level, hook.LastEntry().Level)
		})
	}
}

func TestErrorHandlingAppliesCORS(t *testing.T) {
	cors := &CORSConfig{AllowedOrigins: []string{"https://app.example.com"}}
	req := newRequest(http.MethodGet, "/files")
	req.Headers["Origin"] = "https://app.example.com"

	resp, err := ErrorHandling(nullLogger(), cors)(failing(apperr.Forbidden("no")))(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Headers[HeaderAllowOrigin])
	assert.Equal(t, "Origin", resp.Headers["Vary"])
}

func TestErrorHandlingPassesSuccessThrough(t *testing.T) {
	resp, err := ErrorHandling(nullLogger(), nil)(okHandler("fine"))(context.Background(), newRequest(http.MethodGet, "/"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, resp.Headers, HeaderAllowOrigin)
}
