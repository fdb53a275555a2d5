package pipeline

import (
	"encoding/json"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/sdko-org/filevault/internal/apperr"
)

const (
	HeaderContentType = "Content-Type"
	ContentTypeJSON   = "application/json"
)

type successBody struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// JSON renders v with the standard JSON headers.
func JSON(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return ErrorResponse(apperr.Internal("failed to encode response", err))
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{HeaderContentType: ContentTypeJSON},
		Body:       string(body),
	}
}

// Success wraps data in {"success": true, "data": ...}.
func Success(status int, data any) events.APIGatewayProxyResponse {
	return JSON(status, successBody{Success: true, Data: data})
}

func OK(data any) events.APIGatewayProxyResponse {
	return Success(http.StatusOK, data)
}

// ErrorResponse renders err in the error envelope. Errors outside the
// taxonomy are reported as INTERNAL_ERROR without their text.
func ErrorResponse(err error) events.APIGatewayProxyResponse {
	appErr := apperr.From(err)
	body, _ := json.Marshal(errorBody{
		Error:   appErr.Code(),
		Message: appErr.Message,
		Details: appErr.Details,
	})
	return events.APIGatewayProxyResponse{
		StatusCode: appErr.Status(),
		Headers:    map[string]string{HeaderContentType: ContentTypeJSON},
		Body:       string(body),
	}
}

func setHeader(resp *events.APIGatewayProxyResponse, key, value string) {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers[key] = value
}
