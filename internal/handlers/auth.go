package handlers

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/aws/aws-lambda-go/events"

	"github.com/sdko-org/filevault/internal/apperr"
	"github.com/sdko-org/filevault/internal/pipeline"
)

type validateRequest struct {
	Token string `json:"token"`
}

type validateResponse struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

type AuthHandler struct {
	verifier pipeline.Verifier
}

func NewAuthHandler(verifier pipeline.Verifier) *AuthHandler {
	return &AuthHandler{verifier: verifier}
}

// ValidateToken checks the token given in the JSON body, or the bearer token
// when the body has none.
func (h *AuthHandler) ValidateToken(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	body, err := pipeline.Body(req)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}

	var in validateRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &in); err != nil {
			return events.APIGatewayProxyResponse{}, apperr.Validation("Request body must be valid JSON")
		}
	}
	token := in.Token
	if token == "" {
		token = pipeline.BearerToken(req)
	}
	if token == "" {
		return events.APIGatewayProxyResponse{}, apperr.Validation("Token is required").WithDetails(map[string]any{
			"token": "required in the body or the Authorization header",
		})
	}

	result, err := h.verifier.Verify(ctx, token)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	if !result.Valid {
		msg := result.Error
		if msg == "" {
			msg = "Invalid or expired token"
		}
		return events.APIGatewayProxyResponse{}, apperr.InvalidToken(msg)
	}

	return pipeline.OK(validateResponse{Valid: true, UserID: result.UserID, Email: result.Email}), nil
}
