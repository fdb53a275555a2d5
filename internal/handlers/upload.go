package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sdko-org/filevault/internal/apperr"
	"github.com/sdko-org/filevault/internal/models"
	"github.com/sdko-org/filevault/internal/multipart"
	"github.com/sdko-org/filevault/internal/pipeline"
)

const uploadField = "file"

// Upload stores the first file part of a multipart body and records its
// metadata. The stored object is removed again if the metadata insert fails.
func (h *FileHandler) Upload(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID := pipeline.IdentityFrom(ctx).UserID

	body, err := pipeline.Body(req)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	if int64(len(body)) > h.maxUploadBytes {
		return events.APIGatewayProxyResponse{}, apperr.PayloadTooLarge(
			fmt.Sprintf("File exceeds the maximum upload size of %d bytes", h.maxUploadBytes))
	}

	boundary, err := multipart.BoundaryFromContentType(pipeline.Header(req, pipeline.HeaderContentType))
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	form, err := multipart.Parse(body, boundary)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}

	file, ok := form.File(uploadField)
	if !ok {
		if len(form.Files) == 0 {
			return events.APIGatewayProxyResponse{}, apperr.Validation("No file provided").WithDetails(map[string]any{
				uploadField: "a file part is required",
			})
		}
		file = form.Files[0]
	}
	if file.Size == 0 {
		return events.APIGatewayProxyResponse{}, apperr.Validation("Uploaded file is empty")
	}

	filename := sanitizeFilename(file.Filename)
	fileID := uuid.NewString()
	key := fmt.Sprintf("users/%s/%s/%s", userID, fileID, filename)
	log := h.logger(ctx).WithFields(logrus.Fields{"file_id": fileID, "key": key})

	err = h.objects.Put(ctx, key, file.Content, file.ContentType, map[string]string{
		"user-id":           userID,
		"file-id":           fileID,
		"original-filename": filename,
	})
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}

	record := &models.File{
		ID:          fileID,
		UserID:      userID,
		Filename:    filename,
		ContentType: file.ContentType,
		SizeBytes:   int64(file.Size),
		S3Key:       key,
		Description: form.Fields["description"],
	}
	if err := h.files.Create(ctx, record); err != nil {
		if delErr := h.objects.Delete(ctx, key); delErr != nil {
			log.WithError(delErr).Error("Failed to remove object after metadata insert failed")
		}
		return events.APIGatewayProxyResponse{}, err
	}

	h.invalidateUser(ctx, userID)
	log.WithField("size", file.Size).Info("File uploaded")
	return pipeline.Success(http.StatusCreated, record), nil
}
