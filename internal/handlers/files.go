package handlers

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"

	"github.com/sdko-org/filevault/internal/models"
	"github.com/sdko-org/filevault/internal/pipeline"
	"github.com/sdko-org/filevault/internal/repository"
)

type pagination struct {
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	Total   int64 `json:"total"`
	HasMore bool  `json:"hasMore"`
}

type listResponse struct {
	Files      []models.File `json:"files"`
	Pagination pagination    `json:"pagination"`
}

type downloadResponse struct {
	URL       string `json:"url"`
	Filename  string `json:"filename"`
	ExpiresIn int    `json:"expiresIn"`
	ExpiresAt string `json:"expiresAt"`
}

type deleteResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// ListFiles returns one page of the caller's files.
func (h *FileHandler) ListFiles(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	limit, err := queryInt(req, "limit")
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	offset, err := queryInt(req, "offset")
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	limit, offset = repository.ClampPage(limit, offset)

	userID := pipeline.IdentityFrom(ctx).UserID
	files, total, err := h.files.ListByOwner(ctx, userID, limit, offset)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	if files == nil {
		files = []models.File{}
	}

	return pipeline.OK(listResponse{
		Files: files,
		Pagination: pagination{
			Limit:   limit,
			Offset:  offset,
			Total:   total,
			HasMore: int64(offset+len(files)) < total,
		},
	}), nil
}

func (h *FileHandler) GetFile(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	f, err := h.owned(ctx, req)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return pipeline.OK(f), nil
}

// DownloadURL issues a presigned GET link for the caller's file.
func (h *FileHandler) DownloadURL(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	f, err := h.owned(ctx, req)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}

	url, err := h.objects.Presign(ctx, f.S3Key, f.Filename, h.presignTTL)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}

	h.logger(ctx).WithField("file_id", f.ID).Info("Download link issued")
	return pipeline.OK(downloadResponse{
		URL:       url,
		Filename:  f.Filename,
		ExpiresIn: int(h.presignTTL.Seconds()),
		ExpiresAt: h.now().Add(h.presignTTL).UTC().Format(time.RFC3339),
	}), nil
}

// DeleteFile removes the metadata row and the stored object together; if the
// object cannot be removed the row is kept.
func (h *FileHandler) DeleteFile(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID := pipeline.IdentityFrom(ctx).UserID
	fileID := req.PathParameters["fileId"]

	f, err := h.files.DeleteOwned(ctx, fileID, userID, func(f models.File) error {
		return h.objects.Delete(ctx, f.S3Key)
	})
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}

	h.invalidateUser(ctx, userID)
	h.logger(ctx).WithFields(logrus.Fields{"file_id": f.ID, "key": f.S3Key}).Info("File deleted")
	return pipeline.OK(deleteResponse{ID: f.ID, Deleted: true}), nil
}
