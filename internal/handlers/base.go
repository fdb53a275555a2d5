package handlers

import (
	"context"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"

	"github.com/sdko-org/filevault/internal/apperr"
	"github.com/sdko-org/filevault/internal/cache"
	"github.com/sdko-org/filevault/internal/logging"
	"github.com/sdko-org/filevault/internal/models"
	"github.com/sdko-org/filevault/internal/pipeline"
	"github.com/sdko-org/filevault/internal/storage"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// FileRepository is the metadata store used by FileHandler.
type FileRepository interface {
	Create(ctx context.Context, f *models.File) error
	Get(ctx context.Context, id string) (*models.File, error)
	ListByOwner(ctx context.Context, userID string, limit, offset int) ([]models.File, int64, error)
	DeleteOwned(ctx context.Context, id, userID string, beforeCommit func(models.File) error) (*models.File, error)
}

type FileHandler struct {
	files          FileRepository
	objects        storage.ObjectStore
	cache          *cache.Store
	maxUploadBytes int64
	presignTTL     time.Duration
	now            func() time.Time
	log            *logrus.Entry
}

func NewFileHandler(logger *logrus.Logger, files FileRepository, objects storage.ObjectStore, responses *cache.Store, maxUploadBytes int64, presignTTL time.Duration) *FileHandler {
	return &FileHandler{
		files:          files,
		objects:        objects,
		cache:          responses,
		maxUploadBytes: maxUploadBytes,
		presignTTL:     presignTTL,
		now:            time.Now,
		log:            logger.WithField("component", "file_handler"),
	}
}

// logger prefers the request-scoped entry so lines carry the request id.
func (h *FileHandler) logger(ctx context.Context) *logrus.Entry {
	if entry, ok := logging.Lookup(ctx); ok {
		return entry.WithField("component", "file_handler")
	}
	return h.log
}

// owned loads the file named by the fileId path parameter and checks that the
// caller owns it.
func (h *FileHandler) owned(ctx context.Context, req events.APIGatewayProxyRequest) (*models.File, error) {
	id := pipeline.IdentityFrom(ctx)
	f, err := h.files.Get(ctx, req.PathParameters["fileId"])
	if err != nil {
		return nil, err
	}
	if f.UserID != id.UserID {
		return nil, apperr.Forbidden("You do not have access to this file")
	}
	return f, nil
}

// invalidateUser drops every cached response for userID.
func (h *FileHandler) invalidateUser(ctx context.Context, userID string) {
	if h.cache == nil {
		return
	}
	removed, err := h.cache.DeletePattern("^" + regexp.QuoteMeta(userCachePrefix(userID)))
	if err != nil {
		h.logger(ctx).WithError(err).Warn("Cache invalidation failed")
		return
	}
	if removed > 0 {
		h.logger(ctx).WithField("count", removed).Debug("Invalidated cached responses")
	}
}

func userCachePrefix(userID string) string {
	return "user:" + userID + "|"
}

// userCacheKey scopes the standard cache key to the caller.
func userCacheKey(varyHeaders []string) pipeline.KeyFunc {
	return func(ctx context.Context, req events.APIGatewayProxyRequest) string {
		return userCachePrefix(pipeline.IdentityFrom(ctx).UserID) + pipeline.CacheKey(req, varyHeaders)
	}
}

func queryInt(req events.APIGatewayProxyRequest, name string) (int, error) {
	raw := strings.TrimSpace(req.QueryStringParameters[name])
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation("Invalid query parameter").WithDetails(map[string]any{
			name: "must be a non-negative integer",
		})
	}
	return n, nil
}

// sanitizeFilename keeps the base name and replaces anything outside
// [a-zA-Z0-9._-] so the name is safe inside an object key.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".")
	if len(name) > 255 {
		name = name[len(name)-255:]
	}
	if name == "" {
		return "file"
	}
	return name
}
