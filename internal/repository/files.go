package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sdko-org/filevault/internal/apperr"
	"github.com/sdko-org/filevault/internal/database"
	"github.com/sdko-org/filevault/internal/models"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Files stores file metadata rows.
type Files struct {
	db  *database.DB
	now func() time.Time
}

func NewFiles(db *database.DB) *Files {
	return &Files{db: db, now: time.Now}
}

// Create inserts f, assigning an id and timestamps when they are unset.
func (r *Files) Create(ctx context.Context, f *models.File) error {
	if f.UserID == "" || f.S3Key == "" {
		return apperr.Validation("File owner and object key are required")
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := r.now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	if err := r.db.Gorm(ctx).Create(f).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Conflict("File already exists")
		}
		return apperr.Database("Failed to save file metadata", err)
	}
	return nil
}

func (r *Files) Get(ctx context.Context, id string) (*models.File, error) {
	if id == "" {
		return nil, apperr.Validation("File id is required")
	}

	var f models.File
	err := r.db.QueryOne(ctx, &f, `SELECT * FROM files WHERE id = ? LIMIT 1`, id)
	if apperr.IsKind(err, apperr.KindNotFound) {
		return nil, apperr.NotFound("File not found")
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListByOwner returns one page of the user's files, newest first, plus the
// user's total file count.
func (r *Files) ListByOwner(ctx context.Context, userID string, limit, offset int) ([]models.File, int64, error) {
	limit, offset = ClampPage(limit, offset)

	var total struct{ Count int64 }
	if err := r.db.QueryOne(ctx, &total, `SELECT COUNT(*) AS count FROM files WHERE user_id = ?`, userID); err != nil && !apperr.IsKind(err, apperr.KindNotFound) {
		return nil, 0, err
	}

	files := []models.File{}
	if err := r.db.Query(ctx, &files,
		`SELECT * FROM files WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	); err != nil {
		return nil, 0, err
	}
	return files, total.Count, nil
}

// DeleteOwned removes the row for id if userID owns it. beforeCommit runs
// inside the transaction; its error rolls the delete back.
func (r *Files) DeleteOwned(ctx context.Context, id, userID string, beforeCommit func(models.File) error) (*models.File, error) {
	var deleted models.File
	err := r.db.Transaction(ctx, func(tx *database.DB) error {
		if err := tx.QueryOne(ctx, &deleted, `SELECT * FROM files WHERE id = ? FOR UPDATE`, id); err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				return apperr.NotFound("File not found")
			}
			return err
		}
		if deleted.UserID != userID {
			return apperr.Forbidden("You do not have access to this file")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM files WHERE id = ?`, id); err != nil {
			return err
		}
		if beforeCommit != nil {
			return beforeCommit(deleted)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &deleted, nil
}

// ClampPage applies the default and maximum page size and floors offset at 0.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
