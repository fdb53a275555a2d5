package models

import (
	"time"
)

// File is the metadata row for one uploaded object.
type File struct {
	ID          string    `gorm:"primaryKey;type:varchar(36);not null" json:"id"`
	UserID      string    `gorm:"type:varchar(128);not null;index:idx_files_user_created,priority:1" json:"userId"`
	Filename    string    `gorm:"type:varchar(255);not null" json:"filename"`
	ContentType string    `gorm:"type:varchar(255);not null" json:"contentType"`
	SizeBytes   int64     `gorm:"not null;default:0" json:"size"`
	S3Key       string    `gorm:"column:s3_key;type:varchar(1024);not null;uniqueIndex" json:"s3Key"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	CreatedAt   time.Time `gorm:"not null;index:idx_files_user_created,priority:2,sort:desc" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"not null" json:"updatedAt"`
}

func (File) TableName() string {
	return "files"
}
