package entities

import (
	"time"
)

// Video is the uploaded source as recorded by the upload service.
type Video struct {
	ID         string    `json:"id" gorm:"type:varchar(64);primary_key"`
	OwnerID    string    `json:"owner_id" gorm:"type:varchar(64);index:idx_videos_owner"`
	Filename   string    `json:"filename" gorm:"type:varchar(500)"`
	ObjectName string    `json:"object_name" gorm:"type:varchar(500);not null"`
	Size       int64     `json:"size" gorm:"type:bigint"`
	Duration   float64   `json:"duration" gorm:"type:double precision"`
	UploadedAt time.Time `json:"uploaded_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (Video) TableName() string {
	return "videos"
}
