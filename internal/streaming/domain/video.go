package domain

import "time"

const (
	// MaxDisplayNameLength 影片名稱上限（字元）
	MaxDisplayNameLength = 100
	// MaxDescriptionLength 影片描述上限（字元）
	MaxDescriptionLength = 100
)

// Video 影片目錄資料，id 即原始上傳檔的 id
type Video struct {
	ID          string `gorm:"primaryKey"`
	OwnerID     string
	DisplayName string
	Description string
	// Processed 只有 worker 完成轉檔後才會設為 true
	Processed bool
	CreatedAt time.Time
}

// TableName gorm table name
func (Video) TableName() string {
	return "videos"
}

// RegisterVideoReq usecase register video request
type RegisterVideoReq struct {
	RawFileID   string `json:"file_id" validate:"required,max=64"`
	OwnerID     string `json:"-" validate:"required"`
	DisplayName string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=100"`
}

// UploadSlot presigned direct-upload target
type UploadSlot struct {
	URL       string `json:"url"`
	RawFileID string `json:"file_id"`
}

// VideoMetadata catalog read model
type VideoMetadata struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	DisplayName  string    `json:"name"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
	PlaylistKey  string    `json:"playlist_key"`
	ThumbnailKey string    `json:"thumbnail_key"`
}

// ListVideosReq catalog page query, OwnerID empty means every owner
type ListVideosReq struct {
	OwnerID  string
	Page     int `validate:"gte=1"`
	PageSize int `validate:"gte=1,lte=100"`
}

// VideoPage one page of catalog results
type VideoPage struct {
	Videos   []VideoMetadata `json:"videos"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// Artifact a stored HLS object returned to a reader
type Artifact struct {
	ContentType string
	Body        []byte
}
