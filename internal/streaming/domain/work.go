package domain

import (
	"fmt"
	"time"

	errprocess "video_processing_service/pkg/err"
)

// ProcessingStatus processing request state
type ProcessingStatus string

const (
	// StatusAppending registered, waiting for a worker
	StatusAppending ProcessingStatus = "Appending"
	// StatusProcessing claimed by a worker
	StatusProcessing ProcessingStatus = "Processing"
	// StatusFinished terminal, artifacts stored and video marked processed
	StatusFinished ProcessingStatus = "Finished"
	// StatusFailed last attempt failed, may be retried while attempts remain
	StatusFailed ProcessingStatus = "Failed"
)

// ProcessingRequest 轉檔工作
type ProcessingRequest struct {
	ID        string `gorm:"primaryKey"`
	VideoID   string
	Status    ProcessingStatus
	Attempts  int
	LastError string
	StartedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName gorm table name
func (ProcessingRequest) TableName() string {
	return "processing_requests"
}

// RetryPolicy 決定哪些狀態可以重新開始處理
type RetryPolicy struct {
	// MaxAttempts Failed 狀態可重試的總次數上限
	MaxAttempts int
	// StaleAfter Processing 超過此時間視為 worker 已死亡，0 表示不回收
	StaleAfter time.Duration
}

// StaleBefore Processing started before this instant may be reclaimed
func (p RetryPolicy) StaleBefore(now time.Time) (time.Time, bool) {
	if p.StaleAfter <= 0 {
		return time.Time{}, false
	}
	return now.Add(-p.StaleAfter), true
}

// CheckStartable 回傳 nil 表示可以開始處理，否則回傳 ConflictError
func (r *ProcessingRequest) CheckStartable(now time.Time, p RetryPolicy) error {
	switch r.Status {
	case StatusAppending:
		return nil
	case StatusFailed:
		if r.Attempts < p.MaxAttempts {
			return nil
		}
		return errprocess.New(errprocess.ErrConflict,
			fmt.Sprintf("request[%s] retry budget exhausted after %d attempts", r.ID, r.Attempts), nil)
	case StatusProcessing:
		if staleBefore, ok := p.StaleBefore(now); ok && r.StartedAt != nil && r.StartedAt.Before(staleBefore) {
			return nil
		}
	}
	return errprocess.New(errprocess.ErrConflict,
		fmt.Sprintf("request[%s] status[%s] cannot start processing", r.ID, r.Status), nil)
}

// HandoffEvent 通知 worker 的訊息，通道上唯一的 payload
type HandoffEvent struct {
	RequestID string `json:"requestId"`
}

// OutboxEvent hand-off event written in the registration transaction
type OutboxEvent struct {
	ID          string `gorm:"primaryKey"`
	RequestID   string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// TableName gorm table name
func (OutboxEvent) TableName() string {
	return "handoff_outbox"
}
