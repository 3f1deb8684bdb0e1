package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"video_processing_service/internal/streaming/domain"
	errprocess "video_processing_service/pkg/err"
	"video_processing_service/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobStore 影片與轉檔工作的交易式儲存
type JobStore interface {
	// Transaction 在同一個資料庫交易中執行 fn，fn 回傳錯誤即 rollback
	Transaction(ctx context.Context, fn func(tx JobTx) error) error
	GetRequest(ctx context.Context, id string) (*domain.ProcessingRequest, error)
	// ClaimRequest 以 compare-and-set 把可開始的工作改為 Processing，回傳的 Attempts 即此次 claim 的憑證
	ClaimRequest(ctx context.Context, id string, now time.Time, policy domain.RetryPolicy) (*domain.ProcessingRequest, error)
	// MarkFailed Processing -> Failed, false when the request left Processing or was reclaimed
	MarkFailed(ctx context.Context, id string, attempt int, reason string) (bool, error)
	// ReleaseClaim 放棄 claim 但不消耗次數，工作回到 Appending
	ReleaseClaim(ctx context.Context, id string, attempt int) (bool, error)
	// RelayOutbox lock up to limit unpublished events, publish each and stamp the published ones
	RelayOutbox(ctx context.Context, limit int, publish func(domain.OutboxEvent) error) (int, error)
}

// JobTx operations available inside a transaction
type JobTx interface {
	CreateVideo(video *domain.Video) error
	CreateRequest(req *domain.ProcessingRequest) error
	AppendOutbox(event *domain.OutboxEvent) error
	// TransitionRequest compare-and-set on status and claim attempt, false when no row matched
	TransitionRequest(id string, attempt int, from, to domain.ProcessingStatus) (bool, error)
	// MarkVideoProcessed false when the video does not exist
	MarkVideoProcessed(videoID string) (bool, error)
}

type jobStore struct {
	db *gorm.DB
}

// NewJobStore create JobStore
func NewJobStore(db *gorm.DB) JobStore {
	return &jobStore{db: db}
}

func persistenceErr(msg string, err error) error {
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errprocess.New(errprocess.ErrConflict, msg, err)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errprocess.New(errprocess.ErrNotFound, msg, err)
	}
	return errprocess.New(errprocess.ErrPersistence, msg, err)
}

func (s *jobStore) Transaction(ctx context.Context, fn func(tx JobTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&jobTx{db: tx})
	})
}

func (s *jobStore) GetRequest(ctx context.Context, id string) (*domain.ProcessingRequest, error) {
	var req domain.ProcessingRequest
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		return nil, persistenceErr(fmt.Sprintf("request[%s] get", id), err)
	}
	return &req, nil
}

// startableScope 與 domain.ProcessingRequest.CheckStartable 相同的條件，交給資料庫原子判斷
func startableScope(now time.Time, policy domain.RetryPolicy) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		cond := "status = ? OR (status = ? AND attempts < ?)"
		args := []interface{}{domain.StatusAppending, domain.StatusFailed, policy.MaxAttempts}
		if staleBefore, ok := policy.StaleBefore(now); ok {
			cond += " OR (status = ? AND started_at < ?)"
			args = append(args, domain.StatusProcessing, staleBefore)
		}
		return db.Where("("+cond+")", args...)
	}
}

func (s *jobStore) ClaimRequest(ctx context.Context, id string, now time.Time, policy domain.RetryPolicy) (*domain.ProcessingRequest, error) {
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := req.CheckStartable(now, policy); err != nil {
		return nil, err
	}

	result := s.db.WithContext(ctx).
		Model(&domain.ProcessingRequest{}).
		Where("id = ?", id).
		Scopes(startableScope(now, policy)).
		Updates(map[string]interface{}{
			"status":     domain.StatusProcessing,
			"attempts":   gorm.Expr("attempts + 1"),
			"started_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return nil, persistenceErr(fmt.Sprintf("request[%s] claim", id), result.Error)
	}
	if result.RowsAffected == 0 {
		// 另一個 worker 在讀取與更新之間搶先了
		return nil, errprocess.New(errprocess.ErrConflict, fmt.Sprintf("request[%s] claimed concurrently", id), nil)
	}

	req.Status = domain.StatusProcessing
	req.Attempts++
	req.StartedAt = &now
	req.UpdatedAt = now
	return req, nil
}

// claimScope 只命中仍屬於該次 claim 的列
func claimScope(id string, attempt int) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ? AND status = ? AND attempts = ?", id, domain.StatusProcessing, attempt)
	}
}

func (s *jobStore) MarkFailed(ctx context.Context, id string, attempt int, reason string) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&domain.ProcessingRequest{}).
		Scopes(claimScope(id, attempt)).
		Updates(map[string]interface{}{
			"status":     domain.StatusFailed,
			"last_error": reason,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, persistenceErr(fmt.Sprintf("request[%s] mark failed", id), result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *jobStore) ReleaseClaim(ctx context.Context, id string, attempt int) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&domain.ProcessingRequest{}).
		Scopes(claimScope(id, attempt)).
		Updates(map[string]interface{}{
			"status":     domain.StatusAppending,
			"attempts":   gorm.Expr("attempts - 1"),
			"started_at": nil,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, persistenceErr(fmt.Sprintf("request[%s] attempt[%d] release", id, attempt), result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *jobStore) RelayOutbox(ctx context.Context, limit int, publish func(domain.OutboxEvent) error) (int, error) {
	published := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var events []domain.OutboxEvent
		// SKIP LOCKED 讓多個 ingest 實例不會重複拿到同一批
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("published_at IS NULL").
			Order("created_at").
			Limit(limit).
			Find(&events).Error; err != nil {
			return persistenceErr("outbox select pending", err)
		}

		for _, ev := range events {
			if err := publish(ev); err != nil {
				// 已送出的先記錄，剩下的等下一輪
				if published > 0 {
					logger.Log.Warn("outbox publish stopped mid batch",
						zap.String("event_id", ev.ID),
						zap.Int("published", published),
						zap.Int("pending", len(events)-published),
						zap.Error(err))
					return nil
				}
				return err
			}
			if err := tx.Model(&domain.OutboxEvent{}).
				Where("id = ?", ev.ID).
				Update("published_at", time.Now()).Error; err != nil {
				return persistenceErr(fmt.Sprintf("outbox[%s] mark published", ev.ID), err)
			}
			published++
		}
		return nil
	})
	return published, err
}

type jobTx struct {
	db *gorm.DB
}

func (t *jobTx) CreateVideo(video *domain.Video) error {
	if err := t.db.Create(video).Error; err != nil {
		return persistenceErr(fmt.Sprintf("video[%s] create", video.ID), err)
	}
	return nil
}

func (t *jobTx) CreateRequest(req *domain.ProcessingRequest) error {
	if err := t.db.Create(req).Error; err != nil {
		return persistenceErr(fmt.Sprintf("request for video[%s] create", req.VideoID), err)
	}
	return nil
}

func (t *jobTx) AppendOutbox(event *domain.OutboxEvent) error {
	if err := t.db.Create(event).Error; err != nil {
		return persistenceErr(fmt.Sprintf("outbox for request[%s] append", event.RequestID), err)
	}
	return nil
}

func (t *jobTx) TransitionRequest(id string, attempt int, from, to domain.ProcessingStatus) (bool, error) {
	result := t.db.Model(&domain.ProcessingRequest{}).
		Where("id = ? AND status = ? AND attempts = ?", id, from, attempt).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, persistenceErr(fmt.Sprintf("request[%s] %s -> %s", id, from, to), result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (t *jobTx) MarkVideoProcessed(videoID string) (bool, error) {
	result := t.db.Model(&domain.Video{}).
		Where("id = ?", videoID).
		Update("processed", true)
	if result.Error != nil {
		return false, persistenceErr(fmt.Sprintf("video[%s] mark processed", videoID), result.Error)
	}
	return result.RowsAffected == 1, nil
}
