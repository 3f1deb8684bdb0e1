package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"video_processing_service/internal/streaming/domain"
	"video_processing_service/internal/streaming/repository"
	"video_processing_service/pkg/database"
	errprocess "video_processing_service/pkg/err"
	"video_processing_service/pkg/logger"
	"video_processing_service/pkg/storagekey"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IngestionUseCase 這裡封裝了對外提供的應用服務
type IngestionUseCase interface {
	// RegisterVideo 建立影片、轉檔工作與 hand-off 事件，三者同一個交易
	RegisterVideo(ctx context.Context, req domain.RegisterVideoReq) error
	IssueUploadSlot(ctx context.Context) (*domain.UploadSlot, error)
	GetVideo(ctx context.Context, videoID string) (*domain.VideoMetadata, error)
	ListVideos(ctx context.Context, req domain.ListVideosReq) (*domain.VideoPage, error)
	GetMasterPlaylist(ctx context.Context, videoID string) (*domain.Artifact, error)
	GetArtifact(ctx context.Context, videoID, fileName string) (*domain.Artifact, error)
}

// Notifier 交易提交後喚醒 outbox relay
type Notifier interface {
	Notify()
}

// IngestionOptions optional collaborators
type IngestionOptions struct {
	// Cache nil 時不快取
	Cache    database.RedisRepository[domain.VideoMetadata]
	CacheTTL time.Duration
	Notifier Notifier
}

type ingestionUseCase struct {
	store    repository.JobStore
	catalog  repository.CatalogRepo
	storage  repository.StorageGateway
	cache    database.RedisRepository[domain.VideoMetadata]
	cacheTTL time.Duration
	notifier Notifier
	validate *validator.Validate

	newID func() string
}

// NewIngestionUseCase 建立一個新的 IngestionUseCase
func NewIngestionUseCase(store repository.JobStore,
	catalog repository.CatalogRepo,
	storage repository.StorageGateway,
	opts IngestionOptions,
) IngestionUseCase {
	return &ingestionUseCase{
		store:    store,
		catalog:  catalog,
		storage:  storage,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		notifier: opts.Notifier,
		validate: validator.New(),
		newID:    uuid.NewString,
	}
}

func videoCacheKey(videoID string) string {
	return "video:meta:" + videoID
}

func (u *ingestionUseCase) RegisterVideo(ctx context.Context, req domain.RegisterVideoReq) error {
	if req.OwnerID == "" {
		return errprocess.New(errprocess.ErrValidation, "owner id is required", nil)
	}
	if err := u.validate.Struct(req); err != nil {
		return errprocess.New(errprocess.ErrValidation, fmt.Sprintf("file_id[%s] register request invalid", req.RawFileID), err)
	}
	if !storagekey.ValidFileName(req.RawFileID) {
		return errprocess.New(errprocess.ErrValidation, fmt.Sprintf("file_id[%s] invalid", req.RawFileID), nil)
	}

	exists, err := u.storage.Exists(ctx, req.RawFileID, true)
	if err != nil {
		return err
	}
	if !exists {
		return errprocess.New(errprocess.ErrValidation, fmt.Sprintf("file_id[%s] raw upload not found", req.RawFileID), nil)
	}

	request := &domain.ProcessingRequest{
		ID:      u.newID(),
		VideoID: req.RawFileID,
		Status:  domain.StatusAppending,
	}
	payload, err := json.Marshal(domain.HandoffEvent{RequestID: request.ID})
	if err != nil {
		return errprocess.New(errprocess.ErrValidation, "hand-off event marshal", err)
	}

	err = u.store.Transaction(ctx, func(tx repository.JobTx) error {
		if err := tx.CreateVideo(&domain.Video{
			ID:          req.RawFileID,
			OwnerID:     req.OwnerID,
			DisplayName: req.DisplayName,
			Description: req.Description,
			Processed:   false,
		}); err != nil {
			return err
		}
		if err := tx.CreateRequest(request); err != nil {
			return err
		}
		return tx.AppendOutbox(&domain.OutboxEvent{
			ID:        u.newID(),
			RequestID: request.ID,
			Payload:   payload,
		})
	})
	if err != nil {
		logger.Log.Error("register video failed",
			zap.String("video_id", req.RawFileID),
			zap.String("owner_id", req.OwnerID),
			zap.Error(err),
		)
		return err
	}

	logger.Log.Info("video registered",
		zap.String("video_id", req.RawFileID),
		zap.String("request_id", request.ID),
	)
	if u.notifier != nil {
		u.notifier.Notify()
	}
	return nil
}

func (u *ingestionUseCase) IssueUploadSlot(ctx context.Context) (*domain.UploadSlot, error) {
	id := u.newID()
	url, err := u.storage.PresignPut(ctx, id, true)
	if err != nil {
		return nil, err
	}
	return &domain.UploadSlot{URL: url, RawFileID: id}, nil
}

func toMetadata(v *domain.Video) *domain.VideoMetadata {
	return &domain.VideoMetadata{
		ID:           v.ID,
		OwnerID:      v.OwnerID,
		DisplayName:  v.DisplayName,
		Description:  v.Description,
		CreatedAt:    v.CreatedAt,
		PlaylistKey:  storagekey.MasterPlaylist(v.ID),
		ThumbnailKey: storagekey.Thumbnail(v.ID),
	}
}

// GetVideo 只回傳已處理的影片，已處理的資料不再變動所以可以快取
func (u *ingestionUseCase) GetVideo(ctx context.Context, videoID string) (*domain.VideoMetadata, error) {
	if videoID == "" {
		return nil, errprocess.New(errprocess.ErrValidation, "video id is required", nil)
	}

	if u.cache != nil {
		meta, err := u.cache.Get(ctx, videoCacheKey(videoID))
		if err == nil {
			return &meta, nil
		}
		if !errors.Is(err, database.ErrCacheMiss) {
			logger.Log.Warn("video cache read failed", zap.String("video_id", videoID), zap.Error(err))
		}
	}

	v, err := u.catalog.GetProcessedVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	meta := toMetadata(v)

	if u.cache != nil {
		if err := u.cache.Set(ctx, videoCacheKey(videoID), *meta, u.cacheTTL); err != nil {
			logger.Log.Warn("video cache write failed", zap.String("video_id", videoID), zap.Error(err))
		}
	}
	return meta, nil
}

func (u *ingestionUseCase) ListVideos(ctx context.Context, req domain.ListVideosReq) (*domain.VideoPage, error) {
	if err := u.validate.Struct(req); err != nil {
		return nil, errprocess.New(errprocess.ErrValidation, "list videos request invalid", err)
	}

	videos, err := u.catalog.ListProcessedVideos(ctx, req.OwnerID, req.PageSize, (req.Page-1)*req.PageSize)
	if err != nil {
		return nil, err
	}

	page := &domain.VideoPage{
		Videos:   make([]domain.VideoMetadata, 0, len(videos)),
		Page:     req.Page,
		PageSize: req.PageSize,
	}
	for i := range videos {
		page.Videos = append(page.Videos, *toMetadata(&videos[i]))
	}
	return page, nil
}

func (u *ingestionUseCase) GetMasterPlaylist(ctx context.Context, videoID string) (*domain.Artifact, error) {
	if !storagekey.ValidFileName(videoID) {
		return nil, errprocess.New(errprocess.ErrValidation, fmt.Sprintf("video[%s] invalid id", videoID), nil)
	}
	if _, err := u.GetVideo(ctx, videoID); err != nil {
		return nil, err
	}
	return u.readArtifact(ctx, storagekey.MasterPlaylist(videoID), storagekey.MasterContentType)
}

func (u *ingestionUseCase) GetArtifact(ctx context.Context, videoID, fileName string) (*domain.Artifact, error) {
	if !storagekey.ValidFileName(videoID) || !storagekey.ValidFileName(fileName) {
		return nil, errprocess.New(errprocess.ErrValidation,
			fmt.Sprintf("video[%s] file[%s] invalid name", videoID, fileName), nil)
	}
	// 未完成或失敗的工作可能留下部分產物，只提供已處理的影片
	if _, err := u.GetVideo(ctx, videoID); err != nil {
		return nil, err
	}
	return u.readArtifact(ctx, storagekey.SubFile(videoID, fileName), storagekey.ContentType(fileName))
}

func (u *ingestionUseCase) readArtifact(ctx context.Context, key, contentType string) (*domain.Artifact, error) {
	rc, err := u.storage.Get(ctx, key, false)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, errprocess.New(errprocess.ErrStorage, fmt.Sprintf("objectName[%s] read", key), err)
	}
	return &domain.Artifact{ContentType: contentType, Body: body}, nil
}
