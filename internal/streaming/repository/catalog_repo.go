package repository

import (
	"context"
	"errors"
	"fmt"

	"video_processing_service/internal/streaming/domain"
	errprocess "video_processing_service/pkg/err"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// CatalogRepo 已處理影片的唯讀查詢
type CatalogRepo interface {
	GetProcessedVideo(ctx context.Context, id string) (*domain.Video, error)
	ListProcessedVideos(ctx context.Context, ownerID string, limit, offset int) ([]domain.Video, error)
}

type catalogRepo struct {
	db *pgxpool.Pool
}

// NewCatalogRepo create CatalogRepo
func NewCatalogRepo(db *pgxpool.Pool) CatalogRepo {
	return &catalogRepo{db: db}
}

const videoColumns = "id, owner_id, display_name, description, processed, created_at"

func (r *catalogRepo) GetProcessedVideo(ctx context.Context, id string) (*domain.Video, error) {
	query := "SELECT " + videoColumns + " FROM videos WHERE id = $1 AND processed"

	var v domain.Video
	err := r.db.QueryRow(ctx, query, id).Scan(
		&v.ID, &v.OwnerID, &v.DisplayName, &v.Description, &v.Processed, &v.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errprocess.New(errprocess.ErrNotFound, fmt.Sprintf("video[%s] not found", id), nil)
	} else if err != nil {
		return nil, errprocess.New(errprocess.ErrPersistence, fmt.Sprintf("video[%s] get", id), err)
	}
	return &v, nil
}

// buildListQuery 動態組合查詢條件
func buildListQuery(ownerID string, limit, offset int) (string, []interface{}) {
	query := "SELECT " + videoColumns + " FROM videos WHERE processed"
	params := []interface{}{}
	paramCount := 1

	if ownerID != "" {
		query += fmt.Sprintf(" AND owner_id = $%d", paramCount)
		params = append(params, ownerID)
		paramCount++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", paramCount, paramCount+1)
	params = append(params, limit, offset)
	return query, params
}

func (r *catalogRepo) ListProcessedVideos(ctx context.Context, ownerID string, limit, offset int) ([]domain.Video, error) {
	query, params := buildListQuery(ownerID, limit, offset)

	rows, err := r.db.Query(ctx, query, params...)
	if err != nil {
		return nil, errprocess.New(errprocess.ErrPersistence, "list videos", err)
	}
	defer rows.Close()

	videos := []domain.Video{}
	for rows.Next() {
		var v domain.Video
		if err := rows.Scan(&v.ID, &v.OwnerID, &v.DisplayName, &v.Description, &v.Processed, &v.CreatedAt); err != nil {
			return nil, errprocess.New(errprocess.ErrPersistence, "scan video row", err)
		}
		videos = append(videos, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errprocess.New(errprocess.ErrPersistence, "list videos", err)
	}
	return videos, nil
}
