package repository

import (
	"context"
	"io"
	"net/http"
	"time"

	"video_processing_service/pkg/database"

	"github.com/minio/minio-go/v7"
)

type minioGateway struct {
	client  *minio.Client
	bucket  string
	expiry  time.Duration
	rewrite publicRewriter
}

// NewMinIOGateway create a StorageGateway backed by MinIO
func NewMinIOGateway(mc *database.MinIOClient, presignExpiry time.Duration, publicURL string) (StorageGateway, error) {
	rw, err := newPublicRewriter(publicURL)
	if err != nil {
		return nil, err
	}
	return &minioGateway{
		client:  mc.Client,
		bucket:  mc.BucketName,
		expiry:  presignExpiry,
		rewrite: rw,
	}, nil
}

func isMinIONotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

func (g *minioGateway) Put(ctx context.Context, name string, body io.Reader, size int64, contentType string) error {
	if _, err := g.client.PutObject(ctx, g.bucket, name, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return storageErr(name, "put", err)
	}
	return nil
}

func (g *minioGateway) Get(ctx context.Context, name string, temporary bool) (io.ReadCloser, error) {
	key := objectKey(name, temporary)
	obj, err := g.client.GetObject(ctx, g.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, storageErr(key, "get", err)
	}
	// GetObject 是 lazy 的，Stat 才會拿到 NoSuchKey
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isMinIONotFound(err) {
			return nil, notFoundErr(key, err)
		}
		return nil, storageErr(key, "get", err)
	}
	return obj, nil
}

func (g *minioGateway) Exists(ctx context.Context, name string, temporary bool) (bool, error) {
	key := objectKey(name, temporary)
	if _, err := g.client.StatObject(ctx, g.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isMinIONotFound(err) {
			return false, nil
		}
		return false, storageErr(key, "stat", err)
	}
	return true, nil
}

func (g *minioGateway) PresignPut(ctx context.Context, name string, temporary bool) (string, error) {
	key := objectKey(name, temporary)
	u, err := g.client.PresignedPutObject(ctx, g.bucket, key, g.expiry)
	if err != nil {
		return "", storageErr(key, "presign", err)
	}
	return g.rewrite.rewrite(u.String())
}
