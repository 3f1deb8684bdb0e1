package repository

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	errprocess "video_processing_service/pkg/err"
	"video_processing_service/pkg/storagekey"
)

// StorageGateway 物件儲存，temporary 代表原始上傳暫存區
type StorageGateway interface {
	// Put store body under name in the permanent area
	Put(ctx context.Context, name string, body io.Reader, size int64, contentType string) error
	// Get open an object, absent objects return errprocess.ErrNotFound
	Get(ctx context.Context, name string, temporary bool) (io.ReadCloser, error)
	Exists(ctx context.Context, name string, temporary bool) (bool, error)
	// PresignPut time-limited URL for a client to upload directly
	PresignPut(ctx context.Context, name string, temporary bool) (string, error)
}

func objectKey(name string, temporary bool) string {
	if temporary {
		return storagekey.Temp(name)
	}
	return name
}

func notFoundErr(key string, cause error) error {
	return errprocess.New(errprocess.ErrNotFound, fmt.Sprintf("objectName[%s] not found", key), cause)
}

func storageErr(key, op string, cause error) error {
	return errprocess.New(errprocess.ErrStorage, fmt.Sprintf("objectName[%s] %s failed", key, op), cause)
}

// publicRewriter 把內部 endpoint 的 presigned URL 換成對外網址
type publicRewriter struct {
	public *url.URL
}

func newPublicRewriter(publicURL string) (publicRewriter, error) {
	if publicURL == "" {
		return publicRewriter{}, nil
	}
	u, err := url.Parse(publicURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return publicRewriter{}, fmt.Errorf("publicURL[%s] invalid", publicURL)
	}
	return publicRewriter{public: u}, nil
}

func (p publicRewriter) rewrite(raw string) (string, error) {
	if p.public == nil {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("presigned url parse : %w", err)
	}
	u.Scheme = p.public.Scheme
	u.Host = p.public.Host
	if prefix := strings.TrimSuffix(p.public.Path, "/"); prefix != "" {
		u.Path = prefix + u.Path
		if u.RawPath != "" {
			u.RawPath = prefix + u.RawPath
		}
	}
	return u.String(), nil
}
