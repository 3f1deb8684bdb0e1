package repository

import (
	"context"
	"errors"
	"io"
	"time"

	"video_processing_service/pkg/database"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type s3Gateway struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	expiry  time.Duration
	rewrite publicRewriter
}

// NewS3Gateway create a StorageGateway backed by S3
func NewS3Gateway(sc *database.S3Client, presignExpiry time.Duration, publicURL string) (StorageGateway, error) {
	rw, err := newPublicRewriter(publicURL)
	if err != nil {
		return nil, err
	}
	return &s3Gateway{
		client:  sc.Client,
		presign: sc.Presign,
		bucket:  sc.BucketName,
		expiry:  presignExpiry,
		rewrite: rw,
	}, nil
}

func (g *s3Gateway) Put(ctx context.Context, name string, body io.Reader, size int64, contentType string) error {
	if _, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(g.bucket),
		Key:           aws.String(name),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	}); err != nil {
		return storageErr(name, "put", err)
	}
	return nil
}

func (g *s3Gateway) Get(ctx context.Context, name string, temporary bool) (io.ReadCloser, error) {
	key := objectKey(name, temporary)
	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, notFoundErr(key, err)
		}
		return nil, storageErr(key, "get", err)
	}
	return out.Body, nil
}

func (g *s3Gateway) Exists(ctx context.Context, name string, temporary bool) (bool, error) {
	key := objectKey(name, temporary)
	_, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, storageErr(key, "head", err)
	}
	return true, nil
}

func (g *s3Gateway) PresignPut(ctx context.Context, name string, temporary bool) (string, error) {
	key := objectKey(name, temporary)
	req, err := g.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(g.expiry))
	if err != nil {
		return "", storageErr(key, "presign", err)
	}
	return g.rewrite.rewrite(req.URL)
}
