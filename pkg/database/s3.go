package database

import (
	"context"
	"errors"
	"fmt"

	"video_processing_service/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// S3Client definition aws s3 client
type S3Client struct {
	Client     *s3.Client
	Presign    *s3.PresignClient
	BucketName string
}

// NewS3Client create an s3 client, static keys win over the default credential chain
func NewS3Client(ctx context.Context, d S3Connection) (*S3Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(d.Region),
	}
	if d.AccessKeyID != "" && d.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(d.AccessKeyID, d.SecretAccessKey, ""),
		))
	} else {
		logger.Log.Warn("S3 client using default credential chain")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config : %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if d.Endpoint != "" {
			o.BaseEndpoint = aws.String(d.Endpoint)
		}
		o.UsePathStyle = d.UsePathStyle
	})

	if err := ensureBucket(ctx, client, d.BucketName); err != nil {
		return nil, err
	}

	return &S3Client{
		Client:     client,
		Presign:    s3.NewPresignClient(client),
		BucketName: d.BucketName,
	}, nil
}

func ensureBucket(ctx context.Context, client *s3.Client, bucket string) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("bucket[%s] 檢查失敗 : %w", bucket, err)
	}

	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("bucket[%s] 建立失敗 : %w", bucket, err)
	}
	logger.Log.Info("bucket created", zap.String("bucket", bucket))
	return nil
}
