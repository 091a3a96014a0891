package storage

import (
	"bytes"
	"context"
	"fmt"

	"compliance-api/core/config"
	"compliance-api/core/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store returns nil when no bucket is configured, which disables archiving.
func NewS3Store(cfg config.StorageConfig) *S3Store {
	if cfg.S3Bucket == "" {
		return nil
	}

	opts := s3.Options{
		Region:       cfg.S3Region,
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.AccessKeyID != "" {
		opts.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		)
	}
	if cfg.S3Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.S3Endpoint)
	}

	logger.Info("S3Store:NewS3Store", "bucket", cfg.S3Bucket, "region", cfg.S3Region, "endpoint", cfg.S3Endpoint)
	return &S3Store{client: s3.New(opts), bucket: cfg.S3Bucket}
}

func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

var _ ObjectStore = (*S3Store)(nil)
