// Package storage provides the raw payload audit archive.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/orderbridge/backend/internal/domain/ingestion"
	infraconfig "github.com/orderbridge/backend/internal/infrastructure/config"
)

// Ensure S3RawArchive implements RawArchive
var _ ingestion.RawArchive = (*S3RawArchive)(nil)

// S3RawArchive stores every fetched payload in an S3-compatible bucket before
// parsing, keyed by source and fetch date. The returned reference lands on the
// canonical order as its RawReference, so a rejected or dead-lettered order
// can always be traced back to the exact bytes the partner sent.
// Compatible with any S3-compatible storage (AWS S3, MinIO, etc.)
type S3RawArchive struct {
	client *s3.Client
	bucket string
	logger *zap.Logger

	// now is swapped in tests to pin the date prefix
	now func() time.Time
}

// NewS3RawArchive creates a raw archive from configuration
func NewS3RawArchive(cfg *infraconfig.ArchiveConfig, logger *zap.Logger) (*S3RawArchive, error) {
	if cfg == nil {
		return nil, errors.New("archive configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("archive credentials are required")
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if cfg.UseSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	if endpoint != "" {
		if _, err := url.Parse(endpoint); err != nil {
			return nil, fmt.Errorf("invalid archive endpoint: %w", err)
		}
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &S3RawArchive{
		client: client,
		bucket: cfg.Bucket,
		logger: logger,
		now:    time.Now,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
// Call this during application startup.
func (a *S3RawArchive) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	a.logger.Info("Creating archive bucket", zap.String("bucket", a.bucket))
	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err != nil {
		// Ignore "BucketAlreadyOwnedByYou" error (race condition)
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Store persists one raw payload and returns its s3:// reference
func (a *S3RawArchive) Store(ctx context.Context, sourceID, name string, body []byte) (string, error) {
	if sourceID == "" || name == "" {
		return "", errors.New("archive key requires source and name")
	}

	key := path.Join(sourceID, a.now().UTC().Format("2006/01/02"), name)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive payload: %w", err)
	}

	a.logger.Debug("Archived raw payload",
		zap.String("source_id", sourceID),
		zap.String("key", key),
		zap.Int("bytes", len(body)),
	)
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}
