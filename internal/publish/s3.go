// Package publish uploads merged deployment archives to S3-compatible object
// storage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/dusk-indust/impulsemerge/internal/config"
)

// URLExpiry is how long the link returned by Publish stays valid.
const URLExpiry = 24 * time.Hour

// ErrNotConfigured is returned when the artifact store settings are incomplete.
var ErrNotConfigured = errors.New("publish: artifact store not configured")

// S3Publisher stores archives as <runID>/<file name> in one bucket. The
// bucket is created on first use.
type S3Publisher struct {
	client *minio.Client
	bucket string
	region string
	logger *zap.Logger

	initOnce sync.Once
	initErr  error
}

// NewS3Publisher validates cfg and creates the storage client. No request is
// made until the first upload.
func NewS3Publisher(cfg config.ArtifactConfig, logger *zap.Logger) (*S3Publisher, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrNotConfigured)
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("%w: access key and secret key are required", ErrNotConfigured)
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("%w: bucket is required", ErrNotConfigured)
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = config.DefaultRegion
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("publish: init s3 client: %w", err)
	}

	return &S3Publisher{
		client: client,
		bucket: bucket,
		region: region,
		logger: logger,
	}, nil
}

func (p *S3Publisher) ensureBucket(ctx context.Context) error {
	p.initOnce.Do(func() {
		exists, err := p.client.BucketExists(ctx, p.bucket)
		if err != nil {
			p.initErr = err
			return
		}
		if exists {
			return
		}
		p.logger.Info("creating bucket", zap.String("bucket", p.bucket), zap.String("region", p.region))
		p.initErr = p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region})
	})
	return p.initErr
}

// Publish uploads the file at path and returns a presigned download URL.
func (p *S3Publisher) Publish(ctx context.Context, runID, path string) (string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return "", errors.New("publish: run id is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	if err := p.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("publish: ensure bucket: %w", err)
	}

	key := ObjectKey(runID, filepath.Base(path))
	up, err := p.client.FPutObject(ctx, p.bucket, key, path, minio.PutObjectOptions{
		ContentType: "application/zip",
	})
	if err != nil {
		return "", fmt.Errorf("publish: upload %s: %w", key, err)
	}
	p.logger.Info("archive published",
		zap.String("bucket", p.bucket),
		zap.String("key", key),
		zap.Int64("bytes", info.Size()),
		zap.String("etag", up.ETag))

	return p.URL(ctx, runID, filepath.Base(path))
}

// URL returns a presigned GET link for an object of a run.
func (p *S3Publisher) URL(ctx context.Context, runID, name string) (string, error) {
	u, err := p.client.PresignedGetObject(ctx, p.bucket, ObjectKey(runID, name), URLExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("publish: presign: %w", err)
	}
	return u.String(), nil
}

// ObjectKey is the bucket key of a run's file.
func ObjectKey(runID, name string) string {
	return strings.TrimSpace(runID) + "/" + strings.TrimLeft(strings.TrimSpace(name), "/")
}
