package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/EslamTharwaat/remove-image-background/config"
)

// S3Service mirrors processed images to an S3-compatible bucket.
type S3Service struct {
	client *minio.Client
	bucket string
	config *config.S3Config
	now    func() time.Time
}

func NewS3Service(cfg *config.S3Config) (*S3Service, error) {
	client, err := newS3Client(cfg)
	if err != nil {
		return nil, err
	}

	return &S3Service{
		client: client,
		bucket: cfg.Bucket,
		config: cfg,
		now:    time.Now,
	}, nil
}

func newS3Client(cfg *config.S3Config) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}
	return client, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *S3Service) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.config.Region})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// ObjectName places name under the folder prefix with a timestamp so
// repeated uploads never overwrite each other.
func (s *S3Service) ObjectName(name string) string {
	prefix := s.config.FolderPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + s.now().UTC().Format("20060102_150405") + "_" + name
}

// Upload stores data and returns a presigned download URL for it.
func (s *S3Service) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	objectName := s.ObjectName(name)
	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}

	url, err := s.GetPresignedURL(ctx, objectName)
	if err != nil {
		slog.Warn("presign failed, returning public url", "object", objectName, "error", err)
		return s.GetPublicURL(objectName), nil
	}
	return url, nil
}

// GetPresignedURL generates a presigned URL for the object with expiration
func (s *S3Service) GetPresignedURL(ctx context.Context, objectName string) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, s.config.URLExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return url.String(), nil
}

// GetPublicURL returns a public URL for the object (if bucket policy allows)
func (s *S3Service) GetPublicURL(objectName string) string {
	protocol := "http"
	if s.config.UseSSL {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", protocol, s.config.Endpoint, s.bucket, objectName)
}

// CheckS3Connection checks that cfg's credentials can reach cfg's bucket.
func CheckS3Connection(ctx context.Context, cfg *config.S3Config) error {
	if cfg.Bucket == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return fmt.Errorf("bucket, access key and secret key are required")
	}
	client, err := newS3Client(cfg)
	if err != nil {
		return err
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return fmt.Errorf("failed to reach bucket: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", cfg.Bucket)
	}
	return nil
}
