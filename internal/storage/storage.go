// Package storage persists synced documents to S3-compatible object storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/config"
)

// Store wraps the object storage client for a single bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// UploadResult reports where an object landed and whether it was newly
// created or overwrote an existing version.
type UploadResult struct {
	Key     string
	ETag    string
	Created bool
}

// NewStore creates a Store. The bucket is not touched until EnsureBucket
// or the first upload.
func NewStore(cfg *config.StorageConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %q: %w", s.bucket, err)
	}
	slog.Info("created bucket", "bucket", s.bucket)
	return nil
}

// ObjectKey builds the canonical key for a synced document:
// {yacht_id}/{system_path}/{filename}. Re-syncing the same file always
// resolves to the same key.
func ObjectKey(yachtID, systemPath, filename string) string {
	parts := []string{yachtID}
	if p := strings.Trim(systemPath, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, filename)
	return strings.Join(parts, "/")
}

// Upload writes an object. It first attempts a conditional create so a
// fresh document and a changed document are distinguishable; when the key
// already exists the object is overwritten in place.
func (s *Store) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*UploadResult, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	createOpts := minio.PutObjectOptions{ContentType: contentType}
	createOpts.SetMatchETagExcept("*")

	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, createOpts)
	if err == nil {
		return &UploadResult{Key: key, ETag: info.ETag, Created: true}, nil
	}

	resp := minio.ToErrorResponse(err)
	if resp.StatusCode != http.StatusPreconditionFailed {
		return nil, fmt.Errorf("failed to upload %q: %w", key, err)
	}

	// Key already exists. The reader may be partially consumed by the
	// failed attempt, so the caller must pass a re-readable source via
	// UploadSeeker for changed documents; plain overwrite here.
	seeker, ok := r.(io.Seeker)
	if !ok {
		return nil, fmt.Errorf("failed to upload %q: object exists and source is not seekable", key)
	}
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind source for %q: %w", key, err)
	}

	info, err = s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return nil, fmt.Errorf("failed to overwrite %q: %w", key, err)
	}

	slog.Debug("overwrote existing object", "key", key)
	return &UploadResult{Key: key, ETag: info.ETag, Created: false}, nil
}

// Remove deletes an object. Missing keys are not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove %q: %w", key, err)
	}
	return nil
}
