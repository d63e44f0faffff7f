// Package storage persists rendered catalog exports in S3-compatible object
// storage and hands out presigned download links for them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	// ExportPrefix is the key prefix every stored export lives under.
	ExportPrefix = "exports/"

	exportContentType = "text/plain; charset=utf-8"
)

// ErrBadExportKey is returned for keys outside the export namespace.
var ErrBadExportKey = errors.New("object key outside export namespace")

// ExportKey builds the object key for an export rendered at ts, using id to
// keep exports created in the same second distinct.
func ExportKey(ts time.Time, id string) string {
	return fmt.Sprintf("%s%s-%s.txt", ExportPrefix, ts.UTC().Format("20060102-150405"), id)
}

// ValidExportKey reports whether key names an object this package manages.
func ValidExportKey(key string) bool {
	rest, ok := strings.CutPrefix(key, ExportPrefix)
	if !ok || rest == "" {
		return false
	}
	return !strings.Contains(rest, "/") && !strings.Contains(rest, "..")
}

// ObjectStore stores rendered exports and issues presigned download URLs.
type ObjectStore interface {
	PutExport(ctx context.Context, key, text string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// Config holds the connection settings for a MinIO/S3 bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore implements ObjectStore on a MinIO/S3 bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the object storage endpoint and ensures the
// bucket exists.
func NewMinioStore(cfg Config) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// PutExport uploads a rendered export. The key must come from ExportKey;
// anything outside the export namespace is rejected before touching the
// network.
func (m *MinioStore) PutExport(ctx context.Context, key, text string) error {
	if !ValidExportKey(key) {
		return fmt.Errorf("%w: %q", ErrBadExportKey, key)
	}
	reader := strings.NewReader(text)
	opts := minio.PutObjectOptions{ContentType: exportContentType}
	if _, err := m.client.PutObject(ctx, m.bucket, key, reader, int64(len(text)), opts); err != nil {
		return fmt.Errorf("put export: %w", err)
	}
	return nil
}

// PresignGet generates a pre-signed download URL for a stored export.
func (m *MinioStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if !ValidExportKey(key) {
		return "", fmt.Errorf("%w: %q", ErrBadExportKey, key)
	}
	url, err := m.client.PresignedGetObject(ctx, m.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign export: %w", err)
	}
	return url.String(), nil
}

// Delete removes a stored export.
func (m *MinioStore) Delete(ctx context.Context, key string) error {
	if !ValidExportKey(key) {
		return fmt.Errorf("%w: %q", ErrBadExportKey, key)
	}
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete export: %w", err)
	}
	return nil
}
