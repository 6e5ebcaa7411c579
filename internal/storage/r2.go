// Package storage persists signed pass bundles in S3-compatible object
// storage so operators can hand out distribution links without hitting the
// signer on every download.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// pkpassContentType is set on every stored bundle.
const pkpassContentType = "application/vnd.apple.pkpass"

// Config holds object storage configuration.
type Config struct {
	AccountID       string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string

	// URLTTL bounds presigned link validity. Default: 15m.
	URLTTL time.Duration
}

// ConfigFromEnv creates a Config from environment variables. The zero
// AccountID means storage is not configured and the caller should skip it.
func ConfigFromEnv() Config {
	return Config{
		AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		Bucket:          os.Getenv("R2_BUCKET"),
		AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
	}
}

// R2Store stores bundles in Cloudflare R2 (S3-compatible).
type R2Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	urlTTL    time.Duration
}

// NewR2Store creates a new R2-backed bundle store.
func NewR2Store(cfg Config) *R2Store {
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)

	client := s3.New(s3.Options{
		Region:       "auto",
		BaseEndpoint: &endpoint,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	})

	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &R2Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		urlTTL:    ttl,
	}
}

// Save uploads a bundle under the given key, replacing any previous version.
func (s *R2Store) Save(ctx context.Context, key string, data []byte) error {
	contentType := pkpassContentType
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("put bundle %s: %w", key, err)
	}
	return nil
}

// Delete removes a stored bundle.
func (s *R2Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("delete bundle %s: %w", key, err)
	}
	return nil
}

// GetURL returns a time-limited download link naming the bundle as an
// attachment.
func (s *R2Store) GetURL(ctx context.Context, key string) (string, error) {
	disposition := fmt.Sprintf("attachment; filename=%q", path.Base(key))
	result, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     &s.bucket,
		Key:                        &key,
		ResponseContentDisposition: &disposition,
	}, s3.WithPresignExpires(s.urlTTL))
	if err != nil {
		return "", fmt.Errorf("presign bundle %s: %w", key, err)
	}
	return result.URL, nil
}
