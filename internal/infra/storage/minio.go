// Package storage mirrors run artifacts to an S3-compatible bucket.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bryanwahyu/sans-pilot/internal/domain/analysis"
)

// Options configure the MinIO connection.
type Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// PresignTTL, when positive, makes Upload return presigned GET URLs
	// instead of plain object URLs.
	PresignTTL time.Duration
}

type Store struct {
	client     *minio.Client
	bucketName string
	region     string
	presignTTL time.Duration
}

// New connects to MinIO and makes sure the bucket exists.
func New(ctx context.Context, opts Options) (*Store, error) {
	cli, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, err
	}

	exists, err := cli.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cli.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, err
		}
	}

	return &Store{client: cli, bucketName: opts.Bucket, region: opts.Region, presignTTL: opts.PresignTTL}, nil
}

// Upload copies localPath to key and returns a URL for it. The local file is
// kept: it is still the artifact the response refers to.
func (s *Store) Upload(ctx context.Context, localPath, key string) (string, error) {
	contentType := analysis.Classify("", localPath).MIMEType

	_, err := s.client.FPutObject(ctx, s.bucketName, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"original-name": filepath.Base(localPath),
		},
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}

	if s.presignTTL > 0 {
		u, err := s.client.PresignedGetObject(ctx, s.bucketName, key, s.presignTTL, url.Values{})
		if err != nil {
			return "", fmt.Errorf("presign %s: %w", key, err)
		}
		return u.String(), nil
	}

	endpoint := s.client.EndpointURL()
	return fmt.Sprintf("%s://%s/%s/%s", endpoint.Scheme, endpoint.Host, s.bucketName, key), nil
}

// Ping reports whether the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucketName)
	return err
}
