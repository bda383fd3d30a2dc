// Package storage wraps the object store and CDN collaborators behind
// thin clients. No retry or caching logic lives here; the SDK's defaults
// apply.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config locates the bucket and the CDN in front of it.
type Config struct {
	Region         string
	Bucket         string
	CDNDomain      string // e.g. dxxxx.cloudfront.net or cdn.example.com
	DistributionID string
}

// S3 uploads and removes objects in a single bucket.
type S3 struct {
	client *s3.Client
	cfg    Config
}

// NewS3 builds the client from the ambient AWS credential chain.
func NewS3(ctx context.Context, cfg Config) (*S3, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3{client: s3.NewFromConfig(awsCfg), cfg: cfg}, nil
}

// Upload stores the object under key and returns its CDN URL.
func (s *S3) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.URL(key), nil
}

// Delete removes the object. Deleting a missing key is not an error.
func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// URL joins the CDN domain and the object key.
func (s *S3) URL(key string) string {
	return "https://" + s.cfg.CDNDomain + "/" + strings.TrimPrefix(key, "/")
}
