// Package s3store implements avatar storage on any S3-compatible endpoint.
// With Supabase it targets the project's S3 gateway
// (https://<project>.supabase.co/storage/v1/s3) using S3 access keys.
package s3store

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("s3store")

// Config holds the S3 connection settings.
type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	// PublicBaseURL prefixes "<bucket>/<key>" to build public object URLs.
	PublicBaseURL string
}

// API is the subset of the S3 client used here.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Storage implements port.ObjectStorage on an S3 bucket.
type Storage struct {
	api    API
	bucket string
	public string
	logger *zap.Logger
}

// New builds an S3 client with static credentials and path-style addressing.
func New(cfg Config, logger *zap.Logger) *Storage {
	client := s3.New(s3.Options{
		Region:       cfg.Region,
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	})
	return NewWithAPI(client, cfg.Bucket, cfg.PublicBaseURL, logger)
}

// NewWithAPI wires an existing S3 API implementation.
func NewWithAPI(api API, bucket, publicBaseURL string, logger *zap.Logger) *Storage {
	return &Storage{
		api:    api,
		bucket: bucket,
		public: strings.TrimRight(publicBaseURL, "/"),
		logger: logger,
	}
}

func (s *Storage) PutObject(ctx context.Context, path, contentType string, data []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "S3.PutObject")
	defer span.End()
	span.SetAttributes(attribute.String("s3.key", path), attribute.Int("s3.bytes", len(data)))

	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(path),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("max-age=3600"),
	})
	if err != nil {
		s.logger.Error("s3: put object failed", zap.String("key", path), zap.Error(err))
		return "", fmt.Errorf("s3 put %s: %w", path, err)
	}

	s.logger.Debug("s3: put object OK", zap.String("key", path))
	return fmt.Sprintf("%s/%s/%s", s.public, s.bucket, path), nil
}

func (s *Storage) RemoveObject(ctx context.Context, path string) error {
	ctx, span := tracer.Start(ctx, "S3.RemoveObject")
	defer span.End()
	span.SetAttributes(attribute.String("s3.key", path))

	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		s.logger.Error("s3: delete object failed", zap.String("key", path), zap.Error(err))
		return fmt.Errorf("s3 delete %s: %w", path, err)
	}
	return nil
}

func (s *Storage) ObjectPath(publicURL string) (string, bool) {
	marker := "/" + s.bucket + "/"
	i := strings.Index(publicURL, marker)
	if i < 0 {
		return "", false
	}
	path := publicURL[i+len(marker):]
	if q := strings.IndexByte(path, '?'); q >= 0 {
		path = path[:q]
	}
	return path, path != ""
}
