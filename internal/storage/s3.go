package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Config configures the S3 backend
type S3Config struct {
	// Bucket is the S3 bucket name (required)
	Bucket string
	// Region falls back to AWS_REGION and the default chain when empty
	Region string
	// AccessKeyID and SecretAccessKey are optional static credentials
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint is a custom endpoint for S3-compatible services such as MinIO
	Endpoint string
	// UsePathStyle is implied by Endpoint
	UsePathStyle bool
	// Prefix is prepended to every key
	Prefix string
	// MaxSize bounds Get; zero means unlimited
	MaxSize int64
}

// s3API is the subset of the S3 client the store calls
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 stores objects in Amazon S3 or an S3-compatible service
type S3 struct {
	client  s3API
	presign func(ctx context.Context, in *s3.GetObjectInput, ttl time.Duration) (string, error)
	bucket  string
	prefix  string
	maxSize int64
}

// NewS3 loads AWS configuration and builds the client
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: Bucket is required", ErrInvalidConfig)
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})
	presigner := s3.NewPresignClient(client)

	return newS3(client, func(ctx context.Context, in *s3.GetObjectInput, ttl time.Duration) (string, error) {
		req, err := presigner.PresignGetObject(ctx, in, func(po *s3.PresignOptions) {
			po.Expires = ttl
		})
		if err != nil {
			return "", err
		}
		return req.URL, nil
	}, cfg), nil
}

func newS3(client s3API, presign func(context.Context, *s3.GetObjectInput, time.Duration) (string, error), cfg S3Config) *S3 {
	return &S3{
		client:  client,
		presign: presign,
		bucket:  cfg.Bucket,
		prefix:  NormalizePath(cfg.Prefix),
		maxSize: cfg.MaxSize,
	}
}

// Backend returns the backend type identifier
func (s *S3) Backend() string {
	return "s3"
}

// key returns the full S3 key for an object
func (s *S3) key(path string) (string, error) {
	p, err := clean(path)
	if err != nil {
		return "", err
	}
	if s.prefix != "" {
		return s.prefix + "/" + p, nil
	}
	return p, nil
}

// Get downloads an object, enforcing MaxSize
func (s *S3) Get(ctx context.Context, path string) ([]byte, error) {
	key, err := s.key(path)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, translateS3Error(path, err)
	}
	defer out.Body.Close()

	if s.maxSize > 0 && aws.ToInt64(out.ContentLength) > s.maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrTooLarge, path, aws.ToInt64(out.ContentLength), s.maxSize)
	}
	r := io.Reader(out.Body)
	if s.maxSize > 0 {
		r = io.LimitReader(out.Body, s.maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, path)
	}
	return data, nil
}

// Put uploads data with the given content type
func (s *S3) Put(ctx context.Context, path string, data []byte, contentType string) error {
	key, err := s.key(path)
	if err != nil {
		return err
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return translateS3Error(path, err)
	}
	return nil
}

// SignedURL returns a presigned GET URL valid for ttl
func (s *S3) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	key, err := s.key(path)
	if err != nil {
		return "", err
	}
	u, err := s.presign(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, ttl)
	if err != nil {
		return "", fmt.Errorf("storage: failed to presign URL: %w", err)
	}
	return u, nil
}

// translateS3Error converts AWS API errors to storage errors
func translateS3Error(path string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		case "AccessDenied", "403":
			return fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
	}
	return fmt.Errorf("storage: S3 error: %w", err)
}
