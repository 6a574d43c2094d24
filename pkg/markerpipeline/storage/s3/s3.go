// Package s3 provides an S3-backed BlobStore with presigned PUT/GET
// issuance. It works against AWS as well as S3-compatible stores such
// as MinIO via a custom endpoint.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/pixeltrack/marker-pipeline/pkg/markerpipeline"
)

// Config holds the S3 backend configuration.
type Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string

	// Endpoint overrides the AWS endpoint for S3-compatible stores.
	Endpoint     string
	UsePathStyle bool

	// PresignDuration is the fallback URL lifetime when a caller does
	// not pass one.
	PresignDuration time.Duration

	CreateBucketIfNotExist bool
}

// Store is an S3-backed BlobStore.
type Store struct {
	client          *awss3.Client
	presignClient   *awss3.PresignClient
	uploader        *manager.Uploader
	bucket          string
	presignDuration time.Duration
}

// New creates an S3 store from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.PresignDuration <= 0 {
		cfg.PresignDuration = time.Hour
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	s := &Store{
		client:          client,
		presignClient:   awss3.NewPresignClient(client),
		uploader:        manager.NewUploader(client),
		bucket:          cfg.Bucket,
		presignDuration: cfg.PresignDuration,
	}

	if cfg.CreateBucketIfNotExist {
		if err := s.ensureBucket(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &awss3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}
	_, err = s.client.CreateBucket(ctx, &awss3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("s3: create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *Store) GetUploadURL(ctx context.Context, objectKey string, expiresIn time.Duration) (string, error) {
	if expiresIn <= 0 {
		expiresIn = s.presignDuration
	}
	req, err := s.presignClient.PresignPutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}, func(opts *awss3.PresignOptions) {
		opts.Expires = expiresIn
	})
	if err != nil {
		return "", fmt.Errorf("s3: presign put %s: %w", objectKey, err)
	}
	return req.URL, nil
}

func (s *Store) GetDownloadURL(ctx context.Context, objectKey string, expiresIn time.Duration) (string, error) {
	if expiresIn <= 0 {
		expiresIn = s.presignDuration
	}
	req, err := s.presignClient.PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}, func(opts *awss3.PresignOptions) {
		opts.Expires = expiresIn
	})
	if err != nil {
		return "", fmt.Errorf("s3: presign get %s: %w", objectKey, err)
	}
	return req.URL, nil
}

func (s *Store) Upload(ctx context.Context, objectKey string, reader io.Reader) error {
	_, err := s.uploader.Upload(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
		Body:   reader,
	})
	if err != nil {
		return fmt.Errorf("s3: upload %s: %w", objectKey, err)
	}
	return nil
}

func (s *Store) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", markerpipeline.ErrObjectNotFound, objectKey)
		}
		return nil, fmt.Errorf("s3: get %s: %w", objectKey, err)
	}
	return out.Body, nil
}

func (s *Store) Delete(ctx context.Context, objectKey string) error {
	_, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("s3: delete %s: %w", objectKey, err)
	}
	return nil
}

func (s *Store) GetObjectMeta(ctx context.Context, objectKey string) (*markerpipeline.ObjectMeta, error) {
	out, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", markerpipeline.ErrObjectNotFound, objectKey)
		}
		return nil, fmt.Errorf("s3: head %s: %w", objectKey, err)
	}
	meta := &markerpipeline.ObjectMeta{
		Key:  objectKey,
		Size: aws.ToInt64(out.ContentLength),
	}
	if out.ContentType != nil {
		meta.ContentType = *out.ContentType
	}
	if out.LastModified != nil {
		meta.UpdatedAt = *out.LastModified
	}
	return meta, nil
}
