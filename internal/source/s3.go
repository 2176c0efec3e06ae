package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/sanspareilsmyn/sqlitelens/internal/config"
)

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store serves database files from a bucket. Names are object keys.
type S3Store struct {
	client   S3API
	bucket   string
	prefix   string
	maxBytes int64
	logger   *zap.Logger
}

// NewS3Store builds an S3 client from cfg. Static credentials are used when
// both keys are set; otherwise the default AWS credential chain applies.
func NewS3Store(ctx context.Context, cfg config.S3Config, maxBytes int64, logger *zap.Logger) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrS3Connect, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	logger.Info("S3 client created",
		zap.String("bucket", cfg.Bucket),
		zap.String("region", cfg.Region),
		zap.String("prefix", cfg.Prefix),
		zap.String("endpoint", cfg.Endpoint),
	)
	return NewS3StoreWithClient(client, cfg.Bucket, cfg.Prefix, maxBytes, logger), nil
}

// NewS3StoreWithClient wraps an existing client. A non-positive maxBytes
// disables the download size limit.
func NewS3StoreWithClient(client S3API, bucket, prefix string, maxBytes int64, logger *zap.Logger) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix, maxBytes: maxBytes, logger: logger}
}

// Connect checks that the bucket can be listed with the configured credentials.
func (s *S3Store) Connect(ctx context.Context) error {
	_, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrS3Connect, err)
	}
	return nil
}

// List returns the objects under the prefix, newest first.
func (s *S3Store) List(ctx context.Context) ([]FileInfo, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	files := []FileInfo{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list: %w", ErrS3Request, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || key[len(key)-1] == '/' {
				continue
			}
			files = append(files, FileInfo{
				Name:      key,
				Size:      aws.ToInt64(obj.Size),
				CreatedAt: aws.ToTime(obj.LastModified).UTC(),
			})
		}
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].CreatedAt.After(files[j].CreatedAt)
	})
	return files, nil
}

// Fetch downloads an object.
func (s *S3Store) Fetch(ctx context.Context, key string) (File, error) {
	if key == "" {
		return File{}, fmt.Errorf("%w: empty key", ErrInvalidName)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return File{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return File{}, fmt.Errorf("%w: get %s: %w", ErrS3Request, key, err)
	}
	defer out.Body.Close()

	var body io.Reader = out.Body
	if s.maxBytes > 0 {
		body = io.LimitReader(out.Body, s.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return File{}, fmt.Errorf("%w: read %s: %w", ErrS3Request, key, err)
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return File{}, fmt.Errorf("%w: %s", ErrFileTooLarge, key)
	}

	s.logger.Info("Object downloaded", zap.String("key", key), zap.Int("size", len(data)))
	return File{
		FileInfo: FileInfo{
			Name:      key,
			Size:      int64(len(data)),
			CreatedAt: aws.ToTime(out.LastModified).UTC(),
		},
		Data: data,
	}, nil
}

// Delete removes an object.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidName)
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %w", ErrS3Request, key, err)
	}
	s.logger.Info("Object deleted", zap.String("key", key))
	return nil
}

// BaseName returns the file name part of an object key.
func BaseName(key string) string {
	return path.Base(key)
}
