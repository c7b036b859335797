package configrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
)

// S3Config configures the object store backend.
type S3Config struct {
	Bucket string
	Prefix string
	Region string

	// Endpoint overrides the S3 endpoint for S3-compatible stores.
	Endpoint     string
	UsePathStyle bool

	// AccessKeyID and SecretAccessKey are optional; the default AWS
	// credential chain is used when they are empty.
	AccessKeyID     string
	SecretAccessKey string
}

// S3Repository stores each snapshot as the object <prefix><key>.json.
type S3Repository struct {
	s3     *s3.Client
	bucket string
	prefix string
}

// NewS3Repository creates a repository backed by an S3 bucket.
func NewS3Repository(ctx context.Context, cfg S3Config) (*S3Repository, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewS3RepositoryWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3RepositoryWithClient wraps an existing S3 client.
func NewS3RepositoryWithClient(client *s3.Client, bucket, prefix string) *S3Repository {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Repository{s3: client, bucket: bucket, prefix: prefix}
}

func (r *S3Repository) objectKey(key string) string {
	return r.prefix + key + ".json"
}

// Save uploads the snapshot object.
func (r *S3Repository) Save(ctx context.Context, key string, params deployment.Parameters) error {
	if err := validateKey(key); err != nil {
		return err
	}

	data, err := encodeRecord(key, params, time.Now().UTC())
	if err != nil {
		return err
	}

	_, err = r.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(r.bucket),
		Key:                  aws.String(r.objectKey(key)),
		Body:                 bytes.NewReader(data),
		ContentLength:        aws.Int64(int64(len(data))),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("failed to put configuration %s in bucket %s: %w", key, r.bucket, err)
	}
	return nil
}

// Get downloads the snapshot object.
func (r *S3Repository) Get(ctx context.Context, key string) (*Record, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	data, err := r.read(ctx, r.objectKey(key))
	if isNotFoundError(err) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

// Delete removes the snapshot object.
func (r *S3Repository) Delete(ctx context.Context, key string) (bool, error) {
	exists, err := r.Exists(ctx, key)
	if err != nil || !exists {
		return false, err
	}

	_, err = r.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.objectKey(key)),
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete configuration %s from bucket %s: %w", key, r.bucket, err)
	}
	return true, nil
}

// List downloads every snapshot under the prefix, ordered by key.
func (r *S3Repository) List(ctx context.Context) ([]*Record, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
	}
	if r.prefix != "" {
		input.Prefix = aws.String(r.prefix)
	}

	records := []*Record{}
	paginator := s3.NewListObjectsV2Paginator(r.s3, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list configurations in bucket %s: %w", r.bucket, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || !strings.HasSuffix(*obj.Key, ".json") {
				continue
			}
			data, err := r.read(ctx, *obj.Key)
			if err != nil {
				continue
			}
			rec, err := decodeRecord(data)
			if err != nil {
				continue
			}
			records = append(records, rec)
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

// Exists checks the snapshot object with a HEAD request.
func (r *S3Repository) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	_, err := r.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.objectKey(key)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check configuration %s: %w", key, err)
	}
	return true, nil
}

func (r *S3Repository) read(ctx context.Context, objectKey string) ([]byte, error) {
	result, err := r.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get object %s from bucket %s: %w", objectKey, r.bucket, err)
	}
	defer result.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return buf.Bytes(), nil
}

// isNotFoundError checks if the error is a missing key or object.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	// Check for typed S3 errors first
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	// Fall back to API error code checking for S3-compatible services
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey" || code == "404"
	}

	return false
}
