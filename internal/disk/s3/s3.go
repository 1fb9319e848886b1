package s3

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vbonduro/memelib/internal/disk"
)

// Config describes an S3-compatible bucket. Endpoint is only set for
// non-AWS services (MinIO, R2, ...); when AccessKeyID or SecretAccessKey is
// empty the default AWS credential chain is used.
type Config struct {
	Bucket          string
	Region          string
	Prefix          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type S3Disk struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	region   string
	prefix   string
	endpoint string
}

// NewS3Disk builds the client. It performs no network I/O; call Ensure to
// verify the bucket is reachable.
func NewS3Disk(ctx context.Context, cfg Config) (*S3Disk, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			// URL() hands out path-style locators for custom endpoints.
			o.UsePathStyle = true
		}
	})

	return &S3Disk{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		region:   region,
		prefix:   normalizePrefix(cfg.Prefix),
		endpoint: endpoint,
	}, nil
}

func (d *S3Disk) Ensure(ctx context.Context) error {
	_, err := d.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(d.bucket)})
	if err != nil {
		return fmt.Errorf("%w: head bucket %s: %v", disk.ErrUnavailable, d.bucket, err)
	}
	return nil
}

func (d *S3Disk) Save(ctx context.Context, key string, r io.Reader) error {
	if err := disk.ValidKey(key); err != nil {
		return err
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.objectKey(key)),
		Body:   r,
	}
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		input.ContentType = aws.String(ct)
	}
	if _, err := d.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return nil
}

// Delete removes the object. S3 reports success for missing keys, so no
// existence check is needed.
func (d *S3Disk) Delete(ctx context.Context, key string) error {
	if err := disk.ValidKey(key); err != nil {
		return err
	}
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

func (d *S3Disk) URL(key string) string {
	if d.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", d.endpoint, d.bucket, d.objectKey(key))
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", d.bucket, d.region, d.objectKey(key))
}

func (d *S3Disk) objectKey(key string) string {
	return d.prefix + key
}

// normalizePrefix ensures a non-empty prefix ends in exactly one slash.
func normalizePrefix(prefix string) string {
	p := strings.TrimRight(prefix, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
