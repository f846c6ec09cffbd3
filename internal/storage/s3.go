package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3BlobStore stores blobs in an S3-compatible bucket (AWS S3, MinIO, etc.).
type S3BlobStore struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ BlobStorage = (*S3BlobStore)(nil)

type S3Options struct {
	Client *s3.Client
	Bucket string
	Prefix string // optional key prefix, e.g. "blobs/"
}

func NewS3BlobStore(opts S3Options) *S3BlobStore {
	return &S3BlobStore{
		client: opts.Client,
		bucket: opts.Bucket,
		prefix: opts.Prefix,
	}
}

// S3ClientOptions configures NewS3Client. Static credentials are used when
// both keys are set, otherwise the default AWS credential chain.
type S3ClientOptions struct {
	Region          string
	Endpoint        string // e.g. http://localhost:9000 for MinIO
	AccessKeyID     string
	SecretAccessKey string
}

func NewS3Client(ctx context.Context, opts S3ClientOptions) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (s *S3BlobStore) objectKey(id string) string {
	return s.prefix + objectKey(id)
}

func (s *S3BlobStore) PutStream(ctx context.Context, id string, r io.Reader) (digest string, size int64, err error) {
	// Write to a temp file first to compute digest and get a seekable body.
	tmpFile, err := os.CreateTemp("", "s3-blob-*")
	if err != nil {
		return "", 0, fmt.Errorf("create tmp file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpName)
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmpFile, h), r)
	if err != nil {
		return "", 0, fmt.Errorf("write tmp blob: %w", err)
	}

	sum := h.Sum(nil)
	digest = formatDigest(sum)
	size = n

	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return "", 0, fmt.Errorf("seek tmp file: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(id)),
		Body:          tmpFile,
		ContentLength: aws.Int64(n),
		ContentType:   aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-id": id,
			"sha256":     hex.EncodeToString(sum),
		},
	})
	if err != nil {
		return "", 0, fmt.Errorf("s3 put: %w", err)
	}

	return digest, size, nil
}

func (s *S3BlobStore) Open(ctx context.Context, id string) (*BlobFile, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3 get %q: %w", id, err)
	}

	size := int64(-1)
	if resp.ContentLength != nil {
		size = *resp.ContentLength
	}
	return NewBlobFile(resp.Body, size), nil
}

func (s *S3BlobStore) Has(ctx context.Context, id string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("s3 head %q: %w", id, err)
	}
	return true, nil
}

func (s *S3BlobStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %q: %w", id, err)
	}
	return nil
}
