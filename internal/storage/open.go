package storage

import (
	"context"
	"fmt"

	gcs "cloud.google.com/go/storage"
)

const (
	BackendLocal = "local"
	BackendS3    = "s3"
	BackendGCS   = "gcs"
)

// Options selects and configures the backend built by New.
type Options struct {
	Backend string

	Root     string
	Compress bool

	S3Bucket string
	S3Prefix string
	S3Client S3ClientOptions

	GCSBucket string
	GCSPrefix string

	// CacheSize enables an LRU cache of that many blobs when positive.
	CacheSize int
}

// New builds the configured backend, wrapped in a cache when requested.
func New(ctx context.Context, opts Options) (BlobStorage, error) {
	var (
		s   BlobStorage
		err error
	)
	switch opts.Backend {
	case "", BackendLocal:
		s, err = NewLocalBlobStore(opts.Root, opts.Compress)
	case BackendS3:
		client, cerr := NewS3Client(ctx, opts.S3Client)
		if cerr != nil {
			return nil, cerr
		}
		s = NewS3BlobStore(S3Options{Client: client, Bucket: opts.S3Bucket, Prefix: opts.S3Prefix})
	case BackendGCS:
		client, cerr := gcs.NewClient(ctx)
		if cerr != nil {
			return nil, fmt.Errorf("creating GCS storage client: %w", cerr)
		}
		s = NewGCSBlobStore(GCSOptions{Client: client, Bucket: opts.GCSBucket, Prefix: opts.GCSPrefix})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	if opts.CacheSize > 0 {
		cached, err := NewCachedBlobStore(s, opts.CacheSize, 0)
		if err != nil {
			return nil, err
		}
		return cached, nil
	}
	return s, nil
}
