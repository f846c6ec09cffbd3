package storage

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
)

// GCSBlobStore stores blobs in a Google Cloud Storage bucket.
type GCSBlobStore struct {
	client *gcs.Client
	bucket string
	prefix string
}

var _ BlobStorage = (*GCSBlobStore)(nil)

type GCSOptions struct {
	Client *gcs.Client
	Bucket string
	Prefix string
}

func NewGCSBlobStore(opts GCSOptions) *GCSBlobStore {
	return &GCSBlobStore{
		client: opts.Client,
		bucket: opts.Bucket,
		prefix: opts.Prefix,
	}
}

func (s *GCSBlobStore) object(id string) *gcs.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + objectKey(id))
}

func (s *GCSBlobStore) PutStream(ctx context.Context, id string, r io.Reader) (string, int64, error) {
	// Cancelling the context is the only way to abort a GCS write.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.object(id).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.Metadata = map[string]string{"content-id": id}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, h), r)
	if err != nil {
		cancel()
		_ = w.Close()
		return "", 0, fmt.Errorf("gcs write %q: %w", id, err)
	}
	if err := w.Close(); err != nil {
		return "", 0, fmt.Errorf("closing GCS writer: %w", err)
	}
	return formatDigest(h.Sum(nil)), n, nil
}

func (s *GCSBlobStore) Open(ctx context.Context, id string) (*BlobFile, error) {
	r, err := s.object(id).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening object from GCS %q: %w", id, err)
	}
	return NewBlobFile(r, r.Attrs.Size), nil
}

func (s *GCSBlobStore) Has(ctx context.Context, id string) (bool, error) {
	_, err := s.object(id).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("getting object attributes for %q: %w", id, err)
	}
	return true, nil
}

func (s *GCSBlobStore) Delete(ctx context.Context, id string) error {
	err := s.object(id).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete %q: %w", id, err)
	}
	return nil
}
