package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"path"
)

// ErrNotFound is returned by Open when no blob is stored under the id.
var ErrNotFound = errors.New("blob not found")

// BlobFile is an opened blob. Size is -1 when the backend cannot tell.
type BlobFile struct {
	rc   io.ReadCloser
	size int64
}

func NewBlobFile(rc io.ReadCloser, size int64) *BlobFile {
	return &BlobFile{rc: rc, size: size}
}

func (b *BlobFile) Read(p []byte) (int, error) { return b.rc.Read(p) }
func (b *BlobFile) Close() error               { return b.rc.Close() }
func (b *BlobFile) Size() int64                { return b.size }

// BlobStorage is the interface for blob storage backends.
// Local-disk, S3-compatible and GCS stores implement this.
type BlobStorage interface {
	// PutStream writes data from r under the content id, replacing any
	// previous blob, and returns the sha256 digest and byte count.
	PutStream(ctx context.Context, id string, r io.Reader) (digest string, size int64, err error)

	// Open retrieves a previously stored blob. The returned BlobFile must be
	// closed by the caller.
	Open(ctx context.Context, id string) (*BlobFile, error)

	Has(ctx context.Context, id string) (bool, error)

	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, id string) error
}

// objectKey maps an opaque content id onto a sharded, path-safe key.
func objectKey(id string) string {
	sum := sha256.Sum256([]byte(id))
	h := hex.EncodeToString(sum[:])
	return path.Join("content", h[:2], h)
}

func formatDigest(sum []byte) string {
	return "sha256:" + hex.EncodeToString(sum)
}
