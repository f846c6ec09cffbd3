package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultCacheEntryBytes is the largest blob CachedBlobStore keeps in memory.
const DefaultCacheEntryBytes = 4 * 1024 * 1024

// CachedBlobStore is a least-recently-used memory cache in front of another
// BlobStorage. Only blobs of known size up to maxEntry bytes are cached.
// Writes pass through and invalidate the cached copy.
type CachedBlobStore struct {
	c        *lru.Cache // id -> []byte
	s        BlobStorage
	maxEntry int64
}

var _ BlobStorage = (*CachedBlobStore)(nil)

func NewCachedBlobStore(s BlobStorage, size int, maxEntry int64) (*CachedBlobStore, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create blob cache: %w", err)
	}
	if maxEntry <= 0 {
		maxEntry = DefaultCacheEntryBytes
	}
	return &CachedBlobStore{c: c, s: s, maxEntry: maxEntry}, nil
}

// PutStream invalidates id both before and after the write, so a read that
// cached the old content while the write was in flight is dropped too.
func (s *CachedBlobStore) PutStream(ctx context.Context, id string, r io.Reader) (string, int64, error) {
	s.c.Remove(id)
	defer s.c.Remove(id)
	return s.s.PutStream(ctx, id, r)
}

func (s *CachedBlobStore) Open(ctx context.Context, id string) (*BlobFile, error) {
	if got, ok := s.c.Get(id); ok {
		return bytesFile(got.([]byte)), nil
	}

	f, err := s.s.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.Size() < 0 || f.Size() > s.maxEntry {
		return f, nil
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read blob %q: %w", id, err)
	}
	s.c.Add(id, data)
	return bytesFile(data), nil
}

func (s *CachedBlobStore) Has(ctx context.Context, id string) (bool, error) {
	if s.c.Contains(id) {
		return true, nil
	}
	return s.s.Has(ctx, id)
}

func (s *CachedBlobStore) Delete(ctx context.Context, id string) error {
	s.c.Remove(id)
	defer s.c.Remove(id)
	return s.s.Delete(ctx, id)
}

func bytesFile(b []byte) *BlobFile {
	return NewBlobFile(io.NopCloser(bytes.NewReader(b)), int64(len(b)))
}
