package storage

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// LocalBlobStore stores blobs on local disk, optionally zstd compressed.
// Each blob has a JSON sidecar holding its raw size and digest.
type LocalBlobStore struct {
	root     string
	compress bool
}

var _ BlobStorage = (*LocalBlobStore)(nil)

type localMeta struct {
	ID         string    `json:"id"`
	Size       int64     `json:"size"`
	Sha256     string    `json:"sha256"`
	Compressed bool      `json:"compressed"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

func NewLocalBlobStore(root string, compress bool) (*LocalBlobStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalBlobStore{root: root, compress: compress}, nil
}

func (b *LocalBlobStore) paths(id string) (data, meta string) {
	data = filepath.Join(b.root, filepath.FromSlash(objectKey(id)))
	return data, data + ".meta"
}

func (b *LocalBlobStore) PutStream(_ context.Context, id string, r io.Reader) (digest string, size int64, err error) {
	tmpDir := filepath.Join(b.root, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create tmp dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(tmpDir, "blob-*")
	if err != nil {
		return "", 0, fmt.Errorf("create tmp file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	var w io.Writer = tmpFile
	var enc *zstd.Encoder
	if b.compress {
		enc, err = zstd.NewWriter(tmpFile)
		if err != nil {
			return "", 0, fmt.Errorf("create zstd encoder: %w", err)
		}
		w = enc
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, h), r)
	if err != nil {
		if enc != nil {
			_ = enc.Close()
		}
		return "", 0, fmt.Errorf("write blob: %w", err)
	}
	if enc != nil {
		if err = enc.Close(); err != nil {
			return "", 0, fmt.Errorf("flush zstd encoder: %w", err)
		}
	}
	if err = tmpFile.Close(); err != nil {
		return "", 0, fmt.Errorf("close tmp file: %w", err)
	}

	digest = formatDigest(h.Sum(nil))
	size = n

	dataPath, metaPath := b.paths(id)
	if err = os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return "", 0, fmt.Errorf("create blob dir: %w", err)
	}
	if err = os.Rename(tmpName, dataPath); err != nil {
		return "", 0, fmt.Errorf("move blob: %w", err)
	}

	raw, err := json.Marshal(localMeta{
		ID:         id,
		Size:       size,
		Sha256:     digest,
		Compressed: b.compress,
		ModifiedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", 0, fmt.Errorf("encode blob meta: %w", err)
	}
	if err = os.WriteFile(metaPath, raw, 0o644); err != nil {
		return "", 0, fmt.Errorf("write blob meta: %w", err)
	}
	return digest, size, nil
}

func (b *LocalBlobStore) readMeta(id string) (localMeta, error) {
	_, metaPath := b.paths(id)
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return localMeta{}, ErrNotFound
		}
		return localMeta{}, fmt.Errorf("read blob meta: %w", err)
	}
	var m localMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		return localMeta{}, fmt.Errorf("decode blob meta: %w", err)
	}
	return m, nil
}

func (b *LocalBlobStore) Open(_ context.Context, id string) (*BlobFile, error) {
	m, err := b.readMeta(id)
	if err != nil {
		return nil, err
	}

	dataPath, _ := b.paths(id)
	f, err := os.Open(dataPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !m.Compressed {
		return NewBlobFile(f, m.Size), nil
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return NewBlobFile(&decodedFile{Decoder: dec, f: f}, m.Size), nil
}

func (b *LocalBlobStore) Has(_ context.Context, id string) (bool, error) {
	_, err := b.readMeta(id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b *LocalBlobStore) Delete(_ context.Context, id string) error {
	dataPath, metaPath := b.paths(id)
	for _, p := range []string{metaPath, dataPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove blob: %w", err)
		}
	}
	return nil
}

// decodedFile closes both the decoder and the file underneath it.
type decodedFile struct {
	*zstd.Decoder
	f *os.File
}

func (d *decodedFile) Close() error {
	d.Decoder.Close()
	return d.f.Close()
}
