package blob

import (
	"bytes"
	"context"
	"io"
	"os"
)

// Stream is one in-flight byte transfer performed by the network/storage
// layer.
type Stream interface {
	// OnStats registers fn to receive progress reports. Reports for one
	// stream are delivered from a single goroutine in non-decreasing
	// position order.
	OnStats(fn func(Stats))

	// Run performs the transfer and blocks until it terminates. A nil error
	// is a successful result.
	Run(ctx context.Context) error

	// Close aborts the transfer. Run then returns an error.
	Close()
}

// Pauser is implemented by streams that can hold a transfer in place. A
// paused stream reports Stats with Paused set.
type Pauser interface {
	Pause()
	Resume()
}

// DownloadStream is a Stream that materializes the content in memory.
type DownloadStream interface {
	Stream

	// Bytes returns the materialized content once Run has succeeded.
	Bytes() []byte
}

// PeerAttempt is one attempt to fetch content from a single peer.
type PeerAttempt interface {
	OnStats(fn func(Stats))

	// Wait blocks until the attempt finishes; nil means the content is now
	// stored locally.
	Wait(ctx context.Context) error
}

// PeerCursor lazily yields one PeerAttempt per peer.
type PeerCursor interface {
	// Next starts the next attempt. It returns false once the peers are
	// exhausted or Stop has been called.
	Next(ctx context.Context) (PeerAttempt, bool)

	// Stop guarantees no further attempts start and aborts the one in
	// flight, if any. Safe to call more than once.
	Stop()
}

// Network is the storage/network layer the engine delegates byte I/O to.
type Network interface {
	OpenDownload(id string) DownloadStream
	OpenUpload(id string, c Content) Stream

	// OnContentAvailable registers fn to be called when content id becomes
	// locally available through any path. The returned func unregisters it.
	OnContentAvailable(id string, fn func()) (unhook func())

	SyncFromPeers(ctx context.Context, id string) PeerCursor
}

// Content is caller-supplied local content, e.g. a file picked for upload.
type Content interface {
	Open() (io.ReadCloser, error)
	Size() int64
}

// BytesContent is in-memory Content.
type BytesContent []byte

func (b BytesContent) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (b BytesContent) Size() int64 { return int64(len(b)) }

// FileContent is Content backed by a file on local disk.
type FileContent struct {
	Path string
	size int64
}

// NewFileContent stats path and returns Content reading from it.
func NewFileContent(path string) (*FileContent, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &FileContent{Path: path, size: info.Size()}, nil
}

func (f *FileContent) Open() (io.ReadCloser, error) { return os.Open(f.Path) }
func (f *FileContent) Size() int64                  { return f.size }
