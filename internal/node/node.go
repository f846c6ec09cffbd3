// Package node implements blob.Network on top of a BlobStorage backend and a
// static set of peers.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"blobxfer/internal/blob"
	"blobxfer/internal/peer"
	"blobxfer/internal/storage"
	"blobxfer/internal/stream"
)

// Peer is the part of peer.Client a node needs.
type Peer interface {
	URL() string
	Fetch(ctx context.Context, id string) (io.ReadCloser, int64, error)
	Push(ctx context.Context, id string, size int64, open func() (io.ReadCloser, error)) error
}

var _ Peer = (*peer.Client)(nil)

type Config struct {
	Storage storage.BlobStorage
	Peers   []Peer
	Logger  logr.Logger

	// StatsInterval is how often transfers report progress.
	StatsInterval time.Duration
	// MaxBytes caps a single download; zero disables the cap.
	MaxBytes int64
	// PushOnUpload pushes uploaded content to every peer.
	PushOnUpload bool
	// PushConcurrency bounds concurrent peer pushes per upload.
	PushConcurrency int
}

type Node struct {
	store  storage.BlobStorage
	peers  []Peer
	logger logr.Logger

	streamOpts      []stream.Option
	push            bool
	pushConcurrency int

	fetches singleflight.Group

	mu       sync.Mutex
	hooks    map[string]map[int]func()
	nextHook int
	inflight map[string]*fetchGroup
}

var _ blob.Network = (*Node)(nil)

func New(cfg Config) *Node {
	logger := cfg.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	opts := []stream.Option{stream.WithInterval(cfg.StatsInterval)}
	if cfg.MaxBytes > 0 {
		opts = append(opts, stream.WithLimit(cfg.MaxBytes))
	}
	conc := cfg.PushConcurrency
	if conc <= 0 {
		conc = 4
	}
	return &Node{
		store:           cfg.Storage,
		peers:           cfg.Peers,
		logger:          logger.WithValues("component", "node"),
		streamOpts:      opts,
		push:            cfg.PushOnUpload,
		pushConcurrency: conc,
		hooks:           make(map[string]map[int]func()),
		inflight:        make(map[string]*fetchGroup),
	}
}

// Has reports whether the content is stored locally.
func (n *Node) Has(ctx context.Context, id string) (bool, error) {
	return n.store.Has(ctx, id)
}

// Open returns the locally stored content.
func (n *Node) Open(ctx context.Context, id string) (*storage.BlobFile, error) {
	return n.store.Open(ctx, id)
}

// Put stores content received from outside, e.g. pushed by a peer, and
// announces it.
func (n *Node) Put(ctx context.Context, id string, r io.Reader) (digest string, size int64, err error) {
	digest, size, err = n.store.PutStream(ctx, id, r)
	if err != nil {
		return "", 0, err
	}
	n.Announce(id)
	return digest, size, nil
}

func (n *Node) Delete(ctx context.Context, id string) error {
	return n.store.Delete(ctx, id)
}

func (n *Node) OpenDownload(id string) blob.DownloadStream {
	return stream.NewDownload(func(ctx context.Context) (io.ReadCloser, int64, error) {
		f, err := n.store.Open(ctx, id)
		if err != nil {
			return nil, 0, fmt.Errorf("open %q: %w", id, err)
		}
		return f, f.Size(), nil
	}, n.streamOpts...)
}

func (n *Node) OpenUpload(id string, c blob.Content) blob.Stream {
	return stream.NewUpload(c, func(ctx context.Context, r io.Reader) error {
		if _, _, err := n.store.PutStream(ctx, id, r); err != nil {
			return fmt.Errorf("store %q: %w", id, err)
		}
		n.Announce(id)
		return n.pushToPeers(ctx, id, c.Size())
	}, n.streamOpts...)
}

// pushToPeers fails only when every peer rejected the content.
func (n *Node) pushToPeers(ctx context.Context, id string, size int64) error {
	if !n.push || len(n.peers) == 0 {
		return nil
	}

	open := func() (io.ReadCloser, error) {
		f, err := n.store.Open(ctx, id)
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	errs := make([]error, len(n.peers))
	var g errgroup.Group
	g.SetLimit(n.pushConcurrency)
	for i, p := range n.peers {
		g.Go(func() error {
			if err := p.Push(ctx, id, size, open); err != nil {
				n.logger.Error(err, "push to peer failed", "content", id, "peer", p.URL())
				errs[i] = fmt.Errorf("%s: %w", p.URL(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err == nil {
			return nil
		}
	}
	return fmt.Errorf("push to peers: %w", errors.Join(errs...))
}

func (n *Node) OnContentAvailable(id string, fn func()) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	hid := n.nextHook
	n.nextHook++
	if n.hooks[id] == nil {
		n.hooks[id] = make(map[int]func())
	}
	n.hooks[id][hid] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.hooks[id], hid)
			if len(n.hooks[id]) == 0 {
				delete(n.hooks, id)
			}
		})
	}
}

// Announce fires the availability hooks registered for id. Hooks run on the
// caller's goroutine without any node lock held.
func (n *Node) Announce(id string) {
	n.mu.Lock()
	fns := make([]func(), 0, len(n.hooks[id]))
	for _, fn := range n.hooks[id] {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (n *Node) SyncFromPeers(ctx context.Context, id string) blob.PeerCursor {
	ctx, cancel := context.WithCancel(ctx)
	return &cursor{node: n, id: id, ctx: ctx, cancel: cancel}
}
