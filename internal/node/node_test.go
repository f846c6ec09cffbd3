package node

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blobxfer/internal/blob"
	"blobxfer/internal/peer"
	"blobxfer/internal/storage"
)

type fakePeer struct {
	url  string
	data map[string][]byte

	mu     sync.Mutex
	pushed map[string][]byte
	fails  bool
}

func newFakePeer(url string) *fakePeer {
	return &fakePeer{url: url, data: map[string][]byte{}, pushed: map[string][]byte{}}
}

func (p *fakePeer) URL() string { return p.url }

func (p *fakePeer) Fetch(_ context.Context, id string) (io.ReadCloser, int64, error) {
	b, ok := p.data[id]
	if !ok {
		return nil, 0, peer.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), int64(len(b)), nil
}

func (p *fakePeer) Push(_ context.Context, id string, _ int64, open func() (io.ReadCloser, error)) error {
	if p.fails {
		return errors.New("peer down")
	}
	rc, err := open()
	if err != nil {
		return err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed[id] = b
	return nil
}

func (p *fakePeer) pushedBytes(id string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pushed[id]
}

func newTestNode(t *testing.T, push bool, peers ...Peer) *Node {
	t.Helper()
	store, err := storage.NewLocalBlobStore(t.TempDir(), false)
	require.NoError(t, err)
	return New(Config{Storage: store, Peers: peers, PushOnUpload: push})
}

func TestControllerRecoversFromPeer(t *testing.T) {
	t.Parallel()

	empty := newFakePeer("http://a")
	holder := newFakePeer("http://b")
	holder.data["c1"] = []byte("held by b")
	n := newTestNode(t, false, empty, holder)

	c := blob.NewController(blob.ContentHandle{ID: "c1", Filename: "note.txt"}, n, blob.NewObjectTable())
	defer c.Close()

	c.Download(true)
	require.Eventually(t, c.IsReady, 2*time.Second, 5*time.Millisecond)

	assert.NoError(t, c.SyncErr())
	assert.NoError(t, c.DownloadErr())
	assert.False(t, c.IsSyncing())

	rc, err := c.Object().Open()
	require.NoError(t, err)
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	assert.Equal(t, "held by b", string(got))

	ok, err := n.Has(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, ok, "fetched content must be stored locally")
}

func TestControllerSyncExhausted(t *testing.T) {
	t.Parallel()

	n := newTestNode(t, false, newFakePeer("http://a"), newFakePeer("http://b"))
	c := blob.NewController(blob.ContentHandle{ID: "gone"}, n, blob.NewObjectTable())
	defer c.Close()

	c.Download(true)
	require.Eventually(t, func() bool { return c.SyncErr() != nil }, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, c.SyncErr(), blob.ErrSyncExhausted)
	assert.ErrorIs(t, c.SyncErr(), peer.ErrNotFound)
	assert.False(t, c.IsReady())
}

func TestUploadStoresAndPushes(t *testing.T) {
	t.Parallel()

	a := newFakePeer("http://a")
	b := newFakePeer("http://b")
	b.fails = true
	n := newTestNode(t, true, a, b)

	announced := make(chan struct{}, 1)
	unhook := n.OnContentAvailable("up", func() { announced <- struct{}{} })
	defer unhook()

	s := n.OpenUpload("up", blob.BytesContent("uploaded"))
	require.NoError(t, s.Run(context.Background()))

	select {
	case <-announced:
	default:
		t.Fatal("upload did not announce the content")
	}
	assert.Equal(t, []byte("uploaded"), a.pushedBytes("up"))

	d := n.OpenDownload("up")
	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, []byte("uploaded"), d.Bytes())
}

func TestUploadFailsWhenEveryPushFails(t *testing.T) {
	t.Parallel()

	a := newFakePeer("http://a")
	a.fails = true
	n := newTestNode(t, true, a)

	err := n.OpenUpload("up", blob.BytesContent("x")).Run(context.Background())
	assert.ErrorContains(t, err, "peer down")
}

func TestDownloadMissing(t *testing.T) {
	t.Parallel()

	n := newTestNode(t, false)
	err := n.OpenDownload("nope").Run(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUnhookIsIdempotent(t *testing.T) {
	t.Parallel()

	n := newTestNode(t, false)
	var calls int
	unhook := n.OnContentAvailable("c", func() { calls++ })
	n.Announce("c")
	unhook()
	unhook()
	n.Announce("c")

	assert.Equal(t, 1, calls)
	assert.Empty(t, n.hooks)
}

func TestPutAnnounces(t *testing.T) {
	t.Parallel()

	n := newTestNode(t, false)
	fired := false
	defer n.OnContentAvailable("c", func() { fired = true })()

	_, size, err := n.Put(context.Background(), "c", strings.NewReader("pushed"))
	require.NoError(t, err)
	assert.Equal(t, int64(6), size)
	assert.True(t, fired)
}

func TestCursorStop(t *testing.T) {
	t.Parallel()

	n := newTestNode(t, false, newFakePeer("http://a"), newFakePeer("http://b"))
	cur := n.SyncFromPeers(context.Background(), "c")

	_, ok := cur.Next(context.Background())
	require.True(t, ok)
	cur.Stop()
	cur.Stop()

	_, ok = cur.Next(context.Background())
	assert.False(t, ok)
}

type peerLog struct {
	mu   sync.Mutex
	errs []error
}

func (r *peerLog) TransferStarted(string, blob.Direction) {}
func (r *peerLog) TransferFinished(blob.Event)            {}

func (r *peerLog) PeerAttempted(_ string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *peerLog) attempts() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func TestControllerRecordsSuccessfulPeer(t *testing.T) {
	t.Parallel()

	for i := 0; i < 20; i++ {
		empty := newFakePeer("http://a")
		holder := newFakePeer("http://b")
		holder.data["c1"] = []byte("held by b")
		n := newTestNode(t, false, empty, holder)

		rec := &peerLog{}
		c := blob.NewController(blob.ContentHandle{ID: "c1"}, n, blob.NewObjectTable(), blob.WithRecorder(rec))

		c.Download(true)
		require.Eventually(t, c.IsReady, 2*time.Second, 5*time.Millisecond)
		require.Eventually(t, func() bool { return len(rec.attempts()) == 2 }, 2*time.Second, 5*time.Millisecond, "run %d", i)

		got := rec.attempts()
		assert.ErrorIs(t, got[0], peer.ErrNotFound)
		assert.NoError(t, got[1], "run %d: the holder's attempt must be recorded as a success", i)
		c.Close()
	}
}

func TestAttemptReplaysStats(t *testing.T) {
	t.Parallel()

	holder := newFakePeer("http://b")
	holder.data["c1"] = []byte("0123456789")
	n := newTestNode(t, false, holder)

	cur := n.SyncFromPeers(context.Background(), "c1")
	defer cur.Stop()
	a, ok := cur.Next(context.Background())
	require.True(t, ok)
	require.NoError(t, a.Wait(context.Background()))

	// Registered after the copy finished, the callback still sees the
	// final report.
	var got blob.Stats
	a.OnStats(func(st blob.Stats) { got = st })
	assert.Equal(t, int64(10), got.Pos)
	assert.Equal(t, int64(10), got.Size)
	assert.False(t, got.FinishTime.IsZero())
}

func TestAttemptWaitPrefersResult(t *testing.T) {
	t.Parallel()

	a := &attempt{done: make(chan struct{})}
	close(a.done)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 50; i++ {
		assert.NoError(t, a.Wait(ctx))
	}
}

func TestFetchAnnouncesAfterAttemptsFinish(t *testing.T) {
	t.Parallel()

	holder := newFakePeer("http://b")
	holder.data["c1"] = []byte("x")
	n := newTestNode(t, false, holder)

	started := make(chan blob.PeerAttempt, 1)
	announced := make(chan error, 1)
	defer n.OnContentAvailable("c1", func() {
		a := <-started
		select {
		case <-a.(*attempt).done:
			announced <- nil
		default:
			announced <- errors.New("announced before the attempt finished")
		}
	})()

	cur := n.SyncFromPeers(context.Background(), "c1")
	defer cur.Stop()
	a, ok := cur.Next(context.Background())
	require.True(t, ok)
	started <- a

	select {
	case err := <-announced:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("content was never announced")
	}
	assert.Empty(t, n.inflight)
}
