package blob

import (
	"context"
	"sync"
)

type fakeStream struct {
	data []byte

	// sticky streams ignore Close, as if their result was already on its way
	sticky bool

	mu      sync.Mutex
	onStats func(Stats)

	result    chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeStream(data []byte) *fakeStream {
	return &fakeStream{
		data:   data,
		result: make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) OnStats(fn func(Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStats = fn
}

func (s *fakeStream) emit(st Stats) {
	s.mu.Lock()
	fn := s.onStats
	s.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (s *fakeStream) Run(ctx context.Context) error {
	closed := s.closed
	if s.sticky {
		closed = nil
	}
	select {
	case err := <-s.result:
		return err
	case <-closed:
		return ErrCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fakeStream) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *fakeStream) Bytes() []byte { return s.data }

func (s *fakeStream) Pause()  { s.emit(Stats{Pos: 1, Size: 2, Paused: true}) }
func (s *fakeStream) Resume() { s.emit(Stats{Pos: 1, Size: 2}) }

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// fakeAttempt resolves to err. A nil err makes the network announce the
// content, the way a real node does once a peer's bytes are stored.
type fakeAttempt struct {
	net   *fakeNetwork
	err   error
	block bool
	stats Stats

	mu      sync.Mutex
	onStats func(Stats)
}

func (a *fakeAttempt) OnStats(fn func(Stats)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onStats = fn
}

func (a *fakeAttempt) Wait(ctx context.Context) error {
	if a.block {
		<-ctx.Done()
	}

	a.mu.Lock()
	fn := a.onStats
	a.mu.Unlock()
	if fn != nil {
		fn(a.stats)
	}

	if a.block {
		return ctx.Err()
	}
	if a.err == nil {
		go a.net.announce()
	}
	return a.err
}

type fakeCursor struct {
	mu       sync.Mutex
	attempts []*fakeAttempt
	next     int
	stopped  bool
}

func (c *fakeCursor) Next(ctx context.Context) (PeerAttempt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || ctx.Err() != nil || c.next >= len(c.attempts) {
		return nil, false
	}
	a := c.attempts[c.next]
	c.next++
	return a, true
}

func (c *fakeCursor) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

func (c *fakeCursor) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *fakeCursor) started() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

type fakeNetwork struct {
	data []byte

	mu        sync.Mutex
	downloads []*fakeStream
	uploads   []*fakeStream
	hooks     map[int]func()
	nextHook  int
	cursor    *fakeCursor
	sticky    bool
}

func newFakeNetwork(data []byte) *fakeNetwork {
	return &fakeNetwork{data: data, hooks: make(map[int]func())}
}

func (n *fakeNetwork) OpenDownload(id string) DownloadStream {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := newFakeStream(n.data)
	s.sticky = n.sticky
	n.downloads = append(n.downloads, s)
	return s
}

func (n *fakeNetwork) OpenUpload(id string, c Content) Stream {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := newFakeStream(nil)
	n.uploads = append(n.uploads, s)
	return s
}

func (n *fakeNetwork) OnContentAvailable(id string, fn func()) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	hid := n.nextHook
	n.nextHook++
	n.hooks[hid] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.hooks, hid)
	}
}

func (n *fakeNetwork) SyncFromPeers(ctx context.Context, id string) PeerCursor {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cursor == nil {
		n.cursor = &fakeCursor{}
	}
	return n.cursor
}

func (n *fakeNetwork) announce() {
	n.mu.Lock()
	fns := make([]func(), 0, len(n.hooks))
	for _, fn := range n.hooks {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (n *fakeNetwork) download(i int) *fakeStream {
	n.mu.Lock()
	defer n.mu.Unlock()
	if i >= len(n.downloads) {
		return nil
	}
	return n.downloads[i]
}

func (n *fakeNetwork) upload(i int) *fakeStream {
	n.mu.Lock()
	defer n.mu.Unlock()
	if i >= len(n.uploads) {
		return nil
	}
	return n.uploads[i]
}

func (n *fakeNetwork) downloadCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.downloads)
}

func (n *fakeNetwork) hookCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.hooks)
}

type eventLog struct {
	events chan Event

	mu    sync.Mutex
	peers []error
}

func newEventLog() *eventLog {
	return &eventLog{events: make(chan Event, 32)}
}

func (l *eventLog) TransferStarted(string, Direction) {}

func (l *eventLog) TransferFinished(ev Event) { l.events <- ev }

func (l *eventLog) PeerAttempted(_ string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.peers = append(l.peers, err)
}

func (l *eventLog) peerResults() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.peers...)
}
