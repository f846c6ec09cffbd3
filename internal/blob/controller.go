package blob

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Event describes the end of one transfer session.
type Event struct {
	ContentID string
	Direction Direction
	Outcome   Outcome
	Bytes     int64
	Elapsed   time.Duration
	Err       error
}

// Recorder observes transfer lifecycle events, e.g. for metrics or a
// transfer log. Calls are made without any controller lock held.
type Recorder interface {
	TransferStarted(contentID string, dir Direction)
	TransferFinished(ev Event)
	PeerAttempted(contentID string, err error)
}

type Option func(*Controller)

func WithLogger(l logr.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithRecorder adds r to the recorders notified by the controller.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.recorders = append(c.recorders, r)
		}
	}
}

// Controller drives the transfers of one content handle: at most one
// download and one upload session, the peer-sync fallback, and the exposed
// object produced by a completed transfer. All methods are safe for
// concurrent use; failures are stored and surfaced through the getters.
type Controller struct {
	handle  ContentHandle
	meta    Metadata
	net     Network
	objects *ObjectTable

	logger    logr.Logger
	recorders []Recorder

	ctx     context.Context
	cancel  context.CancelFunc
	updates *notifier

	mu          sync.Mutex
	closed      bool
	download    *Session
	upload      *Session
	sync        *syncPass
	object      *Object
	stats       Stats
	downloadErr error
	uploadErr   error
	syncErr     error
	outcomes    [2]Outcome
}

func NewController(h ContentHandle, net Network, objects *ObjectTable, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		handle:  h,
		meta:    Classify(h),
		net:     net,
		objects: objects,
		logger:  logr.Discard(),
		ctx:     ctx,
		cancel:  cancel,
		updates: newNotifier(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithValues("content", h.ID)
	return c
}

func (c *Controller) Handle() ContentHandle { return c.handle }
func (c *Controller) Metadata() Metadata    { return c.meta }

// TooLarge reports whether the declared length exceeds MaxBlobSize.
func (c *Controller) TooLarge() bool { return c.meta.TooLarge }

func (c *Controller) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.object != nil
}

// Object returns the exposed object, or nil until a transfer completes.
func (c *Controller) Object() *Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.object
}

func (c *Controller) IsDownloading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.download != nil
}

func (c *Controller) IsUploading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upload != nil
}

// IsSyncing reports whether a peer-sync fallback pass is running. It stays
// true after a peer succeeded until the retried download starts.
func (c *Controller) IsSyncing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sync != nil
}

func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Throughput returns the progress text of the latest transfer.
func (c *Controller) Throughput() string {
	return FormatThroughput(c.Stats())
}

func (c *Controller) DownloadErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.downloadErr
}

func (c *Controller) UploadErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploadErr
}

func (c *Controller) SyncErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncErr
}

// LastOutcome returns how the latest session in dir ended, OutcomeNone
// while it is still running or when there was none.
func (c *Controller) LastOutcome(dir Direction) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcomes[dir]
}

// OnUpdate registers fn to be called after state changes. Calls happen on a
// separate goroutine and may be coalesced.
func (c *Controller) OnUpdate(fn func()) (unhook func()) {
	return c.updates.subscribe(fn)
}

// Download starts a download session unless one is active. With fallback
// set, a failed direct download falls back to syncing from peers.
func (c *Controller) Download(fallback bool) {
	c.mu.Lock()
	if c.closed || c.download != nil {
		c.mu.Unlock()
		return
	}
	pass := c.sync
	c.sync = nil
	c.downloadErr = nil
	c.syncErr = nil
	c.stats = Stats{}
	c.outcomes[DirectionDownload] = OutcomeNone
	sess := newSession(DirectionDownload)
	c.download = sess
	c.mu.Unlock()

	if pass != nil {
		pass.cancel()
	}

	stream := c.net.OpenDownload(c.handle.ID)
	if !sess.attach(stream) {
		sess.finish(OutcomeCancelled)
		return
	}
	stream.OnStats(func(st Stats) { c.onSessionStats(sess, st) })

	c.logger.V(1).Info("download started", "session", sess.ID, "fallback", fallback)
	c.started(DirectionDownload)
	c.updates.publish()

	go c.runDownload(sess, stream, fallback)
}

func (c *Controller) runDownload(sess *Session, stream DownloadStream, fallback bool) {
	err := stream.Run(c.ctx)

	c.mu.Lock()
	if c.download != sess {
		c.mu.Unlock()
		c.finished(sess, OutcomeCancelled, 0, nil)
		return
	}
	c.download = nil

	if err == nil {
		data := stream.Bytes()
		prev := c.object
		c.object = c.objects.Create(c.handle.Filename, c.meta.MimeType, BytesContent(data))
		c.outcomes[DirectionDownload] = OutcomeCompleted
		c.mu.Unlock()

		c.revoke(prev)
		c.logger.Info("download completed", "session", sess.ID, "bytes", len(data))
		c.finished(sess, OutcomeCompleted, int64(len(data)), nil)
		c.updates.publish()
		return
	}

	c.outcomes[DirectionDownload] = OutcomeFailed
	var pass *syncPass
	if fallback && !c.closed {
		pass = c.newSyncPass()
		c.sync = pass
	} else {
		c.downloadErr = wrap(ErrDownloadFailed, err)
	}
	c.mu.Unlock()

	c.logger.Error(err, "download failed", "session", sess.ID, "fallback", fallback)
	c.finished(sess, OutcomeFailed, 0, err)
	if pass != nil {
		go c.syncFromPeers(pass)
	}
	c.updates.publish()
}

// CancelDownload aborts the download session and any peer-sync pass.
// Nothing is recorded as an error. Idempotent.
func (c *Controller) CancelDownload() {
	c.mu.Lock()
	sess := c.download
	pass := c.sync
	c.download = nil
	c.sync = nil
	if sess != nil || pass != nil {
		c.outcomes[DirectionDownload] = OutcomeCancelled
	}
	c.mu.Unlock()

	if sess == nil && pass == nil {
		return
	}
	if sess != nil {
		sess.close()
	}
	if pass != nil {
		pass.cancel()
	}
	c.logger.V(1).Info("download cancelled")
	c.updates.publish()
}

// Upload starts pushing content outward and returns its session. While an
// upload is active the existing session is returned instead. It returns nil
// once the controller is closed.
func (c *Controller) Upload(content Content) *Session {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.upload != nil {
		sess := c.upload
		c.mu.Unlock()
		return sess
	}
	c.uploadErr = nil
	c.stats = Stats{}
	c.outcomes[DirectionUpload] = OutcomeNone
	sess := newSession(DirectionUpload)
	c.upload = sess
	c.mu.Unlock()

	stream := c.net.OpenUpload(c.handle.ID, content)
	if !sess.attach(stream) {
		sess.finish(OutcomeCancelled)
		return sess
	}
	stream.OnStats(func(st Stats) { c.onSessionStats(sess, st) })

	c.logger.V(1).Info("upload started", "session", sess.ID, "size", content.Size())
	c.started(DirectionUpload)
	c.updates.publish()

	go c.runUpload(sess, stream, content)
	return sess
}

func (c *Controller) runUpload(sess *Session, stream Stream, content Content) {
	err := stream.Run(c.ctx)

	c.mu.Lock()
	if c.upload != sess {
		c.mu.Unlock()
		c.finished(sess, OutcomeCancelled, 0, nil)
		return
	}
	c.upload = nil

	if err != nil {
		c.uploadErr = wrap(ErrUploadFailed, err)
		c.outcomes[DirectionUpload] = OutcomeFailed
		c.mu.Unlock()

		c.logger.Error(err, "upload failed", "session", sess.ID)
		c.finished(sess, OutcomeFailed, 0, err)
		c.updates.publish()
		return
	}

	prev := c.object
	c.object = c.objects.Create(c.handle.Filename, c.meta.MimeType, content)
	c.outcomes[DirectionUpload] = OutcomeCompleted
	c.mu.Unlock()

	c.revoke(prev)
	c.logger.Info("upload completed", "session", sess.ID, "bytes", content.Size())
	c.finished(sess, OutcomeCompleted, content.Size(), nil)
	c.updates.publish()
}

// CancelUpload aborts the upload session. Idempotent.
func (c *Controller) CancelUpload() {
	c.mu.Lock()
	sess := c.upload
	c.upload = nil
	if sess != nil {
		c.outcomes[DirectionUpload] = OutcomeCancelled
	}
	c.mu.Unlock()

	if sess == nil {
		return
	}
	sess.close()
	c.logger.V(1).Info("upload cancelled")
	c.updates.publish()
}

// Pause holds the active session in dir in place. It returns false when no
// session is active or its stream cannot pause. Peer-sync attempts are not
// pausable.
func (c *Controller) Pause(dir Direction) bool {
	return c.setPaused(dir, true)
}

// Resume continues a session held by Pause.
func (c *Controller) Resume(dir Direction) bool {
	return c.setPaused(dir, false)
}

func (c *Controller) setPaused(dir Direction, paused bool) bool {
	c.mu.Lock()
	sess := c.download
	if dir == DirectionUpload {
		sess = c.upload
	}
	c.mu.Unlock()

	if sess == nil || !sess.setPaused(paused) {
		return false
	}
	c.logger.V(1).Info("session paused", "session", sess.ID, "direction", dir.String(), "paused", paused)
	return true
}

// Purge releases the exposed object, if any. Idempotent.
func (c *Controller) Purge() {
	c.mu.Lock()
	obj := c.object
	c.object = nil
	c.mu.Unlock()

	if obj == nil {
		return
	}
	c.revoke(obj)
	c.updates.publish()
}

// Close cancels all transfers, purges the exposed object and drops every
// update subscriber. The controller is unusable afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.CancelDownload()
	c.CancelUpload()
	c.cancel()
	c.Purge()
	c.updates.close()
}

func (c *Controller) onSessionStats(sess *Session, st Stats) {
	sess.setStats(st)

	c.mu.Lock()
	if c.download != sess && c.upload != sess {
		c.mu.Unlock()
		return
	}
	c.stats = st
	c.mu.Unlock()

	c.updates.publish()
}

func (c *Controller) revoke(obj *Object) {
	if obj != nil {
		c.objects.Revoke(obj.ID)
	}
}

func (c *Controller) started(dir Direction) {
	for _, r := range c.recorders {
		r.TransferStarted(c.handle.ID, dir)
	}
}

func (c *Controller) finished(sess *Session, o Outcome, n int64, err error) {
	sess.finish(o)
	ev := Event{
		ContentID: c.handle.ID,
		Direction: sess.Direction,
		Outcome:   o,
		Bytes:     n,
		Elapsed:   time.Since(sess.StartedAt),
		Err:       err,
	}
	for _, r := range c.recorders {
		r.TransferFinished(ev)
	}
}
