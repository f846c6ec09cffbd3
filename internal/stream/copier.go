// Package stream provides the concrete transfer streams handed to the blob
// engine: a Copier moves bytes from a Source into a Sink while reporting
// progress, and can be paused, resumed and closed.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"blobxfer/internal/blob"
)

// DefaultInterval is how often a running Copier reports stats.
const DefaultInterval = 250 * time.Millisecond

// ErrLimitExceeded is returned when a source yields more bytes than allowed.
var ErrLimitExceeded = errors.New("stream exceeds size limit")

// Source opens the bytes to copy. size is -1 when unknown.
type Source func(ctx context.Context) (rc io.ReadCloser, size int64, err error)

// Sink consumes the copied bytes. It must read r until EOF or fail.
type Sink func(ctx context.Context, r io.Reader) error

// ContentSource reads caller-supplied content.
func ContentSource(c blob.Content) Source {
	return func(context.Context) (io.ReadCloser, int64, error) {
		rc, err := c.Open()
		if err != nil {
			return nil, 0, fmt.Errorf("open content: %w", err)
		}
		return rc, c.Size(), nil
	}
}

type Option func(*Copier)

func WithInterval(d time.Duration) Option {
	return func(c *Copier) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithLimit fails the copy once more than n bytes have been read.
func WithLimit(n int64) Option {
	return func(c *Copier) { c.limit = n }
}

// Copier implements blob.Stream.
type Copier struct {
	src      Source
	dst      Sink
	interval time.Duration
	limit    int64

	emitMu  sync.Mutex
	onStats func(blob.Stats)

	mu     sync.Mutex
	paused bool
	resume chan struct{}
	cancel context.CancelFunc
	closed bool
}

var _ blob.Stream = (*Copier)(nil)

func New(src Source, dst Sink, opts ...Option) *Copier {
	c := &Copier{src: src, dst: dst, interval: DefaultInterval}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Copier) OnStats(fn func(blob.Stats)) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.onStats = fn
}

func (c *Copier) emit(st blob.Stats) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if c.onStats != nil {
		c.onStats(st)
	}
}

// Pause stops the copy before its next read until Resume is called.
func (c *Copier) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	c.paused = true
	c.resume = make(chan struct{})
}

func (c *Copier) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	close(c.resume)
}

// Close aborts the copy; Run then returns blob.ErrCancelled.
func (c *Copier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Copier) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// pauseGate returns the channel to wait on while paused, or nil.
func (c *Copier) pauseGate() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return nil
	}
	return c.resume
}

func (c *Copier) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return blob.ErrCancelled
	}
	c.cancel = cancel
	c.mu.Unlock()

	rc, size, err := c.src(ctx)
	if err != nil {
		return c.result(err)
	}
	defer rc.Close()

	now := time.Now()
	pr := &progressReader{c: c, ctx: ctx, r: rc, size: size, lastEmit: now}
	if err := c.dst(ctx, pr); err != nil {
		return c.result(err)
	}
	if c.isClosed() {
		return blob.ErrCancelled
	}

	pr.finish(time.Now())
	return nil
}

func (c *Copier) result(err error) error {
	if c.isClosed() {
		return blob.ErrCancelled
	}
	return err
}

type progressReader struct {
	c    *Copier
	ctx  context.Context
	r    io.Reader
	size int64

	pos      int64
	lastPos  int64
	lastEmit time.Time
	rate     float64
}

func (p *progressReader) Read(b []byte) (int, error) {
	if gate := p.c.pauseGate(); gate != nil {
		p.report(true, time.Now())
		select {
		case <-gate:
		case <-p.ctx.Done():
			return 0, p.ctx.Err()
		}
		// the pause must not count against the rate
		p.lastEmit = time.Now()
		p.report(false, p.lastEmit)
	}
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}

	n, err := p.r.Read(b)
	p.pos += int64(n)
	if p.c.limit > 0 && p.pos > p.c.limit {
		return n, ErrLimitExceeded
	}

	if now := time.Now(); now.Sub(p.lastEmit) >= p.c.interval {
		p.report(false, now)
	}
	return n, err
}

func (p *progressReader) finish(now time.Time) {
	st := p.stats(false, now)
	st.FinishTime = now
	p.c.emit(st)
}

func (p *progressReader) report(paused bool, now time.Time) {
	p.c.emit(p.stats(paused, now))
}

func (p *progressReader) stats(paused bool, now time.Time) blob.Stats {
	if elapsed := now.Sub(p.lastEmit).Seconds(); elapsed > 0 && !paused {
		p.rate = float64(p.pos-p.lastPos) / elapsed
	}
	p.lastEmit = now
	p.lastPos = p.pos

	size := p.size
	if size < 0 {
		size = 0
	}
	return blob.Stats{
		Pos:        p.pos,
		Size:       size,
		Throughput: p.rate,
		Paused:     paused,
	}
}
