package node

import (
	"context"
	"io"
	"sync"

	"blobxfer/internal/blob"
	"blobxfer/internal/stream"
)

// cursor tries the node's peers in configured order.
type cursor struct {
	node *Node
	id   string

	// ctx bounds every attempt; Stop cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	next    int
	stopped bool
}

var _ blob.PeerCursor = (*cursor)(nil)

func (c *cursor) Next(ctx context.Context) (blob.PeerAttempt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || ctx.Err() != nil || c.ctx.Err() != nil || c.next >= len(c.node.peers) {
		return nil, false
	}
	p := c.node.peers[c.next]
	c.next++
	return c.node.fetch(c.ctx, c.id, p), true
}

func (c *cursor) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.cancel()
}

type attempt struct {
	done chan struct{}
	err  error

	mu      sync.Mutex
	onStats func(blob.Stats)
	last    blob.Stats
	seen    bool
}

var _ blob.PeerAttempt = (*attempt)(nil)

// OnStats registers fn and replays the latest report, so nothing emitted
// before registration is lost.
func (a *attempt) OnStats(fn func(blob.Stats)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onStats = fn
	if a.seen && fn != nil {
		fn(a.last)
	}
}

func (a *attempt) report(st blob.Stats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last, a.seen = st, true
	if a.onStats != nil {
		a.onStats(st)
	}
}

// Wait prefers a finished result over a cancelled ctx, so an attempt that
// completed just before the caller was cancelled still reports success.
func (a *attempt) Wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		select {
		case <-a.done:
			return a.err
		default:
			return ctx.Err()
		}
	}
}

// fetchGroup is the set of attempts sharing one fetch of a content from one
// peer. Every copy run for the key reports to all of them.
type fetchGroup struct {
	attempts map[*attempt]struct{}
	ok       bool
}

// fetch copies id from p into local storage. Concurrent fetches of the same
// content from the same peer share one transfer. The content is announced
// once every attempt of the group has finished, so no waiter is cancelled
// by its own success.
func (n *Node) fetch(ctx context.Context, id string, p Peer) *attempt {
	key := id + "\x00" + p.URL()
	a := &attempt{done: make(chan struct{})}
	n.joinFetch(key, a)

	go func() {
		_, err, _ := n.fetches.Do(key, func() (any, error) {
			c := stream.New(
				func(ctx context.Context) (io.ReadCloser, int64, error) {
					return p.Fetch(ctx, id)
				},
				func(ctx context.Context, r io.Reader) error {
					_, _, err := n.store.PutStream(ctx, id, r)
					return err
				},
				n.streamOpts...,
			)
			c.OnStats(func(st blob.Stats) { n.reportFetch(key, st) })
			return nil, c.Run(ctx)
		})
		a.err = err
		close(a.done)

		if n.leaveFetch(key, a, err == nil) {
			n.logger.Info("fetched from peer", "content", id, "peer", p.URL())
			n.Announce(id)
		}
	}()
	return a
}

func (n *Node) joinFetch(key string, a *attempt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	g, ok := n.inflight[key]
	if !ok {
		g = &fetchGroup{attempts: make(map[*attempt]struct{})}
		n.inflight[key] = g
	}
	g.attempts[a] = struct{}{}
}

func (n *Node) reportFetch(key string, st blob.Stats) {
	n.mu.Lock()
	var attempts []*attempt
	if g := n.inflight[key]; g != nil {
		attempts = make([]*attempt, 0, len(g.attempts))
		for a := range g.attempts {
			attempts = append(attempts, a)
		}
	}
	n.mu.Unlock()

	for _, a := range attempts {
		a.report(st)
	}
}

// leaveFetch removes a from its group. It returns true for the last attempt
// to leave a group in which some copy succeeded.
func (n *Node) leaveFetch(key string, a *attempt, ok bool) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	g := n.inflight[key]
	if g == nil {
		return ok
	}
	delete(g.attempts, a)
	g.ok = g.ok || ok
	if len(g.attempts) > 0 {
		return false
	}
	delete(n.inflight, key)
	return g.ok
}
