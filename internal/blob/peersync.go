package blob

import (
	"context"
	"sync"
)

// syncPass is one run of the peer-sync fallback. A pass is current while it
// is the controller's sync field; anything it observes afterwards is ignored.
type syncPass struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// newSyncPass must be called with c.mu held.
func (c *Controller) newSyncPass() *syncPass {
	ctx, cancel := context.WithCancel(c.ctx)
	return &syncPass{ctx: ctx, cancel: cancel}
}

func (c *Controller) syncFromPeers(pass *syncPass) {
	defer pass.cancel()

	fired := make(chan struct{})
	var once sync.Once
	unhook := c.net.OnContentAvailable(c.handle.ID, func() {
		once.Do(func() {
			close(fired)
			c.logger.V(1).Info("content became available, retrying download")
			c.Download(false)
		})
	})
	defer unhook()

	cursor := c.net.SyncFromPeers(pass.ctx, c.handle.ID)
	defer cursor.Stop()

	c.logger.Info("syncing from peers")

	var lastErr error
	for n := 1; ; n++ {
		attempt, ok := cursor.Next(pass.ctx)
		if !ok {
			break
		}
		attempt.OnStats(func(st Stats) { c.onSyncStats(pass, st) })

		err := attempt.Wait(pass.ctx)
		if err != nil && pass.ctx.Err() != nil {
			return
		}
		c.peerAttempted(err)
		if err == nil {
			c.logger.Info("peer sync succeeded", "attempt", n)
			cursor.Stop()
			// The availability hook performs the retry.
			select {
			case <-fired:
			case <-pass.ctx.Done():
			}
			return
		}
		c.logger.V(1).Info("peer attempt failed", "attempt", n, "err", err.Error())
		lastErr = err
	}

	c.mu.Lock()
	if c.sync != pass {
		c.mu.Unlock()
		return
	}
	c.sync = nil
	c.syncErr = wrap(ErrSyncExhausted, lastErr)
	c.mu.Unlock()

	c.logger.Error(lastErr, "peer sync exhausted")
	c.updates.publish()
}

func (c *Controller) onSyncStats(pass *syncPass, st Stats) {
	if pass.ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	if c.sync != pass {
		c.mu.Unlock()
		return
	}
	c.stats = st
	c.mu.Unlock()

	c.updates.publish()
}

func (c *Controller) peerAttempted(err error) {
	for _, r := range c.recorders {
		r.PeerAttempted(c.handle.ID, err)
	}
}
