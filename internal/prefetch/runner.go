package prefetch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"blobxfer/internal/blob"
	"blobxfer/internal/store"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// Runner walks the catalog and attaches every content missing from local
// storage, which starts its download with peer fallback.
type Runner struct {
	lister      ContentLister
	checker     Checker
	attacher    Attacher
	concurrency int
	logger      logr.Logger
}

func NewRunner(lister ContentLister, checker Checker, attacher Attacher, concurrency int, logger logr.Logger) *Runner {
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Runner{
		lister:      lister,
		checker:     checker,
		attacher:    attacher,
		concurrency: concurrency,
		logger:      logger.WithValues("component", "prefetch"),
	}
}

func (r *Runner) Run(ctx context.Context, pageSize int) (Summary, error) {
	if r.lister == nil || r.checker == nil || r.attacher == nil {
		return Summary{}, fmt.Errorf("prefetch runner is not fully configured")
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	r.logger.V(1).Info("starting prefetch run", "page_size", pageSize)

	var (
		mu      sync.Mutex
		summary Summary
		joined  error
	)
	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		page, err := r.lister.ListContents(ctx, pageSize, offset)
		if err != nil {
			return summary, fmt.Errorf("list contents at offset %d: %w", offset, err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.concurrency)
		for _, c := range page {
			g.Go(func() error {
				res, err := r.prefetch(gctx, c)
				mu.Lock()
				defer mu.Unlock()
				summary.Scanned++
				switch res {
				case resultPresent:
					summary.Present++
				case resultAttached:
					summary.Attached++
				case resultSkipped:
					summary.Skipped++
				default:
					summary.Failed++
					joined = errors.Join(joined, fmt.Errorf("%s: %w", c.ID, err))
				}
				return nil
			})
		}
		_ = g.Wait()

		if len(page) < pageSize {
			break
		}
	}

	r.logger.Info("prefetch run complete",
		"scanned", summary.Scanned,
		"present", summary.Present,
		"attached", summary.Attached,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return summary, joined
}

type result int

const (
	resultFailed result = iota
	resultPresent
	resultAttached
	resultSkipped
)

func (r *Runner) prefetch(ctx context.Context, c store.Content) (result, error) {
	if c.Length > blob.MaxBlobSize {
		return resultSkipped, nil
	}
	has, err := r.checker.Has(ctx, c.ID)
	if err != nil {
		return resultFailed, fmt.Errorf("check local storage: %w", err)
	}
	if has {
		return resultPresent, nil
	}
	if _, err := r.attacher.Attach(ctx, blob.ContentHandle{
		ID:       c.ID,
		Filename: c.Filename,
		Length:   c.Length,
		Owner:    c.Owner,
	}); err != nil {
		return resultFailed, fmt.Errorf("attach: %w", err)
	}
	r.logger.V(1).Info("prefetching content", "content", c.ID)
	return resultAttached, nil
}
