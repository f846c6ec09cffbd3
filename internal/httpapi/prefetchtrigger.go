package httpapi

import (
	"context"
	"sync"

	"blobxfer/internal/httpapi/handlers"
	"blobxfer/internal/prefetch"
	"blobxfer/internal/service"

	"github.com/go-logr/logr"
)

// PrefetchTrigger runs the prefetch runner on demand, one run at a time.
type PrefetchTrigger struct {
	runner       *prefetch.Runner
	svc          *service.Service
	fallbackPage int
	logger       logr.Logger

	mu         sync.Mutex
	running    bool
	lastResult *prefetch.Summary
	lastError  error
}

func NewPrefetchTrigger(runner *prefetch.Runner, svc *service.Service, fallbackPageSize int, logger logr.Logger) *PrefetchTrigger {
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	return &PrefetchTrigger{
		runner:       runner,
		svc:          svc,
		fallbackPage: fallbackPageSize,
		logger:       logger.WithValues("component", "prefetch-trigger"),
	}
}

// TriggerPrefetch starts a run in the background. It returns false when a
// run is already in flight.
func (pt *PrefetchTrigger) TriggerPrefetch(_ context.Context) (bool, error) {
	pt.mu.Lock()
	if pt.running {
		pt.mu.Unlock()
		return false, nil
	}
	pt.running = true
	pt.mu.Unlock()

	go func() {
		pageSize := pt.fallbackPage
		if pt.svc != nil {
			if cfg, err := pt.svc.GetPrefetchConfig(context.Background()); err == nil {
				pageSize = cfg.PageSizeOrDefault()
			}
		}

		summary, err := pt.runner.Run(context.Background(), pageSize)

		pt.mu.Lock()
		pt.running = false
		pt.lastResult = &summary
		pt.lastError = err
		pt.mu.Unlock()

		if err != nil {
			pt.logger.Error(err, "manual prefetch failed")
		} else {
			pt.logger.Info("manual prefetch finished", "scanned", summary.Scanned, "attached", summary.Attached)
		}
	}()

	return true, nil
}

func (pt *PrefetchTrigger) Status() handlers.PrefetchStatus {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	errStr := ""
	if pt.lastError != nil {
		errStr = pt.lastError.Error()
	}
	return handlers.PrefetchStatus{
		Running:    pt.running,
		LastResult: pt.lastResult,
		LastError:  errStr,
	}
}
