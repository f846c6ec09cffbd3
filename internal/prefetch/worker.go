package prefetch

import (
	"context"
	"time"

	"github.com/go-logr/logr"
)

type workerRunner interface {
	Run(context.Context, int) (Summary, error)
}

// ConfigProvider dynamically provides worker configuration from the database.
type ConfigProvider interface {
	GetWorkerConfig(ctx context.Context) (WorkerConfig, error)
}

type WorkerConfig struct {
	Enabled      bool
	StartupDelay time.Duration
	Interval     time.Duration
	PageSize     int
}

type Worker struct {
	runner       workerRunner
	configSource ConfigProvider
	fallbackCfg  WorkerConfig
	logger       logr.Logger
}

// NewWorker creates a worker. If configSource is nil, fallbackCfg is used statically.
func NewWorker(runner workerRunner, fallbackCfg WorkerConfig, configSource ConfigProvider, logger logr.Logger) *Worker {
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	if fallbackCfg.PageSize <= 0 {
		fallbackCfg.PageSize = 100
	}
	if fallbackCfg.StartupDelay < 0 {
		fallbackCfg.StartupDelay = 0
	}
	if fallbackCfg.Interval < 0 {
		fallbackCfg.Interval = 0
	}

	return &Worker{
		runner:       runner,
		configSource: configSource,
		fallbackCfg:  fallbackCfg,
		logger:       logger.WithValues("component", "prefetch-worker"),
	}
}

func (w *Worker) getConfig(ctx context.Context) WorkerConfig {
	if w.configSource == nil {
		return w.fallbackCfg
	}
	cfg, err := w.configSource.GetWorkerConfig(ctx)
	if err != nil {
		w.logger.Error(err, "failed to read prefetch config, using fallback")
		return w.fallbackCfg
	}
	return cfg
}

// Run blocks until ctx is done. A disabled worker keeps polling its config
// on the interval so it can be switched on at runtime.
func (w *Worker) Run(ctx context.Context) {
	cfg := w.getConfig(ctx)
	if w.runner == nil {
		return
	}
	if cfg.StartupDelay > 0 {
		timer := time.NewTimer(cfg.StartupDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}

	if cfg.Enabled {
		w.runOnce(ctx, cfg)
	}

	if cfg.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			latest := w.getConfig(ctx)
			if latest.Interval > 0 && latest.Interval != cfg.Interval {
				ticker.Reset(latest.Interval)
				w.logger.Info("prefetch interval updated", "interval", latest.Interval)
			}
			if latest.Interval <= 0 {
				latest.Interval = cfg.Interval
			}
			cfg = latest
			if !cfg.Enabled {
				w.logger.V(1).Info("prefetch disabled via config, skipping")
				continue
			}
			w.runOnce(ctx, cfg)
		}
	}
}

func (w *Worker) runOnce(ctx context.Context, cfg WorkerConfig) {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	start := time.Now()
	summary, err := w.runner.Run(ctx, pageSize)
	if err != nil {
		w.logger.Error(err, "prefetch failed", "elapsed", time.Since(start).Round(time.Millisecond))
		return
	}
	w.logger.Info("prefetch finished",
		"elapsed", time.Since(start).Round(time.Millisecond),
		"scanned", summary.Scanned,
		"attached", summary.Attached,
		"failed", summary.Failed,
	)
}
