package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blobxfer/internal/auth"
	"blobxfer/internal/blob"
	"blobxfer/internal/config"
	"blobxfer/internal/db"
	"blobxfer/internal/httpapi"
	"blobxfer/internal/logr"
	"blobxfer/internal/metrics"
	"blobxfer/internal/node"
	"blobxfer/internal/peer"
	"blobxfer/internal/prefetch"
	"blobxfer/internal/service"
	"blobxfer/internal/storage"
	"blobxfer/internal/store"

	gologr "github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	envFiles, err := config.LoadDotEnv(config.DotEnvFiles()...)
	if err != nil {
		return fmt.Errorf("load env files: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logr.New(cfg.Log, os.Stderr)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if len(envFiles) > 0 {
		logger.V(1).Info("loaded env files", "files", envFiles)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	blobStore, err := storage.New(ctx, storage.Options{
		Backend:  cfg.StorageBackend,
		Root:     cfg.StorageRoot,
		Compress: cfg.StorageCompress,
		S3Bucket: cfg.S3Bucket,
		S3Prefix: cfg.S3Prefix,
		S3Client: storage.S3ClientOptions{
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretKey,
		},
		GCSBucket: cfg.GCSBucket,
		GCSPrefix: cfg.GCSPrefix,
		CacheSize: cfg.StorageCacheSize,
	})
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	peers, err := newPeers(cfg, logger)
	if err != nil {
		return err
	}
	n := node.New(node.Config{
		Storage:         blobStore,
		Peers:           peers,
		Logger:          logger,
		StatsInterval:   cfg.StatsInterval,
		MaxBytes:        cfg.MaxBlobBytes,
		PushOnUpload:    cfg.PushOnUpload,
		PushConcurrency: cfg.PushConcurrency,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(registry)

	st := store.New(pool)
	svc := service.New(st, n, service.Config{
		MaxBlobBytes: cfg.MaxBlobBytes,
		Logger:       logger,
		Recorders:    []blob.Recorder{recorder},
	})
	defer svc.Close()

	if err := svc.SeedPrefetchConfig(ctx, service.PrefetchConfig{
		Enabled:     cfg.PrefetchEnabled,
		IntervalStr: cfg.PrefetchInterval.String(),
		DelayStr:    cfg.PrefetchDelay.String(),
		PageSize:    cfg.PrefetchPageSize,
		Concurrency: cfg.PrefetchConcurrency,
	}); err != nil {
		logger.Error(err, "seed prefetch config")
	}

	runner := prefetch.NewRunner(svc, n, svc, cfg.PrefetchConcurrency, logger)
	worker := prefetch.NewWorker(
		runner,
		prefetch.WorkerConfig{
			Enabled:      cfg.PrefetchEnabled,
			StartupDelay: cfg.PrefetchDelay,
			Interval:     cfg.PrefetchInterval,
			PageSize:     cfg.PrefetchPageSize,
		},
		&prefetchConfigAdapter{svc: svc},
		logger,
	)
	trigger := httpapi.NewPrefetchTrigger(runner, svc, cfg.PrefetchPageSize, logger)

	authn := auth.NewAuthenticator(st, cfg.AdminToken, cfg.PeerToken)
	api := httpapi.New(cfg, svc, n, authn, trigger, registry)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.NewEcho(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.ListenAddr, "peers", len(peers), "storage", cfg.StorageBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newPeers(cfg config.Config, logger gologr.Logger) ([]node.Peer, error) {
	peers := make([]node.Peer, 0, len(cfg.PeerURLs))
	for _, u := range cfg.PeerURLs {
		client, err := peer.NewClient(peer.Config{
			URL:      u,
			Token:    cfg.PeerToken,
			Timeout:  cfg.PeerTimeout,
			RetryMax: cfg.PeerRetryMax,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", u, err)
		}
		peers = append(peers, client)
	}
	return peers, nil
}

// prefetchConfigAdapter bridges service.Service to prefetch.ConfigProvider.
type prefetchConfigAdapter struct {
	svc *service.Service
}

func (a *prefetchConfigAdapter) GetWorkerConfig(ctx context.Context) (prefetch.WorkerConfig, error) {
	cfg, err := a.svc.GetPrefetchConfig(ctx)
	if err != nil {
		return prefetch.WorkerConfig{}, err
	}
	return prefetch.WorkerConfig{
		Enabled:      cfg.Enabled,
		StartupDelay: cfg.Delay(),
		Interval:     cfg.Interval(),
		PageSize:     cfg.PageSizeOrDefault(),
	}, nil
}
