package handlers

import (
	"context"
	"io"

	"blobxfer/internal/config"
	"blobxfer/internal/prefetch"
	"blobxfer/internal/service"
	"blobxfer/internal/storage"
)

// BlobNode is the local storage side of a node, served to peers.
type BlobNode interface {
	Has(ctx context.Context, id string) (bool, error)
	Open(ctx context.Context, id string) (*storage.BlobFile, error)
	Put(ctx context.Context, id string, r io.Reader) (digest string, size int64, err error)
}

type PrefetchStatus struct {
	Running    bool
	LastResult *prefetch.Summary
	LastError  string
}

type PrefetchTrigger interface {
	TriggerPrefetch(ctx context.Context) (bool, error)
	Status() PrefetchStatus
}

type Handler struct {
	cfg      config.Config
	svc      *service.Service
	node     BlobNode
	prefetch PrefetchTrigger
}

func New(cfg config.Config, svc *service.Service, node BlobNode, trigger PrefetchTrigger) *Handler {
	return &Handler{
		cfg:      cfg,
		svc:      svc,
		node:     node,
		prefetch: trigger,
	}
}
