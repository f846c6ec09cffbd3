package prefetch

import (
	"context"

	"blobxfer/internal/blob"
	"blobxfer/internal/service"
	"blobxfer/internal/store"
)

// Summary counts what one prefetch run did with each catalogued content.
type Summary struct {
	Scanned  int
	Present  int
	Attached int
	Skipped  int
	Failed   int
}

type ContentLister interface {
	ListContents(ctx context.Context, limit, offset int) ([]store.Content, error)
}

type Checker interface {
	Has(ctx context.Context, id string) (bool, error)
}

type Attacher interface {
	Attach(ctx context.Context, h blob.ContentHandle) (service.View, error)
}
