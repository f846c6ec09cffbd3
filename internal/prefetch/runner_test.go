package prefetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blobxfer/internal/blob"
	"blobxfer/internal/service"
	"blobxfer/internal/store"
)

type fakeCatalog struct {
	contents []store.Content
	calls    int
}

func (f *fakeCatalog) ListContents(_ context.Context, limit, offset int) ([]store.Content, error) {
	f.calls++
	if offset >= len(f.contents) {
		return nil, nil
	}
	end := min(offset+limit, len(f.contents))
	return f.contents[offset:end], nil
}

type fakeLocal map[string]bool

func (f fakeLocal) Has(_ context.Context, id string) (bool, error) {
	if id == "broken" {
		return false, errors.New("disk error")
	}
	return f[id], nil
}

type fakeAttacher struct {
	mu       sync.Mutex
	attached []string
}

func (f *fakeAttacher) Attach(_ context.Context, h blob.ContentHandle) (service.View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = append(f.attached, h.ID)
	return service.View{Handle: h}, nil
}

func TestRunnerAttachesMissingContent(t *testing.T) {
	var contents []store.Content
	for i := range 5 {
		contents = append(contents, store.Content{ID: fmt.Sprintf("c%d", i)})
	}
	contents = append(contents,
		store.Content{ID: "huge", Length: blob.MaxBlobSize + 1},
		store.Content{ID: "broken"},
	)
	catalog := &fakeCatalog{contents: contents}
	local := fakeLocal{"c0": true, "c3": true}
	attacher := &fakeAttacher{}

	r := NewRunner(catalog, local, attacher, 2, logr.Discard())
	summary, err := r.Run(context.Background(), 2)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, Summary{Scanned: 7, Present: 2, Attached: 3, Skipped: 1, Failed: 1}, summary)
	assert.ElementsMatch(t, []string{"c1", "c2", "c4"}, attacher.attached)
	assert.Equal(t, 4, catalog.calls)
}

func TestRunnerStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(&fakeCatalog{}, fakeLocal{}, &fakeAttacher{}, 1, logr.Discard())
	_, err := r.Run(ctx, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunnerRequiresDependencies(t *testing.T) {
	r := NewRunner(nil, nil, nil, 0, logr.Discard())
	_, err := r.Run(context.Background(), 10)
	assert.Error(t, err)
}
