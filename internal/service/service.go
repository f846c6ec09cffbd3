package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"blobxfer/internal/blob"
	"blobxfer/internal/store"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// Store is the catalog the service persists to.
type Store interface {
	UpsertContent(ctx context.Context, c store.Content) (store.Content, error)
	GetContent(ctx context.Context, id string) (store.Content, error)
	ListContents(ctx context.Context, limit, offset int) ([]store.Content, error)
	RecordTransfer(ctx context.Context, t store.Transfer) error
	ListTransfers(ctx context.Context, contentID string, limit int) ([]store.Transfer, error)
	GetSystemConfig(ctx context.Context, key string) (json.RawMessage, error)
	UpsertSystemConfig(ctx context.Context, key string, config json.RawMessage) error
	CreateToken(ctx context.Context, subject, name, scope, tokenHash string) (uuid.UUID, error)
	ListTokens(ctx context.Context) ([]store.APIToken, error)
	RevokeToken(ctx context.Context, id uuid.UUID) error
}

var _ Store = (*store.Store)(nil)

type Config struct {
	// MaxBlobBytes is the largest content Send accepts. Zero means
	// blob.MaxBlobSize.
	MaxBlobBytes int64
	// NoAutoDownload stops Attach from starting a download.
	NoAutoDownload bool
	Logger         logr.Logger
	Recorders      []blob.Recorder
}

// Service owns one blob.Controller per attached content id.
type Service struct {
	store   Store
	net     blob.Network
	objects *blob.ObjectTable
	logger  logr.Logger

	maxBlobBytes int64
	autoDownload bool
	ctrlOpts     []blob.Option

	mu          sync.Mutex
	controllers map[string]*blob.Controller
}

func New(st Store, net blob.Network, cfg Config) *Service {
	logger := cfg.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	maxBytes := cfg.MaxBlobBytes
	if maxBytes <= 0 {
		maxBytes = blob.MaxBlobSize
	}

	svc := &Service{
		store:        st,
		net:          net,
		objects:      blob.NewObjectTable(),
		logger:       logger.WithValues("component", "service"),
		maxBlobBytes: maxBytes,
		autoDownload: !cfg.NoAutoDownload,
		controllers:  make(map[string]*blob.Controller),
	}
	svc.ctrlOpts = append(svc.ctrlOpts,
		blob.WithLogger(logger.WithValues("component", "controller")),
		blob.WithRecorder(NewTransferLog(st, logger)),
	)
	for _, r := range cfg.Recorders {
		svc.ctrlOpts = append(svc.ctrlOpts, blob.WithRecorder(r))
	}
	return svc
}

// View is a snapshot of one controller.
type View struct {
	Handle       blob.ContentHandle
	Metadata     blob.Metadata
	Ready        bool
	ObjectID     string
	Downloading  bool
	Uploading    bool
	Syncing      bool
	Stats        blob.Stats
	Throughput   string
	DownloadErr  string
	UploadErr    string
	SyncErr      string
	LastDownload blob.Outcome
	LastUpload   blob.Outcome
}

func viewOf(c *blob.Controller) View {
	v := View{
		Handle:       c.Handle(),
		Metadata:     c.Metadata(),
		Downloading:  c.IsDownloading(),
		Uploading:    c.IsUploading(),
		Syncing:      c.IsSyncing(),
		Stats:        c.Stats(),
		Throughput:   c.Throughput(),
		DownloadErr:  errString(c.DownloadErr()),
		UploadErr:    errString(c.UploadErr()),
		SyncErr:      errString(c.SyncErr()),
		LastDownload: c.LastOutcome(blob.DirectionDownload),
		LastUpload:   c.LastOutcome(blob.DirectionUpload),
	}
	if obj := c.Object(); obj != nil {
		v.Ready = true
		v.ObjectID = obj.ID
	}
	return v
}

// Attach registers h in the catalog and returns its controller view. A new
// controller starts downloading right away, with peer fallback, unless the
// content is too large.
func (s *Service) Attach(ctx context.Context, h blob.ContentHandle) (View, error) {
	h.ID = strings.TrimSpace(h.ID)
	if h.ID == "" {
		return View{}, fmt.Errorf("%w: content id required", ErrInvalidInput)
	}
	if h.Length < 0 {
		return View{}, fmt.Errorf("%w: negative length", ErrInvalidInput)
	}

	if _, err := s.store.UpsertContent(ctx, store.Content{
		ID:       h.ID,
		Filename: h.Filename,
		Length:   h.Length,
		Owner:    h.Owner,
		MimeType: blob.Classify(h).MimeType,
	}); err != nil {
		return View{}, fmt.Errorf("catalog content: %w", err)
	}

	c, created := s.controllerFor(h)
	if created && s.autoDownload {
		if c.TooLarge() {
			s.logger.Info("not downloading content above size limit", "content", h.ID, "length", h.Length)
		} else {
			c.Download(true)
		}
	}
	return viewOf(c), nil
}

// Detach closes the controller of id and releases its object.
func (s *Service) Detach(id string) error {
	s.mu.Lock()
	c, ok := s.controllers[id]
	delete(s.controllers, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: content %q is not attached", ErrNotFound, id)
	}
	c.Close()
	return nil
}

func (s *Service) Status(id string) (View, error) {
	c, err := s.controller(id)
	if err != nil {
		return View{}, err
	}
	return viewOf(c), nil
}

// List returns the views of every attached content.
func (s *Service) List() []View {
	s.mu.Lock()
	ctrls := make([]*blob.Controller, 0, len(s.controllers))
	for _, c := range s.controllers {
		ctrls = append(ctrls, c)
	}
	s.mu.Unlock()

	out := make([]View, 0, len(ctrls))
	for _, c := range ctrls {
		out = append(out, viewOf(c))
	}
	return out
}

func (s *Service) Download(id string, fallback bool) (View, error) {
	c, err := s.controller(id)
	if err != nil {
		return View{}, err
	}
	c.Download(fallback)
	return viewOf(c), nil
}

func (s *Service) CancelDownload(id string) (View, error) {
	c, err := s.controller(id)
	if err != nil {
		return View{}, err
	}
	c.CancelDownload()
	return viewOf(c), nil
}

func (s *Service) CancelUpload(id string) (View, error) {
	c, err := s.controller(id)
	if err != nil {
		return View{}, err
	}
	c.CancelUpload()
	return viewOf(c), nil
}

// Pause holds the running transfer of id in the given direction.
func (s *Service) Pause(id string, dir blob.Direction) (View, error) {
	return s.setPaused(id, dir, true)
}

// Resume continues a transfer held by Pause.
func (s *Service) Resume(id string, dir blob.Direction) (View, error) {
	return s.setPaused(id, dir, false)
}

func (s *Service) setPaused(id string, dir blob.Direction, paused bool) (View, error) {
	c, err := s.controller(id)
	if err != nil {
		return View{}, err
	}
	var ok bool
	if paused {
		ok = c.Pause(dir)
	} else {
		ok = c.Resume(dir)
	}
	if !ok {
		return View{}, fmt.Errorf("%w: no %s in progress for content %q", ErrConflict, dir, id)
	}
	return viewOf(c), nil
}

// Purge releases the exposed object of id but keeps the controller.
func (s *Service) Purge(id string) (View, error) {
	c, err := s.controller(id)
	if err != nil {
		return View{}, err
	}
	c.Purge()
	return viewOf(c), nil
}

// Subscribe calls fn after each state change of id's controller.
func (s *Service) Subscribe(id string, fn func(View)) (func(), error) {
	c, err := s.controller(id)
	if err != nil {
		return nil, err
	}
	return c.OnUpdate(func() { fn(viewOf(c)) }), nil
}

// Object looks up an exposed object by its id.
func (s *Service) Object(objectID string) (*blob.Object, error) {
	obj, ok := s.objects.Lookup(objectID)
	if !ok {
		return nil, fmt.Errorf("%w: object %q", ErrNotFound, objectID)
	}
	return obj, nil
}

func (s *Service) GetContent(ctx context.Context, id string) (store.Content, error) {
	c, err := s.store.GetContent(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Content{}, fmt.Errorf("%w: content %q", ErrNotFound, id)
		}
		return store.Content{}, err
	}
	return c, nil
}

func (s *Service) ListContents(ctx context.Context, limit, offset int) ([]store.Content, error) {
	return s.store.ListContents(ctx, limit, offset)
}

func (s *Service) Transfers(ctx context.Context, id string, limit int) ([]store.Transfer, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListTransfers(ctx, id, limit)
}

// Close closes every controller.
func (s *Service) Close() {
	s.mu.Lock()
	ctrls := s.controllers
	s.controllers = make(map[string]*blob.Controller)
	s.mu.Unlock()

	for _, c := range ctrls {
		c.Close()
	}
}

func (s *Service) controller(id string) (*blob.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.controllers[id]
	if !ok {
		return nil, fmt.Errorf("%w: content %q is not attached", ErrNotFound, id)
	}
	return c, nil
}

func (s *Service) controllerFor(h blob.ContentHandle) (*blob.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.controllers[h.ID]; ok {
		return c, false
	}
	c := blob.NewController(h, s.net, s.objects, s.ctrlOpts...)
	s.controllers[h.ID] = c
	return c, true
}

func errString(err error) string {
	if err == nil || errors.Is(err, blob.ErrCancelled) {
		return ""
	}
	return err.Error()
}
