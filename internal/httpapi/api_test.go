package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blobxfer/internal/auth"
	"blobxfer/internal/blob"
	"blobxfer/internal/config"
	"blobxfer/internal/metrics"
	"blobxfer/internal/node"
	"blobxfer/internal/prefetch"
	"blobxfer/internal/service"
	"blobxfer/internal/storage"
	"blobxfer/internal/store"
)

const (
	adminToken  = "admin-secret"
	peerToken   = "peer-secret"
	clientToken = "client-secret"
)

// catalog implements the parts of service.Store these tests reach. Calls
// to anything else panic on the nil embedded interface.
type catalog struct {
	service.Store

	mu        sync.Mutex
	contents  map[string]store.Content
	transfers []store.Transfer
}

func (c *catalog) UpsertContent(_ context.Context, in store.Content) (store.Content, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.contents[in.ID]; ok && in.Digest == nil {
		in.Digest = prev.Digest
	}
	c.contents[in.ID] = in
	return in, nil
}

func (c *catalog) GetContent(_ context.Context, id string) (store.Content, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.contents[id]
	if !ok {
		return store.Content{}, pgx.ErrNoRows
	}
	return item, nil
}

func (c *catalog) ListContents(_ context.Context, limit, offset int) ([]store.Content, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []store.Content
	for _, item := range c.contents {
		out = append(out, item)
	}
	if offset >= len(out) {
		return nil, nil
	}
	return out[offset:min(offset+limit, len(out))], nil
}

func (c *catalog) RecordTransfer(_ context.Context, t store.Transfer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transfers = append(c.transfers, t)
	return nil
}

func (c *catalog) ListTransfers(_ context.Context, id string, limit int) ([]store.Transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []store.Transfer
	for _, t := range c.transfers {
		if t.ContentID == id && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

func (c *catalog) GetSystemConfig(context.Context, string) (json.RawMessage, error) {
	return nil, pgx.ErrNoRows
}

type tokens map[string]store.APIToken

func (t tokens) AuthenticateToken(_ context.Context, hash string) (store.APIToken, error) {
	tok, ok := t[hash]
	if !ok {
		return store.APIToken{}, pgx.ErrNoRows
	}
	return tok, nil
}

type testServer struct {
	e    http.Handler
	node *node.Node
	svc  *service.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	blobs, err := storage.NewLocalBlobStore(t.TempDir(), true)
	require.NoError(t, err)
	n := node.New(node.Config{Storage: blobs, StatsInterval: time.Millisecond})

	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)
	cat := &catalog{contents: map[string]store.Content{}}
	svc := service.New(cat, n, service.Config{MaxBlobBytes: 64, Recorders: []blob.Recorder{rec}})
	t.Cleanup(svc.Close)

	authn := auth.NewAuthenticator(tokens{
		auth.HashToken(clientToken): {Subject: "alice", Scope: store.ScopeClient},
	}, adminToken, peerToken)

	runner := prefetch.NewRunner(svc, n, svc, 2, logr.Discard())
	trigger := NewPrefetchTrigger(runner, svc, 10, logr.Discard())

	cfg := config.Config{MaxBlobBytes: 64, CORSAllowedOrigins: []string{"*"}}
	api := New(cfg, svc, n, authn, trigger, reg)
	return &testServer{e: api.NewEcho(), node: n, svc: svc}
}

func (s *testServer) do(t *testing.T, method, path, token string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method == http.MethodPost && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndMetricsAreOpen(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestScopes(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/api/v1/attached", "", http.StatusUnauthorized},
		{"client on peer route", http.MethodHead, "/api/v1/blobs/x", clientToken, http.StatusForbidden},
		{"peer on client route", http.MethodGet, "/api/v1/attached", peerToken, http.StatusForbidden},
		{"client on admin route", http.MethodGet, "/api/internal/prefetch", clientToken, http.StatusForbidden},
		{"peer on peer route", http.MethodHead, "/api/v1/blobs/x", peerToken, http.StatusNotFound},
		{"admin everywhere", http.MethodGet, "/api/v1/attached", adminToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.token, nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestPeerBlobRoundTrip(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/api/v1/blobs/c1", peerToken, strings.NewReader("pushed"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.EqualValues(t, 6, decode(t, rec)["size"])

	rec = s.do(t, http.MethodHead, "/api/v1/blobs/c1", peerToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/blobs/c1", peerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pushed", rec.Body.String())
	assert.Equal(t, "6", rec.Header().Get("Content-Length"))

	rec = s.do(t, http.MethodGet, "/api/v1/blobs/missing", peerToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/v1/blobs/big", peerToken, bytes.NewReader(make([]byte, 65)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestAttachDownloadsAndServesObject(t *testing.T) {
	s := newTestServer(t)
	_, _, err := s.node.Put(context.Background(), "img", strings.NewReader("PNGDATA"))
	require.NoError(t, err)

	rec := s.do(t, http.MethodPost, "/api/v1/contents", clientToken,
		strings.NewReader(`{"id":"img","filename":"cat.png","length":7}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "image/png", body["mimeType"])
	assert.Equal(t, "alice", body["owner"])

	var objectURL string
	require.Eventually(t, func() bool {
		rec := s.do(t, http.MethodGet, "/api/v1/contents/img", clientToken, nil)
		body := decode(t, rec)
		if body["ready"] != true {
			return false
		}
		objectURL, _ = body["objectUrl"].(string)
		return true
	}, 2*time.Second, 5*time.Millisecond)

	rec = s.do(t, http.MethodGet, objectURL, clientToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PNGDATA", rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "inline")

	rec = s.do(t, http.MethodDelete, "/api/v1/contents/img/object", clientToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["ready"])

	rec = s.do(t, http.MethodGet, objectURL, clientToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadAndTransfers(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/api/v1/contents/doc/upload?filename=report.pdf", clientToken, strings.NewReader("report"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		rec := s.do(t, http.MethodGet, "/api/v1/contents/doc", clientToken, nil)
		return decode(t, rec)["ready"] == true
	}, 2*time.Second, 5*time.Millisecond)

	has, err := s.node.Has(context.Background(), "doc")
	require.NoError(t, err)
	assert.True(t, has)

	rec = s.do(t, http.MethodGet, "/api/v1/contents/doc/catalog", clientToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unknown/attachment", decode(t, rec)["mimeType"])

	require.Eventually(t, func() bool {
		rec := s.do(t, http.MethodGet, "/api/v1/contents/doc/transfers", clientToken, nil)
		items, _ := decode(t, rec)["items"].([]any)
		return len(items) == 1
	}, 2*time.Second, 5*time.Millisecond)

	rec = s.do(t, http.MethodPut, "/api/v1/contents/huge/upload", clientToken, bytes.NewReader(make([]byte, 65)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestControlOnUnknownContent(t *testing.T) {
	s := newTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/contents/nope"},
		{http.MethodDelete, "/api/v1/contents/nope"},
		{http.MethodPost, "/api/v1/contents/nope/download"},
		{http.MethodDelete, "/api/v1/contents/nope/download"},
		{http.MethodDelete, "/api/v1/contents/nope/upload"},
		{http.MethodPost, "/api/v1/contents/nope/pause"},
		{http.MethodPost, "/api/v1/contents/nope/resume?upload=true"},
		{http.MethodGet, "/api/v1/contents/nope/events"},
	} {
		rec := s.do(t, tc.method, tc.path, clientToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", tc.method, tc.path)
	}

	rec := s.do(t, http.MethodPost, "/api/v1/contents", clientToken, strings.NewReader(`{"id":""}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPrefetchTrigger(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/internal/prefetch", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		rec := s.do(t, http.MethodGet, "/api/internal/prefetch", adminToken, nil)
		body := decode(t, rec)
		return body["running"] == false && body["lastResult"] != nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPauseWithoutTransferConflicts(t *testing.T) {
	s := newTestServer(t)
	_, _, err := s.node.Put(context.Background(), "img", strings.NewReader("PNGDATA"))
	require.NoError(t, err)

	rec := s.do(t, http.MethodPost, "/api/v1/contents", clientToken, strings.NewReader(`{"id":"img","length":7}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Eventually(t, func() bool {
		rec := s.do(t, http.MethodGet, "/api/v1/contents/img", clientToken, nil)
		return decode(t, rec)["ready"] == true
	}, 2*time.Second, 5*time.Millisecond)

	rec = s.do(t, http.MethodPost, "/api/v1/contents/img/pause", clientToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/v1/contents/img/resume?upload=true", clientToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWatchStreamsViews(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.e)
	t.Cleanup(srv.Close)

	rec := s.do(t, http.MethodPut, "/api/v1/contents/doc/upload?filename=notes.txt", clientToken, strings.NewReader("notes"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/contents/doc/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+clientToken)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	var events int
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: view" {
			events++
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var view map[string]any
		require.NoError(t, json.Unmarshal([]byte(data), &view))
		assert.Equal(t, "doc", view["id"])
		if view["ready"] == true {
			assert.Equal(t, "Done", view["throughput"])
			assert.GreaterOrEqual(t, events, 1)
			return
		}
	}
	t.Fatalf("stream ended without a ready view: %v", scanner.Err())
}
