// Package peer is the HTTP client one node uses to fetch blobs from, and
// push blobs to, the other nodes it is configured with.
package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-retryablehttp"
)

// ErrNotFound is returned when the peer does not hold the blob.
var ErrNotFound = errors.New("peer does not have the blob")

type Config struct {
	URL   string
	Token string

	// Timeout bounds each HTTP round trip; zero means none.
	Timeout  time.Duration
	RetryMax int
	Logger   logr.Logger
}

// Client talks to one peer's /api/v1/blobs endpoints.
type Client struct {
	baseURL *url.URL
	token   string
	http    *retryablehttp.Client
	logger  logr.Logger
}

func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("invalid peer url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid peer url %q: scheme must be http or https", cfg.URL)
	}
	u.Path = path.Join(u.Path, "api/v1/blobs") + "/"

	logger := cfg.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	logger = logger.WithValues("peer", u.Host)

	c := &Client{baseURL: u, token: cfg.Token, logger: logger}
	c.http = &retryablehttp.Client{
		Backoff:      retryablehttp.DefaultBackoff,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
		HTTPClient:   &http.Client{Timeout: cfg.Timeout},
		RetryWaitMin: 200 * time.Millisecond,
		RetryWaitMax: 5 * time.Second,
		RetryMax:     cfg.RetryMax,
	}
	c.http.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		retry, retryErr := retryablehttp.ErrorPropagatedRetryPolicy(ctx, resp, err)
		if retry {
			if retryErr != nil {
				err = retryErr
			}
			if resp != nil {
				c.logger.Error(err, "retrying peer request", "status", resp.StatusCode)
			} else {
				c.logger.Error(err, "retrying peer request")
			}
		}
		return retry, retryErr
	}
	return c, nil
}

// URL returns the peer's base URL.
func (c *Client) URL() string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/api/v1/blobs/")
	return u.String()
}

func (c *Client) blobURL(id string) string {
	return c.baseURL.String() + url.PathEscape(id)
}

func (c *Client) newRequest(ctx context.Context, method, id string, body any) (*retryablehttp.Request, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.blobURL(id), body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, req *retryablehttp.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		// the context's error is more useful than a wrapped transport error
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			return nil, err
		}
	}
	return resp, nil
}

// Fetch opens the peer's copy of the blob. size is -1 when the peer does
// not announce a length.
func (c *Client) Fetch(ctx context.Context, id string) (io.ReadCloser, int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, id, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	if err := checkResponse(resp); err != nil {
		resp.Body.Close()
		return nil, 0, err
	}
	return resp.Body, resp.ContentLength, nil
}

func (c *Client) Has(ctx context.Context, id string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodHead, id, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	err = checkResponse(resp)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Push uploads the blob to the peer. open is called once per attempt so
// retries resend the whole body.
func (c *Client) Push(ctx context.Context, id string, size int64, open func() (io.ReadCloser, error)) error {
	var opened []io.Closer
	defer func() {
		for _, rc := range opened {
			_ = rc.Close()
		}
	}()

	body := retryablehttp.ReaderFunc(func() (io.Reader, error) {
		rc, err := open()
		if err != nil {
			return nil, err
		}
		opened = append(opened, rc)
		return rc, nil
	})

	req, err := c.newRequest(ctx, http.MethodPut, id, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if size >= 0 {
		req.ContentLength = size
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkResponse(resp)
}

func checkResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("peer responded %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
}
