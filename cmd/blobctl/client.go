package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-retryablehttp"
)

type clientConfig struct {
	address  string
	token    string
	retryMax int
	logger   logr.Logger
}

// client calls a node's control API.
type client struct {
	base  *url.URL
	token string
	http  *retryablehttp.Client
}

func (cfg *clientConfig) newClient() (*client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.address), "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid address %q: scheme and host required", cfg.address)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.retryMax
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	logger := cfg.logger
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.V(1).Info("retrying request", "method", req.Method, "url", req.URL.String(), "attempt", attempt)
		}
	}
	return &client{base: u, token: cfg.token, http: rc}, nil
}

func (c *client) newRequest(ctx context.Context, method, path string, body any) (*retryablehttp.Request, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// doJSON sends in as JSON, when non-nil, and decodes the response into a map.
func (c *client) doJSON(ctx context.Context, method, path string, in any) (map[string]any, error) {
	var body any
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = raw
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.decode(req)
}

// upload sends raw bytes as the request body.
func (c *client) upload(ctx context.Context, path string, data []byte) (map[string]any, error) {
	req, err := c.newRequest(ctx, http.MethodPut, path, data)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	return c.decode(req)
}

// stream returns the body of a GET; the caller closes it.
func (c *client) stream(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func (c *client) decode(req *retryablehttp.Request) (map[string]any, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return fmt.Errorf("%s: %s", resp.Status, body.Message)
		}
		if body.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, body.Error)
		}
	}
	return fmt.Errorf("%s", resp.Status)
}

func contentPath(id string, parts ...string) string {
	p := "/api/v1/contents/" + url.PathEscape(id)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}
