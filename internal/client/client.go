// Package client is the upstream danmu API boundary: resolution
// endpoints (match by URL, match by file name, episode search) and the
// comment fetch endpoint. Every failure is classified transient or
// permanent for the runner's retry policy.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	errpkg "danmuget/internal/errors"
	"danmuget/internal/metrics"
)

const userAgent = "danmuget/1.0"

// Client talks to one danmu API root. It is safe for concurrent use.
type Client struct {
	apiRoot    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds a client for the given base URL. An optional token is
// appended to the root path as its own segment, the way the upstream
// service expects it. Request deadlines are the caller's business: pass
// a context with a timeout per attempt.
func New(baseURL, token string, logger *slog.Logger) (*Client, error) {
	root, err := normalizeAPIRoot(baseURL, token)
	if err != nil {
		return nil, err
	}
	return &Client{
		apiRoot:    root,
		httpClient: &http.Client{},
		logger:     logger,
	}, nil
}

// APIRoot returns the normalized root, token included.
func (c *Client) APIRoot() string { return c.apiRoot }

func normalizeAPIRoot(baseURL, token string) (string, error) {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		return "", fmt.Errorf("base URL cannot be empty")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid base URL: %s", baseURL)
	}

	path := strings.TrimRight(u.Path, "/")
	if token != "" {
		path = path + "/" + url.PathEscape(token)
	}
	u.Path = path
	u.RawQuery = ""
	u.Fragment = ""

	return strings.TrimRight(u.String(), "/"), nil
}

// doJSON performs one request and decodes a JSON response body into
// out. HTTP and transport failures come back classified.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	data, _, err := c.do(ctx, method, path, query, body, "application/json")
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errpkg.Permanent(fmt.Errorf("invalid JSON response: %w", err))
	}
	return nil
}

// do performs one request attempt and returns the raw body plus the
// response headers. The response Content-Type is not checked here; the
// fetcher has its own contract for that.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, accept string) ([]byte, http.Header, error) {
	target := c.apiRoot + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, nil, errpkg.Permanent(fmt.Errorf("encode request body: %w", err))
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, payload)
	if err != nil {
		return nil, nil, errpkg.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	metrics.HTTPRequests.Inc()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Connection failures and deadline hits are worth retrying.
		return nil, nil, errpkg.Transient(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, errpkg.Transient(fmt.Errorf("read response body: %w", err))
	}

	if resp.StatusCode >= 400 {
		httpErr := fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(data), 200))
		if isRetryableStatus(resp.StatusCode) {
			return nil, nil, errpkg.Transient(httpErr)
		}
		return nil, nil, errpkg.Permanent(httpErr)
	}

	c.logger.Debug("upstream request", "method", method, "path", path, "status", resp.StatusCode)
	return data, resp.Header, nil
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return status >= 500 && status <= 599
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
