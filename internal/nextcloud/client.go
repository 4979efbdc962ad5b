// Package nextcloud is a WebDAV client for Nextcloud Collectives. It is
// the content-sink collaborator: the pipeline hands it relative paths
// and raw bytes, and it addresses the remote system.
package nextcloud

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Sentinel errors checked with errors.Is by callers.
var (
	// ErrAuth indicates rejected credentials.
	ErrAuth = errors.New("nextcloud authentication failed")

	// ErrCollectiveNotFound indicates the configured collective does
	// not exist under the WebDAV root.
	ErrCollectiveNotFound = errors.New("collective not found")
)

const (
	maxRetries     = 5
	initialBackoff = time.Second
	maxBackoff     = 32 * time.Second
)

// Client uploads files into one collective over WebDAV.
type Client struct {
	davBase    string
	collective string
	username   string
	password   string
	httpClient *http.Client
	logger     *slog.Logger

	retryInterval time.Duration
}

// New creates a client rooted at the collective's WebDAV directory.
func New(baseURL, username, password, collective string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(baseURL, "/")
	return &Client{
		davBase:       fmt.Sprintf("%s/remote.php/dav/files/%s/Collectives/%s", base, username, collective),
		collective:    collective,
		username:      username,
		password:      password,
		httpClient:    &http.Client{Timeout: 5 * time.Minute},
		logger:        logger,
		retryInterval: initialBackoff,
	}
}

// do performs one WebDAV request with backoff on 429/5xx. The response
// body is always closed; only the status code is returned.
func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, headers map[string]string) (int, error) {
	operation := func() (int, error) {
		var reader *bytes.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		} else {
			reader = bytes.NewReader(nil)
		}

		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return 0, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.SetBasicAuth(c.username, c.password)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, fmt.Errorf("%s %s: %w", method, rawURL, err)
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			c.logger.Warn("nextcloud request will be retried", "status", resp.StatusCode, "method", method, "url", rawURL)
			return 0, fmt.Errorf("%s %s: HTTP %d", method, rawURL, resp.StatusCode)
		}
		return resp.StatusCode, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	bo.MaxInterval = maxBackoff
	return backoff.RetryWithData(operation, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
}

// pathURL joins a relative remote path onto the collective root,
// escaping each segment.
func (c *Client) pathURL(remotePath string) string {
	parts := strings.Split(strings.Trim(remotePath, "/"), "/")
	escaped := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		escaped = append(escaped, url.PathEscape(p))
	}
	if len(escaped) == 0 {
		return c.davBase
	}
	return c.davBase + "/" + strings.Join(escaped, "/")
}

// VerifyConnection checks that the collective is reachable and the
// credentials are accepted.
func (c *Client) VerifyConnection(ctx context.Context) error {
	status, err := c.do(ctx, "PROPFIND", c.davBase, nil, map[string]string{"Depth": "0"})
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusUnauthorized:
		return ErrAuth
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %q at %s", ErrCollectiveNotFound, c.collective, c.davBase)
	case status != http.StatusOK && status != http.StatusMultiStatus:
		return fmt.Errorf("PROPFIND %s: HTTP %d", c.davBase, status)
	}
	c.logger.Info("connected to nextcloud collective", "collective", c.collective)
	return nil
}

// MkdirAll creates the remote directory and its parents via MKCOL.
// 405 means the directory already exists and is not an error.
func (c *Client) MkdirAll(ctx context.Context, remotePath string) error {
	current := ""
	for _, part := range strings.Split(strings.Trim(remotePath, "/"), "/") {
		if part == "" {
			continue
		}
		if current == "" {
			current = part
		} else {
			current = current + "/" + part
		}

		status, err := c.do(ctx, "MKCOL", c.pathURL(current), nil, nil)
		if err != nil {
			return fmt.Errorf("mkdir %s: %w", current, err)
		}
		switch status {
		case http.StatusCreated, http.StatusMethodNotAllowed:
			// created, or already exists
		case http.StatusUnauthorized:
			return fmt.Errorf("mkdir %s: %w", current, ErrAuth)
		default:
			c.logger.Warn("unexpected MKCOL status", "path", current, "status", status)
		}
	}
	return nil
}

// Upload places raw bytes at the remote path via PUT.
func (c *Client) Upload(ctx context.Context, remotePath string, data []byte) error {
	status, err := c.do(ctx, http.MethodPut, c.pathURL(remotePath), data, nil)
	if err != nil {
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}
	switch status {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		c.logger.Debug("uploaded", "path", remotePath)
		return nil
	case http.StatusUnauthorized:
		return fmt.Errorf("upload %s: %w", remotePath, ErrAuth)
	default:
		return fmt.Errorf("upload %s: HTTP %d", remotePath, status)
	}
}

// Exists reports whether a remote path is present.
func (c *Client) Exists(ctx context.Context, remotePath string) (bool, error) {
	status, err := c.do(ctx, "PROPFIND", c.pathURL(remotePath), nil, map[string]string{"Depth": "0"})
	if err != nil {
		return false, err
	}
	return status == http.StatusOK || status == http.StatusMultiStatus, nil
}
