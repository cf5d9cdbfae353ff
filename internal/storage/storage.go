// Package storage downloads uploaded files from the portal's object
// storage gateway.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrObjectNotFound indicates the storage gateway has no object at the
// requested path.
var ErrObjectNotFound = errors.New("object not found")

// DefaultTimeout bounds a single object download.
const DefaultTimeout = 2 * time.Minute

// Config configures the storage client.
type Config struct {
	BaseURL string        // e.g. https://storage.halehub.dev/v1/objects
	APIKey  string        // bearer token; empty for unauthenticated gateways
	Timeout time.Duration // per-download timeout (0 = DefaultTimeout)
}

// Client fetches objects over HTTP. Safe for concurrent use.
type Client struct {
	cfg    Config
	httpc  *http.Client
	logger *slog.Logger
}

// New creates a storage client. logger may be nil.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("storage: base URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

// Download fetches the object stored at path and returns its raw bytes.
// path is the storage_path recorded on the document row; each segment is
// escaped individually so slashes keep their meaning.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	objectURL := c.cfg.BaseURL + "/" + escapePath(path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, objectURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building download request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %q: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%q: %w", path, ErrObjectNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("storage gateway returned %s for %q", resp.Status, path)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object %q: %w", path, err)
	}

	c.logger.Debug("downloaded object", "path", path, "bytes", len(data))
	return data, nil
}

func escapePath(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
