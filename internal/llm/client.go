// Package llm is the HTTP client for the portal's AI gateway, which
// exposes OpenAI-compatible /embeddings and /chat/completions endpoints.
//
// The gateway's HTTP status semantics are part of this pipeline's
// contract: 429 (rate limit) and 402 (credits exhausted) must stay
// distinguishable from generic upstream failures, and the completion
// stream must be relayed to callers without re-framing. That is why this
// package talks raw HTTP instead of going through an SDK abstraction.
package llm

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrRateLimited indicates the gateway returned 429. Recoverable by
	// waiting; the embedder retries it internally, the chat path surfaces
	// it as a distinct user-actionable error.
	ErrRateLimited = errors.New("ai gateway rate limited")

	// ErrQuotaExhausted indicates the gateway returned 402: the
	// workspace's AI credits are spent. Retrying will not help.
	ErrQuotaExhausted = errors.New("ai gateway credits exhausted")
)

// Config configures the gateway client.
type Config struct {
	BaseURL       string        // e.g. https://ai-gateway.halehub.dev/v1
	APIKey        string        // bearer token
	ChatModel     string        // chat-completion model identifier
	EmbedderModel string        // embedding model identifier
	Dimensions    int           // requested and required embedding dimensionality
	RetryBackoff  time.Duration // fixed wait after a 429 on /embeddings
	MaxRetries    int           // bounded retries for rate-limited embeds
	Timeout       time.Duration // per-request timeout (0 = DefaultTimeout); streaming requests are exempt
}

// DefaultTimeout bounds non-streaming gateway calls.
const DefaultTimeout = 30 * time.Second

// Client calls the AI gateway. Safe for concurrent use.
type Client struct {
	cfg Config

	// Separate HTTP clients: embedding calls get a hard timeout, the
	// chat stream must stay open for as long as the model talks.
	httpc   *http.Client
	streamc *http.Client

	logger *slog.Logger
}

// New creates a gateway client. logger may be nil (defaults to slog.Default).
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("llm: base URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: timeout},
		streamc: &http.Client{}, // no timeout; canceled via request context
		logger:  logger,
	}, nil
}

// authorize sets the content-type and bearer auth headers on a gateway request.
func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

// statusError converts a non-2xx gateway response into an error carrying
// a bounded snippet of the body for diagnostics. 429 and 402 map to
// their sentinel errors so callers can branch with errors.Is.
func statusError(resp *http.Response) error {
	const maxSnippet = 512
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxSnippet))
	snippet := strings.TrimSpace(string(body))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, snippet)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", ErrQuotaExhausted, snippet)
	default:
		return fmt.Errorf("ai gateway returned %s: %s", resp.Status, snippet)
	}
}
