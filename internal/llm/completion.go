package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Message is one conversation turn sent to the chat-completion endpoint.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation roles accepted by the gateway.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// StreamChat issues a streaming chat-completion request and returns the
// raw response body: a server-sent-event stream of incremental content
// deltas terminated by a [DONE] sentinel. The caller owns the stream —
// it must close it, and it is responsible for parsing the token-delta
// framing (the HTTP layer relays it byte-for-byte to the browser).
//
// Errors before the stream opens are classified: ErrRateLimited for 429,
// ErrQuotaExhausted for 402, a generic error otherwise. Canceling ctx
// aborts the stream and releases the connection.
func (c *Client) StreamChat(ctx context.Context, messages []Message) (io.ReadCloser, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    c.cfg.ChatModel,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling chat request: %w", err)
	}

	url := c.cfg.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling chat completions endpoint: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := statusError(resp)
		_ = resp.Body.Close()
		return nil, err
	}

	c.logger.Debug("chat completion stream opened", "model", c.cfg.ChatModel, "messages", len(messages))
	return resp.Body, nil
}
