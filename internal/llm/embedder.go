package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// embedRequest is the OpenAI-compatible embeddings request body.
// Dimensions asks the model to truncate its output (Matryoshka-style) to
// the stored vector size.
type embedRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed turns text into an embedding vector of exactly cfg.Dimensions
// floats. Used both for document chunks and for live query strings.
//
// A 429 from the gateway is retried with a fixed backoff (cfg.RetryBackoff)
// up to cfg.MaxRetries times — rate limits during a long ingestion batch
// are expected and must not fail the whole document. Any other non-2xx
// response is fatal for this input; the caller decides whether to abort
// or skip.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(embedRequest{
		Model:      c.cfg.EmbedderModel,
		Input:      text,
		Dimensions: c.cfg.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling embed request: %w", err)
	}

	url := c.cfg.BaseURL + "/embeddings"

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("building embed request: %w", err)
		}
		c.authorize(req)

		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("calling embeddings endpoint: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			err := statusError(resp) // drains and classifies
			_ = resp.Body.Close()
			if attempt >= c.cfg.MaxRetries {
				return nil, fmt.Errorf("embed retries exhausted after %d attempts: %w", attempt+1, err)
			}
			c.logger.Debug("embedding rate limited, backing off",
				"attempt", attempt+1,
				"backoff", c.cfg.RetryBackoff,
			)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("context canceled during embed backoff: %w", ctx.Err())
			case <-time.After(c.cfg.RetryBackoff):
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := statusError(resp)
			_ = resp.Body.Close()
			return nil, err
		}

		var out embedResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&out)
		_ = resp.Body.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("decoding embed response: %w", decodeErr)
		}

		if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
			return nil, fmt.Errorf("embeddings endpoint returned no embedding")
		}

		vec := out.Data[0].Embedding
		// Mismatched dimensionality makes similarity search meaningless;
		// reject here so a bad vector never reaches the store.
		if c.cfg.Dimensions > 0 && len(vec) != c.cfg.Dimensions {
			return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(vec), c.cfg.Dimensions)
		}

		return vec, nil
	}
}
