package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validSSLModes are the sslmode values accepted by libpq/pgx.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate performs fail-fast validation of the whole configuration.
// Returns a sentinel-wrapped error for the first problem found.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if err := c.validateAI(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateRetrieval(); err != nil {
		return err
	}
	return c.validatePostgres()
}

// ValidateServe performs the additional checks required before starting
// the HTTP server: the gateway API key must be present because both
// ingestion and chat hit external endpoints.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.AIAPIKey) == "" {
		return fmt.Errorf("%w: set HALEHUB_AI_API_KEY", ErrMissingAPIKey)
	}
	return nil
}

func (c *Config) validateAI() error {
	if _, err := url.ParseRequestURI(c.AIBaseURL); err != nil {
		return fmt.Errorf("%w: ai_base_url %q", ErrInvalidBaseURL, c.AIBaseURL)
	}
	if _, err := url.ParseRequestURI(c.StorageBaseURL); err != nil {
		return fmt.Errorf("%w: storage_base_url %q", ErrInvalidBaseURL, c.StorageBaseURL)
	}
	if strings.TrimSpace(c.ChatModel) == "" {
		return fmt.Errorf("%w: chat_model is empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder_model is empty", ErrInvalidModelName)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	// pgvector caps indexed vectors at 2000 dimensions for ivfflat.
	if c.EmbeddingDimensions < 1 || c.EmbeddingDimensions > 2000 {
		return fmt.Errorf("%w: %d (must be 1-2000)", ErrInvalidDimensions, c.EmbeddingDimensions)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must be in [0, chunk_size)", ErrInvalidChunking, c.ChunkOverlap)
	}
	if c.MinContentLength < 0 {
		return fmt.Errorf("%w: min_content_length %d", ErrInvalidChunking, c.MinContentLength)
	}
	if c.EmbedCallDelay < 0 || c.EmbedRetryBackoff < 0 {
		return fmt.Errorf("%w: embed delays must be non-negative", ErrInvalidChunking)
	}
	if c.EmbedMaxRetries < 0 {
		return fmt.Errorf("%w: embed_max_retries %d", ErrInvalidChunking, c.EmbedMaxRetries)
	}
	return nil
}

func (c *Config) validateRetrieval() error {
	if c.RetrievalMatchCount < 1 || c.RetrievalMatchCount > 100 {
		return fmt.Errorf("%w: retrieval_match_count %d (must be 1-100)", ErrInvalidRetrieval, c.RetrievalMatchCount)
	}
	if c.RetrievalThreshold < 0 || c.RetrievalThreshold > 1 {
		return fmt.Errorf("%w: retrieval_threshold %v (must be 0-1)", ErrInvalidRetrieval, c.RetrievalThreshold)
	}
	if c.FallbackDocLimit < 1 {
		return fmt.Errorf("%w: fallback_doc_limit %d", ErrInvalidRetrieval, c.FallbackDocLimit)
	}
	if c.FallbackPreviewChars < 1 {
		return fmt.Errorf("%w: fallback_preview_chars %d", ErrInvalidRetrieval, c.FallbackPreviewChars)
	}
	return nil
}

func (c *Config) validatePostgres() error {
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}
	return nil
}
