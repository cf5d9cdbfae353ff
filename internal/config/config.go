// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.halehub/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: gateway base URL, chat model, embedder model and dimensionality
//   - Storage: PostgreSQL connection (see storage.go) and the object
//     storage gateway used to download raw document files
//   - Ingestion: chunk size/overlap, content threshold, pacing and backoff
//   - Retrieval: similarity match count and threshold, fallback bounds
//
// The ingestion and retrieval numbers are deliberately configuration, not
// constants: they encode external-provider rate limits and unproven
// similarity cutoffs, both of which get tuned per deployment.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidDimensions indicates the embedding dimensionality is out of range.
	ErrInvalidDimensions = errors.New("invalid embedding dimensions")

	// ErrInvalidChunking indicates chunk size/overlap values are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidRetrieval indicates retrieval tuning values are out of range.
	ErrInvalidRetrieval = errors.New("invalid retrieval parameters")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidBaseURL indicates an upstream base URL is malformed.
	ErrInvalidBaseURL = errors.New("invalid base URL")
)

const (
	// DefaultChatModel is the default chat-completion model served by the
	// AI gateway.
	DefaultChatModel = "google/gemini-2.5-flash"

	// DefaultEmbedderModel is the default embedding model. It supports
	// truncation to 768 dimensions via the request's dimensions field,
	// matching the vector(768) column in db/migrations.
	DefaultEmbedderModel = "google/gemini-embedding-001"

	// DefaultEmbeddingDimensions is the stored vector dimensionality.
	// Must match the pgvector column; see db/migrations.
	DefaultEmbeddingDimensions = 768
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys), update MarshalJSON.
type Config struct {
	// AI gateway configuration
	AIBaseURL     string `mapstructure:"ai_base_url" json:"ai_base_url"`
	AIAPIKey      string `mapstructure:"ai_api_key" json:"ai_api_key"` // SENSITIVE: masked in MarshalJSON
	ChatModel     string `mapstructure:"chat_model" json:"chat_model"`
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Embedding pipeline tuning
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions" json:"embedding_dimensions"`
	ChunkSize           int           `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap        int           `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	MinContentLength    int           `mapstructure:"min_content_length" json:"min_content_length"`
	EmbedCallDelay      time.Duration `mapstructure:"embed_call_delay" json:"embed_call_delay"`
	EmbedRetryBackoff   time.Duration `mapstructure:"embed_retry_backoff" json:"embed_retry_backoff"`
	EmbedMaxRetries     int           `mapstructure:"embed_max_retries" json:"embed_max_retries"`

	// Retrieval tuning
	RetrievalMatchCount  int     `mapstructure:"retrieval_match_count" json:"retrieval_match_count"`
	RetrievalThreshold   float64 `mapstructure:"retrieval_threshold" json:"retrieval_threshold"`
	FallbackDocLimit     int     `mapstructure:"fallback_doc_limit" json:"fallback_doc_limit"`
	FallbackPreviewChars int     `mapstructure:"fallback_preview_chars" json:"fallback_preview_chars"`

	// Object storage gateway (raw uploaded files)
	StorageBaseURL string `mapstructure:"storage_base_url" json:"storage_base_url"`
	StorageAPIKey  string `mapstructure:"storage_api_key" json:"storage_api_key"` // SENSITIVE: masked in MarshalJSON

	// PostgreSQL configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HTTP server configuration (serve mode)
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	// Configuration directory: ~/.halehub/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".halehub")

	// Ensure directory exists (use 0750 permission for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI gateway defaults
	viper.SetDefault("ai_base_url", "https://ai-gateway.halehub.dev/v1")
	viper.SetDefault("chat_model", DefaultChatModel)
	viper.SetDefault("embedder_model", DefaultEmbedderModel)

	// Embedding pipeline defaults
	viper.SetDefault("embedding_dimensions", DefaultEmbeddingDimensions)
	viper.SetDefault("chunk_size", 500)
	viper.SetDefault("chunk_overlap", 50)
	viper.SetDefault("min_content_length", 10)
	viper.SetDefault("embed_call_delay", 100*time.Millisecond)
	viper.SetDefault("embed_retry_backoff", 2*time.Second)
	viper.SetDefault("embed_max_retries", 5)

	// Retrieval defaults. The 0.3 threshold and count of 10 mirror what
	// the portal shipped with; neither has a documented derivation, so
	// both stay tunable.
	viper.SetDefault("retrieval_match_count", 10)
	viper.SetDefault("retrieval_threshold", 0.3)
	viper.SetDefault("fallback_doc_limit", 5)
	viper.SetDefault("fallback_preview_chars", 2000)

	// Object storage defaults
	viper.SetDefault("storage_base_url", "http://localhost:9000/storage/v1/object")

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "halehub")
	viper.SetDefault("postgres_password", "halehub_dev_password")
	viper.SetDefault("postgres_db_name", "halehub")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// HTTP server defaults
	viper.SetDefault("listen_addr", "127.0.0.1:8780")
	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 60)
}

// bindEnvVariables binds environment variables explicitly.
// Secrets only come from the environment, never from the config file
// checked into a home directory backup.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("ai_api_key", "HALEHUB_AI_API_KEY")
	mustBind("storage_api_key", "HALEHUB_STORAGE_API_KEY")

	mustBind("ai_base_url", "HALEHUB_AI_BASE_URL")
	mustBind("storage_base_url", "HALEHUB_STORAGE_BASE_URL")
	mustBind("chat_model", "HALEHUB_CHAT_MODEL")
	mustBind("embedder_model", "HALEHUB_EMBEDDER_MODEL")

	mustBind("listen_addr", "HALEHUB_LISTEN_ADDR")
	mustBind("cors_origins", "HALEHUB_CORS_ORIGINS")
	mustBind("trust_proxy", "HALEHUB_TRUST_PROXY")
	mustBind("rate_burst", "HALEHUB_RATE_BURST")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// MarshalJSON masks sensitive fields so a Config can be logged or dumped
// safely. Alias type avoids infinite recursion.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	if a.AIAPIKey != "" {
		a.AIAPIKey = maskedValue
	}
	if a.StorageAPIKey != "" {
		a.StorageAPIKey = maskedValue
	}
	if a.PostgresPassword != "" {
		a.PostgresPassword = maskedValue
	}
	return json.Marshal(a)
}
