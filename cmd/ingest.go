package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/halehub/halehub/internal/config"
	"github.com/halehub/halehub/internal/ingest"
	"github.com/halehub/halehub/internal/knowledge"
	"github.com/halehub/halehub/internal/llm"
	"github.com/halehub/halehub/internal/log"
	"github.com/halehub/halehub/internal/storage"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [document-id]",
	Short: "Ingest documents into the knowledge base",
	Long: `Ingest runs the document pipeline from the command line.

With a document id it processes that single document. Without arguments
it scans for documents that still need processing and runs them all.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(args)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{})

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("creating database pool: %w", err)
	}
	defer pool.Close()

	orchestrator, _, _, err := buildPipeline(cfg, pool, logger)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("parsing document id: %w", err)
		}
		result, err := orchestrator.IngestDocument(ctx, id)
		if err != nil {
			return fmt.Errorf("ingesting document %s: %w", id, err)
		}
		fmt.Printf("document %s: status=%s content_length=%d\n", id, result.EmbeddingStatus, result.ContentLength)
		return nil
	}

	report, err := orchestrator.IngestAllPending(ctx)
	if err != nil {
		return fmt.Errorf("running batch ingestion: %w", err)
	}
	fmt.Printf("batch finished: total=%d successful=%d failed=%d\n",
		report.Total, report.Successful, report.Failed)
	for _, msg := range report.Errors {
		fmt.Printf("  failed: %s\n", msg)
	}
	return nil
}

// buildPipeline wires the ingestion pipeline from config. The store and
// gateway are returned too, for callers that also build the assistant.
func buildPipeline(cfg *config.Config, pool *pgxpool.Pool, logger log.Logger) (*ingest.Orchestrator, *knowledge.Store, *llm.Client, error) {
	store := knowledge.New(pool, cfg.EmbeddingDimensions, logger.With("component", "knowledge"))

	gateway, err := llm.New(llm.Config{
		BaseURL:       cfg.AIBaseURL,
		APIKey:        cfg.AIAPIKey,
		ChatModel:     cfg.ChatModel,
		EmbedderModel: cfg.EmbedderModel,
		Dimensions:    cfg.EmbeddingDimensions,
		RetryBackoff:  cfg.EmbedRetryBackoff,
		MaxRetries:    cfg.EmbedMaxRetries,
	}, logger.With("component", "llm"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating AI gateway client: %w", err)
	}

	objects, err := storage.New(storage.Config{
		BaseURL: cfg.StorageBaseURL,
		APIKey:  cfg.StorageAPIKey,
	}, logger.With("component", "storage"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating storage client: %w", err)
	}

	orchestrator := ingest.New(ingest.Config{
		ChunkSize:        cfg.ChunkSize,
		ChunkOverlap:     cfg.ChunkOverlap,
		MinContentLength: cfg.MinContentLength,
		EmbedCallDelay:   cfg.EmbedCallDelay,
	}, objects, store, gateway, logger.With("component", "ingest"))

	return orchestrator, store, gateway, nil
}
