// Package ingest drives a document through the pipeline: download,
// extract, chunk, embed, store. It owns the embedding_status state
// machine on the document row.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/halehub/halehub/internal/extract"
	"github.com/halehub/halehub/internal/knowledge"
	"github.com/halehub/halehub/internal/rag"
)

// ObjectStore fetches a document's raw bytes from object storage.
type ObjectStore interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the document and chunk persistence the orchestrator needs.
type Store interface {
	GetDocument(ctx context.Context, id uuid.UUID) (knowledge.Document, error)
	UpdateContent(ctx context.Context, id uuid.UUID, content string) error
	SetEmbeddingStatus(ctx context.Context, id uuid.UUID, status knowledge.EmbeddingStatus) error
	ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []knowledge.Chunk) error
	ListPending(ctx context.Context, minContentLength int) ([]knowledge.Document, error)
}

// Config holds the pipeline tunables.
type Config struct {
	ChunkSize        int           // runes per chunk
	ChunkOverlap     int           // runes shared between adjacent chunks
	MinContentLength int           // extracted text at or below this length fails the document
	EmbedCallDelay   time.Duration // minimum spacing between embedding calls
}

// Result reports one document's ingestion outcome.
type Result struct {
	Success         bool                      `json:"success"`
	ContentLength   int                       `json:"content_length"`
	EmbeddingStatus knowledge.EmbeddingStatus `json:"embedding_status"`
}

// Report accumulates a batch run. Errors holds one message per failed
// document; a failure never stops the batch.
type Report struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

// Orchestrator runs the ingestion pipeline. Safe for concurrent use;
// concurrent runs against the same document are serialized.
type Orchestrator struct {
	cfg      Config
	objects  ObjectStore
	store    Store
	embedder Embedder
	limiter  *rate.Limiter
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*docLock
}

type docLock struct {
	sync.Mutex
	refs int
}

// New creates an Orchestrator. logger may be nil.
func New(cfg Config, objects ObjectStore, store Store, embedder Embedder, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EmbedCallDelay <= 0 {
		cfg.EmbedCallDelay = 100 * time.Millisecond
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = rag.DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = rag.DefaultChunkOverlap
	}

	return &Orchestrator{
		cfg:      cfg,
		objects:  objects,
		store:    store,
		embedder: embedder,
		limiter:  rate.NewLimiter(rate.Every(cfg.EmbedCallDelay), 1),
		logger:   logger,
		locks:    make(map[uuid.UUID]*docLock),
	}
}

// lockDocument serializes ingestion per document id. Re-ingesting while a
// prior run is still embedding would let two ReplaceChunks race; the
// second caller simply waits its turn.
func (o *Orchestrator) lockDocument(id uuid.UUID) func() {
	o.mu.Lock()
	l, ok := o.locks[id]
	if !ok {
		l = &docLock{}
		o.locks[id] = l
	}
	l.refs++
	o.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		o.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(o.locks, id)
		}
		o.mu.Unlock()
	}
}

// IngestDocument runs the full pipeline for one document. The document
// leaves in either the completed or the failed state, never processing,
// regardless of where the pipeline stopped.
func (o *Orchestrator) IngestDocument(ctx context.Context, id uuid.UUID) (Result, error) {
	unlock := o.lockDocument(id)
	defer unlock()

	doc, err := o.store.GetDocument(ctx, id)
	if err != nil {
		return Result{}, err
	}

	if err := o.store.SetEmbeddingStatus(ctx, id, knowledge.StatusProcessing); err != nil {
		return Result{}, err
	}

	contentLen, err := o.process(ctx, doc)
	if err != nil {
		o.fail(id)
		return Result{
			ContentLength:   contentLen,
			EmbeddingStatus: knowledge.StatusFailed,
		}, err
	}

	if err := o.store.SetEmbeddingStatus(ctx, id, knowledge.StatusCompleted); err != nil {
		o.fail(id)
		return Result{ContentLength: contentLen, EmbeddingStatus: knowledge.StatusFailed}, err
	}

	o.logger.Info("document ingested", "id", id, "content_length", contentLen)
	return Result{
		Success:         true,
		ContentLength:   contentLen,
		EmbeddingStatus: knowledge.StatusCompleted,
	}, nil
}

// process does the download-extract-chunk-embed-store work and returns
// the extracted content length. Status transitions stay in the caller.
func (o *Orchestrator) process(ctx context.Context, doc knowledge.Document) (int, error) {
	data, err := o.objects.Download(ctx, doc.StoragePath)
	if err != nil {
		return 0, fmt.Errorf("downloading %q: %w", doc.StoragePath, err)
	}

	content := extract.Text(data, doc.StoragePath)

	// The text is persisted even when it is too short or a placeholder,
	// so operators can see what extraction produced.
	if err := o.store.UpdateContent(ctx, doc.ID, content); err != nil {
		return 0, err
	}

	contentLen := utf8.RuneCountInString(content)
	if contentLen <= o.cfg.MinContentLength {
		return contentLen, fmt.Errorf("extracted content too short (%d chars)", contentLen)
	}

	pieces := rag.Split(content, o.cfg.ChunkSize, o.cfg.ChunkOverlap)
	chunks := make([]knowledge.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		if err := o.limiter.Wait(ctx); err != nil {
			return contentLen, fmt.Errorf("waiting for embed slot: %w", err)
		}
		vec, err := o.embedder.Embed(ctx, piece)
		if err != nil {
			return contentLen, fmt.Errorf("embedding chunk %d/%d: %w", i+1, len(pieces), err)
		}
		chunks = append(chunks, knowledge.Chunk{Index: i, Content: piece, Embedding: vec})
	}

	if err := o.store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return contentLen, err
	}

	return contentLen, nil
}

// fail marks the document failed on a fresh context, so the status write
// lands even when the pipeline died to a canceled request context.
func (o *Orchestrator) fail(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.SetEmbeddingStatus(ctx, id, knowledge.StatusFailed); err != nil {
		o.logger.Error("could not mark document failed", "id", id, "error", err)
	}
}

// IngestAllPending scans for documents needing processing and ingests
// them one at a time. Per-document failures are collected; the batch
// always runs to the end.
func (o *Orchestrator) IngestAllPending(ctx context.Context) (Report, error) {
	docs, err := o.store.ListPending(ctx, o.cfg.MinContentLength)
	if err != nil {
		return Report{}, err
	}

	report := Report{Total: len(docs)}
	for _, doc := range docs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if _, err := o.IngestDocument(ctx, doc.ID); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", doc.ID, err))
			o.logger.Warn("batch document failed", "id", doc.ID, "error", err)
			continue
		}
		report.Successful++
	}

	o.logger.Info("batch ingestion finished",
		"total", report.Total,
		"successful", report.Successful,
		"failed", report.Failed,
	)
	return report, nil
}

// IngestAsync dispatches ingestion on a background goroutine and returns
// immediately. The run gets a detached context so it survives the HTTP
// request that triggered it; outcomes land in the document row and logs.
func (o *Orchestrator) IngestAsync(id uuid.UUID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if _, err := o.IngestDocument(ctx, id); err != nil {
			o.logger.Error("async ingestion failed", "id", id, "error", err)
		}
	}()
}
