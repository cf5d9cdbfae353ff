// Package knowledge persists documents and their retrieval chunks in
// PostgreSQL with pgvector, and answers similarity-search queries against
// the stored embeddings.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ErrNotFound indicates the requested document does not exist.
var ErrNotFound = errors.New("document not found")

// Store manages document and chunk rows with vector search capabilities.
// It is safe for concurrent use by multiple goroutines.
type Store struct {
	pool       *pgxpool.Pool
	dimensions int
	logger     *slog.Logger
}

// New creates a Store. dimensions is the required embedding vector length;
// it must match the vector column in db/migrations. logger may be nil.
func New(pool *pgxpool.Pool, dimensions int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pool:       pool,
		dimensions: dimensions,
		logger:     logger,
	}
}

const documentColumns = `id, title, storage_path, file_type, content, embedding_status, created_at, updated_at`

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	var status string
	err := row.Scan(&d.ID, &d.Title, &d.StoragePath, &d.FileType, &d.Content, &status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	d.EmbeddingStatus = EmbeddingStatus(status)
	return d, nil
}

// CreateDocument inserts a new document row in the pending state.
// Called by the upload path; content stays NULL until ingestion runs.
func (s *Store) CreateDocument(ctx context.Context, title, storagePath, fileType string) (Document, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO documents (title, storage_path, file_type)
		 VALUES ($1, $2, $3)
		 RETURNING `+documentColumns,
		title, storagePath, fileType)

	doc, err := scanDocument(row)
	if err != nil {
		return Document{}, fmt.Errorf("creating document: %w", err)
	}

	s.logger.Debug("created document", "id", doc.ID, "path", storagePath)
	return doc, nil
}

// GetDocument fetches one document by id.
func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
		}
		return Document{}, fmt.Errorf("fetching document %s: %w", id, err)
	}
	return doc, nil
}

// UpdateContent persists extracted text onto the document.
// The orchestrator calls this regardless of extraction outcome, so even a
// sentinel placeholder ends up visible in the document row.
func (s *Store) UpdateContent(ctx context.Context, id uuid.UUID, content string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET content = $2, updated_at = now() WHERE id = $1`,
		id, content)
	if err != nil {
		return fmt.Errorf("updating content of document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetEmbeddingStatus moves the document to the given pipeline state.
func (s *Store) SetEmbeddingStatus(ctx context.Context, id uuid.UUID, status EmbeddingStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid embedding status %q", status)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET embedding_status = $2, updated_at = now() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("setting status of document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}

	s.logger.Debug("document status changed", "id", id, "status", status)
	return nil
}

// DeleteDocument removes a document; its chunks go with it (ON DELETE CASCADE).
func (s *Store) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// validateChunks rejects vectors whose length does not match the stored
// dimensionality before anything touches the database.
func validateChunks(chunks []Chunk, dimensions int) error {
	for _, c := range chunks {
		if len(c.Embedding) != dimensions {
			return fmt.Errorf("chunk %d: embedding has %d dimensions, want %d",
				c.Index, len(c.Embedding), dimensions)
		}
	}
	return nil
}

// ReplaceChunks atomically swaps the document's chunk set: all existing
// rows are deleted and the new set inserted in a single transaction, so a
// concurrent reader never observes a partial new set layered on stale
// rows. Re-ingestion therefore leaves exactly one generation of chunks.
func (s *Store) ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []Chunk) error {
	if err := validateChunks(chunks, s.dimensions); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning replace-chunks transaction: %w", err)
	}
	defer func() {
		// No-op after commit.
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx,
		`DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("deleting old chunks of document %s: %w", documentID, err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		vec := pgvector.NewVector(c.Embedding)
		batch.Queue(
			`INSERT INTO document_chunks (document_id, chunk_index, content, embedding)
			 VALUES ($1, $2, $3, $4)`,
			documentID, c.Index, c.Content, vec)
	}

	results := tx.SendBatch(ctx, batch)
	for range chunks {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("inserting chunks of document %s: %w", documentID, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("closing chunk insert batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing replace-chunks transaction: %w", err)
	}

	s.logger.Debug("replaced chunks", "document_id", documentID, "count", len(chunks))
	return nil
}

// CountChunks returns the number of live chunk rows for a document.
func (s *Store) CountChunks(ctx context.Context, documentID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM document_chunks WHERE document_id = $1`, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting chunks of document %s: %w", documentID, err)
	}
	return count, nil
}

// SimilaritySearch returns up to matchCount chunks whose cosine similarity
// to the query embedding exceeds threshold, most similar first, each
// joined with its document's title.
//
// The <=> operator is cosine distance, matching the ivfflat index in
// db/migrations; similarity = 1 - distance.
func (s *Store) SimilaritySearch(ctx context.Context, embedding []float32, matchCount int, threshold float64) ([]Match, error) {
	if len(embedding) != s.dimensions {
		return nil, fmt.Errorf("query embedding has %d dimensions, want %d", len(embedding), s.dimensions)
	}

	vec := pgvector.NewVector(embedding)
	rows, err := s.pool.Query(ctx,
		`SELECT c.document_id, d.title, c.content, 1 - (c.embedding <=> $1) AS similarity
		 FROM document_chunks c
		 JOIN documents d ON d.id = c.document_id
		 WHERE 1 - (c.embedding <=> $1) > $2
		 ORDER BY c.embedding <=> $1
		 LIMIT $3`,
		vec, threshold, matchCount)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.DocumentID, &m.DocumentTitle, &m.Content, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search results: %w", err)
	}

	return matches, nil
}

// ListPending returns documents that still need (re)processing: extracted
// content is present and longer than minContentLength, and the document
// does not already carry a completed chunk set.
func (s *Store) ListPending(ctx context.Context, minContentLength int) ([]Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+`
		 FROM documents d
		 WHERE d.content IS NOT NULL
		   AND length(d.content) > $1
		   AND NOT (d.embedding_status = 'completed'
		            AND EXISTS (SELECT 1 FROM document_chunks c WHERE c.document_id = d.id))
		 ORDER BY d.created_at`,
		minContentLength)
	if err != nil {
		return nil, fmt.Errorf("listing pending documents: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

// GetByIDs fetches the given documents, skipping unknown ids and rows
// without content. Used by the retrieval fallback when the caller names
// documents explicitly.
func (s *Store) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+`
		 FROM documents
		 WHERE id = ANY($1) AND content IS NOT NULL
		 ORDER BY created_at DESC`,
		ids)
	if err != nil {
		return nil, fmt.Errorf("fetching documents by id: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

// RecentWithContent returns the most recent documents that have extracted
// content, newest first. Used by the retrieval fallback when no explicit
// document ids were supplied.
func (s *Store) RecentWithContent(ctx context.Context, limit int) ([]Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+`
		 FROM documents
		 WHERE content IS NOT NULL
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent documents: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

func collectDocuments(rows pgx.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading document rows: %w", err)
	}
	return docs, nil
}
