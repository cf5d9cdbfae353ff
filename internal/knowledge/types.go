package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// EmbeddingStatus tracks a document's position in the ingestion pipeline.
// Transitions are driven exclusively by internal/ingest.
type EmbeddingStatus string

const (
	StatusPending    EmbeddingStatus = "pending"
	StatusProcessing EmbeddingStatus = "processing"
	StatusCompleted  EmbeddingStatus = "completed"
	StatusFailed     EmbeddingStatus = "failed"
)

// Valid reports whether s is one of the four known statuses.
func (s EmbeddingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Document is one uploaded portal file. Content is nil until extraction
// has run for it.
type Document struct {
	ID              uuid.UUID
	Title           string
	StoragePath     string
	FileType        string
	Content         *string
	EmbeddingStatus EmbeddingStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Chunk is one slice of a document's extracted text plus its embedding.
// Index is zero-based and defines the original order of the split.
type Chunk struct {
	Index     int
	Content   string
	Embedding []float32
}

// Match is one similarity-search hit, already joined with its source
// document's title so callers can label the grounding context.
type Match struct {
	DocumentID    uuid.UUID
	DocumentTitle string
	Content       string
	Similarity    float64
}
