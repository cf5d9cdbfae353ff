// Package assistant answers resident questions grounded in the
// community's document base. It retrieves relevant chunks by vector
// similarity, falls back to whole documents when retrieval yields
// nothing, and relays the model's streaming completion to the caller.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/halehub/halehub/internal/knowledge"
	"github.com/halehub/halehub/internal/llm"
	"github.com/halehub/halehub/internal/rag"
)

// ErrBadRequest indicates malformed conversation input. It is returned
// before any network call is made.
var ErrBadRequest = errors.New("invalid chat request")

// Retrieval modes reported on the answer, for logging and diagnostics.
const (
	ModeVector   = "vector"
	ModeFallback = "fallback"
)

// Embedder embeds the latest user question for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer issues the streaming chat completion.
type Completer interface {
	StreamChat(ctx context.Context, messages []llm.Message) (io.ReadCloser, error)
}

// Store is the document access the assistant needs.
type Store interface {
	SimilaritySearch(ctx context.Context, embedding []float32, matchCount int, threshold float64) ([]knowledge.Match, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]knowledge.Document, error)
	RecentWithContent(ctx context.Context, limit int) ([]knowledge.Document, error)
}

// Config holds retrieval tunables.
type Config struct {
	MatchCount    int     // similarity hits requested per question
	Threshold     float64 // minimum cosine similarity for a hit
	FallbackLimit int     // recent documents pulled when search finds nothing
	PreviewChars  int     // rune cap per fallback document
}

// Answer is a streaming reply plus how its grounding context was built.
// Stream carries the gateway's server-sent-event frames unmodified; the
// caller must close it.
type Answer struct {
	Stream        io.ReadCloser
	RetrievalMode string
}

// Service answers questions over the document base.
type Service struct {
	cfg       Config
	store     Store
	embedder  Embedder
	completer Completer
	logger    *slog.Logger
}

// New creates a Service. logger may be nil.
func New(cfg Config, store Store, embedder Embedder, completer Completer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		embedder:  embedder,
		completer: completer,
		logger:    logger,
	}
}

const systemPromptHeader = `You are the assistant of a condo community portal. Answer the resident's question using only the reference documents below. If the documents do not contain the answer, say so instead of guessing. Answer in the language the question was asked in.

Reference documents:

`

// Answer validates the conversation, builds grounding context for the
// latest user turn, and opens a streaming completion.
//
// Retrieval problems are never surfaced to the caller: an embedding or
// search failure, like an empty result, switches to the document
// fallback. Only completion errors propagate, with 429 and 402 kept
// distinguishable via llm.ErrRateLimited and llm.ErrQuotaExhausted.
func (s *Service) Answer(ctx context.Context, messages []llm.Message, docIDs []uuid.UUID) (Answer, error) {
	question, err := latestUserTurn(messages)
	if err != nil {
		return Answer{}, err
	}

	contextBlock, mode := s.buildContext(ctx, question, docIDs)

	prompt := []llm.Message{{
		Role:    llm.RoleSystem,
		Content: systemPromptHeader + contextBlock,
	}}
	prompt = append(prompt, messages...)

	stream, err := s.completer.StreamChat(ctx, prompt)
	if err != nil {
		return Answer{}, fmt.Errorf("chat completion: %w", err)
	}

	s.logger.Info("answer stream opened", "retrieval_mode", mode, "turns", len(messages))
	return Answer{Stream: stream, RetrievalMode: mode}, nil
}

// latestUserTurn validates the conversation shape and returns the text
// of the most recent user message.
func latestUserTurn(messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("%w: no messages", ErrBadRequest)
	}
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant:
		default:
			return "", fmt.Errorf("%w: unknown role %q", ErrBadRequest, m.Role)
		}
		if strings.TrimSpace(m.Content) == "" {
			return "", fmt.Errorf("%w: empty message content", ErrBadRequest)
		}
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i].Content, nil
		}
	}
	return "", fmt.Errorf("%w: no user message", ErrBadRequest)
}

// buildContext tries vector retrieval first and falls back to whole
// documents. It always returns a usable context block and the mode that
// produced it.
func (s *Service) buildContext(ctx context.Context, question string, docIDs []uuid.UUID) (string, string) {
	matches := s.search(ctx, question)
	if len(matches) > 0 {
		chunks := make([]rag.SourceChunk, len(matches))
		for i, m := range matches {
			chunks[i] = rag.SourceChunk{
				DocumentID: m.DocumentID.String(),
				Title:      m.DocumentTitle,
				Content:    m.Content,
			}
		}
		return rag.BuildContext(chunks), ModeVector
	}

	return s.fallbackContext(ctx, docIDs), ModeFallback
}

func (s *Service) search(ctx context.Context, question string) []knowledge.Match {
	vec, err := s.embedder.Embed(ctx, question)
	if err != nil {
		s.logger.Warn("question embedding failed, using fallback", "error", err)
		return nil
	}

	matches, err := s.store.SimilaritySearch(ctx, vec, s.cfg.MatchCount, s.cfg.Threshold)
	if err != nil {
		s.logger.Warn("similarity search failed, using fallback", "error", err)
		return nil
	}
	return matches
}

// fallbackContext builds context from whole documents: the explicitly
// requested ones when the caller named any, otherwise the most recent
// documents with extracted content. Each document is cut to a preview so
// the prompt stays bounded.
func (s *Service) fallbackContext(ctx context.Context, docIDs []uuid.UUID) string {
	var (
		docs []knowledge.Document
		err  error
	)
	if len(docIDs) > 0 {
		docs, err = s.store.GetByIDs(ctx, docIDs)
	} else {
		docs, err = s.store.RecentWithContent(ctx, s.cfg.FallbackLimit)
	}
	if err != nil {
		s.logger.Warn("fallback document fetch failed", "error", err)
		return "(no reference documents are available)"
	}

	chunks := make([]rag.SourceChunk, 0, len(docs))
	for _, d := range docs {
		if d.Content == nil {
			continue
		}
		chunks = append(chunks, rag.SourceChunk{
			DocumentID: d.ID.String(),
			Title:      d.Title,
			Content:    rag.Preview(*d.Content, s.cfg.PreviewChars),
		})
	}
	if len(chunks) == 0 {
		return "(no reference documents are available)"
	}
	return rag.BuildContext(chunks)
}
