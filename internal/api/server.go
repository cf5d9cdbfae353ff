// Package api exposes the ingestion pipeline and the assistant over HTTP.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/halehub/halehub/internal/assistant"
	"github.com/halehub/halehub/internal/ingest"
	"github.com/halehub/halehub/internal/llm"
)

// Ingestor runs the document ingestion pipeline.
type Ingestor interface {
	IngestDocument(ctx context.Context, id uuid.UUID) (ingest.Result, error)
	IngestAllPending(ctx context.Context) (ingest.Report, error)
	IngestAsync(id uuid.UUID)
}

// Assistant answers chat requests with a grounded completion stream.
type Assistant interface {
	Answer(ctx context.Context, messages []llm.Message, docIDs []uuid.UUID) (assistant.Answer, error)
}

// Pinger reports whether the database answers, for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	CORSOrigins []string
	RatePerSec  float64 // sustained requests per second per client IP
	RateBurst   int     // bucket size per client IP
	TrustProxy  bool    // honor X-Forwarded-For
}

// Server routes API requests. Build one with NewServer and mount it as
// an http.Handler.
type Server struct {
	cfg       ServerConfig
	ingestor  Ingestor
	assistant Assistant
	db        Pinger
	logger    *slog.Logger
	handler   http.Handler
}

// NewServer wires routes and the middleware chain. logger may be nil.
func NewServer(cfg ServerConfig, ingestor Ingestor, asst Assistant, db Pinger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 60
	}

	s := &Server{
		cfg:       cfg,
		ingestor:  ingestor,
		assistant: asst,
		db:        db,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/ingest", s.handleIngest)
	mux.HandleFunc("POST /api/v1/ingest/async", s.handleIngestAsync)
	mux.HandleFunc("POST /api/v1/ingest/batch", s.handleIngestBatch)
	mux.HandleFunc("POST /api/v1/chat", s.handleChat)

	limiter := newIPLimiter(cfg.RatePerSec, cfg.RateBurst, cfg.TrustProxy)

	var api http.Handler = mux
	api = rateLimitMiddleware(limiter, logger)(api)
	api = corsMiddleware(cfg.CORSOrigins)(api)
	api = loggingMiddleware(logger)(api)
	api = requestIDMiddleware(api)
	api = recoverMiddleware(logger)(api)

	// Probes sit outside the chain: no rate limiting, no request noise
	// in the logs.
	top := http.NewServeMux()
	top.HandleFunc("GET /health", s.handleHealth)
	top.HandleFunc("GET /ready", s.handleReady)
	top.Handle("/", api)

	s.handler = top
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			writeError(w, s.logger, http.StatusServiceUnavailable, "not_ready", "database unreachable")
			return
		}
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ready"})
}

// drainClose discards any unread remainder before closing, so the
// upstream connection can be reused.
func drainClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 1<<20))
	_ = rc.Close()
}
