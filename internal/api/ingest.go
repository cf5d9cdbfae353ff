package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/halehub/halehub/internal/knowledge"
)

type ingestRequest struct {
	DocumentID string `json:"document_id"`
}

func (s *Server) decodeIngestRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	var req ingestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid_request", "request body must be JSON with a document_id")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(req.DocumentID)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid_request", "document_id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// handleIngest runs the pipeline synchronously and reports the outcome.
// A failed ingestion is still a 200: the request itself succeeded and
// the body carries success=false with the resulting status.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	id, ok := s.decodeIngestRequest(w, r)
	if !ok {
		return
	}

	result, err := s.ingestor.IngestDocument(r.Context(), id)
	if err != nil {
		if errors.Is(err, knowledge.ErrNotFound) {
			writeError(w, s.logger, http.StatusNotFound, "not_found", "document not found")
			return
		}
		s.logger.Warn("ingestion failed", "document_id", id, "error", err)
	}
	writeJSON(w, s.logger, http.StatusOK, result)
}

// handleIngestAsync dispatches ingestion in the background and returns
// 202 immediately. An unknown id fails inside the background run and
// lands in the logs, not in this response.
func (s *Server) handleIngestAsync(w http.ResponseWriter, r *http.Request) {
	id, ok := s.decodeIngestRequest(w, r)
	if !ok {
		return
	}

	s.ingestor.IngestAsync(id)
	writeJSON(w, s.logger, http.StatusAccepted, map[string]string{
		"document_id": id.String(),
		"status":      "queued",
	})
}

// handleIngestBatch processes every pending document and returns the
// aggregate report.
func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	report, err := s.ingestor.IngestAllPending(r.Context())
	if err != nil {
		writeError(w, s.logger, http.StatusInternalServerError, "internal", "batch ingestion failed")
		return
	}
	writeJSON(w, s.logger, http.StatusOK, report)
}
