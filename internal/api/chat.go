package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/halehub/halehub/internal/api/sse"
	"github.com/halehub/halehub/internal/assistant"
	"github.com/halehub/halehub/internal/llm"
)

type chatRequest struct {
	Messages    []llm.Message `json:"messages"`
	DocumentIDs []string      `json:"document_ids,omitempty"`
}

// handleChat validates the conversation, opens the assistant's
// completion stream and relays it as server-sent events. Errors that
// occur before the stream opens are JSON; once relaying has started the
// only failure signal left is an SSE error event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}

	docIDs := make([]uuid.UUID, 0, len(req.DocumentIDs))
	for _, raw := range req.DocumentIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, s.logger, http.StatusBadRequest, "invalid_request", "document_ids must be UUIDs")
			return
		}
		docIDs = append(docIDs, id)
	}

	answer, err := s.assistant.Answer(r.Context(), req.Messages, docIDs)
	if err != nil {
		s.writeChatError(w, err)
		return
	}
	defer drainClose(answer.Stream)

	writer, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, s.logger, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	if err := writer.Relay(r.Context(), answer.Stream); err != nil {
		// The client may already be gone; an error event is best effort.
		s.logger.Debug("chat relay ended", "error", err, "request_id", RequestID(r.Context()))
		writer.WriteError("stream interrupted")
	}
}

// writeChatError maps assistant errors to the API's error codes. Rate
// limit and quota exhaustion are user-actionable and keep their own
// codes; everything else is an opaque upstream failure.
func (s *Server) writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, assistant.ErrBadRequest):
		writeError(w, s.logger, http.StatusBadRequest, "invalid_messages", err.Error())
	case errors.Is(err, llm.ErrRateLimited):
		writeError(w, s.logger, http.StatusTooManyRequests, "rate_limited", "the AI service is rate limited, try again shortly")
	case errors.Is(err, llm.ErrQuotaExhausted):
		writeError(w, s.logger, http.StatusPaymentRequired, "credits_exhausted", "the AI service credits are exhausted")
	default:
		s.logger.Error("chat completion failed", "error", err)
		writeError(w, s.logger, http.StatusBadGateway, "upstream_error", "the AI service is unavailable")
	}
}
