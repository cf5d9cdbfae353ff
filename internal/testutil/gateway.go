package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// FakeGateway is an httptest server speaking the OpenAI-compatible
// /embeddings and /chat/completions wire shapes. Tests point an llm
// client at its URL.
type FakeGateway struct {
	Server *httptest.Server

	// Dimensions of the vectors returned by /embeddings.
	Dimensions int

	// EmbedStatus, when nonzero, is returned for /embeddings instead of a
	// vector. EmbedFailures makes only the first N calls fail that way.
	EmbedStatus   int
	EmbedFailures int64

	// ChatStatus, when nonzero, is returned for /chat/completions before
	// any stream starts.
	ChatStatus int

	// ChatChunks are the content deltas streamed by /chat/completions.
	ChatChunks []string

	embedCalls atomic.Int64
	chatCalls  atomic.Int64
}

// NewFakeGateway starts a fake gateway returning deterministic vectors of
// the given dimensionality. Callers own the shutdown via Close.
func NewFakeGateway(t *testing.T, dimensions int) *FakeGateway {
	t.Helper()

	g := &FakeGateway{
		Dimensions: dimensions,
		ChatChunks: []string{"Hello", " world"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /embeddings", g.handleEmbeddings)
	mux.HandleFunc("POST /chat/completions", g.handleChat)
	g.Server = httptest.NewServer(mux)
	t.Cleanup(g.Server.Close)

	return g
}

// URL is the gateway base URL for llm.Config.BaseURL.
func (g *FakeGateway) URL() string { return g.Server.URL }

// EmbedCalls reports how many embedding requests arrived.
func (g *FakeGateway) EmbedCalls() int64 { return g.embedCalls.Load() }

// ChatCalls reports how many chat-completion requests arrived.
func (g *FakeGateway) ChatCalls() int64 { return g.chatCalls.Load() }

func (g *FakeGateway) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	call := g.embedCalls.Add(1)

	if g.EmbedStatus != 0 && (g.EmbedFailures == 0 || call <= g.EmbedFailures) {
		http.Error(w, `{"error":"induced failure"}`, g.EmbedStatus)
		return
	}

	var req struct {
		Input string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	// Deterministic per-input vector so identical text embeds identically.
	vec := make([]float32, g.Dimensions)
	var seed float32
	for _, r := range req.Input {
		seed += float32(r)
	}
	for i := range vec {
		vec[i] = seed / float32(i+1000)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": []map[string]any{{"embedding": vec}},
	})
}

func (g *FakeGateway) handleChat(w http.ResponseWriter, r *http.Request) {
	g.chatCalls.Add(1)

	if g.ChatStatus != 0 {
		http.Error(w, `{"error":"induced failure"}`, g.ChatStatus)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for _, chunk := range g.ChatChunks {
		payload, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{
				{"delta": map[string]string{"content": chunk}},
			},
		})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		if flusher != nil {
			flusher.Flush()
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}
