package assistant

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halehub/halehub/internal/knowledge"
	"github.com/halehub/halehub/internal/llm"
	"github.com/halehub/halehub/internal/log"
	"github.com/halehub/halehub/internal/testutil"
)

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, 8), nil
}

type fakeCompleter struct {
	calls    int
	err      error
	prompt   []llm.Message
	response string
}

func (f *fakeCompleter) StreamChat(_ context.Context, messages []llm.Message) (io.ReadCloser, error) {
	f.calls++
	f.prompt = messages
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.response)), nil
}

type fakeStore struct {
	matches   []knowledge.Match
	searchErr error
	recent    []knowledge.Document
	byID      map[uuid.UUID]knowledge.Document

	searchCalls int
	recentCalls int
	byIDCalls   int
}

func (f *fakeStore) SimilaritySearch(_ context.Context, _ []float32, _ int, _ float64) ([]knowledge.Match, error) {
	f.searchCalls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.matches, nil
}

func (f *fakeStore) GetByIDs(_ context.Context, ids []uuid.UUID) ([]knowledge.Document, error) {
	f.byIDCalls++
	var out []knowledge.Document
	for _, id := range ids {
		if d, ok := f.byID[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeStore) RecentWithContent(_ context.Context, _ int) ([]knowledge.Document, error) {
	f.recentCalls++
	return f.recent, nil
}

func testService(store Store, embedder Embedder, completer Completer) *Service {
	return New(Config{
		MatchCount:    10,
		Threshold:     0.3,
		FallbackLimit: 5,
		PreviewChars:  2000,
	}, store, embedder, completer, log.NewNop())
}

func userMessages(content string) []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: content}}
}

func strptr(s string) *string { return &s }

func TestAnswerRejectsMalformedMessages(t *testing.T) {
	embedder := &fakeEmbedder{}
	completer := &fakeCompleter{}
	svc := testService(&fakeStore{}, embedder, completer)

	cases := map[string][]llm.Message{
		"empty conversation": nil,
		"unknown role":       {{Role: "tool", Content: "x"}},
		"blank content":      {{Role: llm.RoleUser, Content: "   "}},
		"no user turn":       {{Role: llm.RoleSystem, Content: "be helpful"}},
	}

	for name, messages := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Answer(context.Background(), messages, nil)
			assert.ErrorIs(t, err, ErrBadRequest)
		})
	}

	// Validation failures must happen before any network call.
	assert.Zero(t, embedder.calls)
	assert.Zero(t, completer.calls)
}

func TestAnswerVectorMode(t *testing.T) {
	docA := uuid.New()
	docB := uuid.New()
	store := &fakeStore{matches: []knowledge.Match{
		{DocumentID: docA, DocumentTitle: "House Rules", Content: "Quiet hours start at 22:00.", Similarity: 0.9},
		{DocumentID: docB, DocumentTitle: "Parking Policy", Content: "Visitor parking is on B2.", Similarity: 0.8},
		{DocumentID: docA, DocumentTitle: "House Rules", Content: "Pets must be leashed.", Similarity: 0.7},
	}}
	completer := &fakeCompleter{response: "data: [DONE]\n\n"}
	svc := testService(store, &fakeEmbedder{}, completer)

	answer, err := svc.Answer(context.Background(), userMessages("when are quiet hours?"), nil)
	require.NoError(t, err)
	defer answer.Stream.Close()

	assert.Equal(t, ModeVector, answer.RetrievalMode)

	// The system prompt groups three hits from two documents into exactly
	// two labeled sections.
	require.NotEmpty(t, completer.prompt)
	system := completer.prompt[0]
	assert.Equal(t, llm.RoleSystem, system.Role)
	assert.Equal(t, 2, strings.Count(system.Content, "=== "))
	assert.Contains(t, system.Content, "=== House Rules ===")
	assert.Contains(t, system.Content, "=== Parking Policy ===")

	// The original conversation follows the system prompt untouched.
	assert.Equal(t, "when are quiet hours?", completer.prompt[len(completer.prompt)-1].Content)
}

func TestAnswerFallbackOnEmptySearch(t *testing.T) {
	store := &fakeStore{recent: []knowledge.Document{
		{ID: uuid.New(), Title: "Budget 2026", Content: strptr("The reserve fund grows by 4%.")},
	}}
	completer := &fakeCompleter{response: "data: [DONE]\n\n"}
	svc := testService(store, &fakeEmbedder{}, completer)

	answer, err := svc.Answer(context.Background(), userMessages("what about the budget?"), nil)
	require.NoError(t, err)
	defer answer.Stream.Close()

	assert.Equal(t, ModeFallback, answer.RetrievalMode)
	assert.Equal(t, 1, store.recentCalls)
	assert.Contains(t, completer.prompt[0].Content, "Budget 2026")
}

func TestAnswerFallbackOnEmbedFailure(t *testing.T) {
	// Retrieval failures are swallowed; the user still gets an answer.
	store := &fakeStore{recent: []knowledge.Document{
		{ID: uuid.New(), Title: "Minutes", Content: strptr("The board met in June.")},
	}}
	completer := &fakeCompleter{response: "data: [DONE]\n\n"}
	svc := testService(store, &fakeEmbedder{err: errors.New("gateway down")}, completer)

	answer, err := svc.Answer(context.Background(), userMessages("anything new?"), nil)
	require.NoError(t, err)
	defer answer.Stream.Close()

	assert.Equal(t, ModeFallback, answer.RetrievalMode)
	assert.Zero(t, store.searchCalls)
}

func TestAnswerFallbackOnSearchFailure(t *testing.T) {
	store := &fakeStore{
		searchErr: errors.New("database down"),
		recent: []knowledge.Document{
			{ID: uuid.New(), Title: "Minutes", Content: strptr("The board met in June.")},
		},
	}
	completer := &fakeCompleter{response: "data: [DONE]\n\n"}
	svc := testService(store, &fakeEmbedder{}, completer)

	answer, err := svc.Answer(context.Background(), userMessages("anything new?"), nil)
	require.NoError(t, err)
	defer answer.Stream.Close()
	assert.Equal(t, ModeFallback, answer.RetrievalMode)
}

func TestAnswerFallbackPrefersExplicitIDs(t *testing.T) {
	requested := uuid.New()
	store := &fakeStore{
		byID: map[uuid.UUID]knowledge.Document{
			requested: {ID: requested, Title: "Elevator Notice", Content: strptr("Elevator B is under maintenance.")},
		},
		recent: []knowledge.Document{
			{ID: uuid.New(), Title: "Unrelated", Content: strptr("other")},
		},
	}
	completer := &fakeCompleter{response: "data: [DONE]\n\n"}
	svc := testService(store, &fakeEmbedder{}, completer)

	answer, err := svc.Answer(context.Background(), userMessages("is the elevator fixed?"), []uuid.UUID{requested})
	require.NoError(t, err)
	defer answer.Stream.Close()

	assert.Equal(t, 1, store.byIDCalls)
	assert.Zero(t, store.recentCalls)
	assert.Contains(t, completer.prompt[0].Content, "Elevator Notice")
	assert.NotContains(t, completer.prompt[0].Content, "Unrelated")
}

func TestAnswerFallbackTruncatesPreviews(t *testing.T) {
	long := strings.Repeat("x", 5000)
	store := &fakeStore{recent: []knowledge.Document{
		{ID: uuid.New(), Title: "Huge", Content: &long},
	}}
	completer := &fakeCompleter{response: "data: [DONE]\n\n"}
	svc := testService(store, &fakeEmbedder{}, completer)

	answer, err := svc.Answer(context.Background(), userMessages("summarize"), nil)
	require.NoError(t, err)
	defer answer.Stream.Close()

	assert.Less(t, len(completer.prompt[0].Content), 3000,
		"fallback previews must be truncated")
}

func TestAnswerCompletionErrorPropagates(t *testing.T) {
	store := &fakeStore{}
	completer := &fakeCompleter{err: llm.ErrQuotaExhausted}
	svc := testService(store, &fakeEmbedder{}, completer)

	_, err := svc.Answer(context.Background(), userMessages("hello"), nil)
	assert.ErrorIs(t, err, llm.ErrQuotaExhausted)
}

func TestAnswerAgainstGateway(t *testing.T) {
	// Full round trip through the real gateway client: embed the question,
	// fall back (no matches in the fake store), stream the completion.
	gateway := testutil.NewFakeGateway(t, 8)
	gateway.ChatChunks = []string{"Quiet hours", " start at 22:00."}

	client, err := llm.New(llm.Config{
		BaseURL:       gateway.URL(),
		APIKey:        "test-key",
		ChatModel:     "test/chat",
		EmbedderModel: "test/embed",
		Dimensions:    8,
	}, log.NewNop())
	require.NoError(t, err)

	store := &fakeStore{recent: []knowledge.Document{
		{ID: uuid.New(), Title: "House Rules", Content: strptr("Quiet hours start at 22:00.")},
	}}
	svc := testService(store, client, client)

	answer, err := svc.Answer(context.Background(), userMessages("when are quiet hours?"), nil)
	require.NoError(t, err)
	defer answer.Stream.Close()

	raw, err := io.ReadAll(answer.Stream)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Quiet hours")
	assert.Contains(t, string(raw), "data: [DONE]")
	assert.EqualValues(t, 1, gateway.EmbedCalls())
	assert.EqualValues(t, 1, gateway.ChatCalls())
}

func TestAnswerStreamPassthrough(t *testing.T) {
	const body = "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n"
	completer := &fakeCompleter{response: body}
	svc := testService(&fakeStore{}, &fakeEmbedder{}, completer)

	answer, err := svc.Answer(context.Background(), userMessages("hello"), nil)
	require.NoError(t, err)
	defer answer.Stream.Close()

	got, err := io.ReadAll(answer.Stream)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}
