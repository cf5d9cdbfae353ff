package ingest_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halehub/halehub/internal/ingest"
	"github.com/halehub/halehub/internal/knowledge"
	"github.com/halehub/halehub/internal/llm"
	"github.com/halehub/halehub/internal/log"
	"github.com/halehub/halehub/internal/storage"
	"github.com/halehub/halehub/internal/testutil"
)

const integrationDims = 768

// pipelineEnv is a full ingestion pipeline over real components: a
// pgvector container, the raw-HTTP gateway client against a fake
// gateway, and the HTTP storage client against an in-memory object
// server.
type pipelineEnv struct {
	store        *knowledge.Store
	orchestrator *ingest.Orchestrator
	gateway      *testutil.FakeGateway
	files        map[string][]byte
}

func setupPipeline(t *testing.T) *pipelineEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tdb, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	env := &pipelineEnv{files: make(map[string][]byte)}

	objectSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := env.files[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(objectSrv.Close)

	env.gateway = testutil.NewFakeGateway(t, integrationDims)

	gatewayClient, err := llm.New(llm.Config{
		BaseURL:       env.gateway.URL(),
		APIKey:        "test-key",
		ChatModel:     "test/chat",
		EmbedderModel: "test/embed",
		Dimensions:    integrationDims,
		RetryBackoff:  time.Millisecond,
		MaxRetries:    3,
	}, log.NewNop())
	require.NoError(t, err)

	objects, err := storage.New(storage.Config{BaseURL: objectSrv.URL}, log.NewNop())
	require.NoError(t, err)

	env.store = knowledge.New(tdb.Pool, integrationDims, log.NewNop())
	env.orchestrator = ingest.New(ingest.Config{
		ChunkSize:        500,
		ChunkOverlap:     50,
		MinContentLength: 10,
		EmbedCallDelay:   time.Millisecond,
	}, objects, env.store, gatewayClient, log.NewNop())

	return env
}

func TestPipelineEndToEnd(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	env.files["docs/rules.txt"] = []byte(strings.Repeat("a", 1200))
	doc, err := env.store.CreateDocument(ctx, "House Rules", "docs/rules.txt", "txt")
	require.NoError(t, err)

	result, err := env.orchestrator.IngestDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, knowledge.StatusCompleted, result.EmbeddingStatus)

	count, err := env.store.CountChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.EqualValues(t, 3, env.gateway.EmbedCalls())
}

func TestPipelineReingestIdempotent(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	env.files["docs/rules.txt"] = []byte(strings.Repeat("b", 1200))
	doc, err := env.store.CreateDocument(ctx, "House Rules", "docs/rules.txt", "txt")
	require.NoError(t, err)

	_, err = env.orchestrator.IngestDocument(ctx, doc.ID)
	require.NoError(t, err)
	_, err = env.orchestrator.IngestDocument(ctx, doc.ID)
	require.NoError(t, err)

	count, err := env.store.CountChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count, "re-ingestion must leave one chunk generation")
}

func TestPipelineShrinkingDocument(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	env.files["docs/notice.txt"] = []byte(strings.Repeat("c", 1200))
	doc, err := env.store.CreateDocument(ctx, "Notice", "docs/notice.txt", "txt")
	require.NoError(t, err)

	_, err = env.orchestrator.IngestDocument(ctx, doc.ID)
	require.NoError(t, err)

	// The file is replaced by a shorter revision; old chunks must go.
	env.files["docs/notice.txt"] = []byte(strings.Repeat("d", 700))
	_, err = env.orchestrator.IngestDocument(ctx, doc.ID)
	require.NoError(t, err)

	count, err := env.store.CountChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPipelineRecoversFromRateLimit(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	// First two embedding calls get a 429; the client's backoff retry
	// must carry the document through anyway.
	env.gateway.EmbedStatus = http.StatusTooManyRequests
	env.gateway.EmbedFailures = 2

	env.files["docs/rules.txt"] = []byte(strings.Repeat("e", 600))
	doc, err := env.store.CreateDocument(ctx, "Rules", "docs/rules.txt", "txt")
	require.NoError(t, err)

	result, err := env.orchestrator.IngestDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, knowledge.StatusCompleted, result.EmbeddingStatus)
}

func TestPipelineQuotaExhaustedFailsDocument(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	env.gateway.EmbedStatus = http.StatusPaymentRequired

	env.files["docs/rules.txt"] = []byte(strings.Repeat("f", 600))
	doc, err := env.store.CreateDocument(ctx, "Rules", "docs/rules.txt", "txt")
	require.NoError(t, err)

	_, err = env.orchestrator.IngestDocument(ctx, doc.ID)
	require.ErrorIs(t, err, llm.ErrQuotaExhausted)

	got, err := env.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, knowledge.StatusFailed, got.EmbeddingStatus)
	require.NotNil(t, got.Content, "extracted content is persisted even on failure")
}
