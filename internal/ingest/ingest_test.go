package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/halehub/halehub/internal/knowledge"
	"github.com/halehub/halehub/internal/log"
)

type fakeObjects struct {
	files map[string][]byte
}

func (f *fakeObjects) Download(_ context.Context, path string) ([]byte, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("no such object %q", path)
	}
	return data, nil
}

type fakeEmbedder struct {
	dims    int
	failAll bool

	mu    sync.Mutex
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.failAll {
		return nil, errors.New("embedding unavailable")
	}
	return make([]float32, f.dims), nil
}

// fakeStore keeps documents in memory and records every status
// transition in order.
type fakeStore struct {
	mu       sync.Mutex
	docs     map[uuid.UUID]knowledge.Document
	chunks   map[uuid.UUID][]knowledge.Chunk
	statuses map[uuid.UUID][]knowledge.EmbeddingStatus

	failReplace bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:     make(map[uuid.UUID]knowledge.Document),
		chunks:   make(map[uuid.UUID][]knowledge.Chunk),
		statuses: make(map[uuid.UUID][]knowledge.EmbeddingStatus),
	}
}

func (s *fakeStore) addDocument(path string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.docs[id] = knowledge.Document{
		ID:              id,
		Title:           path,
		StoragePath:     path,
		EmbeddingStatus: knowledge.StatusPending,
	}
	return id
}

func (s *fakeStore) GetDocument(_ context.Context, id uuid.UUID) (knowledge.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return knowledge.Document{}, knowledge.ErrNotFound
	}
	return doc, nil
}

func (s *fakeStore) UpdateContent(_ context.Context, id uuid.UUID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.docs[id]
	doc.Content = &content
	s.docs[id] = doc
	return nil
}

func (s *fakeStore) SetEmbeddingStatus(_ context.Context, id uuid.UUID, status knowledge.EmbeddingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.docs[id]
	doc.EmbeddingStatus = status
	s.docs[id] = doc
	s.statuses[id] = append(s.statuses[id], status)
	return nil
}

func (s *fakeStore) ReplaceChunks(_ context.Context, id uuid.UUID, chunks []knowledge.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReplace {
		return errors.New("storage unavailable")
	}
	s.chunks[id] = chunks
	return nil
}

func (s *fakeStore) ListPending(_ context.Context, minLen int) ([]knowledge.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []knowledge.Document
	for _, d := range s.docs {
		if d.Content != nil && len(*d.Content) > minLen && d.EmbeddingStatus != knowledge.StatusCompleted {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeStore) statusHistory(id uuid.UUID) []knowledge.EmbeddingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]knowledge.EmbeddingStatus(nil), s.statuses[id]...)
}

func (s *fakeStore) storedChunks(id uuid.UUID) []knowledge.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks[id]
}

func (s *fakeStore) document(id uuid.UUID) knowledge.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id]
}

func testConfig() Config {
	return Config{
		ChunkSize:        500,
		ChunkOverlap:     50,
		MinContentLength: 10,
		EmbedCallDelay:   time.Millisecond,
	}
}

func TestIngestDocumentHappyPath(t *testing.T) {
	store := newFakeStore()
	id := store.addDocument("rules.txt")
	objects := &fakeObjects{files: map[string][]byte{
		"rules.txt": []byte(strings.Repeat("a", 1200)),
	}}
	embedder := &fakeEmbedder{dims: 8}

	o := New(testConfig(), objects, store, embedder, log.NewNop())
	result, err := o.IngestDocument(context.Background(), id)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1200, result.ContentLength)
	assert.Equal(t, knowledge.StatusCompleted, result.EmbeddingStatus)

	chunks := store.storedChunks(id)
	require.Len(t, chunks, 3, "1200 chars at 500/50 split into 3 chunks")
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Len(t, c.Embedding, 8)
	}

	assert.Equal(t,
		[]knowledge.EmbeddingStatus{knowledge.StatusProcessing, knowledge.StatusCompleted},
		store.statusHistory(id))
}

func TestIngestDocumentContentTooShort(t *testing.T) {
	store := newFakeStore()
	id := store.addDocument("greeting.txt")
	objects := &fakeObjects{files: map[string][]byte{"greeting.txt": []byte("Aloha")}}
	embedder := &fakeEmbedder{dims: 8}

	o := New(testConfig(), objects, store, embedder, log.NewNop())
	result, err := o.IngestDocument(context.Background(), id)
	require.Error(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 5, result.ContentLength)
	assert.Equal(t, knowledge.StatusFailed, result.EmbeddingStatus)

	// The short text is still persisted, but nothing was embedded.
	doc := store.document(id)
	require.NotNil(t, doc.Content)
	assert.Equal(t, "Aloha", *doc.Content)
	assert.Empty(t, store.storedChunks(id))
	assert.Zero(t, embedder.calls)
}

func TestIngestDocumentEmbedFailure(t *testing.T) {
	store := newFakeStore()
	id := store.addDocument("rules.txt")
	objects := &fakeObjects{files: map[string][]byte{
		"rules.txt": []byte(strings.Repeat("b", 600)),
	}}
	embedder := &fakeEmbedder{dims: 8, failAll: true}

	o := New(testConfig(), objects, store, embedder, log.NewNop())
	_, err := o.IngestDocument(context.Background(), id)
	require.Error(t, err)

	// Content survives the failure; the document ends failed, not processing.
	doc := store.document(id)
	require.NotNil(t, doc.Content)
	assert.Equal(t, knowledge.StatusFailed, doc.EmbeddingStatus)
	assert.Empty(t, store.storedChunks(id))
}

func TestIngestDocumentStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.failReplace = true
	id := store.addDocument("rules.txt")
	objects := &fakeObjects{files: map[string][]byte{
		"rules.txt": []byte(strings.Repeat("c", 600)),
	}}

	o := New(testConfig(), objects, store, &fakeEmbedder{dims: 8}, log.NewNop())
	_, err := o.IngestDocument(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, knowledge.StatusFailed, store.document(id).EmbeddingStatus)
}

func TestIngestDocumentUnknownID(t *testing.T) {
	o := New(testConfig(), &fakeObjects{}, newFakeStore(), &fakeEmbedder{dims: 8}, log.NewNop())
	_, err := o.IngestDocument(context.Background(), uuid.New())
	assert.ErrorIs(t, err, knowledge.ErrNotFound)
}

func TestIngestDocumentNeverLeftProcessing(t *testing.T) {
	// Across success, short content and embed failure, the final recorded
	// status must never be processing.
	cases := map[string]struct {
		content string
		failAll bool
	}{
		"success":       {content: strings.Repeat("x", 600)},
		"short content": {content: "hi"},
		"embed failure": {content: strings.Repeat("y", 600), failAll: true},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			store := newFakeStore()
			id := store.addDocument("doc.txt")
			objects := &fakeObjects{files: map[string][]byte{"doc.txt": []byte(tc.content)}}

			o := New(testConfig(), objects, store, &fakeEmbedder{dims: 8, failAll: tc.failAll}, log.NewNop())
			_, _ = o.IngestDocument(context.Background(), id)

			history := store.statusHistory(id)
			require.NotEmpty(t, history)
			last := history[len(history)-1]
			assert.NotEqual(t, knowledge.StatusProcessing, last)
		})
	}
}

func TestIngestAllPendingContinuesOnFailure(t *testing.T) {
	store := newFakeStore()
	good := store.addDocument("good.txt")
	bad := store.addDocument("missing.txt")
	other := store.addDocument("other.txt")

	// ListPending only reports documents with content, so seed it.
	for _, id := range []uuid.UUID{good, bad, other} {
		content := strings.Repeat("z", 600)
		require.NoError(t, store.UpdateContent(context.Background(), id, content))
	}

	objects := &fakeObjects{files: map[string][]byte{
		"good.txt":  []byte(strings.Repeat("z", 600)),
		"other.txt": []byte(strings.Repeat("z", 600)),
	}}

	o := New(testConfig(), objects, store, &fakeEmbedder{dims: 8}, log.NewNop())
	report, err := o.IngestAllPending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Successful)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], bad.String())

	assert.Equal(t, knowledge.StatusFailed, store.document(bad).EmbeddingStatus)
	assert.Equal(t, knowledge.StatusCompleted, store.document(good).EmbeddingStatus)
}

func TestIngestAsync(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newFakeStore()
	id := store.addDocument("rules.txt")
	objects := &fakeObjects{files: map[string][]byte{
		"rules.txt": []byte(strings.Repeat("a", 600)),
	}}

	o := New(testConfig(), objects, store, &fakeEmbedder{dims: 8}, log.NewNop())
	o.IngestAsync(id)

	require.Eventually(t, func() bool {
		return store.document(id).EmbeddingStatus == knowledge.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConcurrentIngestSerialized(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newFakeStore()
	id := store.addDocument("rules.txt")
	objects := &fakeObjects{files: map[string][]byte{
		"rules.txt": []byte(strings.Repeat("a", 1200)),
	}}

	o := New(testConfig(), objects, store, &fakeEmbedder{dims: 8}, log.NewNop())

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = o.IngestDocument(context.Background(), id)
		}()
	}
	wg.Wait()

	// Whatever interleaving happened, exactly one chunk generation remains
	// and the document is completed.
	assert.Len(t, store.storedChunks(id), 3)
	assert.Equal(t, knowledge.StatusCompleted, store.document(id).EmbeddingStatus)
}
