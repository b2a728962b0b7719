package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/deskagent/internal/memory/embedder"
	"github.com/kestrelai/deskagent/internal/memory/llm"
	"github.com/kestrelai/deskagent/internal/memory/vectorstore"
)

// fakeLLM returns canned responses in call order, letting tests script the
// fact-extraction and reconciliation round trips without a network call.
type fakeLLM struct {
	responses []string
	calls     int
}

func (f *fakeLLM) ModelName() string { return "fake" }

func (f *fakeLLM) Generate(_ context.Context, _ []llm.Message, _ llm.GenerateOptions) (string, error) {
	if f.calls >= len(f.responses) {
		return "{}", nil
	}
	r := f.responses[f.calls]
	f.calls++
	return r, nil
}

func newTestEngine(t *testing.T, model llm.LLM) *Engine {
	t.Helper()
	store, err := vectorstore.Open(filepath.Join(t.TempDir(), "vectors"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	history, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	emb := embedder.NewMock(32)
	return NewEngine(emb, store, model, nil, history, 10)
}

func TestEngine_Add_InferFalse_RequiresScope(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, &fakeLLM{})

	_, err := e.Add(ctx, "a fact with no scope", nil, AddOptions{Infer: false})
	require.Error(t, err)
	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, ErrInvalidInput, merr.Kind)
}

func TestEngine_Add_InferFalse_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, &fakeLLM{})
	opts := AddOptions{Scope: Scope{UserID: "u1"}}

	first, err := e.Add(ctx, "I like dark mode", nil, opts)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, EventAdd, first[0].Event)

	second, err := e.Add(ctx, "I like dark mode", nil, opts)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, EventNoop, second[0].Event)
	assert.Equal(t, first[0].ID, second[0].ID)

	all, err := e.GetAll(ctx, Scope{UserID: "u1"}, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1, "two identical infer=false adds must dedupe to one record")
}

func TestEngine_Add_InferTrue_NoFactsIsNoop(t *testing.T) {
	ctx := context.Background()
	model := &fakeLLM{responses: []string{`{"facts": []}`}}
	e := newTestEngine(t, model)

	results, err := e.Add(ctx, "just chatting, nothing to remember", nil, AddOptions{Scope: Scope{UserID: "u1"}, Infer: true})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngine_Add_InferTrue_AddsExtractedFact(t *testing.T) {
	ctx := context.Background()
	model := &fakeLLM{responses: []string{
		`{"facts": ["I prefer dark mode"]}`,
		`{"memory": [{"event": "ADD", "text": "I prefer dark mode"}]}`,
	}}
	e := newTestEngine(t, model)

	results, err := e.Add(ctx, "", []Message{{Role: "user", Content: "I really prefer dark mode in every app"}}, AddOptions{Scope: Scope{UserID: "u1"}, Infer: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, EventAdd, results[0].Event)
	assert.Equal(t, "I prefer dark mode", results[0].Memory)

	hist, err := e.History(ctx, results[0].ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, EventAdd, hist[0].Event)
}

func TestEngine_Add_InferTrue_UpdateRequiresKnownNeighbor(t *testing.T) {
	ctx := context.Background()
	model := &fakeLLM{responses: []string{
		`{"facts": ["some fact"]}`,
		`{"memory": [{"event": "UPDATE", "id": "not-a-real-neighbor", "text": "replacement"}]}`,
	}}
	e := newTestEngine(t, model)

	results, err := e.Add(ctx, "", []Message{{Role: "user", Content: "some fact appears here"}}, AddOptions{Scope: Scope{UserID: "u1"}, Infer: true})
	require.NoError(t, err)
	assert.Empty(t, results, "an UPDATE referencing an unknown id must be dropped, not applied")
}

func TestEngine_Search_RespectsThresholdAndLimit(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, &fakeLLM{})
	opts := AddOptions{Scope: Scope{UserID: "u1"}}

	for _, fact := range []string{"alpha fact one", "beta fact two", "gamma fact three"} {
		_, err := e.Add(ctx, fact, nil, opts)
		require.NoError(t, err)
	}

	limited, err := e.Search(ctx, "alpha fact one", SearchOptions{Scope: Scope{UserID: "u1"}, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	highThreshold := float32(1.1) // above any attainable cosine score
	none, err := e.Search(ctx, "alpha fact one", SearchOptions{Scope: Scope{UserID: "u1"}, Threshold: &highThreshold})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEngine_Search_ScopesAcrossUsers(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, &fakeLLM{})

	_, err := e.Add(ctx, "shared fact text", nil, AddOptions{Scope: Scope{UserID: "u1"}})
	require.NoError(t, err)
	_, err = e.Add(ctx, "shared fact text", nil, AddOptions{Scope: Scope{UserID: "u2"}})
	require.NoError(t, err)

	results, err := e.Search(ctx, "shared fact text", SearchOptions{Scope: Scope{UserID: "u1"}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "u1", results[0].Record.UserID)
}

func TestEngine_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, &fakeLLM{})
	opts := AddOptions{Scope: Scope{UserID: "u1"}}

	added, err := e.Add(ctx, "original content", nil, opts)
	require.NoError(t, err)
	id := added[0].ID

	updated, err := e.Update(ctx, id, "revised content")
	require.NoError(t, err)
	assert.Equal(t, "revised content", updated.Content)
	assert.Equal(t, id, updated.ID)

	hist, err := e.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, EventUpdate, hist[0].Event)
	assert.Equal(t, "original content", hist[0].PreviousContent)

	require.NoError(t, e.Delete(ctx, id))
	_, err = e.Get(ctx, id)
	assert.True(t, NotFound(err))
}
