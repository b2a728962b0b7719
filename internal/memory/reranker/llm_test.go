package reranker

import (
	"context"
	"testing"

	"github.com/kestrelai/deskagent/internal/memory/llm"
)

type stubLLM struct {
	response string
	calls    int
}

func (s *stubLLM) ModelName() string { return "stub" }

func (s *stubLLM) Generate(_ context.Context, _ []llm.Message, _ llm.GenerateOptions) (string, error) {
	s.calls++
	return s.response, nil
}

func TestLLMReranker_EmptyInputSkipsCall(t *testing.T) {
	backend := &stubLLM{}
	r := NewLLM(backend)
	out, err := r.Rerank(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty output, got %+v", out)
	}
	if backend.calls != 0 {
		t.Fatalf("expected no LLM call for empty candidates, got %d calls", backend.calls)
	}
}

func TestLLMReranker_AppliesScoresPreservingIdentity(t *testing.T) {
	backend := &stubLLM{response: `{"scores": [{"id": "b", "score": 0.9}, {"id": "a", "score": 0.1}]}`}
	r := NewLLM(backend)

	candidates := []Candidate{{ID: "a", Text: "first"}, {ID: "b", Text: "second"}}
	out, err := r.Rerank(context.Background(), "q", candidates)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	byID := map[string]float32{}
	for _, s := range out {
		byID[s.ID] = s.Score
	}
	if byID["a"] != 0.1 || byID["b"] != 0.9 {
		t.Fatalf("expected scores applied by id, got %+v", byID)
	}
}

func TestLLMReranker_OrdersByDescendingScore(t *testing.T) {
	backend := &stubLLM{response: `{"scores": [{"id": "a", "score": 0.2}, {"id": "b", "score": 0.9}, {"id": "c", "score": 0.5}]}`}
	r := NewLLM(backend)

	candidates := []Candidate{{ID: "a", Text: "first"}, {ID: "b", Text: "second"}, {ID: "c", Text: "third"}}
	out, err := r.Rerank(context.Background(), "q", candidates)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	want := []string{"b", "c", "a"}
	for i, id := range want {
		if out[i].ID != id {
			t.Fatalf("expected order %v, got %+v", want, out)
		}
	}
}

func TestLLMReranker_MissingScoreDefaultsToZero(t *testing.T) {
	backend := &stubLLM{response: `{"scores": [{"id": "a", "score": 0.5}]}`}
	r := NewLLM(backend)

	candidates := []Candidate{{ID: "a", Text: "first"}, {ID: "b", Text: "second"}}
	out, err := r.Rerank(context.Background(), "q", candidates)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	byID := map[string]float32{}
	for _, s := range out {
		byID[s.ID] = s.Score
	}
	if byID["b"] != 0 {
		t.Fatalf("expected missing candidate score to default to 0, got %v", byID["b"])
	}
}
