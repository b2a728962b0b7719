package reranker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kestrelai/deskagent/internal/memory/llm"
)

// LLMReranker scores candidates by asking the configured M4 LLM to judge
// relevance directly, in place of the Cohere HTTP reranker the original
// mem0-rust crate used (rerankers/cohere.rs) — no Cohere SDK exists anywhere
// in this module's dependency corpus, so the same capability shape is
// reimplemented against the LLM capability that is already wired.
type LLMReranker struct {
	backend llm.LLM
}

// NewLLM builds a reranker that delegates scoring to backend.
func NewLLM(backend llm.LLM) *LLMReranker {
	return &LLMReranker{backend: backend}
}

func (r *LLMReranker) ModelName() string { return r.backend.ModelName() }

type rerankScore struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
}

func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Scored, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nCandidate memories:\n", query)
	for _, c := range candidates {
		fmt.Fprintf(&b, "[%s] %s\n", c.ID, c.Text)
	}
	b.WriteString("\nScore each candidate's relevance to the query from 0.0 (irrelevant) to 1.0 (highly relevant). ")
	b.WriteString(`Respond with JSON only: {"scores": [{"id": "...", "score": 0.0}, ...]}, one entry per candidate, no other text.`)

	var parsed struct {
		Scores []rerankScore `json:"scores"`
	}
	err := llm.GenerateJSON(ctx, r.backend, []llm.Message{
		{Role: "user", Content: b.String()},
	}, llm.GenerateOptions{Temperature: 0, MaxTokens: 1024}, &parsed)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]float32, len(parsed.Scores))
	for _, s := range parsed.Scores {
		byID[s.ID] = s.Score
	}

	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		score, ok := byID[c.ID]
		if !ok {
			// Model dropped a candidate from its response; preserve it with
			// a score of 0 (the "irrelevant" end of the scale) rather than
			// silently discarding it.
			score = 0
		}
		out[i] = Scored{ID: c.ID, Score: score}
	}

	// Permute into descending relevance order (spec §4.M7), matching
	// rerankers/cohere.rs returning results already sorted by Cohere's
	// relevance score rather than in input order.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}
