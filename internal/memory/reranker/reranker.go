// Package reranker implements the optional Reranker capability (spec §4.M7):
// re-scoring a candidate set of memories against a query, independent of
// whatever similarity metric produced the candidates.
package reranker

import "context"

// Kind is the closed set of reranker failure modes.
type Kind string

const (
	KindAPI           Kind = "api"
	KindNetwork       Kind = "network"
	KindNotConfigured Kind = "not_configured"
)

// Error carries a closed Kind for reranker failures.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "reranker " + string(e.Kind) + ": " + e.Msg + ": " + e.Err.Error()
	}
	return "reranker " + string(e.Kind) + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Candidate is one memory up for rerank, identified only by ID and text so
// this package never needs to import the memory record type.
type Candidate struct {
	ID   string
	Text string
}

// Scored is a candidate with its rerank score.
type Scored struct {
	ID    string
	Score float32
}

// Reranker is the capability interface spec §4.M7 describes, ported from the
// original mem0-rust Reranker trait shape (rerankers/mod.rs) though the
// backend here is LLM-driven rather than Cohere's.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Scored, error)
	ModelName() string
}
