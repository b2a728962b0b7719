// Package embedder implements the Embedder capability (spec §4.M2): text to
// vectors of a fixed dimension, plus a batch variant. The Mock backend
// unit-normalizes its vectors; GenAI returns the provider's values as-is.
package embedder

import "context"

// Kind is the closed set of embedding failure modes a capability backend can
// report (spec §7 Embedding{Api|Network|RateLimited|InvalidResponse|NotConfigured}).
type Kind string

const (
	KindAPI            Kind = "api"
	KindNetwork        Kind = "network"
	KindRateLimited    Kind = "rate_limited"
	KindInvalidResp    Kind = "invalid_response"
	KindNotConfigured  Kind = "not_configured"
)

// Error carries a closed Kind so callers can back off on RateLimited without
// string-matching (spec §4.M2: "fail with a specific RateLimited kind").
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "embedding " + string(e.Kind) + ": " + e.Msg + ": " + e.Err.Error()
	}
	return "embedding " + string(e.Kind) + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// RateLimited reports whether err is a rate-limit embedding error.
func RateLimited(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindRateLimited
}

// Embedder is the capability interface spec §4.M2 describes. The core never
// sees a provider-specific type (spec §4 Design Notes: "Capabilities as
// interfaces").
type Embedder interface {
	// Embed returns a vector of Dimensions() length for text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions is the fixed, queryable vector length this backend produces.
	Dimensions() int
}
