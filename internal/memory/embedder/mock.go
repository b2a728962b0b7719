package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Mock is a deterministic, dependency-free Embedder: same text always yields
// the same unit-normalized vector. Ported from the original mem0-rust
// MockEmbedder (embeddings/mock.rs), which hashes each whitespace token with
// Rust's DefaultHasher and accumulates a sign/magnitude contribution per
// token into a fixed-size vector before L2-normalizing. Go has no exposed
// equivalent of DefaultHasher, so this uses FNV-64a per token; the bucketing,
// sign, magnitude, and normalization steps are otherwise identical.
type Mock struct {
	dims int
}

// NewMock returns a Mock embedder producing vectors of the given dimension.
func NewMock(dims int) *Mock {
	if dims <= 0 {
		dims = 384
	}
	return &Mock{dims: dims}
}

func (m *Mock) Dimensions() int { return m.dims }

func (m *Mock) Embed(_ context.Context, text string) ([]float32, error) {
	return m.embed(text), nil
}

func (m *Mock) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.embed(t)
	}
	return out, nil
}

// embed ports MockEmbedder::embed: tokenize on whitespace, hash each token,
// derive (idx, sign, magnitude) from the hash, accumulate into vector[idx],
// then L2-normalize the whole vector.
func (m *Mock) embed(text string) []float32 {
	vec := make([]float64, m.dims)
	for _, tok := range strings.Fields(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()

		idx := int(sum % uint64(m.dims))
		var sign float64 = 1.0
		if sum&1 != 0 {
			sign = -1.0
		}
		magnitude := 1.0 + float64(sum>>1)/float64(math.MaxUint64>>1)
		vec[idx] += sign * magnitude
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, m.dims)
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
