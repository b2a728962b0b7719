package embedder

import (
	"context"
	"math"
	"testing"
)

func TestMock_Deterministic(t *testing.T) {
	m := NewMock(64)
	a, err := m.Embed(context.Background(), "the quick brown fox")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := m.Embed(context.Background(), "the quick brown fox")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected deterministic output, differed at index %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestMock_UnitNorm(t *testing.T) {
	m := NewMock(32)
	vec, err := m.Embed(context.Background(), "hello world this is a test sentence")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if math.Abs(norm-1.0) > 1e-4 {
		t.Errorf("expected unit norm, got %v", norm)
	}
}

func TestMock_EmptyTextIsZeroVector(t *testing.T) {
	m := NewMock(16)
	vec, err := m.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for _, v := range vec {
		if v != 0 {
			t.Fatalf("expected zero vector for empty text, got %v", vec)
		}
	}
}

func TestMock_DifferentTextDiffers(t *testing.T) {
	m := NewMock(64)
	a, _ := m.Embed(context.Background(), "cats are great")
	b, _ := m.Embed(context.Background(), "dogs are great")
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("expected different text to produce different vectors")
	}
}

func TestMock_Dimensions(t *testing.T) {
	m := NewMock(128)
	if m.Dimensions() != 128 {
		t.Fatalf("expected 128 dimensions, got %d", m.Dimensions())
	}
	vec, err := m.Embed(context.Background(), "x")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 128 {
		t.Fatalf("expected vector length 128, got %d", len(vec))
	}
}

func TestMock_EmbedBatch(t *testing.T) {
	m := NewMock(32)
	texts := []string{"alpha beta", "gamma delta", "alpha beta"}
	vecs, err := m.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("embed batch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for i := range vecs[0] {
		if vecs[0][i] != vecs[2][i] {
			t.Fatalf("expected identical texts to embed identically within a batch")
		}
	}
}
