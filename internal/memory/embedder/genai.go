package embedder

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GenAI is an Embedder backed by Google's Gemini embedding models, wired the
// way the rest of this module's ecosystem-first stance requires: real SDK,
// no hand-rolled HTTP client.
type GenAI struct {
	client *genai.Client
	model  string
	dims   int
}

// NewGenAI constructs a GenAI embedder. apiKey may be empty if the ambient
// environment already carries GOOGLE_API_KEY / GEMINI_API_KEY, matching the
// SDK's own default-credential resolution.
func NewGenAI(ctx context.Context, apiKey, model string, dims int) (*GenAI, error) {
	if model == "" {
		model = "text-embedding-004"
	}
	if dims <= 0 {
		dims = 768
	}
	cfg := &genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, &Error{Kind: KindNotConfigured, Msg: "create genai client", Err: err}
	}
	return &GenAI{client: client, model: model, dims: dims}, nil
}

func (g *GenAI) Dimensions() int { return g.dims }

func (g *GenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (g *GenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	outDim := int32(g.dims)
	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &outDim,
	})
	if err != nil {
		return nil, &Error{Kind: KindAPI, Msg: fmt.Sprintf("embed with model %s", g.model), Err: err}
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, &Error{Kind: KindInvalidResp, Msg: "embedding count mismatch"}
	}

	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}
