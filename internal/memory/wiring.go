package memory

import (
	"context"

	"github.com/kestrelai/deskagent/internal/config"
	"github.com/kestrelai/deskagent/internal/consts"
	"github.com/kestrelai/deskagent/internal/memory/embedder"
	"github.com/kestrelai/deskagent/internal/memory/llm"
	"github.com/kestrelai/deskagent/internal/memory/reranker"
	"github.com/kestrelai/deskagent/internal/memory/vectorstore"
)

// Resources bundles the concrete capability backends an Engine needs, so
// callers (app.New, tests) can close them explicitly once they're done.
type Resources struct {
	Engine  *Engine
	Store   *vectorstore.Badger
	History *History
}

// Close releases every owned resource, tolerating either having already
// failed to open.
func (r *Resources) Close() error {
	var firstErr error
	if r.Store != nil {
		if err := r.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.History != nil {
		if err := r.History.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Build constructs an Engine and its backends from config, selecting the
// concrete capability implementations named by each backend field. Unknown
// backend names fail fast with a Config error rather than silently
// defaulting, since a misconfigured memory engine would otherwise persist
// records against the wrong embedding space.
func Build(ctx context.Context, cfg config.MemoryConfig) (*Resources, error) {
	emb, err := buildEmbedder(ctx, cfg.Embedder)
	if err != nil {
		return nil, err
	}

	if cfg.VectorDB.Backend != "" && cfg.VectorDB.Backend != "badger" {
		return nil, newErr(ErrConfig, "unsupported vector_db backend: "+cfg.VectorDB.Backend)
	}
	if cfg.LLM.Backend != "" && cfg.LLM.Backend != "openai" {
		return nil, newErr(ErrConfig, "unsupported llm backend: "+cfg.LLM.Backend)
	}
	vsPath := cfg.VectorDB.Path
	if vsPath == "" {
		vsPath = consts.DefaultMemoryIndexDir()
	}
	store, err := vectorstore.Open(vsPath)
	if err != nil {
		return nil, wrapErr(ErrVectorStore, "open vector store", err)
	}

	model := buildLLM(cfg.LLM)

	var rr reranker.Reranker
	if cfg.Reranker.Enabled != nil && *cfg.Reranker.Enabled {
		rr = reranker.NewLLM(model)
	}

	historyPath := cfg.HistoryDB
	if historyPath == "" {
		historyPath = consts.DefaultHistoryDBPath()
	}
	history, err := OpenHistory(historyPath)
	if err != nil {
		store.Close()
		return nil, err
	}

	engine := NewEngine(emb, store, model, rr, history, cfg.TopK)
	return &Resources{Engine: engine, Store: store, History: history}, nil
}

func buildEmbedder(ctx context.Context, cfg config.EmbedderConfig) (embedder.Embedder, error) {
	switch cfg.Backend {
	case "", "mock":
		return embedder.NewMock(cfg.Dims), nil
	case "genai":
		return embedder.NewGenAI(ctx, cfg.APIKey, cfg.Model, cfg.Dims)
	default:
		return nil, newErr(ErrConfig, "unsupported embedder backend: "+cfg.Backend)
	}
}

func buildLLM(cfg config.LLMConfig) llm.LLM {
	return llm.NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model)
}
