package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelai/deskagent/internal/memory/embedder"
	"github.com/kestrelai/deskagent/internal/memory/llm"
	"github.com/kestrelai/deskagent/internal/memory/reranker"
	"github.com/kestrelai/deskagent/internal/memory/vectorstore"
	"github.com/kestrelai/deskagent/internal/pkg/logs"
)

const memoryCollection = "memories"

// neighborK is the number of nearest existing memories offered to the
// reconciliation prompt per new fact (spec §4.M5.3.b: "K=5").
const neighborK = 5

// Engine is the Fact Extraction & Reconciliation engine (spec §4.M5), wired
// against the capability interfaces from sibling packages. It owns no
// provider-specific code itself, per spec §4's "capabilities as interfaces"
// design note.
type Engine struct {
	embed   embedder.Embedder
	store   vectorstore.VectorStore
	model   llm.LLM
	rerank  reranker.Reranker
	history *History
	topK    int
}

// NewEngine wires an Engine. rerank may be nil (spec §4.M7 is optional); the
// collection is created lazily on the first Add if it does not exist (a Search
// before that finds no records).
func NewEngine(embed embedder.Embedder, store vectorstore.VectorStore, model llm.LLM, rerank reranker.Reranker, history *History, defaultTopK int) *Engine {
	if defaultTopK <= 0 {
		defaultTopK = 10
	}
	return &Engine{embed: embed, store: store, model: model, rerank: rerank, history: history, topK: defaultTopK}
}

func (e *Engine) ensureCollection(ctx context.Context) error {
	exists, err := e.store.CollectionExists(ctx, memoryCollection)
	if err != nil {
		return wrapErr(ErrVectorStore, "check collection", err)
	}
	if exists {
		return nil
	}
	if err := e.store.CreateCollection(ctx, memoryCollection, e.embed.Dimensions()); err != nil {
		return wrapErr(ErrVectorStore, "create collection", err)
	}
	return nil
}

// Add ingests either a single fact (infer=false) or a conversation transcript
// that is LLM-distilled into atomic facts and reconciled against existing
// neighbors (infer=true), per spec §4.M5.
func (e *Engine) Add(ctx context.Context, text string, messages []Message, opts AddOptions) ([]AddResultItem, error) {
	if opts.Scope.empty() {
		return nil, newErr(ErrInvalidInput, "add requires at least one of user_id, agent_id, run_id")
	}
	if err := e.ensureCollection(ctx); err != nil {
		return nil, err
	}

	if !opts.Infer {
		item, err := e.addSingleFact(ctx, text, opts)
		if err != nil {
			return nil, err
		}
		return []AddResultItem{item}, nil
	}

	transcript := text
	if len(messages) > 0 {
		transcript = renderTranscript(messages)
	}
	return e.addWithInference(ctx, transcript, opts)
}

func (e *Engine) addSingleFact(ctx context.Context, fact string, opts AddOptions) (AddResultItem, error) {
	hash := contentHash(fact)

	dupFilter := Merge(opts.Scope.toFilters(), And(Condition{Field: "hash", Op: OpEq, Value: hash}))
	existing, err := e.store.List(ctx, memoryCollection, matcherFor(dupFilter))
	if err != nil {
		return AddResultItem{}, wrapErr(ErrVectorStore, "check duplicate hash", err)
	}
	if len(existing) > 0 {
		return AddResultItem{ID: existing[0].ID, Memory: fact, Event: EventNoop}, nil
	}

	vec, err := e.embed.Embed(ctx, fact)
	if err != nil {
		return AddResultItem{}, wrapErr(ErrEmbedding, "embed fact", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	payload := e.buildPayload(fact, hash, opts.Metadata, opts.Scope, now, now)
	if err := e.store.Insert(ctx, memoryCollection, []vectorstore.Point{{ID: id, Vector: vec, Payload: payload}}); err != nil {
		return AddResultItem{}, wrapErr(ErrVectorStore, "insert fact", err)
	}
	if err := e.history.Add(ctx, HistoryEntry{MemoryID: id, NewContent: fact, Event: EventAdd, UserID: opts.UserID, AgentID: opts.AgentID, RunID: opts.RunID}); err != nil {
		return AddResultItem{}, err
	}
	return AddResultItem{ID: id, Memory: fact, Event: EventAdd}, nil
}

func (e *Engine) addWithInference(ctx context.Context, transcript string, opts AddOptions) ([]AddResultItem, error) {
	var extraction struct {
		Facts []string `json:"facts"`
	}
	err := llm.GenerateJSON(ctx, e.model, []llm.Message{
		{Role: "system", Content: factExtractionPrompt},
		{Role: "user", Content: formatFactExtractionInput(transcript)},
	}, llm.GenerateOptions{Temperature: 0, MaxTokens: 2048}, &extraction)
	if err != nil {
		return nil, wrapErr(ErrLLM, "extract facts", err)
	}
	if len(extraction.Facts) == 0 {
		logs.CtxInfo(ctx, "[memory] fact extraction produced no facts, noop")
		return nil, nil
	}

	neighborsByID := make(map[string]string)
	var neighborOrder []existingMemory
	for _, fact := range extraction.Facts {
		vec, err := e.embed.Embed(ctx, fact)
		if err != nil {
			return nil, wrapErr(ErrEmbedding, "embed candidate fact", err)
		}
		scopeFilter := opts.Scope.toFilters()
		results, err := e.store.Search(ctx, memoryCollection, vec, neighborK, matcherFor(scopeFilter))
		if err != nil {
			return nil, wrapVectorSearchErr("search neighbors", err)
		}
		for _, r := range results {
			if _, ok := neighborsByID[r.ID]; ok {
				continue
			}
			text, _ := r.Payload["data"].(string)
			neighborsByID[r.ID] = text
			neighborOrder = append(neighborOrder, existingMemory{ID: r.ID, Text: text})
		}
	}

	var reconcile struct {
		Memory []struct {
			Event string `json:"event"`
			Text  string `json:"text"`
			ID    string `json:"id"`
		} `json:"memory"`
	}
	err = llm.GenerateJSON(ctx, e.model, []llm.Message{
		{Role: "system", Content: memoryUpdatePrompt},
		{Role: "user", Content: formatMemoryUpdateInput(neighborOrder, extraction.Facts)},
	}, llm.GenerateOptions{Temperature: 0, MaxTokens: 2048}, &reconcile)
	if err != nil {
		return nil, wrapErr(ErrLLM, "reconcile facts", err)
	}

	var results []AddResultItem
	for _, action := range reconcile.Memory {
		switch EventType(action.Event) {
		case EventAdd:
			if action.Text == "" {
				continue // invalid: ADD requires text (spec §4.M5.3.d) - dropped, not fatal
			}
			item, err := e.addSingleFact(ctx, action.Text, opts)
			if err != nil {
				return nil, err
			}
			results = append(results, item)

		case EventUpdate:
			if action.Text == "" || action.ID == "" {
				continue // invalid: UPDATE requires id + text
			}
			if _, known := neighborsByID[action.ID]; !known {
				continue // id must reference an offered neighbor
			}
			item, err := e.updateRecord(ctx, action.ID, action.Text, opts)
			if err != nil {
				return nil, err
			}
			results = append(results, item)

		case EventDelete:
			if action.ID == "" {
				continue // invalid: DELETE requires id
			}
			if _, known := neighborsByID[action.ID]; !known {
				continue
			}
			item, err := e.deleteRecord(ctx, action.ID, opts)
			if err != nil {
				return nil, err
			}
			results = append(results, item)

		case EventNoop:
			// nothing to do

		default:
			// unrecognized event, dropped per spec §4.M5.3.d
		}
	}
	return results, nil
}

func (e *Engine) updateRecord(ctx context.Context, id, newText string, opts AddOptions) (AddResultItem, error) {
	existing, err := e.store.Get(ctx, memoryCollection, id)
	if err != nil {
		return AddResultItem{}, wrapErr(ErrVectorStore, "get record to update "+id, err)
	}
	previousContent, _ := existing.Payload["data"].(string)

	vec, err := e.embed.Embed(ctx, newText)
	if err != nil {
		return AddResultItem{}, wrapErr(ErrEmbedding, "embed updated fact", err)
	}

	createdAt := parsePayloadTime(existing.Payload["created_at"])
	hash := contentHash(newText)
	payload := e.buildPayload(newText, hash, opts.Metadata, opts.Scope, createdAt, time.Now().UTC())
	if err := e.store.Update(ctx, memoryCollection, vectorstore.Point{ID: id, Vector: vec, Payload: payload}); err != nil {
		return AddResultItem{}, wrapErr(ErrVectorStore, "update record "+id, err)
	}
	if err := e.history.Add(ctx, HistoryEntry{
		MemoryID: id, PreviousContent: previousContent, NewContent: newText, Event: EventUpdate,
		UserID: opts.UserID, AgentID: opts.AgentID, RunID: opts.RunID,
	}); err != nil {
		return AddResultItem{}, err
	}
	return AddResultItem{ID: id, Memory: newText, Event: EventUpdate}, nil
}

func (e *Engine) deleteRecord(ctx context.Context, id string, opts AddOptions) (AddResultItem, error) {
	existing, err := e.store.Get(ctx, memoryCollection, id)
	if err != nil {
		return AddResultItem{}, wrapErr(ErrVectorStore, "get record to delete "+id, err)
	}
	previousContent, _ := existing.Payload["data"].(string)

	if err := e.store.Delete(ctx, memoryCollection, id); err != nil {
		return AddResultItem{}, wrapErr(ErrVectorStore, "delete record "+id, err)
	}
	if err := e.history.Add(ctx, HistoryEntry{
		MemoryID: id, PreviousContent: previousContent, Event: EventDelete,
		UserID: opts.UserID, AgentID: opts.AgentID, RunID: opts.RunID,
	}); err != nil {
		return AddResultItem{}, err
	}
	return AddResultItem{ID: id, Memory: previousContent, Event: EventDelete}, nil
}

// Search embeds query, restricts candidates to scope and filters, optionally
// reranks, drops anything under threshold, and returns the top Limit (spec
// §4.M5 search algorithm).
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) ([]ScoredMemory, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = e.topK
	}

	qvec, err := e.embed.Embed(ctx, query)
	if err != nil {
		return nil, wrapErr(ErrEmbedding, "embed query", err)
	}

	fetch := limit
	if opts.Rerank && e.rerank != nil {
		fetch = limit * 5
	}

	combined := opts.Scope.toFilters()
	if opts.Filters != nil {
		combined = Merge(combined, *opts.Filters)
	}

	candidates, err := e.store.Search(ctx, memoryCollection, qvec, fetch, matcherFor(combined))
	if err != nil {
		return nil, wrapVectorSearchErr("search", err)
	}

	scored := make([]ScoredMemory, len(candidates))
	for i, c := range candidates {
		scored[i] = ScoredMemory{Record: payloadToRecord(c.ID, c.Payload), Score: c.Score}
	}

	if opts.Rerank && e.rerank != nil && len(scored) > 0 {
		scored, err = e.applyRerank(ctx, query, scored)
		if err != nil {
			return nil, err
		}
	}

	if opts.Threshold != nil {
		filtered := scored[:0]
		for _, s := range scored {
			if s.Score >= *opts.Threshold {
				filtered = append(filtered, s)
			}
		}
		scored = filtered
	}

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (e *Engine) applyRerank(ctx context.Context, query string, scored []ScoredMemory) ([]ScoredMemory, error) {
	candidates := make([]reranker.Candidate, len(scored))
	byID := make(map[string]ScoredMemory, len(scored))
	for i, s := range scored {
		candidates[i] = reranker.Candidate{ID: s.Record.ID, Text: s.Record.Content}
		byID[s.Record.ID] = s
	}
	reranked, err := e.rerank.Rerank(ctx, query, candidates)
	if err != nil {
		return nil, wrapErr(ErrReranker, "rerank", err)
	}
	out := make([]ScoredMemory, len(reranked))
	for i, r := range reranked {
		orig := byID[r.ID]
		orig.Score = r.Score
		out[i] = orig
	}
	return out, nil
}

// Get returns a single record by id.
func (e *Engine) Get(ctx context.Context, id string) (Record, error) {
	p, err := e.store.Get(ctx, memoryCollection, id)
	if err != nil {
		if vectorstore.NotFound(err) {
			return Record{}, newErr(ErrNotFound, "memory "+id)
		}
		return Record{}, wrapErr(ErrVectorStore, "get "+id, err)
	}
	return payloadToRecord(id, p.Payload), nil
}

// GetAll lists every record matching scope (and optional extra filters).
func (e *Engine) GetAll(ctx context.Context, scope Scope, filters *Filters) ([]Record, error) {
	combined := scope.toFilters()
	if filters != nil {
		combined = Merge(combined, *filters)
	}
	points, err := e.store.List(ctx, memoryCollection, matcherFor(combined))
	if err != nil {
		return nil, wrapErr(ErrVectorStore, "list", err)
	}
	out := make([]Record, len(points))
	for i, p := range points {
		out[i] = payloadToRecord(p.ID, p.Payload)
	}
	return out, nil
}

// Update overwrites a record's content directly (caller-driven, bypassing
// LLM reconciliation), re-embedding and appending an UPDATE history entry.
func (e *Engine) Update(ctx context.Context, id, newContent string) (Record, error) {
	existing, err := e.store.Get(ctx, memoryCollection, id)
	if err != nil {
		if vectorstore.NotFound(err) {
			return Record{}, newErr(ErrNotFound, "memory "+id)
		}
		return Record{}, wrapErr(ErrVectorStore, "get "+id, err)
	}
	scope := scopeFromPayload(existing.Payload)
	item, err := e.updateRecord(ctx, id, newContent, AddOptions{Scope: scope})
	if err != nil {
		return Record{}, err
	}
	return e.Get(ctx, item.ID)
}

// DeleteAll bulk-removes every record matching scope (and optional extra
// filters) without going through per-record history entries (spec §4.M3
// delete_all(filters)); used for scope teardown (e.g. "forget this run") and
// test cleanup, where per-record DELETE history would just be noise.
func (e *Engine) DeleteAll(ctx context.Context, scope Scope, filters *Filters) error {
	combined := scope.toFilters()
	if filters != nil {
		combined = Merge(combined, *filters)
	}
	if err := e.store.DeleteAll(ctx, memoryCollection, matcherFor(combined)); err != nil {
		return wrapErr(ErrVectorStore, "delete_all", err)
	}
	return nil
}

// Delete removes a record and appends a DELETE history entry.
func (e *Engine) Delete(ctx context.Context, id string) error {
	existing, err := e.store.Get(ctx, memoryCollection, id)
	if err != nil {
		if vectorstore.NotFound(err) {
			return newErr(ErrNotFound, "memory "+id)
		}
		return wrapErr(ErrVectorStore, "get "+id, err)
	}
	scope := scopeFromPayload(existing.Payload)
	_, err = e.deleteRecord(ctx, id, AddOptions{Scope: scope})
	return err
}

// History returns the mutation log for a memory, most recent first.
func (e *Engine) History(ctx context.Context, memoryID string) ([]HistoryEntry, error) {
	return e.history.For(ctx, memoryID)
}

func (e *Engine) buildPayload(content, hash string, metadata map[string]any, scope Scope, createdAt, updatedAt time.Time) map[string]any {
	p := map[string]any{
		"data":       content,
		"hash":       hash,
		"metadata":   metadata,
		"user_id":    scope.UserID,
		"agent_id":   scope.AgentID,
		"run_id":     scope.RunID,
		"created_at": createdAt.Format(time.RFC3339Nano),
		"updated_at": updatedAt.Format(time.RFC3339Nano),
	}
	return p
}

func payloadToRecord(id string, p map[string]any) Record {
	r := Record{ID: id}
	r.Content, _ = p["data"].(string)
	r.Hash, _ = p["hash"].(string)
	r.UserID, _ = p["user_id"].(string)
	r.AgentID, _ = p["agent_id"].(string)
	r.RunID, _ = p["run_id"].(string)
	if md, ok := p["metadata"].(map[string]any); ok {
		r.Metadata = md
	}
	r.CreatedAt = parsePayloadTime(p["created_at"])
	r.UpdatedAt = parsePayloadTime(p["updated_at"])
	return r
}

func scopeFromPayload(p map[string]any) Scope {
	s := Scope{}
	s.UserID, _ = p["user_id"].(string)
	s.AgentID, _ = p["agent_id"].(string)
	s.RunID, _ = p["run_id"].(string)
	return s
}

func parsePayloadTime(v any) time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// wrapVectorSearchErr surfaces a vector-store dimension mismatch (an
// embedder/vector-store contract break, spec §7) as ErrDimensionMismatch
// rather than folding it into the generic ErrVectorStore kind.
func wrapVectorSearchErr(msg string, err error) error {
	if vectorstore.DimensionMismatch(err) {
		return wrapErr(ErrDimensionMismatch, msg, err)
	}
	return wrapErr(ErrVectorStore, msg, err)
}

func matcherFor(f Filters) vectorstore.FieldMatcher {
	return func(fields map[string]any) bool {
		return f.Match(fields)
	}
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
