// Package memory implements the Long-Term Memory Engine: the record model
// and filter AST (M1), fact extraction and reconciliation (M5), and the
// append-only history log (M6). The embedding, vector store, LLM, and
// reranker capabilities (M2-M4, M7) live in sibling packages and are wired
// in here only behind their interfaces, per spec §4's "capabilities as
// interfaces" design note.
package memory

import "time"

// Record is the durable memory record described in spec §3 (MemoryRecord).
type Record struct {
	ID        string
	Content   string
	Metadata  map[string]any
	UserID    string
	AgentID   string
	RunID     string
	Hash      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Payload is the vector-store-side echo of a record, carried alongside its
// embedding (spec §3 Payload).
type Payload struct {
	Data      string
	Hash      string
	Metadata  map[string]any
	UserID    string
	AgentID   string
	RunID     string
	CreatedAt time.Time
}

// ScoredMemory pairs a record with a similarity or rerank score.
type ScoredMemory struct {
	Record Record
	Score  float32
}

// EventType is the closed set of history mutation kinds (spec §3 HistoryEntry).
type EventType string

const (
	EventAdd    EventType = "ADD"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventNoop   EventType = "NOOP"
)

// HistoryEntry is one append-only mutation log row (spec §3).
type HistoryEntry struct {
	ID               string
	MemoryID         string
	PreviousContent  string
	NewContent       string
	Event            EventType
	Timestamp        time.Time
	UserID           string
	AgentID          string
	RunID            string
}

// Scope is the (user_id?, agent_id?, run_id?) tuple memories are partitioned
// under (GLOSSARY: Scope). At least one field must be non-empty for Add.
type Scope struct {
	UserID  string
	AgentID string
	RunID   string
}

func (s Scope) empty() bool {
	return s.UserID == "" && s.AgentID == "" && s.RunID == ""
}

// toFilters renders a scope as the equality conditions a search/reconcile
// call is restricted to, ANDed together.
func (s Scope) toFilters() Filters {
	var f Filters
	if s.UserID != "" {
		f.Conditions = append(f.Conditions, Condition{Field: "user_id", Op: OpEq, Value: s.UserID})
	}
	if s.AgentID != "" {
		f.Conditions = append(f.Conditions, Condition{Field: "agent_id", Op: OpEq, Value: s.AgentID})
	}
	if s.RunID != "" {
		f.Conditions = append(f.Conditions, Condition{Field: "run_id", Op: OpEq, Value: s.RunID})
	}
	f.Logic = LogicAnd
	return f
}

// AddOptions is the input to Engine.Add (spec §4.M5).
type AddOptions struct {
	Scope
	Metadata map[string]any
	Infer    bool
}

// AddResultItem describes one record mutated or left as-is by Add.
type AddResultItem struct {
	ID     string
	Memory string
	Event  EventType
}

// SearchOptions is the input to Engine.Search (spec §4.M5).
type SearchOptions struct {
	Scope
	Limit     int
	Threshold *float32
	Filters   *Filters
	Rerank    bool
}

// Message is one turn of a conversation transcript, used both as Add input
// and when rendering the fact-extraction prompt.
type Message struct {
	Role    string
	Content string
}
