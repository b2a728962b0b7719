// Package vectorstore implements the Vector Store capability (spec §4.M3):
// a collection of (id, vector, payload) triples supporting similarity search
// under an optional Filters AST restriction.
package vectorstore

import "context"

// Kind is the closed set of vector store failure modes (spec §7
// VectorStore{Connection|NotFound|Insert|Search|Delete|Update|Collection|NotConfigured}),
// ported from the original mem0-rust VectorStoreError enum (vector_stores
// module, errors.rs).
type Kind string

const (
	KindConnection    Kind = "connection"
	KindNotFound      Kind = "not_found"
	KindInsert        Kind = "insert"
	KindSearch        Kind = "search"
	KindDelete        Kind = "delete"
	KindUpdate        Kind = "update"
	KindCollection    Kind = "collection"
	KindNotConfigured Kind = "not_configured"
	KindDimension     Kind = "dimension_mismatch"
)

// Error carries a closed Kind for vector store failures.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "vectorstore " + string(e.Kind) + ": " + e.Msg + ": " + e.Err.Error()
	}
	return "vectorstore " + string(e.Kind) + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// DimensionMismatch reports whether err is a vector dimension mismatch.
func DimensionMismatch(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindDimension
}

// NotFound reports whether err is a NotFound vector store error.
func NotFound(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindNotFound
}

// Point is one stored (id, vector, payload) triple.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// SearchResult pairs a point with a similarity score (mirrors the original
// VectorSearchResult in vector_stores/traits.rs).
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// FieldMatcher evaluates an opaque filter expression against a payload's
// fields. The memory package's Filters.Match satisfies this without
// vectorstore importing memory (which would cycle back).
type FieldMatcher func(fields map[string]any) bool

// VectorStore is the capability interface spec §4.M3 describes, ported from
// the original mem0-rust VectorStore trait (vector_stores/traits.rs).
type VectorStore interface {
	CreateCollection(ctx context.Context, name string, dims int) error
	CollectionExists(ctx context.Context, name string) (bool, error)

	Insert(ctx context.Context, collection string, points []Point) error
	Update(ctx context.Context, collection string, point Point) error
	Get(ctx context.Context, collection, id string) (Point, error)
	Delete(ctx context.Context, collection, id string) error

	// DeleteAll removes every point in collection matching filter (nil
	// filter matches every point; the collection itself still exists).
	DeleteAll(ctx context.Context, collection string, filter FieldMatcher) error

	// List returns every point in the collection matching filter (nil
	// filter matches everything), for Engine.GetAll.
	List(ctx context.Context, collection string, filter FieldMatcher) ([]Point, error)

	// Search returns the topK points by cosine similarity to query among
	// those matching filter (nil filter matches everything).
	Search(ctx context.Context, collection string, query []float32, topK int, filter FieldMatcher) ([]SearchResult, error)
}
