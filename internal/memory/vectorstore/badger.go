package vectorstore

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dgraph-io/badger/v4"
)

// Badger is a VectorStore backed by an embedded Badger/v4 KV store, following
// the wrapping style of the original OCG kv.KV (pkg/kv/kv.go): a single
// *badger.DB, explicit Open/Close, and view/update closures per operation.
// Search does a brute-force cosine scan over the collection's points; spec
// §4.M3 treats the vector store as an abstracted capability and does not
// require an ANN index, and this module's corpus carries no ANN library.
type Badger struct {
	db *badger.DB
}

type storedPoint struct {
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type collectionMeta struct {
	Dims int `json:"dims"`
}

// Open opens (creating if absent) a Badger vector store rooted at dir.
func Open(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Msg: "open badger at " + dir, Err: err}
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Close() error { return b.db.Close() }

func metaKey(collection string) []byte {
	return []byte("meta:" + collection)
}

func pointKey(collection, id string) []byte {
	return []byte("pt:" + collection + ":" + id)
}

func pointPrefix(collection string) []byte {
	return []byte("pt:" + collection + ":")
}

func (b *Badger) CreateCollection(_ context.Context, name string, dims int) error {
	meta := collectionMeta{Dims: dims}
	raw, err := sonic.Marshal(meta)
	if err != nil {
		return &Error{Kind: KindCollection, Msg: "marshal collection meta", Err: err}
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(name), raw)
	})
	if err != nil {
		return &Error{Kind: KindCollection, Msg: "create collection " + name, Err: err}
	}
	return nil
}

func (b *Badger) CollectionExists(_ context.Context, name string) (bool, error) {
	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(metaKey(name))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, &Error{Kind: KindCollection, Msg: "check collection " + name, Err: err}
	}
	return exists, nil
}

func (b *Badger) Insert(_ context.Context, collection string, points []Point) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, p := range points {
			raw, err := sonic.Marshal(storedPoint{Vector: p.Vector, Payload: p.Payload})
			if err != nil {
				return err
			}
			if err := txn.Set(pointKey(collection, p.ID), raw); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &Error{Kind: KindInsert, Msg: fmt.Sprintf("insert %d points into %s", len(points), collection), Err: err}
	}
	return nil
}

func (b *Badger) Update(_ context.Context, collection string, point Point) error {
	raw, err := sonic.Marshal(storedPoint{Vector: point.Vector, Payload: point.Payload})
	if err != nil {
		return &Error{Kind: KindUpdate, Msg: "marshal point", Err: err}
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pointKey(collection, point.ID), raw)
	})
	if err != nil {
		return &Error{Kind: KindUpdate, Msg: "update point " + point.ID, Err: err}
	}
	return nil
}

func (b *Badger) Get(_ context.Context, collection, id string) (Point, error) {
	var sp storedPoint
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pointKey(collection, id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return sonic.Unmarshal(val, &sp)
		})
	})
	if err == badger.ErrKeyNotFound {
		return Point{}, &Error{Kind: KindNotFound, Msg: "point " + id + " in " + collection}
	}
	if err != nil {
		return Point{}, &Error{Kind: KindSearch, Msg: "get point " + id, Err: err}
	}
	return Point{ID: id, Vector: sp.Vector, Payload: sp.Payload}, nil
}

func (b *Badger) Delete(_ context.Context, collection, id string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(pointKey(collection, id))
	})
	if err != nil {
		return &Error{Kind: KindDelete, Msg: "delete point " + id, Err: err}
	}
	return nil
}

func (b *Badger) DeleteAll(_ context.Context, collection string, filter FieldMatcher) error {
	prefix := pointPrefix(collection)
	err := b.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if filter != nil {
				var sp storedPoint
				if err := item.Value(func(val []byte) error { return sonic.Unmarshal(val, &sp) }); err != nil {
					return err
				}
				if !filter(sp.Payload) {
					continue
				}
			}
			keys = append(keys, item.KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &Error{Kind: KindDelete, Msg: "delete all in " + collection, Err: err}
	}
	return nil
}

func (b *Badger) List(_ context.Context, collection string, filter FieldMatcher) ([]Point, error) {
	var out []Point
	prefix := pointPrefix(collection)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var sp storedPoint
			if err := item.Value(func(val []byte) error { return sonic.Unmarshal(val, &sp) }); err != nil {
				return err
			}
			if filter != nil && !filter(sp.Payload) {
				continue
			}
			id := strings.TrimPrefix(string(item.Key()), string(prefix))
			out = append(out, Point{ID: id, Vector: sp.Vector, Payload: sp.Payload})
		}
		return nil
	})
	if err != nil {
		return nil, &Error{Kind: KindSearch, Msg: "list " + collection, Err: err}
	}
	return out, nil
}

func (b *Badger) Search(ctx context.Context, collection string, query []float32, topK int, filter FieldMatcher) ([]SearchResult, error) {
	points, err := b.List(ctx, collection, filter)
	if err != nil {
		return nil, err
	}

	scored := make([]scoredPoint, 0, len(points))
	for _, p := range points {
		score, err := cosineSimilarity(query, p.Vector)
		if err != nil {
			return nil, err
		}
		scored = append(scored, scoredPoint{
			result:    SearchResult{ID: p.ID, Score: score, Payload: p.Payload},
			createdAt: payloadCreatedAt(p.Payload),
		})
	}

	// Partial selection sort for the top-K; collections stay small enough
	// (single-user desktop agent memory) that O(n*k) beats pulling in a
	// sort dependency for this. Ties break by descending created_at (spec
	// §4.M3) rather than incidental scan order.
	if topK > len(scored) {
		topK = len(scored)
	}
	for i := 0; i < topK; i++ {
		best := i
		for j := i + 1; j < len(scored); j++ {
			if scored[j].result.Score > scored[best].result.Score {
				best = j
			} else if scored[j].result.Score == scored[best].result.Score && scored[j].createdAt.After(scored[best].createdAt) {
				best = j
			}
		}
		scored[i], scored[best] = scored[best], scored[i]
	}

	out := make([]SearchResult, topK)
	for i := 0; i < topK; i++ {
		out[i] = scored[i].result
	}
	return out, nil
}

type scoredPoint struct {
	result    SearchResult
	createdAt time.Time
}

func payloadCreatedAt(p map[string]any) time.Time {
	s, _ := p["created_at"].(string)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// cosineSimilarity returns the cosine similarity of a and b, or an *Error of
// KindDimension if their lengths differ (spec §7: an embedder/vector
// store contract break must surface, not silently score as unrelated).
func cosineSimilarity(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, &Error{Kind: KindDimension, Msg: fmt.Sprintf("expected %d dims, got %d", len(a), len(b))}
	}
	if len(a) == 0 {
		return 0, nil
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb))), nil
}
