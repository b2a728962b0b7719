package vectorstore

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestBadger(t *testing.T) *Badger {
	t.Helper()
	b, err := Open(filepath.Join(t.TempDir(), "vectors"))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBadger_CreateAndCheckCollection(t *testing.T) {
	ctx := context.Background()
	b := newTestBadger(t)

	exists, err := b.CollectionExists(ctx, "memories")
	if err != nil {
		t.Fatalf("collection exists: %v", err)
	}
	if exists {
		t.Fatal("expected collection to not exist yet")
	}

	if err := b.CreateCollection(ctx, "memories", 8); err != nil {
		t.Fatalf("create collection: %v", err)
	}
	exists, err = b.CollectionExists(ctx, "memories")
	if err != nil {
		t.Fatalf("collection exists: %v", err)
	}
	if !exists {
		t.Fatal("expected collection to exist after creation")
	}
}

func TestBadger_InsertGetDelete(t *testing.T) {
	ctx := context.Background()
	b := newTestBadger(t)

	p := Point{ID: "p1", Vector: []float32{1, 0, 0}, Payload: map[string]any{"data": "hello"}}
	if err := b.Insert(ctx, "c", []Point{p}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := b.Get(ctx, "c", "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Payload["data"] != "hello" {
		t.Fatalf("unexpected payload: %+v", got.Payload)
	}

	if err := b.Delete(ctx, "c", "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := b.Get(ctx, "c", "p1"); !NotFound(err) {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
}

func TestBadger_SearchOrdersByScoreDescending(t *testing.T) {
	ctx := context.Background()
	b := newTestBadger(t)

	points := []Point{
		{ID: "orthogonal", Vector: []float32{0, 1, 0}, Payload: map[string]any{}},
		{ID: "exact", Vector: []float32{1, 0, 0}, Payload: map[string]any{}},
		{ID: "opposite", Vector: []float32{-1, 0, 0}, Payload: map[string]any{}},
	}
	if err := b.Insert(ctx, "c", points); err != nil {
		t.Fatalf("insert: %v", err)
	}

	results, err := b.Search(ctx, "c", []float32{1, 0, 0}, 3, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].ID != "exact" {
		t.Fatalf("expected exact match first, got %s", results[0].ID)
	}
	if results[len(results)-1].ID != "opposite" {
		t.Fatalf("expected opposite vector last, got %s", results[len(results)-1].ID)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatalf("expected descending scores, got %v then %v", results[i-1].Score, results[i].Score)
		}
	}
}

func TestBadger_SearchRespectsFilter(t *testing.T) {
	ctx := context.Background()
	b := newTestBadger(t)

	points := []Point{
		{ID: "a", Vector: []float32{1, 0}, Payload: map[string]any{"user_id": "u1"}},
		{ID: "b", Vector: []float32{1, 0}, Payload: map[string]any{"user_id": "u2"}},
	}
	if err := b.Insert(ctx, "c", points); err != nil {
		t.Fatalf("insert: %v", err)
	}

	matchU1 := func(fields map[string]any) bool { return fields["user_id"] == "u1" }
	results, err := b.Search(ctx, "c", []float32{1, 0}, 10, matchU1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("expected only point a, got %+v", results)
	}
}

func TestBadger_DeleteAll(t *testing.T) {
	ctx := context.Background()
	b := newTestBadger(t)

	if err := b.Insert(ctx, "c", []Point{{ID: "a", Vector: []float32{1}}, {ID: "b", Vector: []float32{2}}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := b.DeleteAll(ctx, "c", nil); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	points, err := b.List(ctx, "c", nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(points) != 0 {
		t.Fatalf("expected empty collection after delete all, got %d", len(points))
	}
}

func TestBadger_DeleteAllWithFilter(t *testing.T) {
	ctx := context.Background()
	b := newTestBadger(t)

	points := []Point{
		{ID: "a", Vector: []float32{1}, Payload: map[string]any{"user_id": "u1"}},
		{ID: "b", Vector: []float32{2}, Payload: map[string]any{"user_id": "u2"}},
	}
	if err := b.Insert(ctx, "c", points); err != nil {
		t.Fatalf("insert: %v", err)
	}

	matchU1 := func(fields map[string]any) bool { return fields["user_id"] == "u1" }
	if err := b.DeleteAll(ctx, "c", matchU1); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	remaining, err := b.List(ctx, "c", nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "b" {
		t.Fatalf("expected only point b to survive, got %+v", remaining)
	}
}

func TestBadger_SearchDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	b := newTestBadger(t)

	if err := b.Insert(ctx, "c", []Point{{ID: "a", Vector: []float32{1, 0, 0}}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := b.Search(ctx, "c", []float32{1, 0}, 1, nil); !DimensionMismatch(err) {
		t.Fatalf("expected dimension mismatch error, got %v", err)
	}
}
