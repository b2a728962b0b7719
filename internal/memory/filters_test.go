package memory

import "testing"

func TestFilters_And_UnknownFieldIsFalse(t *testing.T) {
	f := And(Condition{Field: "user_id", Op: OpEq, Value: "u1"})
	if f.Match(map[string]any{"other": "x"}) {
		t.Error("expected And match to fail when the field is absent")
	}
}

func TestFilters_Or_UnknownFieldIsSkipped(t *testing.T) {
	f := Or(
		Condition{Field: "missing", Op: OpEq, Value: "x"},
		Condition{Field: "user_id", Op: OpEq, Value: "u1"},
	)
	if !f.Match(map[string]any{"user_id": "u1"}) {
		t.Error("expected Or match to succeed via the known field, skipping the unknown one")
	}
}

func TestFilters_Or_AllUnknownIsFalse(t *testing.T) {
	f := Or(Condition{Field: "missing", Op: OpEq, Value: "x"})
	if f.Match(map[string]any{"user_id": "u1"}) {
		t.Error("expected Or match to fail when every condition's field is absent")
	}
}

func TestFilters_EmptyMatchesEverything(t *testing.T) {
	var f Filters
	if !f.Match(map[string]any{"anything": 1}) {
		t.Error("expected empty filters to match")
	}
	if !f.Match(nil) {
		t.Error("expected empty filters to match nil fields")
	}
}

func TestFilters_ContainsAndIContains(t *testing.T) {
	fields := map[string]any{"data": "The Quick Brown Fox"}
	if !And(Condition{Field: "data", Op: OpContains, Value: "Quick"}).Match(fields) {
		t.Error("expected contains to match exact case")
	}
	if And(Condition{Field: "data", Op: OpContains, Value: "quick"}).Match(fields) {
		t.Error("expected contains to be case-sensitive")
	}
	if !And(Condition{Field: "data", Op: OpIContains, Value: "quick"}).Match(fields) {
		t.Error("expected icontains to be case-insensitive")
	}
}

func TestFilters_ContainsOnNonStringField(t *testing.T) {
	// Non-string fields compare against their JSON text form (spec §4.M1).
	fields := map[string]any{"tags": []any{"a", "b"}}
	if !And(Condition{Field: "tags", Op: OpContains, Value: "\"b\""}).Match(fields) {
		t.Error("expected contains on a non-string field to match its JSON text form")
	}
}

func TestFilters_Numeric(t *testing.T) {
	fields := map[string]any{"count": float64(5)}
	cases := []struct {
		op   FilterOp
		val  any
		want bool
	}{
		{OpGt, float64(4), true},
		{OpGt, float64(5), false},
		{OpGte, float64(5), true},
		{OpLt, float64(6), true},
		{OpLte, float64(5), true},
		{OpNe, float64(5), false},
	}
	for _, c := range cases {
		got := And(Condition{Field: "count", Op: c.op, Value: c.val}).Match(fields)
		if got != c.want {
			t.Errorf("op %s: got %v, want %v", c.op, got, c.want)
		}
	}
}

func TestFilters_InNin(t *testing.T) {
	fields := map[string]any{"status": "active"}
	in := And(Condition{Field: "status", Op: OpIn, Value: []any{"active", "paused"}})
	if !in.Match(fields) {
		t.Error("expected in to match a listed value")
	}
	nin := And(Condition{Field: "status", Op: OpNin, Value: []any{"deleted"}})
	if !nin.Match(fields) {
		t.Error("expected nin to match when absent from the list")
	}
}

func TestMerge_BothAndFlattens(t *testing.T) {
	a := And(Condition{Field: "user_id", Op: OpEq, Value: "u1"})
	b := And(Condition{Field: "agent_id", Op: OpEq, Value: "a1"})
	merged := Merge(a, b)
	if len(merged.Conditions) != 2 {
		t.Fatalf("expected 2 conditions, got %d", len(merged.Conditions))
	}
	if !merged.Match(map[string]any{"user_id": "u1", "agent_id": "a1"}) {
		t.Error("expected merged filters to require both conditions")
	}
}

func TestScope_ToFilters(t *testing.T) {
	s := Scope{UserID: "u1", RunID: "r1"}
	f := s.toFilters()
	if len(f.Conditions) != 2 {
		t.Fatalf("expected 2 conditions for a 2-field scope, got %d", len(f.Conditions))
	}
	if !f.Match(map[string]any{"user_id": "u1", "run_id": "r1", "agent_id": "ignored"}) {
		t.Error("expected scope filter to match on the set fields")
	}
	if f.Match(map[string]any{"user_id": "other", "run_id": "r1"}) {
		t.Error("expected scope filter to reject a mismatched field")
	}
}
