package memory

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// FilterOp is the closed set of comparison operators a Condition may use
// (spec §3 Filters AST), ported from the original mem0-rust FilterOperator
// enum (utils/filters.rs).
type FilterOp string

const (
	OpEq        FilterOp = "eq"
	OpNe        FilterOp = "ne"
	OpGt        FilterOp = "gt"
	OpGte       FilterOp = "gte"
	OpLt        FilterOp = "lt"
	OpLte       FilterOp = "lte"
	OpIn        FilterOp = "in"
	OpNin       FilterOp = "nin"
	OpContains  FilterOp = "contains"
	OpIContains FilterOp = "icontains"
)

// FilterLogic combines a flat list of Conditions (spec §3: "combined by a
// top-level logic ∈ {And, Or}").
type FilterLogic string

const (
	LogicAnd FilterLogic = "and"
	LogicOr  FilterLogic = "or"
)

// Condition is one leaf of the Filters AST.
type Condition struct {
	Field string
	Op    FilterOp
	Value any
}

// Filters is the flat AST described in spec §3.
type Filters struct {
	Conditions []Condition
	Logic      FilterLogic
}

// And builds an AND-combined Filters from conditions (mirrors the original
// FilterBuilder::new()).
func And(conditions ...Condition) Filters {
	return Filters{Conditions: conditions, Logic: LogicAnd}
}

// Or builds an OR-combined Filters from conditions (mirrors FilterBuilder::new_or()).
func Or(conditions ...Condition) Filters {
	return Filters{Conditions: conditions, Logic: LogicOr}
}

// Merge ANDs two filter sets together by flattening all their conditions into
// a single AND group (used to combine a caller's filters with a Scope). This
// holds for OR sides too: an OR set's conditions all become required in the
// merged result. An empty side returns the other side unchanged.
func Merge(a, b Filters) Filters {
	if len(a.Conditions) == 0 {
		return b
	}
	if len(b.Conditions) == 0 {
		return a
	}
	if a.Logic == LogicAnd && b.Logic == LogicAnd {
		return Filters{Conditions: append(append([]Condition{}, a.Conditions...), b.Conditions...), Logic: LogicAnd}
	}
	// Mixed/OR logic can't be flattened losslessly into the flat AST this
	// module evaluates; AND dominates since scope restriction must always
	// narrow, never broaden, the result set.
	return Filters{Conditions: append(append([]Condition{}, a.Conditions...), b.Conditions...), Logic: LogicAnd}
}

// Match evaluates the Filters AST against a payload's fields (spec §4.M1).
// Unknown fields evaluate to false within And, and are skipped (treated as
// "no vote") within Or.
func (f Filters) Match(fields map[string]any) bool {
	if len(f.Conditions) == 0 {
		return true
	}
	switch f.Logic {
	case LogicOr:
		for _, c := range f.Conditions {
			v, known := fields[c.Field]
			if !known {
				continue
			}
			if matchCondition(c, v) {
				return true
			}
		}
		return false
	default: // LogicAnd
		for _, c := range f.Conditions {
			v, known := fields[c.Field]
			if !known {
				return false
			}
			if !matchCondition(c, v) {
				return false
			}
		}
		return true
	}
}

func matchCondition(c Condition, actual any) bool {
	switch c.Op {
	case OpEq:
		return compareEq(actual, c.Value)
	case OpNe:
		return !compareEq(actual, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		af, aok := toFloat(actual)
		bf, bok := toFloat(c.Value)
		if !aok || !bok {
			return false
		}
		switch c.Op {
		case OpGt:
			return af > bf
		case OpGte:
			return af >= bf
		case OpLt:
			return af < bf
		default:
			return af <= bf
		}
	case OpIn:
		return inList(actual, c.Value)
	case OpNin:
		return !inList(actual, c.Value)
	case OpContains:
		return stringContains(actual, c.Value, false)
	case OpIContains:
		return stringContains(actual, c.Value, true)
	default:
		return false
	}
}

func compareEq(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return toText(a) == toText(b)
}

func inList(actual, list any) bool {
	values, ok := list.([]any)
	if !ok {
		return false
	}
	for _, v := range values {
		if compareEq(actual, v) {
			return true
		}
	}
	return false
}

// stringContains implements contains/icontains: substring match on string
// fields; non-string fields compare against their JSON text form (spec §4.M1).
func stringContains(actual, needle any, ci bool) bool {
	haystack := toText(actual)
	n := toText(needle)
	if ci {
		return strings.Contains(strings.ToLower(haystack), strings.ToLower(n))
	}
	return strings.Contains(haystack, n)
}

func toText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		raw, err := sonic.MarshalString(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return raw
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
