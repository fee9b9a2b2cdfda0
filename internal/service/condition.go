package service

import (
	"reflect"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// evalCondition evaluates a step or definition condition against an
// instance's data bag. A nil condition is vacuously true. Unknown operators
// and missing fields evaluate to false so misconfigured predicates skip
// rather than admit.
func evalCondition(c *repository.Condition, data map[string]any) bool {
	if c == nil {
		return true
	}

	switch {
	case len(c.All) > 0:
		for _, sub := range c.All {
			if !evalCondition(sub, data) {
				return false
			}
		}
		return true
	case len(c.Any) > 0:
		for _, sub := range c.Any {
			if evalCondition(sub, data) {
				return true
			}
		}
		return false
	}

	value, present := data[c.Field]

	switch c.Op {
	case "exists":
		return present
	case "eq":
		return present && looseEqual(value, c.Value)
	case "ne":
		return present && !looseEqual(value, c.Value)
	case "gt", "gte", "lt", "lte":
		a, aok := toFloat(value)
		b, bok := toFloat(c.Value)
		if !present || !aok || !bok {
			return false
		}
		switch c.Op {
		case "gt":
			return a > b
		case "gte":
			return a >= b
		case "lt":
			return a < b
		default:
			return a <= b
		}
	case "in":
		if !present {
			return false
		}
		options, ok := c.Value.([]any)
		if !ok {
			return false
		}
		for _, opt := range options {
			if looseEqual(value, opt) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// looseEqual compares two JSON-decoded values, treating numbers of different
// Go types as equal when their values match (JSON decoding yields float64,
// but callers may seed data bags with ints). Non-scalar values (arrays,
// objects) are compared structurally; `==` on them would panic.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	if _, bok := toFloat(b); bok {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
