package service

import (
	"testing"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

func TestEvalCondition(t *testing.T) {
	data := map[string]any{
		"amount":   float64(2500),
		"currency": "EUR",
		"urgent":   true,
		"tags":     []any{"a", "b"},
		"meta":     map[string]any{"k": "v"},
	}

	tests := []struct {
		name string
		cond *repository.Condition
		want bool
	}{
		{
			name: "nil condition is vacuously true",
			cond: nil,
			want: true,
		},
		{
			name: "eq on string",
			cond: &repository.Condition{Field: "currency", Op: "eq", Value: "EUR"},
			want: true,
		},
		{
			name: "eq mismatched value",
			cond: &repository.Condition{Field: "currency", Op: "eq", Value: "USD"},
			want: false,
		},
		{
			name: "ne on string",
			cond: &repository.Condition{Field: "currency", Op: "ne", Value: "USD"},
			want: true,
		},
		{
			name: "gt across numeric types",
			cond: &repository.Condition{Field: "amount", Op: "gt", Value: 1000},
			want: true,
		},
		{
			name: "lte boundary",
			cond: &repository.Condition{Field: "amount", Op: "lte", Value: float64(2500)},
			want: true,
		},
		{
			name: "lt fails on equal",
			cond: &repository.Condition{Field: "amount", Op: "lt", Value: float64(2500)},
			want: false,
		},
		{
			name: "in list",
			cond: &repository.Condition{Field: "currency", Op: "in", Value: []any{"USD", "EUR"}},
			want: true,
		},
		{
			name: "in list miss",
			cond: &repository.Condition{Field: "currency", Op: "in", Value: []any{"USD", "GBP"}},
			want: false,
		},
		{
			name: "exists present",
			cond: &repository.Condition{Field: "urgent", Op: "exists"},
			want: true,
		},
		{
			name: "exists missing field",
			cond: &repository.Condition{Field: "department_id", Op: "exists"},
			want: false,
		},
		{
			name: "missing field never admits",
			cond: &repository.Condition{Field: "department_id", Op: "eq", Value: "d1"},
			want: false,
		},
		{
			name: "unknown operator never admits",
			cond: &repository.Condition{Field: "amount", Op: "between", Value: 100},
			want: false,
		},
		{
			name: "gt against non-numeric field",
			cond: &repository.Condition{Field: "currency", Op: "gt", Value: 100},
			want: false,
		},
		{
			name: "eq on matching arrays",
			cond: &repository.Condition{Field: "tags", Op: "eq", Value: []any{"a", "b"}},
			want: true,
		},
		{
			name: "eq on differing arrays",
			cond: &repository.Condition{Field: "tags", Op: "eq", Value: []any{"a"}},
			want: false,
		},
		{
			name: "ne on differing arrays",
			cond: &repository.Condition{Field: "tags", Op: "ne", Value: []any{"x"}},
			want: true,
		},
		{
			name: "eq on matching objects",
			cond: &repository.Condition{Field: "meta", Op: "eq", Value: map[string]any{"k": "v"}},
			want: true,
		},
		{
			name: "eq array against scalar",
			cond: &repository.Condition{Field: "tags", Op: "eq", Value: "a"},
			want: false,
		},
		{
			name: "all requires every branch",
			cond: &repository.Condition{All: []*repository.Condition{
				{Field: "amount", Op: "gt", Value: 1000},
				{Field: "currency", Op: "eq", Value: "EUR"},
			}},
			want: true,
		},
		{
			name: "all with one failing branch",
			cond: &repository.Condition{All: []*repository.Condition{
				{Field: "amount", Op: "gt", Value: 1000},
				{Field: "currency", Op: "eq", Value: "USD"},
			}},
			want: false,
		},
		{
			name: "any requires one branch",
			cond: &repository.Condition{Any: []*repository.Condition{
				{Field: "amount", Op: "gt", Value: 100000},
				{Field: "currency", Op: "eq", Value: "EUR"},
			}},
			want: true,
		},
		{
			name: "any with no passing branch",
			cond: &repository.Condition{Any: []*repository.Condition{
				{Field: "amount", Op: "gt", Value: 100000},
				{Field: "currency", Op: "eq", Value: "USD"},
			}},
			want: false,
		},
		{
			name: "nested combinators",
			cond: &repository.Condition{All: []*repository.Condition{
				{Field: "urgent", Op: "exists"},
				{Any: []*repository.Condition{
					{Field: "amount", Op: "gte", Value: 2500},
					{Field: "currency", Op: "eq", Value: "USD"},
				}},
			}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evalCondition(tt.cond, data)
			if got != tt.want {
				t.Errorf("evalCondition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLooseEqual(t *testing.T) {
	if !looseEqual(float64(5), 5) {
		t.Error("looseEqual(float64(5), int(5)) = false, want true")
	}
	if looseEqual(float64(5), "5") {
		t.Error(`looseEqual(float64(5), "5") = true, want false`)
	}
	if looseEqual("5", float64(5)) {
		t.Error(`looseEqual("5", float64(5)) = true, want false`)
	}
	if !looseEqual("a", "a") {
		t.Error(`looseEqual("a", "a") = false, want true`)
	}
	// Arrays and objects from decoded JSON must compare structurally, not
	// with ==, which panics on uncomparable dynamic types.
	if !looseEqual([]any{"a", "b"}, []any{"a", "b"}) {
		t.Error("looseEqual on equal slices = false, want true")
	}
	if looseEqual([]any{"a"}, []any{"b"}) {
		t.Error("looseEqual on differing slices = true, want false")
	}
	if !looseEqual(map[string]any{"k": "v"}, map[string]any{"k": "v"}) {
		t.Error("looseEqual on equal maps = false, want true")
	}
}
