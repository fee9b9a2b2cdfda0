package service

import (
	"reflect"
	"testing"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

func delegation(from, to, scope string, definitionID *string) *repository.Delegation {
	return &repository.Delegation{
		FromUserID:   from,
		ToUserID:     to,
		Scope:        scope,
		DefinitionID: definitionID,
	}
}

func TestApplyDelegations(t *testing.T) {
	defID := "def-1"

	tests := []struct {
		name        string
		actors      []string
		delegations []*repository.Delegation
		want        []string
	}{
		{
			name:   "no delegations keeps actors",
			actors: []string{"u1", "u2"},
			want:   []string{"u1", "u2"},
		},
		{
			name:   "global delegation substitutes the delegate",
			actors: []string{"u1", "u2"},
			delegations: []*repository.Delegation{
				delegation("u1", "u9", repository.DelegationScopeGlobal, nil),
			},
			want: []string{"u2", "u9"},
		},
		{
			name:   "substitution is replace not add",
			actors: []string{"u1"},
			delegations: []*repository.Delegation{
				delegation("u1", "u9", repository.DelegationScopeGlobal, nil),
			},
			want: []string{"u9"},
		},
		{
			name:   "delegation is applied only once, never chased",
			actors: []string{"u1"},
			delegations: []*repository.Delegation{
				delegation("u1", "u2", repository.DelegationScopeGlobal, nil),
				delegation("u2", "u3", repository.DelegationScopeGlobal, nil),
			},
			want: []string{"u2"},
		},
		{
			name:   "definition-scoped delegation for another definition is ignored",
			actors: []string{"u1"},
			delegations: []*repository.Delegation{
				delegation("u1", "u9", repository.DelegationScopeDefinition, strptr("def-other")),
			},
			want: []string{"u1"},
		},
		{
			name:   "definition-scoped delegation beats global for same delegator",
			actors: []string{"u1"},
			delegations: []*repository.Delegation{
				delegation("u1", "u5", repository.DelegationScopeDefinition, strptr(defID)),
				delegation("u1", "u9", repository.DelegationScopeGlobal, nil),
			},
			want: []string{"u5"},
		},
		{
			name:   "delegate already an actor deduplicates",
			actors: []string{"u1", "u2"},
			delegations: []*repository.Delegation{
				delegation("u1", "u2", repository.DelegationScopeGlobal, nil),
			},
			want: []string{"u2"},
		},
		{
			name:   "empty actor set stays empty",
			actors: nil,
			delegations: []*repository.Delegation{
				delegation("u1", "u9", repository.DelegationScopeGlobal, nil),
			},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := applyDelegations(tt.actors, tt.delegations, defID)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("applyDelegations() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDelegationCreatesCycle(t *testing.T) {
	tests := []struct {
		name     string
		existing []*repository.Delegation
		from     string
		to       string
		want     bool
	}{
		{
			name: "no existing delegations",
			from: "u1",
			to:   "u2",
			want: false,
		},
		{
			name: "direct back-delegation closes a loop",
			existing: []*repository.Delegation{
				delegation("u2", "u1", repository.DelegationScopeGlobal, nil),
			},
			from: "u1",
			to:   "u2",
			want: true,
		},
		{
			name: "transitive loop through a chain",
			existing: []*repository.Delegation{
				delegation("u2", "u3", repository.DelegationScopeGlobal, nil),
				delegation("u3", "u1", repository.DelegationScopeGlobal, nil),
			},
			from: "u1",
			to:   "u2",
			want: true,
		},
		{
			name: "chain that never returns is fine",
			existing: []*repository.Delegation{
				delegation("u2", "u3", repository.DelegationScopeGlobal, nil),
				delegation("u3", "u4", repository.DelegationScopeGlobal, nil),
			},
			from: "u1",
			to:   "u2",
			want: false,
		},
		{
			name: "unrelated cycle elsewhere does not block",
			existing: []*repository.Delegation{
				delegation("a", "b", repository.DelegationScopeGlobal, nil),
				delegation("b", "a", repository.DelegationScopeGlobal, nil),
			},
			from: "u1",
			to:   "u2",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := delegationCreatesCycle(tt.existing, tt.from, tt.to)
			if got != tt.want {
				t.Errorf("delegationCreatesCycle() = %v, want %v", got, tt.want)
			}
		})
	}
}
