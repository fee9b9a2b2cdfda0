package service

import (
	"testing"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/pkg/errors"
)

func vote(user, action string) *repository.WorkflowAction {
	return &repository.WorkflowAction{UserID: user, Action: action}
}

func systemAction(action string) *repository.WorkflowAction {
	return &repository.WorkflowAction{UserID: "system", Action: action, IsSystem: true}
}

func TestDecideOutcome(t *testing.T) {
	tests := []struct {
		name         string
		approvalType string
		actors       []string
		actions      []*repository.WorkflowAction
		want         outcome
	}{
		{
			name:         "single approve decides",
			approvalType: repository.ApprovalSingle,
			actors:       []string{"u1", "u2"},
			actions:      []*repository.WorkflowAction{vote("u1", repository.ActionApprove)},
			want:         outcomeApproved,
		},
		{
			name:         "single reject decides",
			approvalType: repository.ApprovalSingle,
			actors:       []string{"u1", "u2"},
			actions:      []*repository.WorkflowAction{vote("u2", repository.ActionReject)},
			want:         outcomeRejected,
		},
		{
			name:         "single first vote wins in ledger order",
			approvalType: repository.ApprovalSingle,
			actors:       []string{"u1", "u2"},
			actions: []*repository.WorkflowAction{
				vote("u1", repository.ActionReject),
				vote("u2", repository.ActionApprove),
			},
			want: outcomeRejected,
		},
		{
			name:         "single no votes stays pending",
			approvalType: repository.ApprovalSingle,
			actors:       []string{"u1"},
			actions:      nil,
			want:         outcomeNone,
		},
		{
			name:         "all requires every actor",
			approvalType: repository.ApprovalAll,
			actors:       []string{"u1", "u2", "u3"},
			actions: []*repository.WorkflowAction{
				vote("u1", repository.ActionApprove),
				vote("u2", repository.ActionApprove),
			},
			want: outcomeNone,
		},
		{
			name:         "all complete approves",
			approvalType: repository.ApprovalAll,
			actors:       []string{"u1", "u2"},
			actions: []*repository.WorkflowAction{
				vote("u1", repository.ActionApprove),
				vote("u2", repository.ActionApprove),
			},
			want: outcomeApproved,
		},
		{
			name:         "all one reject short-circuits",
			approvalType: repository.ApprovalAll,
			actors:       []string{"u1", "u2", "u3"},
			actions:      []*repository.WorkflowAction{vote("u2", repository.ActionReject)},
			want:         outcomeRejected,
		},
		{
			name:         "all n-1 approvals then one reject rejects",
			approvalType: repository.ApprovalAll,
			actors:       []string{"u1", "u2", "u3"},
			actions: []*repository.WorkflowAction{
				vote("u1", repository.ActionApprove),
				vote("u2", repository.ActionApprove),
				vote("u3", repository.ActionReject),
			},
			want: outcomeRejected,
		},
		{
			name:         "all with zero actors never auto-approves",
			approvalType: repository.ApprovalAll,
			actors:       nil,
			actions:      nil,
			want:         outcomeNone,
		},
		{
			name:         "majority of three needs two",
			approvalType: repository.ApprovalMajority,
			actors:       []string{"u1", "u2", "u3"},
			actions:      []*repository.WorkflowAction{vote("u1", repository.ActionApprove)},
			want:         outcomeNone,
		},
		{
			name:         "majority of three approves with two",
			approvalType: repository.ApprovalMajority,
			actors:       []string{"u1", "u2", "u3"},
			actions: []*repository.WorkflowAction{
				vote("u1", repository.ActionApprove),
				vote("u3", repository.ActionApprove),
			},
			want: outcomeApproved,
		},
		{
			name:         "majority of two is strictly more than half",
			approvalType: repository.ApprovalMajority,
			actors:       []string{"u1", "u2"},
			actions:      []*repository.WorkflowAction{vote("u1", repository.ActionApprove)},
			want:         outcomeNone,
		},
		{
			name:         "majority rejects with two of three",
			approvalType: repository.ApprovalMajority,
			actors:       []string{"u1", "u2", "u3"},
			actions: []*repository.WorkflowAction{
				vote("u1", repository.ActionReject),
				vote("u2", repository.ActionReject),
			},
			want: outcomeRejected,
		},
		{
			name:         "system actions never count as votes",
			approvalType: repository.ApprovalSingle,
			actors:       []string{"u1"},
			actions:      []*repository.WorkflowAction{systemAction(repository.ActionEscalate)},
			want:         outcomeNone,
		},
		{
			name:         "delegate actions never count as votes",
			approvalType: repository.ApprovalAll,
			actors:       []string{"u1"},
			actions: []*repository.WorkflowAction{
				vote("u1", repository.ActionDelegate),
			},
			want: outcomeNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decideOutcome(tt.approvalType, tt.actors, tt.actions)
			if got != tt.want {
				t.Errorf("decideOutcome() = %v, want %v", got, tt.want)
			}
		})
	}
}

func makeStep(id string, order int, onApprove, onReject, onEscalate repository.TransitionTarget) *repository.WorkflowStep {
	return &repository.WorkflowStep{
		ID:                 id,
		StepOrder:          order,
		Name:               "step " + id,
		AssignmentType:     repository.AssignmentRole,
		AssignmentTarget:   "approver",
		ApprovalType:       repository.ApprovalSingle,
		RequiredPermission: "approve",
		OnApprove:          onApprove,
		OnReject:           onReject,
		OnEscalate:         onEscalate,
	}
}

func TestWalkTarget(t *testing.T) {
	amountGate := &repository.Condition{Field: "amount", Op: "gt", Value: 1000}

	s1 := makeStep("s1", 1, "s2", "rejected", "s2")
	s2 := makeStep("s2", 2, "approved", "rejected", "approved")
	s2.Condition = amountGate
	g := newStepGraph([]*repository.WorkflowStep{s1, s2})

	t.Run("terminal target ends the walk", func(t *testing.T) {
		step, status, skipped, err := walkTarget(g, "approved", nil)
		if err != nil {
			t.Fatalf("walkTarget() error = %v", err)
		}
		if step != nil || status != repository.InstanceStatusApproved || len(skipped) != 0 {
			t.Errorf("walkTarget() = (%v, %q, %d skipped)", step, status, len(skipped))
		}
	})

	t.Run("enters step whose condition holds", func(t *testing.T) {
		step, status, skipped, err := walkTarget(g, "s2", map[string]any{"amount": 5000})
		if err != nil {
			t.Fatalf("walkTarget() error = %v", err)
		}
		if step == nil || step.ID != "s2" || status != "" || len(skipped) != 0 {
			t.Errorf("walkTarget() = (%v, %q, %d skipped)", step, status, len(skipped))
		}
	})

	t.Run("auto-skips step whose condition fails", func(t *testing.T) {
		step, status, skipped, err := walkTarget(g, "s2", map[string]any{"amount": 50})
		if err != nil {
			t.Fatalf("walkTarget() error = %v", err)
		}
		if step != nil || status != repository.InstanceStatusApproved {
			t.Errorf("walkTarget() = (%v, %q), want terminal approved", step, status)
		}
		if len(skipped) != 1 || skipped[0].Step.ID != "s2" {
			t.Errorf("walkTarget() skipped = %v, want [s2]", skipped)
		}
	})

	t.Run("unknown target is an internal error", func(t *testing.T) {
		_, _, _, err := walkTarget(g, "nope", nil)
		if errors.CodeOf(err) != errors.ErrCodeInternal {
			t.Errorf("walkTarget() error code = %v, want internal", errors.CodeOf(err))
		}
	})

	t.Run("cyclic skip chain is detected", func(t *testing.T) {
		never := &repository.Condition{Field: "missing", Op: "exists"}
		a := makeStep("a", 1, "b", "rejected", "b")
		a.Condition = never
		b := makeStep("b", 2, "a", "rejected", "a")
		b.Condition = never
		cg := newStepGraph([]*repository.WorkflowStep{a, b})

		_, _, _, err := walkTarget(cg, "a", nil)
		if err == nil {
			t.Error("walkTarget() expected cycle error, got nil")
		}
	})
}

func TestValidateGraph(t *testing.T) {
	valid := func() []*repository.WorkflowStep {
		return []*repository.WorkflowStep{
			makeStep("s1", 1, "s2", "rejected", "s2"),
			makeStep("s2", 2, "approved", "rejected", "approved"),
		}
	}

	tests := []struct {
		name    string
		mutate  func(steps []*repository.WorkflowStep) []*repository.WorkflowStep
		wantErr bool
	}{
		{
			name:    "valid two-step graph",
			mutate:  func(s []*repository.WorkflowStep) []*repository.WorkflowStep { return s },
			wantErr: false,
		},
		{
			name:    "empty graph",
			mutate:  func(_ []*repository.WorkflowStep) []*repository.WorkflowStep { return nil },
			wantErr: true,
		},
		{
			name: "duplicate step order",
			mutate: func(s []*repository.WorkflowStep) []*repository.WorkflowStep {
				s[1].StepOrder = s[0].StepOrder
				return s
			},
			wantErr: true,
		},
		{
			name: "dangling transition target",
			mutate: func(s []*repository.WorkflowStep) []*repository.WorkflowStep {
				s[0].OnApprove = "ghost"
				return s
			},
			wantErr: true,
		},
		{
			name: "unset transition target",
			mutate: func(s []*repository.WorkflowStep) []*repository.WorkflowStep {
				s[1].OnEscalate = ""
				return s
			},
			wantErr: true,
		},
		{
			name: "unknown assignment type",
			mutate: func(s []*repository.WorkflowStep) []*repository.WorkflowStep {
				s[0].AssignmentType = "committee"
				return s
			},
			wantErr: true,
		},
		{
			name: "unknown dynamic target",
			mutate: func(s []*repository.WorkflowStep) []*repository.WorkflowStep {
				s[0].AssignmentType = repository.AssignmentDynamic
				s[0].AssignmentTarget = "office_dog"
				return s
			},
			wantErr: true,
		},
		{
			name: "valid dynamic target",
			mutate: func(s []*repository.WorkflowStep) []*repository.WorkflowStep {
				s[0].AssignmentType = repository.AssignmentDynamic
				s[0].AssignmentTarget = repository.DynamicDirectManager
				return s
			},
			wantErr: false,
		},
		{
			name: "unknown approval type",
			mutate: func(s []*repository.WorkflowStep) []*repository.WorkflowStep {
				s[1].ApprovalType = "consensus"
				return s
			},
			wantErr: true,
		},
		{
			name: "missing required permission",
			mutate: func(s []*repository.WorkflowStep) []*repository.WorkflowStep {
				s[0].RequiredPermission = ""
				return s
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateGraph(tt.mutate(valid()))
			if (err != nil) != tt.wantErr {
				t.Errorf("validateGraph() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && errors.CodeOf(err) != errors.ErrCodeInvalidInput {
				t.Errorf("validateGraph() error code = %v, want invalid input", errors.CodeOf(err))
			}
		})
	}
}

// Two-step chain: S1 (single, role) then S2 (all, two actors). Drives the
// decision and transition machinery through a full approval without storage.
func TestTwoStepApprovalChain(t *testing.T) {
	s1 := makeStep("s1", 1, "s2", "rejected", "s2")
	s2 := makeStep("s2", 2, "approved", "rejected", "approved")
	s2.ApprovalType = repository.ApprovalAll
	g := newStepGraph([]*repository.WorkflowStep{s1, s2})

	// A single reviewer approves S1.
	o := decideOutcome(s1.ApprovalType, []string{"reviewer-1", "reviewer-2"},
		[]*repository.WorkflowAction{vote("reviewer-1", repository.ActionApprove)})
	if o != outcomeApproved {
		t.Fatalf("S1 outcome = %v, want approved", o)
	}

	next, status, _, err := walkTarget(g, transitionFor(s1, o), nil)
	if err != nil {
		t.Fatalf("walkTarget() error = %v", err)
	}
	if next == nil || next.ID != "s2" || status != "" {
		t.Fatalf("after S1: step = %v, status = %q, want s2", next, status)
	}

	// First of two finance actors approves: not decisive yet.
	finance := []string{"fin-1", "fin-2"}
	actions := []*repository.WorkflowAction{vote("fin-1", repository.ActionApprove)}
	if o := decideOutcome(s2.ApprovalType, finance, actions); o != outcomeNone {
		t.Fatalf("S2 after one approval = %v, want pending", o)
	}

	// Second approval completes the step and the instance.
	actions = append(actions, vote("fin-2", repository.ActionApprove))
	o = decideOutcome(s2.ApprovalType, finance, actions)
	if o != outcomeApproved {
		t.Fatalf("S2 after both approvals = %v, want approved", o)
	}

	next, status, _, err = walkTarget(g, transitionFor(s2, o), nil)
	if err != nil {
		t.Fatalf("walkTarget() error = %v", err)
	}
	if next != nil || status != repository.InstanceStatusApproved {
		t.Errorf("after S2: step = %v, status = %q, want terminal approved", next, status)
	}
}

func TestTransitionFor(t *testing.T) {
	step := makeStep("s1", 1, "s2", "rejected", "s3")

	if got := transitionFor(step, outcomeApproved); got != "s2" {
		t.Errorf("transitionFor(approved) = %q, want s2", got)
	}
	if got := transitionFor(step, outcomeRejected); got != "rejected" {
		t.Errorf("transitionFor(rejected) = %q, want rejected", got)
	}
	if got := transitionFor(step, outcomeNone); got != "" {
		t.Errorf("transitionFor(none) = %q, want empty", got)
	}
}
