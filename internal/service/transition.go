package service

import (
	"fmt"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/pkg/errors"
)

// outcome is the decisive result of accumulated actions on one execution.
type outcome int

const (
	outcomeNone outcome = iota // execution stays pending
	outcomeApproved
	outcomeRejected
)

// decideOutcome applies a step's approval type to the actions collected on
// its execution.
//
//   - single: the first approve or reject decides.
//   - all: one reject decides immediately; approval requires every resolved
//     actor to have approved.
//   - majority: strictly more than half of the resolved actors voting the
//     same way decides.
//
// Delegate and system actions never count as votes.
func decideOutcome(approvalType string, actors []string, actions []*repository.WorkflowAction) outcome {
	approvals := 0
	rejections := 0
	for _, a := range actions {
		if a.IsSystem {
			continue
		}
		switch a.Action {
		case repository.ActionApprove:
			approvals++
		case repository.ActionReject:
			rejections++
		}
	}

	switch approvalType {
	case repository.ApprovalSingle:
		// First decisive vote wins; scan in ledger order.
		for _, a := range actions {
			if a.IsSystem {
				continue
			}
			switch a.Action {
			case repository.ActionApprove:
				return outcomeApproved
			case repository.ActionReject:
				return outcomeRejected
			}
		}
		return outcomeNone

	case repository.ApprovalAll:
		if rejections > 0 {
			return outcomeRejected
		}
		if len(actors) > 0 && approvals >= len(actors) {
			return outcomeApproved
		}
		return outcomeNone

	case repository.ApprovalMajority:
		threshold := len(actors)/2 + 1
		if len(actors) == 0 {
			return outcomeNone
		}
		if approvals >= threshold {
			return outcomeApproved
		}
		if rejections >= threshold {
			return outcomeRejected
		}
		return outcomeNone

	default:
		return outcomeNone
	}
}

// transitionFor maps a decisive outcome to the step's configured target.
func transitionFor(step *repository.WorkflowStep, o outcome) repository.TransitionTarget {
	switch o {
	case outcomeApproved:
		return step.OnApprove
	case outcomeRejected:
		return step.OnReject
	default:
		return ""
	}
}

// stepGraph indexes a definition's steps by ID for transition walks.
type stepGraph struct {
	steps   map[string]*repository.WorkflowStep
	ordered []*repository.WorkflowStep
}

func newStepGraph(steps []*repository.WorkflowStep) *stepGraph {
	g := &stepGraph{steps: make(map[string]*repository.WorkflowStep, len(steps)), ordered: steps}
	for _, s := range steps {
		g.steps[s.ID] = s
	}
	return g
}

// first returns the entry step (lowest step_order).
func (g *stepGraph) first() *repository.WorkflowStep {
	if len(g.ordered) == 0 {
		return nil
	}
	return g.ordered[0]
}

// step resolves a step ID.
func (g *stepGraph) step(id string) *repository.WorkflowStep {
	return g.steps[id]
}

// skippedStep records one auto-skipped step during a transition walk.
type skippedStep struct {
	Step *repository.WorkflowStep
}

// walkTarget follows a transition target through any steps whose condition
// evaluates false against the instance data, auto-skipping them along their
// on_approve edge. It returns the step to enter (nil when the walk ended on
// a terminal status), the terminal status ("" otherwise), and the steps
// skipped on the way.
//
// The walk is bounded by the number of steps in the graph; a longer path
// means a cycle, which publish-time validation should have rejected.
func walkTarget(g *stepGraph, target repository.TransitionTarget, data map[string]any) (*repository.WorkflowStep, string, []skippedStep, error) {
	var skipped []skippedStep

	for hops := 0; hops <= len(g.ordered); hops++ {
		if target.IsTerminal() {
			return nil, string(target), skipped, nil
		}

		step := g.step(target.StepID())
		if step == nil {
			return nil, "", nil, errors.New(errors.ErrCodeInternal,
				fmt.Sprintf("transition target references unknown step %q", target.StepID()))
		}

		if evalCondition(step.Condition, data) {
			return step, "", skipped, nil
		}

		skipped = append(skipped, skippedStep{Step: step})
		target = step.OnApprove
	}

	return nil, "", nil, errors.New(errors.ErrCodeInternal, "transition walk exceeded step count; definition has a cycle")
}

// validateGraph checks a definition's step graph before publishing: at least
// one step, unique orders, every transition target either terminal or an
// existing step, and valid assignment/approval kinds. Misconfiguration is
// fatal here and can therefore never surface at runtime.
func validateGraph(steps []*repository.WorkflowStep) error {
	if len(steps) == 0 {
		return errors.InvalidInput("steps", "definition has no steps")
	}

	byID := make(map[string]bool, len(steps))
	byOrder := make(map[int]bool, len(steps))
	for _, s := range steps {
		if byID[s.ID] {
			return errors.InvalidInput("steps", fmt.Sprintf("duplicate step id %q", s.ID))
		}
		byID[s.ID] = true

		if byOrder[s.StepOrder] {
			return errors.InvalidInput("steps", fmt.Sprintf("duplicate step order %d", s.StepOrder))
		}
		byOrder[s.StepOrder] = true
	}

	for _, s := range steps {
		switch s.AssignmentType {
		case repository.AssignmentRole, repository.AssignmentTeam, repository.AssignmentUser:
			if s.AssignmentTarget == "" {
				return errors.InvalidInput("steps", fmt.Sprintf("step %q has empty assignment target", s.Name))
			}
		case repository.AssignmentDynamic:
			switch s.AssignmentTarget {
			case repository.DynamicDirectManager, repository.DynamicDepartmentHead, repository.DynamicBranchManager:
			default:
				return errors.InvalidInput("steps",
					fmt.Sprintf("step %q has unknown dynamic target %q", s.Name, s.AssignmentTarget))
			}
		default:
			return errors.InvalidInput("steps",
				fmt.Sprintf("step %q has unknown assignment type %q", s.Name, s.AssignmentType))
		}

		switch s.ApprovalType {
		case repository.ApprovalSingle, repository.ApprovalAll, repository.ApprovalMajority:
		default:
			return errors.InvalidInput("steps",
				fmt.Sprintf("step %q has unknown approval type %q", s.Name, s.ApprovalType))
		}

		if s.RequiredPermission == "" {
			return errors.InvalidInput("steps", fmt.Sprintf("step %q has no required permission", s.Name))
		}

		for _, target := range []repository.TransitionTarget{s.OnApprove, s.OnReject, s.OnEscalate} {
			if target == "" {
				return errors.InvalidInput("steps",
					fmt.Sprintf("step %q has an unset transition target", s.Name))
			}
			if !target.IsTerminal() && !byID[target.StepID()] {
				return errors.InvalidInput("steps",
					fmt.Sprintf("step %q transition target %q does not exist", s.Name, target))
			}
		}
	}

	return nil
}
