package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/pkg/errors"
	"github.com/pesio-ai/be-plt-approvals/pkg/logger"
)

// ActorService resolves a step's assignment spec into the concrete set of
// users who must act, then substitutes active delegates for delegators.
type ActorService struct {
	directoryRepo  *repository.DirectoryRepository
	delegationRepo *repository.DelegationRepository
	permService    *PermissionService
	log            *logger.Logger
}

// NewActorService creates a new ActorService.
func NewActorService(
	directoryRepo *repository.DirectoryRepository,
	delegationRepo *repository.DelegationRepository,
	permService *PermissionService,
	log *logger.Logger,
) *ActorService {
	return &ActorService{
		directoryRepo:  directoryRepo,
		delegationRepo: delegationRepo,
		permService:    permService,
		log:            log,
	}
}

// ResolveActors returns the delegation-adjusted actor set for a step of the
// given instance. An empty result is not an error: the engine creates the
// execution anyway and leaves it escalation-eligible.
func (s *ActorService) ResolveActors(
	ctx context.Context,
	def *repository.WorkflowDefinition,
	step *repository.WorkflowStep,
	inst *repository.WorkflowInstance,
) ([]string, error) {
	candidates, err := s.resolveAssignment(ctx, def, step, inst)
	if err != nil {
		return nil, err
	}

	// Role and team pools are filtered down to users the resolver actually
	// authorizes for the step's required permission. Specific-user and
	// dynamic assignments are taken as configured; the permission gate still
	// applies when the user acts.
	if step.AssignmentType == repository.AssignmentRole || step.AssignmentType == repository.AssignmentTeam {
		candidates, err = s.filterByPermission(ctx, def, step, inst, candidates)
		if err != nil {
			return nil, err
		}
	}

	delegations, err := s.delegationRepo.ActiveAt(ctx, inst.EntityID, time.Now())
	if err != nil {
		return nil, err
	}

	actors := applyDelegations(candidates, delegations, def.ID)

	if len(actors) == 0 {
		s.log.Warn().
			Str("instance_id", inst.ID).
			Str("step_id", step.ID).
			Str("assignment_type", step.AssignmentType).
			Str("assignment_target", step.AssignmentTarget).
			Msg("Step resolved to empty actor set; execution will be escalation-eligible")
	}

	return actors, nil
}

func (s *ActorService) resolveAssignment(
	ctx context.Context,
	def *repository.WorkflowDefinition,
	step *repository.WorkflowStep,
	inst *repository.WorkflowInstance,
) ([]string, error) {
	switch step.AssignmentType {
	case repository.AssignmentRole:
		return s.directoryRepo.GetUsersWithRole(ctx, inst.EntityID, step.AssignmentTarget)

	case repository.AssignmentTeam:
		return s.directoryRepo.GetTeamMembers(ctx, step.AssignmentTarget)

	case repository.AssignmentUser:
		return []string{step.AssignmentTarget}, nil

	case repository.AssignmentDynamic:
		return s.resolveDynamic(ctx, step.AssignmentTarget, inst)

	default:
		// Unreachable for published definitions; validateGraph rejects
		// unknown kinds at publish time.
		return nil, errors.New(errors.ErrCodeInternal,
			fmt.Sprintf("unknown assignment type %q", step.AssignmentType))
	}
}

// resolveDynamic resolves organization-structure assignments against the
// submitting user and the instance's data bag.
func (s *ActorService) resolveDynamic(ctx context.Context, target string, inst *repository.WorkflowInstance) ([]string, error) {
	switch target {
	case repository.DynamicDirectManager:
		user, err := s.directoryRepo.GetUser(ctx, inst.StartedBy)
		if err != nil {
			return nil, err
		}
		if user.ManagerID == nil {
			return nil, nil
		}
		return []string{*user.ManagerID}, nil

	case repository.DynamicDepartmentHead:
		departmentID := stringField(inst.Data, "department_id")
		if departmentID == "" {
			// Fall back to the submitter's own department.
			user, err := s.directoryRepo.GetUser(ctx, inst.StartedBy)
			if err != nil {
				return nil, err
			}
			if user.DepartmentID == nil {
				return nil, nil
			}
			departmentID = *user.DepartmentID
		}
		head, err := s.directoryRepo.GetDepartmentHead(ctx, departmentID)
		if err != nil {
			return nil, err
		}
		if head == nil {
			return nil, nil
		}
		return []string{*head}, nil

	case repository.DynamicBranchManager:
		branchID := stringField(inst.Data, "branch_id")
		if branchID == "" {
			user, err := s.directoryRepo.GetUser(ctx, inst.StartedBy)
			if err != nil {
				return nil, err
			}
			if user.BranchID == nil {
				return nil, nil
			}
			branchID = *user.BranchID
		}
		manager, err := s.directoryRepo.GetBranchManager(ctx, branchID)
		if err != nil {
			return nil, err
		}
		if manager == nil {
			return nil, nil
		}
		return []string{*manager}, nil

	default:
		return nil, errors.New(errors.ErrCodeInternal,
			fmt.Sprintf("unknown dynamic assignment target %q", target))
	}
}

func (s *ActorService) filterByPermission(
	ctx context.Context,
	def *repository.WorkflowDefinition,
	step *repository.WorkflowStep,
	inst *repository.WorkflowInstance,
	candidates []string,
) ([]string, error) {
	ref := &EntityRef{Kind: inst.EntityType, ID: inst.EntityRef}

	var allowed []string
	for _, userID := range candidates {
		granted, _, err := s.permService.Can(ctx, inst.EntityID, userID, def.ModuleCode, step.StageCode, step.RequiredPermission, ref)
		if err != nil {
			return nil, err
		}
		if granted {
			allowed = append(allowed, userID)
		}
	}
	return allowed, nil
}

// ── Delegation management ─────────────────────────────────────────────────────

// CreateDelegation records a standing delegation after rejecting overlapping
// windows for the same delegator/scope and any cycle through existing
// delegations whose windows intersect the new one.
func (s *ActorService) CreateDelegation(ctx context.Context, d *repository.Delegation) (*repository.Delegation, error) {
	if d.FromUserID == d.ToUserID {
		return nil, errors.InvalidInput("to_user_id", "cannot delegate to oneself")
	}
	if !d.EndDate.After(d.StartDate) {
		return nil, errors.InvalidInput("end_date", "delegation window must end after it starts")
	}
	switch d.Scope {
	case repository.DelegationScopeGlobal:
	case repository.DelegationScopeDefinition:
		if d.DefinitionID == nil {
			return nil, errors.InvalidInput("definition_id", "definition-scoped delegation requires a definition id")
		}
	default:
		return nil, errors.InvalidInput("scope", "scope must be definition or global")
	}

	overlapping, err := s.delegationRepo.OverlappingWindows(ctx, d.EntityID, d.FromUserID, d.Scope, d.StartDate, d.EndDate)
	if err != nil {
		return nil, err
	}
	if len(overlapping) > 0 {
		return nil, errors.Conflict("an active delegation with an overlapping window already exists for this user and scope")
	}

	existing, err := s.delegationRepo.ActiveInWindow(ctx, d.EntityID, d.StartDate, d.EndDate)
	if err != nil {
		return nil, err
	}
	if delegationCreatesCycle(existing, d.FromUserID, d.ToUserID) {
		return nil, errors.Conflict("delegation would create a cycle")
	}

	d.IsActive = true
	if err := s.delegationRepo.Create(ctx, d); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("delegation_id", d.ID).
		Str("from_user", d.FromUserID).
		Str("to_user", d.ToUserID).
		Str("scope", d.Scope).
		Time("start", d.StartDate).
		Time("end", d.EndDate).
		Msg("Delegation created")

	return d, nil
}

// RevokeDelegation deactivates a delegation; only the delegator may revoke.
func (s *ActorService) RevokeDelegation(ctx context.Context, id, revokedBy string) error {
	d, err := s.delegationRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if d.FromUserID != revokedBy {
		return errors.Forbidden("only the delegator can revoke a delegation")
	}
	return s.delegationRepo.Revoke(ctx, id, revokedBy)
}

// ListDelegations returns delegations involving a user.
func (s *ActorService) ListDelegations(ctx context.Context, entityID, userID string) ([]*repository.Delegation, error) {
	return s.delegationRepo.ListForUser(ctx, entityID, userID)
}

// ── Pure helpers ──────────────────────────────────────────────────────────────

// applyDelegations substitutes the delegate for each actor with an active
// matching delegation. Substitution is applied exactly once: a delegate's
// own delegations are never chased, which bounds resolution depth and keeps
// cycles from mattering at resolution time.
func applyDelegations(actors []string, delegations []*repository.Delegation, definitionID string) []string {
	if len(actors) == 0 {
		return nil
	}

	byDelegator := make(map[string]string, len(delegations))
	for _, d := range delegations {
		if d.Scope == repository.DelegationScopeDefinition &&
			(d.DefinitionID == nil || *d.DefinitionID != definitionID) {
			continue
		}
		// A definition-scoped delegation beats a global one for the same
		// delegator.
		if prev, ok := byDelegator[d.FromUserID]; ok && prev != "" && d.Scope == repository.DelegationScopeGlobal {
			continue
		}
		byDelegator[d.FromUserID] = d.ToUserID
	}

	seen := make(map[string]bool, len(actors))
	var out []string
	for _, actor := range actors {
		resolved := actor
		if delegate, ok := byDelegator[actor]; ok {
			resolved = delegate
		}
		if !seen[resolved] {
			seen[resolved] = true
			out = append(out, resolved)
		}
	}
	sort.Strings(out)
	return out
}

// delegationCreatesCycle reports whether adding from→to would close a loop
// through the existing delegation edges back to the delegator.
func delegationCreatesCycle(existing []*repository.Delegation, fromUserID, toUserID string) bool {
	edges := make(map[string][]string, len(existing))
	for _, d := range existing {
		edges[d.FromUserID] = append(edges[d.FromUserID], d.ToUserID)
	}

	visited := map[string]bool{}
	queue := []string{toUserID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == fromUserID {
			return true
		}
		if visited[current] {
			continue
		}
		visited[current] = true
		queue = append(queue, edges[current]...)
	}
	return false
}

func stringField(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
