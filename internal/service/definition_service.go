package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/pkg/errors"
	"github.com/pesio-ai/be-plt-approvals/pkg/logger"
)

// DefinitionService manages workflow definitions and validates step graphs
// before they accept instances.
type DefinitionService struct {
	definitionRepo *repository.DefinitionRepository
	permRepo       *repository.PermissionRepository
	log            *logger.Logger
}

// NewDefinitionService creates a new DefinitionService.
func NewDefinitionService(
	definitionRepo *repository.DefinitionRepository,
	permRepo *repository.PermissionRepository,
	log *logger.Logger,
) *DefinitionService {
	return &DefinitionService{definitionRepo: definitionRepo, permRepo: permRepo, log: log}
}

// CreateDefinitionRequest carries a definition and its steps in one payload.
// Step transition targets may reference other steps by their Ref, which is
// rewritten to the generated step ID before persisting.
type CreateDefinitionRequest struct {
	EntityID     string                `json:"entity_id"`
	Code         string                `json:"code"`
	Name         string                `json:"name"`
	EntityType   string                `json:"entity_type"`
	TriggerEvent string                `json:"trigger_event"`
	ModuleCode   string                `json:"module_code"`
	Condition    *repository.Condition `json:"condition,omitempty"`
	CreatedBy    string                `json:"created_by"`
	Steps        []CreateStepRequest   `json:"steps"`
}

// CreateStepRequest is one step in a CreateDefinitionRequest.
type CreateStepRequest struct {
	Ref                string                `json:"ref"` // local handle used by transition targets
	StepOrder          int                   `json:"step_order"`
	Name               string                `json:"name"`
	AssignmentType     string                `json:"assignment_type"`
	AssignmentTarget   string                `json:"assignment_target"`
	ApprovalType       string                `json:"approval_type"`
	RequiredPermission string                `json:"required_permission"`
	StageCode          *string               `json:"stage_code,omitempty"`
	TimeLimitHours     *int                  `json:"time_limit_hours,omitempty"`
	Condition          *repository.Condition `json:"condition,omitempty"`
	OnApprove          string                `json:"on_approve"` // step ref or terminal status
	OnReject           string                `json:"on_reject"`
	OnEscalate         string                `json:"on_escalate"`
}

// CreateDefinition creates an unpublished definition with its step graph.
// The graph is validated here as well so misconfigurations surface to the
// author immediately, and again at publish time.
func (s *DefinitionService) CreateDefinition(ctx context.Context, req *CreateDefinitionRequest) (*repository.WorkflowDefinition, []*repository.WorkflowStep, error) {
	if req.Code == "" || req.EntityType == "" {
		return nil, nil, errors.InvalidInput("definition", "code and entity_type are required")
	}
	if req.ModuleCode == "" {
		return nil, nil, errors.InvalidInput("module_code", "module code is required")
	}
	if len(req.Steps) == 0 {
		return nil, nil, errors.InvalidInput("steps", "definition requires at least one step")
	}

	if _, err := s.permRepo.GetModuleByCode(ctx, req.ModuleCode); err != nil {
		return nil, nil, err
	}
	for _, step := range req.Steps {
		if step.StageCode == nil {
			continue
		}
		if _, err := s.permRepo.GetStageByCode(ctx, req.ModuleCode, *step.StageCode); err != nil {
			return nil, nil, err
		}
	}

	steps, err := buildSteps(req.Steps)
	if err != nil {
		return nil, nil, err
	}
	if err := validateGraph(steps); err != nil {
		return nil, nil, err
	}

	version := 1
	if existing, err := s.definitionRepo.GetActiveByCode(ctx, req.EntityID, req.Code); err != nil {
		return nil, nil, err
	} else if existing != nil {
		version = existing.Version + 1
	}

	def := &repository.WorkflowDefinition{
		EntityID:     req.EntityID,
		Code:         req.Code,
		Name:         req.Name,
		EntityType:   req.EntityType,
		TriggerEvent: req.TriggerEvent,
		ModuleCode:   req.ModuleCode,
		Condition:    req.Condition,
		Version:      version,
		IsActive:     true,
		CreatedBy:    req.CreatedBy,
	}

	if err := s.definitionRepo.Create(ctx, def, steps); err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("definition_id", def.ID).
		Str("code", def.Code).
		Int("version", def.Version).
		Int("steps", len(steps)).
		Msg("Workflow definition created")

	return def, steps, nil
}

// Publish validates the step graph and marks the definition published.
// Once published a definition is immutable; corrections require a new
// version.
func (s *DefinitionService) Publish(ctx context.Context, definitionID string) error {
	def, err := s.definitionRepo.GetByID(ctx, definitionID)
	if err != nil {
		return err
	}
	if def.IsPublished {
		return errors.Conflict("definition is already published")
	}

	steps, err := s.definitionRepo.GetSteps(ctx, definitionID)
	if err != nil {
		return err
	}
	if err := validateGraph(steps); err != nil {
		return err
	}

	if err := s.definitionRepo.MarkPublished(ctx, definitionID); err != nil {
		return err
	}

	s.log.Info().
		Str("definition_id", definitionID).
		Str("code", def.Code).
		Int("version", def.Version).
		Msg("Workflow definition published")

	return nil
}

// List returns all definitions for an entity.
func (s *DefinitionService) List(ctx context.Context, entityID string) ([]*repository.WorkflowDefinition, error) {
	return s.definitionRepo.List(ctx, entityID)
}

// buildSteps assigns step IDs and rewrites ref-based transition targets to
// the generated IDs.
func buildSteps(reqs []CreateStepRequest) ([]*repository.WorkflowStep, error) {
	idByRef := make(map[string]string, len(reqs))
	for _, req := range reqs {
		if req.Ref == "" {
			return nil, errors.InvalidInput("steps", "every step requires a ref")
		}
		if _, dup := idByRef[req.Ref]; dup {
			return nil, errors.InvalidInput("steps", "duplicate step ref "+req.Ref)
		}
		idByRef[req.Ref] = uuid.New().String()
	}

	resolve := func(target string) (repository.TransitionTarget, error) {
		t := repository.TransitionTarget(target)
		if t.IsTerminal() {
			return t, nil
		}
		id, ok := idByRef[target]
		if !ok {
			return "", errors.InvalidInput("steps", "transition target references unknown step ref "+target)
		}
		return repository.TransitionTarget(id), nil
	}

	steps := make([]*repository.WorkflowStep, 0, len(reqs))
	for _, req := range reqs {
		onApprove, err := resolve(req.OnApprove)
		if err != nil {
			return nil, err
		}
		onReject, err := resolve(req.OnReject)
		if err != nil {
			return nil, err
		}
		onEscalate, err := resolve(req.OnEscalate)
		if err != nil {
			return nil, err
		}

		steps = append(steps, &repository.WorkflowStep{
			ID:                 idByRef[req.Ref],
			StepOrder:          req.StepOrder,
			Name:               req.Name,
			AssignmentType:     req.AssignmentType,
			AssignmentTarget:   req.AssignmentTarget,
			ApprovalType:       req.ApprovalType,
			RequiredPermission: req.RequiredPermission,
			StageCode:          req.StageCode,
			TimeLimitHours:     req.TimeLimitHours,
			Condition:          req.Condition,
			OnApprove:          onApprove,
			OnReject:           onReject,
			OnEscalate:         onEscalate,
		})
	}
	return steps, nil
}
