package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/metrics"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/pkg/errors"
	"github.com/pesio-ai/be-plt-approvals/pkg/logger"
)

// Notification event kinds emitted to the external delivery collaborator.
const (
	EventAssigned  = "assigned"
	EventEscalated = "escalated"
	EventCompleted = "completed"
)

// NotificationPublisherInterface delivers workflow events to the external
// notification service. Publishing must never fail the caller.
type NotificationPublisherInterface interface {
	PublishWorkflowEvent(ctx context.Context, eventType, entityID, instanceID, stepID string, recipients []string, payload map[string]any)
}

// WorkflowService is the instance engine: it owns the runtime state of
// workflow runs and drives transitions using the step graph, the actor
// resolver and the permission resolver.
type WorkflowService struct {
	instanceRepo   *repository.InstanceRepository
	definitionRepo *repository.DefinitionRepository
	actionRepo     *repository.ActionRepository
	actorService   *ActorService
	permService    *PermissionService
	notifier       NotificationPublisherInterface
	metrics        *metrics.Metrics
	log            *logger.Logger
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(
	instanceRepo *repository.InstanceRepository,
	definitionRepo *repository.DefinitionRepository,
	actionRepo *repository.ActionRepository,
	actorService *ActorService,
	permService *PermissionService,
	notifier NotificationPublisherInterface,
	m *metrics.Metrics,
	log *logger.Logger,
) *WorkflowService {
	return &WorkflowService{
		instanceRepo:   instanceRepo,
		definitionRepo: definitionRepo,
		actionRepo:     actionRepo,
		actorService:   actorService,
		permService:    permService,
		notifier:       notifier,
		metrics:        m,
		log:            log,
	}
}

// ── Start ─────────────────────────────────────────────────────────────────────

// StartWorkflowRequest starts a workflow run against one business record.
type StartWorkflowRequest struct {
	EntityID       string         `json:"entity_id"`
	DefinitionCode string         `json:"definition_code"`
	EntityType     string         `json:"entity_type"`
	EntityRef      string         `json:"entity_ref"`
	Data           map[string]any `json:"data,omitempty"`
	StartedBy      string         `json:"started_by"`
}

// StartWorkflow creates an instance of the named definition for an entity
// and materializes its first step execution.
func (s *WorkflowService) StartWorkflow(ctx context.Context, req *StartWorkflowRequest) (*repository.WorkflowInstance, error) {
	if req.EntityType == "" || req.EntityRef == "" {
		return nil, errors.InvalidInput("entity", "entity_type and entity_ref are required")
	}

	existing, err := s.instanceRepo.GetActiveByEntity(ctx, req.EntityID, req.EntityType, req.EntityRef)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errors.Conflict(fmt.Sprintf("an active workflow already exists for %s/%s", req.EntityType, req.EntityRef))
	}

	def, err := s.definitionRepo.GetActiveByCode(ctx, req.EntityID, req.DefinitionCode)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, errors.NotFound("workflow_definition", req.DefinitionCode)
	}
	if def.EntityType != req.EntityType {
		return nil, errors.InvalidInput("entity_type",
			fmt.Sprintf("definition %s governs %s, not %s", def.Code, def.EntityType, req.EntityType))
	}
	if !evalCondition(def.Condition, req.Data) {
		return nil, errors.Conflict("definition activation condition not met for this entity")
	}

	steps, err := s.definitionRepo.GetSteps(ctx, def.ID)
	if err != nil {
		return nil, err
	}
	graph := newStepGraph(steps)
	first := graph.first()
	if first == nil {
		return nil, errors.New(errors.ErrCodeInternal, "published definition has no steps")
	}

	entry, terminal, skipped, err := walkTarget(graph, repository.TransitionTarget(first.ID), req.Data)
	if err != nil {
		return nil, err
	}

	inst := &repository.WorkflowInstance{
		DefinitionID: def.ID,
		EntityID:     req.EntityID,
		EntityType:   req.EntityType,
		EntityRef:    req.EntityRef,
		Status:       repository.InstanceStatusPending,
		Data:         req.Data,
		StartedBy:    req.StartedBy,
	}

	var actors []string
	if entry != nil {
		actors, err = s.actorService.ResolveActors(ctx, def, entry, inst)
		if err != nil {
			return nil, err
		}
	}

	var notify []pendingEvent
	err = s.instanceRepo.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.instanceRepo.CreateTx(ctx, tx, inst); err != nil {
			return err
		}

		if err := s.recordSkippedTx(ctx, tx, inst, skipped); err != nil {
			return err
		}

		if entry == nil {
			// Every step's condition evaluated false: the run completes
			// immediately along the terminal target.
			return s.finishInstanceTx(ctx, tx, inst, terminal, &notify)
		}

		if _, err := s.materializeExecutionTx(ctx, tx, inst, entry, actors, &notify); err != nil {
			return err
		}

		inst.CurrentStepID = &entry.ID
		inst.Status = repository.InstanceStatusInProgress
		return s.instanceRepo.UpdateStateTx(ctx, tx, inst.ID, inst.CurrentStepID, inst.Status, nil)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.InstancesStarted.Inc()
	s.publish(ctx, notify)

	s.log.Info().
		Str("instance_id", inst.ID).
		Str("definition_code", def.Code).
		Str("entity_type", inst.EntityType).
		Str("entity_ref", inst.EntityRef).
		Str("status", inst.Status).
		Msg("Workflow instance started")

	return inst, nil
}

// ── Submit action ─────────────────────────────────────────────────────────────

// SubmitActionRequest is one user's decision on the instance's active step.
type SubmitActionRequest struct {
	InstanceID string  `json:"instance_id"`
	UserID     string  `json:"user_id"`
	Action     string  `json:"action"` // approve | reject | delegate
	Comments   *string `json:"comments,omitempty"`
	DelegateTo string  `json:"delegate_to,omitempty"` // required for delegate
}

// ActionResult reports the effect of a submitted action.
type ActionResult struct {
	InstanceID     string  `json:"instance_id"`
	InstanceStatus string  `json:"instance_status"`
	ExecutionID    string  `json:"execution_id"`
	StepCompleted  bool    `json:"step_completed"`
	NextStepID     *string `json:"next_step_id,omitempty"`
}

// SubmitAction validates, records and applies one user action. The active
// execution row is locked for the duration of the decisiveness check and any
// resulting transition, so concurrent votes cannot double-advance the
// instance or miscount.
func (s *WorkflowService) SubmitAction(ctx context.Context, req *SubmitActionRequest) (*ActionResult, error) {
	switch req.Action {
	case repository.ActionApprove, repository.ActionReject:
	case repository.ActionDelegate:
		if req.DelegateTo == "" {
			return nil, errors.InvalidInput("delegate_to", "delegate target is required")
		}
	default:
		return nil, errors.InvalidInput("action", "action must be approve, reject or delegate")
	}
	if req.UserID == "" {
		return nil, errors.InvalidInput("user_id", "user id is required")
	}

	var result *ActionResult
	var notify []pendingEvent

	err := s.instanceRepo.InTransaction(ctx, func(tx pgx.Tx) error {
		inst, err := s.instanceRepo.GetByIDForUpdateTx(ctx, tx, req.InstanceID)
		if err != nil {
			return err
		}
		if inst.Status != repository.InstanceStatusInProgress && inst.Status != repository.InstanceStatusPending {
			return errors.Conflict(fmt.Sprintf("instance is not active (status: %s)", inst.Status))
		}

		exec, err := s.instanceRepo.GetActiveExecutionForUpdateTx(ctx, tx, inst.ID)
		if err != nil {
			return err
		}
		if exec == nil {
			return errors.Conflict("instance has no pending step execution")
		}

		if !contains(exec.Actors, req.UserID) {
			return errors.Unauthorized("user is not a resolved actor for the current step")
		}

		def, err := s.definitionRepo.GetByID(ctx, inst.DefinitionID)
		if err != nil {
			return err
		}
		step, err := s.definitionRepo.GetStepByID(ctx, exec.StepID)
		if err != nil {
			return err
		}

		granted, reason, err := s.permService.Can(ctx, inst.EntityID, req.UserID, def.ModuleCode,
			step.StageCode, step.RequiredPermission, &EntityRef{Kind: inst.EntityType, ID: inst.EntityRef})
		if err != nil {
			return err
		}
		if !granted {
			return errors.Forbidden(fmt.Sprintf("permission %s denied (%s)", step.RequiredPermission, reason))
		}

		actions, err := s.actionRepo.GetByExecutionTx(ctx, tx, exec.ID)
		if err != nil {
			return err
		}
		for _, a := range actions {
			if !a.IsSystem && a.UserID == req.UserID {
				return errors.Conflict("user has already acted on this step")
			}
		}

		action := &repository.WorkflowAction{
			ExecutionID: exec.ID,
			InstanceID:  inst.ID,
			StepID:      exec.StepID,
			UserID:      req.UserID,
			Action:      req.Action,
			Comments:    req.Comments,
		}

		if req.Action == repository.ActionDelegate {
			return s.applyStepDelegationTx(ctx, tx, inst, exec, action, req, &result)
		}

		if err := s.actionRepo.AppendTx(ctx, tx, action); err != nil {
			return err
		}
		actions = append(actions, action)

		o := decideOutcome(step.ApprovalType, exec.Actors, actions)
		if o == outcomeNone {
			result = &ActionResult{
				InstanceID:     inst.ID,
				InstanceStatus: inst.Status,
				ExecutionID:    exec.ID,
			}
			return nil
		}

		if err := s.instanceRepo.CompleteExecutionTx(ctx, tx, exec.ID, repository.ExecutionStatusCompleted, false); err != nil {
			return err
		}

		steps, err := s.definitionRepo.GetSteps(ctx, def.ID)
		if err != nil {
			return err
		}

		nextStepID, status, err := s.advanceTx(ctx, tx, inst, def, newStepGraph(steps), transitionFor(step, o), &notify)
		if err != nil {
			return err
		}

		result = &ActionResult{
			InstanceID:     inst.ID,
			InstanceStatus: status,
			ExecutionID:    exec.ID,
			StepCompleted:  true,
			NextStepID:     nextStepID,
		}
		return nil
	})
	if err != nil {
		s.metrics.ActionsTotal.WithLabelValues(req.Action, "rejected").Inc()
		return nil, err
	}

	s.metrics.ActionsTotal.WithLabelValues(req.Action, "applied").Inc()
	s.publish(ctx, notify)

	s.log.Info().
		Str("instance_id", req.InstanceID).
		Str("user_id", req.UserID).
		Str("action", req.Action).
		Bool("step_completed", result.StepCompleted).
		Str("instance_status", result.InstanceStatus).
		Msg("Workflow action applied")

	return result, nil
}

// applyStepDelegationTx hands the acting user's seat on one pending
// execution to another user. This is distinct from standing delegations:
// it affects only this execution's actor set.
func (s *WorkflowService) applyStepDelegationTx(
	ctx context.Context,
	tx pgx.Tx,
	inst *repository.WorkflowInstance,
	exec *repository.StepExecution,
	action *repository.WorkflowAction,
	req *SubmitActionRequest,
	result **ActionResult,
) error {
	if req.DelegateTo == req.UserID {
		return errors.InvalidInput("delegate_to", "cannot delegate a step to oneself")
	}

	actors := make([]string, 0, len(exec.Actors))
	for _, a := range exec.Actors {
		if a == req.UserID {
			a = req.DelegateTo
		}
		if !contains(actors, a) {
			actors = append(actors, a)
		}
	}

	action.Metadata = map[string]any{"delegated_to": req.DelegateTo}
	if err := s.actionRepo.AppendTx(ctx, tx, action); err != nil {
		return err
	}
	if err := s.instanceRepo.UpdateExecutionActorsTx(ctx, tx, exec.ID, actors); err != nil {
		return err
	}

	*result = &ActionResult{
		InstanceID:     inst.ID,
		InstanceStatus: inst.Status,
		ExecutionID:    exec.ID,
	}
	return nil
}

// ── Cancel / recall ───────────────────────────────────────────────────────────

// CancelWorkflow cancels the active instance for an entity, typically when
// the underlying record is deleted. The active execution stays in place for
// audit; later actions against the instance fail as not active.
func (s *WorkflowService) CancelWorkflow(ctx context.Context, entityID, entityType, entityRef, cancelledBy string) error {
	inst, err := s.instanceRepo.GetActiveByEntity(ctx, entityID, entityType, entityRef)
	if err != nil {
		return err
	}
	if inst == nil {
		return errors.NotFound("workflow_instance", entityType+"/"+entityRef)
	}
	return s.terminateInstance(ctx, inst.ID, repository.ActionCancel, cancelledBy, nil)
}

// RecallWorkflow lets the original submitter withdraw an in-progress
// instance.
func (s *WorkflowService) RecallWorkflow(ctx context.Context, instanceID, recalledBy string, comments *string) error {
	inst, err := s.instanceRepo.GetByID(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.StartedBy != recalledBy {
		return errors.Forbidden("only the submitter can recall the workflow")
	}
	return s.terminateInstance(ctx, instanceID, repository.ActionRecall, recalledBy, comments)
}

func (s *WorkflowService) terminateInstance(ctx context.Context, instanceID, actionType, actedBy string, comments *string) error {
	var notify []pendingEvent

	err := s.instanceRepo.InTransaction(ctx, func(tx pgx.Tx) error {
		inst, err := s.instanceRepo.GetByIDForUpdateTx(ctx, tx, instanceID)
		if err != nil {
			return err
		}
		if inst.Status != repository.InstanceStatusInProgress && inst.Status != repository.InstanceStatusPending {
			return errors.Conflict(fmt.Sprintf("instance cannot be %sed from status %q", actionType, inst.Status))
		}

		exec, err := s.instanceRepo.GetActiveExecutionForUpdateTx(ctx, tx, inst.ID)
		if err != nil {
			return err
		}
		if exec != nil {
			if err := s.actionRepo.AppendTx(ctx, tx, &repository.WorkflowAction{
				ExecutionID: exec.ID,
				InstanceID:  inst.ID,
				StepID:      exec.StepID,
				UserID:      actedBy,
				Action:      actionType,
				Comments:    comments,
			}); err != nil {
				return err
			}
		}

		return s.finishInstanceTx(ctx, tx, inst, repository.InstanceStatusCancelled, &notify)
	})
	if err != nil {
		return err
	}

	s.publish(ctx, notify)

	s.log.Info().
		Str("instance_id", instanceID).
		Str("action", actionType).
		Str("acted_by", actedBy).
		Msg("Workflow instance cancelled")

	return nil
}

// ── Escalation (driven by the scheduler) ──────────────────────────────────────

// EscalateExecution escalates one overdue execution. It is idempotent:
// callers may race with a user action or another sweep, and the state is
// re-checked after the locks are acquired, so at most one escalate action is
// ever recorded per execution.
func (s *WorkflowService) EscalateExecution(ctx context.Context, executionID string, now time.Time) (bool, error) {
	escalated := false
	var notify []pendingEvent

	err := s.instanceRepo.InTransaction(ctx, func(tx pgx.Tx) error {
		exec, err := s.instanceRepo.GetExecutionByID(ctx, executionID)
		if err != nil {
			return err
		}

		// Lock the instance first, matching the action path's lock order.
		inst, err := s.instanceRepo.GetByIDForUpdateTx(ctx, tx, exec.InstanceID)
		if err != nil {
			return err
		}
		if inst.Status != repository.InstanceStatusInProgress && inst.Status != repository.InstanceStatusPending {
			return nil
		}

		exec, err = s.instanceRepo.GetExecutionForUpdateTx(ctx, tx, executionID)
		if err != nil {
			return err
		}
		if exec.Status != repository.ExecutionStatusPending || exec.IsEscalated {
			return nil
		}
		if exec.DueAt == nil || !exec.DueAt.Before(now) {
			return nil
		}

		def, err := s.definitionRepo.GetByID(ctx, inst.DefinitionID)
		if err != nil {
			return err
		}
		step, err := s.definitionRepo.GetStepByID(ctx, exec.StepID)
		if err != nil {
			return err
		}

		if err := s.actionRepo.AppendTx(ctx, tx, &repository.WorkflowAction{
			ExecutionID: exec.ID,
			InstanceID:  inst.ID,
			StepID:      exec.StepID,
			UserID:      "system",
			Action:      repository.ActionEscalate,
			IsSystem:    true,
		}); err != nil {
			return err
		}

		if err := s.instanceRepo.CompleteExecutionTx(ctx, tx, exec.ID, repository.ExecutionStatusEscalated, true); err != nil {
			return err
		}

		notify = append(notify, pendingEvent{
			eventType:  EventEscalated,
			entityID:   inst.EntityID,
			instanceID: inst.ID,
			stepID:     exec.StepID,
			recipients: exec.Actors,
			payload:    map[string]any{"entity_type": inst.EntityType, "entity_ref": inst.EntityRef},
		})

		steps, err := s.definitionRepo.GetSteps(ctx, def.ID)
		if err != nil {
			return err
		}

		if _, _, err := s.advanceTx(ctx, tx, inst, def, newStepGraph(steps), step.OnEscalate, &notify); err != nil {
			return err
		}

		escalated = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if escalated {
		s.metrics.EscalationsTotal.Inc()
		s.publish(ctx, notify)
	}
	return escalated, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// CurrentStepInfo describes where an entity's active workflow stands.
type CurrentStepInfo struct {
	Instance  *repository.WorkflowInstance `json:"instance"`
	Step      *repository.WorkflowStep     `json:"step,omitempty"`
	Execution *repository.StepExecution    `json:"execution,omitempty"`
}

// CurrentStep returns the active instance and step for an entity, or nil
// when no workflow is running.
func (s *WorkflowService) CurrentStep(ctx context.Context, entityID, entityType, entityRef string) (*CurrentStepInfo, error) {
	inst, err := s.instanceRepo.GetActiveByEntity(ctx, entityID, entityType, entityRef)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, nil
	}

	info := &CurrentStepInfo{Instance: inst}
	if inst.CurrentStepID != nil {
		if info.Step, err = s.definitionRepo.GetStepByID(ctx, *inst.CurrentStepID); err != nil {
			return nil, err
		}
	}

	execs, err := s.instanceRepo.GetExecutions(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	for _, e := range execs {
		if e.Status == repository.ExecutionStatusPending {
			info.Execution = e
			break
		}
	}
	return info, nil
}

// PendingActionsFor returns every pending execution awaiting the user.
func (s *WorkflowService) PendingActionsFor(ctx context.Context, entityID, userID string) ([]*repository.PendingItem, error) {
	return s.instanceRepo.GetPendingForUser(ctx, entityID, userID)
}

// InstanceHistory is the full audit view of one instance.
type InstanceHistory struct {
	Instance   *repository.WorkflowInstance `json:"instance"`
	Executions []*repository.StepExecution  `json:"executions"`
	Actions    []*repository.WorkflowAction `json:"actions"`
}

// History returns an instance with its execution and action ledgers.
func (s *WorkflowService) History(ctx context.Context, instanceID string) (*InstanceHistory, error) {
	inst, err := s.instanceRepo.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	execs, err := s.instanceRepo.GetExecutions(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	actions, err := s.actionRepo.GetByInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return &InstanceHistory{Instance: inst, Executions: execs, Actions: actions}, nil
}

// ── Shared transition machinery ───────────────────────────────────────────────

// advanceTx drives the instance along a transition target: auto-skipping
// condition-false steps, finishing the instance on a terminal target, or
// materializing the next execution. Returns the entered step ID (nil when
// terminal) and the resulting instance status.
func (s *WorkflowService) advanceTx(
	ctx context.Context,
	tx pgx.Tx,
	inst *repository.WorkflowInstance,
	def *repository.WorkflowDefinition,
	graph *stepGraph,
	target repository.TransitionTarget,
	notify *[]pendingEvent,
) (*string, string, error) {
	next, terminal, skipped, err := walkTarget(graph, target, inst.Data)
	if err != nil {
		return nil, "", err
	}

	if err := s.recordSkippedTx(ctx, tx, inst, skipped); err != nil {
		return nil, "", err
	}

	if next == nil {
		if err := s.finishInstanceTx(ctx, tx, inst, terminal, notify); err != nil {
			return nil, "", err
		}
		return nil, terminal, nil
	}

	actors, err := s.actorService.ResolveActors(ctx, def, next, inst)
	if err != nil {
		return nil, "", err
	}

	if _, err := s.materializeExecutionTx(ctx, tx, inst, next, actors, notify); err != nil {
		return nil, "", err
	}

	if err := s.instanceRepo.UpdateStateTx(ctx, tx, inst.ID, &next.ID, repository.InstanceStatusInProgress, nil); err != nil {
		return nil, "", err
	}
	return &next.ID, repository.InstanceStatusInProgress, nil
}

// materializeExecutionTx creates the execution for a step. An empty actor
// set still creates the execution, due immediately, so the next sweep
// escalates it rather than letting it stall silently.
func (s *WorkflowService) materializeExecutionTx(
	ctx context.Context,
	tx pgx.Tx,
	inst *repository.WorkflowInstance,
	step *repository.WorkflowStep,
	actors []string,
	notify *[]pendingEvent,
) (*repository.StepExecution, error) {
	exec := &repository.StepExecution{
		InstanceID: inst.ID,
		StepID:     step.ID,
		Status:     repository.ExecutionStatusPending,
		Actors:     actors,
		DueAt:      executionDueAt(step, actors, time.Now()),
	}

	if err := s.instanceRepo.CreateExecutionTx(ctx, tx, exec); err != nil {
		return nil, err
	}

	if len(actors) > 0 {
		*notify = append(*notify, pendingEvent{
			eventType:  EventAssigned,
			entityID:   inst.EntityID,
			instanceID: inst.ID,
			stepID:     step.ID,
			recipients: actors,
			payload: map[string]any{
				"entity_type": inst.EntityType,
				"entity_ref":  inst.EntityRef,
				"step_name":   step.Name,
			},
		})
	}
	return exec, nil
}

// executionDueAt computes an execution's due time. A step with no time
// limit is normally never due, but an execution nobody can act on is due
// immediately: escalation is the only way it can make progress.
func executionDueAt(step *repository.WorkflowStep, actors []string, now time.Time) *time.Time {
	if len(actors) == 0 {
		return &now
	}
	if step.TimeLimitHours != nil {
		due := now.Add(time.Duration(*step.TimeLimitHours) * time.Hour)
		return &due
	}
	return nil
}

// recordSkippedTx persists skipped executions for condition-false steps so
// the audit history shows the full path taken.
func (s *WorkflowService) recordSkippedTx(ctx context.Context, tx pgx.Tx, inst *repository.WorkflowInstance, skipped []skippedStep) error {
	for _, sk := range skipped {
		exec := &repository.StepExecution{
			InstanceID: inst.ID,
			StepID:     sk.Step.ID,
			Status:     repository.ExecutionStatusSkipped,
		}
		if err := s.instanceRepo.CreateExecutionTx(ctx, tx, exec); err != nil {
			return err
		}
	}
	return nil
}

// finishInstanceTx moves the instance to a terminal status.
func (s *WorkflowService) finishInstanceTx(
	ctx context.Context,
	tx pgx.Tx,
	inst *repository.WorkflowInstance,
	status string,
	notify *[]pendingEvent,
) error {
	now := time.Now()
	if err := s.instanceRepo.UpdateStateTx(ctx, tx, inst.ID, nil, status, &now); err != nil {
		return err
	}
	inst.Status = status
	inst.CompletedAt = &now

	s.metrics.InstancesFinished.WithLabelValues(status).Inc()

	*notify = append(*notify, pendingEvent{
		eventType:  EventCompleted,
		entityID:   inst.EntityID,
		instanceID: inst.ID,
		recipients: []string{inst.StartedBy},
		payload: map[string]any{
			"entity_type": inst.EntityType,
			"entity_ref":  inst.EntityRef,
			"status":      status,
		},
	})
	return nil
}

// ── Notification plumbing ─────────────────────────────────────────────────────

type pendingEvent struct {
	eventType  string
	entityID   string
	instanceID string
	stepID     string
	recipients []string
	payload    map[string]any
}

// publish delivers events collected during a transaction after it commits.
// Delivery is external and never fails workflow operations.
func (s *WorkflowService) publish(ctx context.Context, events []pendingEvent) {
	if s.notifier == nil {
		return
	}
	for _, e := range events {
		s.notifier.PublishWorkflowEvent(ctx, e.eventType, e.entityID, e.instanceID, e.stepID, e.recipients, e.payload)
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
