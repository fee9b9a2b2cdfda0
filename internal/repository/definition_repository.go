package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/pkg/database"
	"github.com/pesio-ai/be-plt-approvals/pkg/errors"
)

// DefinitionRepository manages workflow definitions and their step graphs.
// A definition and its steps are always created together in one transaction;
// published definitions are never mutated.
type DefinitionRepository struct {
	db *database.DB
}

// NewDefinitionRepository creates a new DefinitionRepository.
func NewDefinitionRepository(db *database.DB) *DefinitionRepository {
	return &DefinitionRepository{db: db}
}

// Create inserts a definition and its steps in one transaction.
func (r *DefinitionRepository) Create(ctx context.Context, def *WorkflowDefinition, steps []*WorkflowStep) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		condJSON, err := marshalJSON(def.Condition)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal definition condition")
		}

		def.ID = uuid.New().String()

		defQuery := `
			INSERT INTO workflow_definitions
			    (id, entity_id, code, name, entity_type, trigger_event,
			     module_code, condition, version, is_published, is_active, created_by)
			VALUES ($1, $2, $3, $4, $5, $6,
			        $7, $8, $9, $10, $11, $12)
			RETURNING created_at, updated_at
		`

		err = tx.QueryRow(ctx, defQuery,
			def.ID,
			def.EntityID,
			def.Code,
			def.Name,
			def.EntityType,
			def.TriggerEvent,
			def.ModuleCode,
			condJSON,
			def.Version,
			def.IsPublished,
			def.IsActive,
			def.CreatedBy,
		).Scan(&def.CreatedAt, &def.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create workflow definition")
		}

		stepQuery := `
			INSERT INTO workflow_steps
			    (id, definition_id, step_order, name,
			     assignment_type, assignment_target, approval_type,
			     required_permission, stage_code, time_limit_hours, condition,
			     on_approve, on_reject, on_escalate)
			VALUES ($1, $2, $3, $4,
			        $5, $6, $7,
			        $8, $9, $10, $11,
			        $12, $13, $14)
			RETURNING created_at, updated_at
		`

		for _, step := range steps {
			if step.ID == "" {
				step.ID = uuid.New().String()
			}
			step.DefinitionID = def.ID

			stepCondJSON, err := marshalJSON(step.Condition)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal step condition")
			}

			err = tx.QueryRow(ctx, stepQuery,
				step.ID,
				step.DefinitionID,
				step.StepOrder,
				step.Name,
				step.AssignmentType,
				step.AssignmentTarget,
				step.ApprovalType,
				step.RequiredPermission,
				step.StageCode,
				step.TimeLimitHours,
				stepCondJSON,
				string(step.OnApprove),
				string(step.OnReject),
				string(step.OnEscalate),
			).Scan(&step.CreatedAt, &step.UpdatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create workflow step")
			}
		}

		return nil
	})
}

// GetByID retrieves a definition by primary key.
func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*WorkflowDefinition, error) {
	query := selectDefinition + ` WHERE id = $1`

	def, err := r.scanDefinition(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("workflow_definition", id)
	}
	return def, err
}

// GetActiveByCode returns the highest published version of a definition code
// within an entity, or nil when none exists.
func (r *DefinitionRepository) GetActiveByCode(ctx context.Context, entityID, code string) (*WorkflowDefinition, error) {
	query := selectDefinition + `
		WHERE entity_id = $1
		  AND code = $2
		  AND is_published = true
		  AND is_active = true
		ORDER BY version DESC
		LIMIT 1
	`

	def, err := r.scanDefinition(r.db.QueryRow(ctx, query, entityID, code))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return def, err
}

// List returns all definitions for an entity, newest versions first.
func (r *DefinitionRepository) List(ctx context.Context, entityID string) ([]*WorkflowDefinition, error) {
	query := selectDefinition + `
		WHERE entity_id = $1
		ORDER BY code ASC, version DESC
	`

	rows, err := r.db.Query(ctx, query, entityID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list workflow definitions")
	}
	defer rows.Close()

	var defs []*WorkflowDefinition
	for rows.Next() {
		def, err := r.scanDefinition(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow definition")
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// MarkPublished flips is_published after the step graph has been validated.
func (r *DefinitionRepository) MarkPublished(ctx context.Context, id string) error {
	query := `
		UPDATE workflow_definitions
		SET is_published = true,
		    updated_at   = NOW()
		WHERE id = $1 AND is_published = false
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.Conflict("definition is already published or does not exist")
	}
	return err
}

// GetSteps returns a definition's steps ordered by step_order.
func (r *DefinitionRepository) GetSteps(ctx context.Context, definitionID string) ([]*WorkflowStep, error) {
	query := selectStep + `
		WHERE definition_id = $1
		ORDER BY step_order ASC
	`

	rows, err := r.db.Query(ctx, query, definitionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get workflow steps")
	}
	defer rows.Close()

	var steps []*WorkflowStep
	for rows.Next() {
		step, err := r.scanStep(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow step")
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// GetStepByID retrieves a single step.
func (r *DefinitionRepository) GetStepByID(ctx context.Context, id string) (*WorkflowStep, error) {
	query := selectStep + ` WHERE id = $1`

	step, err := r.scanStep(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("workflow_step", id)
	}
	return step, err
}

// ── scan helpers ──────────────────────────────────────────────────────────────

const selectDefinition = `
	SELECT id, entity_id, code, name, entity_type, trigger_event,
	       module_code, condition, version, is_published, is_active,
	       created_by, created_at, updated_at
	FROM workflow_definitions
`

const selectStep = `
	SELECT id, definition_id, step_order, name,
	       assignment_type, assignment_target, approval_type,
	       required_permission, stage_code, time_limit_hours, condition,
	       on_approve, on_reject, on_escalate,
	       created_at, updated_at
	FROM workflow_steps
`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *DefinitionRepository) scanDefinition(row rowScanner) (*WorkflowDefinition, error) {
	def := &WorkflowDefinition{}
	var condJSON []byte

	err := row.Scan(
		&def.ID,
		&def.EntityID,
		&def.Code,
		&def.Name,
		&def.EntityType,
		&def.TriggerEvent,
		&def.ModuleCode,
		&condJSON,
		&def.Version,
		&def.IsPublished,
		&def.IsActive,
		&def.CreatedBy,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if def.Condition, err = unmarshalCondition(condJSON); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to parse definition condition")
	}
	return def, nil
}

func (r *DefinitionRepository) scanStep(row rowScanner) (*WorkflowStep, error) {
	step := &WorkflowStep{}
	var condJSON []byte
	var onApprove, onReject, onEscalate string

	err := row.Scan(
		&step.ID,
		&step.DefinitionID,
		&step.StepOrder,
		&step.Name,
		&step.AssignmentType,
		&step.AssignmentTarget,
		&step.ApprovalType,
		&step.RequiredPermission,
		&step.StageCode,
		&step.TimeLimitHours,
		&condJSON,
		&onApprove,
		&onReject,
		&onEscalate,
		&step.CreatedAt,
		&step.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	step.OnApprove = TransitionTarget(onApprove)
	step.OnReject = TransitionTarget(onReject)
	step.OnEscalate = TransitionTarget(onEscalate)

	if step.Condition, err = unmarshalCondition(condJSON); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to parse step condition")
	}
	return step, nil
}
