package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/pkg/database"
	"github.com/pesio-ai/be-plt-approvals/pkg/errors"
)

// InstanceRepository manages workflow instances and their step executions.
//
// Mutations on the action-application and escalation paths take an explicit
// pgx.Tx so the caller can hold a row lock across the decisiveness check and
// the resulting transition.
type InstanceRepository struct {
	db *database.DB
}

// NewInstanceRepository creates a new InstanceRepository.
func NewInstanceRepository(db *database.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

// ── Instances ─────────────────────────────────────────────────────────────────

// CreateTx inserts a new instance inside the caller's transaction.
func (r *InstanceRepository) CreateTx(ctx context.Context, tx pgx.Tx, inst *WorkflowInstance) error {
	dataJSON, err := marshalJSON(inst.Data)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal instance data")
	}

	inst.ID = uuid.New().String()

	query := `
		INSERT INTO workflow_instances
		    (id, definition_id, entity_id, entity_type, entity_ref,
		     status, current_step_id, data, started_by)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9)
		RETURNING started_at, created_at, updated_at
	`

	err = tx.QueryRow(ctx, query,
		inst.ID,
		inst.DefinitionID,
		inst.EntityID,
		inst.EntityType,
		inst.EntityRef,
		inst.Status,
		inst.CurrentStepID,
		dataJSON,
		inst.StartedBy,
	).Scan(&inst.StartedAt, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create workflow instance")
	}
	return nil
}

// GetByID retrieves an instance by primary key.
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*WorkflowInstance, error) {
	inst, err := scanInstance(r.db.QueryRow(ctx, selectInstance+` WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("workflow_instance", id)
	}
	return inst, err
}

// GetByIDForUpdateTx locks and retrieves an instance row.
func (r *InstanceRepository) GetByIDForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (*WorkflowInstance, error) {
	inst, err := scanInstance(tx.QueryRow(ctx, selectInstance+` WHERE id = $1 FOR UPDATE`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("workflow_instance", id)
	}
	return inst, err
}

// GetActiveByEntity returns the non-terminal instance for a business record,
// or nil when none is running.
func (r *InstanceRepository) GetActiveByEntity(ctx context.Context, entityID, entityType, entityRef string) (*WorkflowInstance, error) {
	query := selectInstance + `
		WHERE entity_id = $1
		  AND entity_type = $2
		  AND entity_ref = $3
		  AND status IN ('pending', 'in_progress')
		ORDER BY started_at DESC
		LIMIT 1
	`

	inst, err := scanInstance(r.db.QueryRow(ctx, query, entityID, entityType, entityRef))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return inst, err
}

// UpdateStateTx writes the instance's current step and status; completedAt is
// stamped for terminal statuses.
func (r *InstanceRepository) UpdateStateTx(ctx context.Context, tx pgx.Tx, id string, currentStepID *string, status string, completedAt *time.Time) error {
	query := `
		UPDATE workflow_instances
		SET current_step_id = $2,
		    status          = $3,
		    completed_at    = $4,
		    updated_at      = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := tx.QueryRow(ctx, query, id, currentStepID, status, completedAt).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("workflow_instance", id)
	}
	return err
}

// ── Step executions ───────────────────────────────────────────────────────────

// CreateExecutionTx materializes a new step execution inside the caller's
// transaction.
func (r *InstanceRepository) CreateExecutionTx(ctx context.Context, tx pgx.Tx, exec *StepExecution) error {
	exec.ID = uuid.New().String()

	query := `
		INSERT INTO workflow_step_executions
		    (id, instance_id, step_id, status, assigned_actors, due_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING started_at, created_at, updated_at
	`

	err := tx.QueryRow(ctx, query,
		exec.ID,
		exec.InstanceID,
		exec.StepID,
		exec.Status,
		exec.Actors,
		exec.DueAt,
	).Scan(&exec.StartedAt, &exec.CreatedAt, &exec.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create step execution")
	}
	return nil
}

// GetExecutionByID retrieves an execution by primary key.
func (r *InstanceRepository) GetExecutionByID(ctx context.Context, id string) (*StepExecution, error) {
	exec, err := scanExecution(r.db.QueryRow(ctx, selectExecution+` WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("step_execution", id)
	}
	return exec, err
}

// GetActiveExecutionForUpdateTx locks and returns the instance's single
// pending execution, or nil when no step is awaiting action.
func (r *InstanceRepository) GetActiveExecutionForUpdateTx(ctx context.Context, tx pgx.Tx, instanceID string) (*StepExecution, error) {
	query := selectExecution + `
		WHERE instance_id = $1 AND status = 'pending'
		ORDER BY started_at DESC
		LIMIT 1
		FOR UPDATE
	`

	exec, err := scanExecution(tx.QueryRow(ctx, query, instanceID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return exec, err
}

// CompleteExecutionTx moves an execution out of pending.
func (r *InstanceRepository) CompleteExecutionTx(ctx context.Context, tx pgx.Tx, id, status string, escalated bool) error {
	query := `
		UPDATE workflow_step_executions
		SET status       = $2,
		    is_escalated = $3,
		    completed_at = NOW(),
		    updated_at   = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := tx.QueryRow(ctx, query, id, status, escalated).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("step_execution", id)
	}
	return err
}

// GetExecutionForUpdateTx locks and retrieves one execution row.
func (r *InstanceRepository) GetExecutionForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (*StepExecution, error) {
	exec, err := scanExecution(tx.QueryRow(ctx, selectExecution+` WHERE id = $1 FOR UPDATE`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("step_execution", id)
	}
	return exec, err
}

// UpdateExecutionActorsTx rewrites the resolved actor set of a pending
// execution (ad-hoc delegation of a single step).
func (r *InstanceRepository) UpdateExecutionActorsTx(ctx context.Context, tx pgx.Tx, id string, actors []string) error {
	query := `
		UPDATE workflow_step_executions
		SET assigned_actors = $2,
		    updated_at      = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING id
	`

	var returnedID string
	err := tx.QueryRow(ctx, query, id, actors).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.Conflict("execution is no longer pending")
	}
	return err
}

// listOverdueQuery selects overdue pending executions whose instance is
// still active. Cancelled and recalled instances keep their last execution
// pending for audit; without the instance-status filter those rows would
// re-qualify on every sweep and crowd live work out of the batch.
const listOverdueQuery = `
	SELECT e.id, e.instance_id, e.step_id, e.status, e.assigned_actors,
	       e.started_at, e.due_at, e.is_escalated, e.completed_at,
	       e.created_at, e.updated_at
	FROM workflow_step_executions e
	JOIN workflow_instances i ON i.id = e.instance_id
	WHERE e.status = 'pending'
	  AND e.is_escalated = false
	  AND e.due_at IS NOT NULL
	  AND e.due_at < $1
	  AND i.status IN ('pending', 'in_progress')
	ORDER BY e.due_at ASC
	LIMIT $2
`

// ListOverdue returns up to limit overdue pending executions without
// locking them. The escalation sweep re-locks each one (instance first,
// matching the action path's lock order) and re-checks its state before
// escalating.
func (r *InstanceRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*StepExecution, error) {
	rows, err := r.db.Query(ctx, listOverdueQuery, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list overdue executions")
	}
	defer rows.Close()

	var execs []*StepExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan step execution")
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// GetExecutions returns the full execution history of an instance,
// oldest first.
func (r *InstanceRepository) GetExecutions(ctx context.Context, instanceID string) ([]*StepExecution, error) {
	query := selectExecution + `
		WHERE instance_id = $1
		ORDER BY started_at ASC
	`

	rows, err := r.db.Query(ctx, query, instanceID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get step executions")
	}
	defer rows.Close()

	var execs []*StepExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan step execution")
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// GetPendingForUser returns pending executions where the user is a resolved
// actor, joined with their instance, due-soonest first.
func (r *InstanceRepository) GetPendingForUser(ctx context.Context, entityID, userID string) ([]*PendingItem, error) {
	query := `
		SELECT e.id, e.instance_id, e.step_id, e.status, e.assigned_actors,
		       e.started_at, e.due_at, e.is_escalated, e.completed_at,
		       e.created_at, e.updated_at,
		       i.entity_type, i.entity_ref, i.definition_id
		FROM workflow_step_executions e
		JOIN workflow_instances i ON i.id = e.instance_id
		WHERE i.entity_id = $1
		  AND i.status = 'in_progress'
		  AND e.status = 'pending'
		  AND $2 = ANY(e.assigned_actors)
		ORDER BY e.due_at ASC NULLS LAST, e.started_at ASC
	`

	rows, err := r.db.Query(ctx, query, entityID, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get pending approvals")
	}
	defer rows.Close()

	var items []*PendingItem
	for rows.Next() {
		item := &PendingItem{}
		err := rows.Scan(
			&item.Execution.ID,
			&item.Execution.InstanceID,
			&item.Execution.StepID,
			&item.Execution.Status,
			&item.Execution.Actors,
			&item.Execution.StartedAt,
			&item.Execution.DueAt,
			&item.Execution.IsEscalated,
			&item.Execution.CompletedAt,
			&item.Execution.CreatedAt,
			&item.Execution.UpdatedAt,
			&item.EntityType,
			&item.EntityRef,
			&item.DefinitionID,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan pending approval")
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// PendingItem is one pending execution joined with its instance's entity
// reference, as returned to approvers.
type PendingItem struct {
	Execution    StepExecution
	EntityType   string
	EntityRef    string
	DefinitionID string
}

// InTransaction exposes the underlying transaction helper for callers that
// coordinate multi-repository mutations under one lock.
func (r *InstanceRepository) InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.db.InTransaction(ctx, fn)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

const selectInstance = `
	SELECT id, definition_id, entity_id, entity_type, entity_ref,
	       status, current_step_id, data, started_by,
	       started_at, completed_at, created_at, updated_at
	FROM workflow_instances
`

const selectExecution = `
	SELECT id, instance_id, step_id, status, assigned_actors,
	       started_at, due_at, is_escalated, completed_at,
	       created_at, updated_at
	FROM workflow_step_executions
`

func scanInstance(row rowScanner) (*WorkflowInstance, error) {
	inst := &WorkflowInstance{}
	var dataJSON []byte

	err := row.Scan(
		&inst.ID,
		&inst.DefinitionID,
		&inst.EntityID,
		&inst.EntityType,
		&inst.EntityRef,
		&inst.Status,
		&inst.CurrentStepID,
		&dataJSON,
		&inst.StartedBy,
		&inst.StartedAt,
		&inst.CompletedAt,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &inst.Data); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to parse instance data")
		}
	}
	return inst, nil
}

func scanExecution(row rowScanner) (*StepExecution, error) {
	exec := &StepExecution{}

	err := row.Scan(
		&exec.ID,
		&exec.InstanceID,
		&exec.StepID,
		&exec.Status,
		&exec.Actors,
		&exec.StartedAt,
		&exec.DueAt,
		&exec.IsEscalated,
		&exec.CompletedAt,
		&exec.CreatedAt,
		&exec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return exec, nil
}
