package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/pkg/database"
	"github.com/pesio-ai/be-plt-approvals/pkg/errors"
)

// ActionRepository appends and reads the immutable workflow action ledger.
// The table carries a delete/update-prevention trigger, so append and read
// are the only operations exposed.
type ActionRepository struct {
	db *database.DB
}

// NewActionRepository creates a new ActionRepository.
func NewActionRepository(db *database.DB) *ActionRepository {
	return &ActionRepository{db: db}
}

// AppendTx inserts one action inside the caller's transaction.
func (r *ActionRepository) AppendTx(ctx context.Context, tx pgx.Tx, action *WorkflowAction) error {
	metadataJSON, err := marshalJSON(action.Metadata)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal action metadata")
	}

	action.ID = uuid.New().String()

	query := `
		INSERT INTO workflow_actions
		    (id, execution_id, instance_id, step_id,
		     user_id, action, comments, is_system, metadata)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	err = tx.QueryRow(ctx, query,
		action.ID,
		action.ExecutionID,
		action.InstanceID,
		action.StepID,
		action.UserID,
		action.Action,
		action.Comments,
		action.IsSystem,
		metadataJSON,
	).Scan(&action.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append workflow action")
	}
	return nil
}

// GetByExecutionTx returns all actions on one execution, oldest first, inside
// the caller's transaction (used under the execution row lock).
func (r *ActionRepository) GetByExecutionTx(ctx context.Context, tx pgx.Tx, executionID string) ([]*WorkflowAction, error) {
	rows, err := tx.Query(ctx, selectAction+`
		WHERE execution_id = $1
		ORDER BY created_at ASC
	`, executionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get execution actions")
	}
	defer rows.Close()

	return scanActions(rows)
}

// GetByInstance returns the full action history of an instance, oldest first.
func (r *ActionRepository) GetByInstance(ctx context.Context, instanceID string) ([]*WorkflowAction, error) {
	rows, err := r.db.Query(ctx, selectAction+`
		WHERE instance_id = $1
		ORDER BY created_at ASC
	`, instanceID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get instance actions")
	}
	defer rows.Close()

	return scanActions(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

const selectAction = `
	SELECT id, execution_id, instance_id, step_id,
	       user_id, action, comments, is_system, metadata, created_at
	FROM workflow_actions
`

func scanActions(rows pgx.Rows) ([]*WorkflowAction, error) {
	var actions []*WorkflowAction
	for rows.Next() {
		action := &WorkflowAction{}
		var metadataJSON []byte

		err := rows.Scan(
			&action.ID,
			&action.ExecutionID,
			&action.InstanceID,
			&action.StepID,
			&action.UserID,
			&action.Action,
			&action.Comments,
			&action.IsSystem,
			&metadataJSON,
			&action.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow action")
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &action.Metadata); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to parse action metadata")
			}
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}
