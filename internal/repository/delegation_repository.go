package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/pkg/database"
	"github.com/pesio-ai/be-plt-approvals/pkg/errors"
)

// DelegationRepository manages standing approval delegations.
type DelegationRepository struct {
	db *database.DB
}

// NewDelegationRepository creates a new DelegationRepository.
func NewDelegationRepository(db *database.DB) *DelegationRepository {
	return &DelegationRepository{db: db}
}

// Create inserts a delegation. Window overlap and cycle checks happen in the
// service before this call.
func (r *DelegationRepository) Create(ctx context.Context, d *Delegation) error {
	d.ID = uuid.New().String()

	query := `
		INSERT INTO approval_delegations
		    (id, entity_id, from_user_id, to_user_id, scope, definition_id,
		     start_date, end_date, is_active, reason, created_by)
		VALUES ($1, $2, $3, $4, $5, $6,
		        $7, $8, $9, $10, $11)
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		d.ID,
		d.EntityID,
		d.FromUserID,
		d.ToUserID,
		d.Scope,
		d.DefinitionID,
		d.StartDate,
		d.EndDate,
		d.IsActive,
		d.Reason,
		d.CreatedBy,
	).Scan(&d.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create delegation")
	}
	return nil
}

// GetByID retrieves a delegation by primary key.
func (r *DelegationRepository) GetByID(ctx context.Context, id string) (*Delegation, error) {
	d, err := scanDelegation(r.db.QueryRow(ctx, selectDelegation+` WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("delegation", id)
	}
	return d, err
}

// Revoke deactivates a delegation and records who revoked it.
func (r *DelegationRepository) Revoke(ctx context.Context, id, revokedBy string) error {
	query := `
		UPDATE approval_delegations
		SET is_active  = false,
		    revoked_at = NOW(),
		    revoked_by = $2
		WHERE id = $1 AND is_active = true
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, revokedBy).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.Conflict("delegation is already revoked or does not exist")
	}
	return err
}

// ListForUser returns all non-revoked delegations where the user is either
// side, newest first.
func (r *DelegationRepository) ListForUser(ctx context.Context, entityID, userID string) ([]*Delegation, error) {
	query := selectDelegation + `
		WHERE entity_id = $1
		  AND (from_user_id = $2 OR to_user_id = $2)
		  AND revoked_at IS NULL
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, entityID, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list delegations")
	}
	defer rows.Close()

	return scanDelegations(rows)
}

// ActiveAt returns every delegation active at t within an entity, used by the
// actor resolver to substitute delegates and by the cycle check.
func (r *DelegationRepository) ActiveAt(ctx context.Context, entityID string, t time.Time) ([]*Delegation, error) {
	query := selectDelegation + `
		WHERE entity_id = $1
		  AND is_active = true
		  AND revoked_at IS NULL
		  AND start_date <= $2
		  AND end_date >= $2
	`

	rows, err := r.db.Query(ctx, query, entityID, t)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load active delegations")
	}
	defer rows.Close()

	return scanDelegations(rows)
}

// OverlappingWindows returns active delegations by the same delegator and
// scope whose windows intersect [start, end].
func (r *DelegationRepository) OverlappingWindows(ctx context.Context, entityID, fromUserID, scope string, start, end time.Time) ([]*Delegation, error) {
	query := selectDelegation + `
		WHERE entity_id = $1
		  AND from_user_id = $2
		  AND scope = $3
		  AND is_active = true
		  AND revoked_at IS NULL
		  AND start_date <= $5
		  AND end_date >= $4
	`

	rows, err := r.db.Query(ctx, query, entityID, fromUserID, scope, start, end)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to check delegation windows")
	}
	defer rows.Close()

	return scanDelegations(rows)
}

// ActiveInWindow returns all active delegations within an entity whose
// windows intersect [start, end], used for cycle detection at creation time.
func (r *DelegationRepository) ActiveInWindow(ctx context.Context, entityID string, start, end time.Time) ([]*Delegation, error) {
	query := selectDelegation + `
		WHERE entity_id = $1
		  AND is_active = true
		  AND revoked_at IS NULL
		  AND start_date <= $3
		  AND end_date >= $2
	`

	rows, err := r.db.Query(ctx, query, entityID, start, end)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load delegations in window")
	}
	defer rows.Close()

	return scanDelegations(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

const selectDelegation = `
	SELECT id, entity_id, from_user_id, to_user_id, scope, definition_id,
	       start_date, end_date, is_active, reason, created_by,
	       created_at, revoked_at, revoked_by
	FROM approval_delegations
`

func scanDelegation(row rowScanner) (*Delegation, error) {
	d := &Delegation{}
	err := row.Scan(
		&d.ID,
		&d.EntityID,
		&d.FromUserID,
		&d.ToUserID,
		&d.Scope,
		&d.DefinitionID,
		&d.StartDate,
		&d.EndDate,
		&d.IsActive,
		&d.Reason,
		&d.CreatedBy,
		&d.CreatedAt,
		&d.RevokedAt,
		&d.RevokedBy,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func scanDelegations(rows pgx.Rows) ([]*Delegation, error) {
	var ds []*Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan delegation")
		}
		ds = append(ds, d)
	}
	return ds, rows.Err()
}
