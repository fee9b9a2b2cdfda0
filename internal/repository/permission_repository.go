package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/pkg/database"
	"github.com/pesio-ai/be-plt-approvals/pkg/errors"
)

// StagePermissionRow is one grant/deny row loaded for the resolver: the
// stage it applies to (nil = all stages of the module), whether it grants,
// and an optional expiry. IsInherited marks a materialized copy of a role
// grant in the user tier; role rows always carry false.
type StagePermissionRow struct {
	StageCode   *string
	IsGranted   bool
	ExpiresAt   *time.Time
	IsInherited bool
}

// PermissionRepository loads the three permission tiers consumed by the
// resolver and manages temporary (record-scoped) grants.
type PermissionRepository struct {
	db *database.DB
}

// NewPermissionRepository creates a new PermissionRepository.
func NewPermissionRepository(db *database.DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

// ── Tier loading ──────────────────────────────────────────────────────────────

// GetTemporaryPermissions returns all temporary grants for a user on one
// concrete record and permission type, including expired and revoked rows;
// filtering happens in the resolver so its rules stay in one place.
func (r *PermissionRepository) GetTemporaryPermissions(ctx context.Context, entityID, userID, permissionableType, permissionableID, permissionCode string) ([]*TemporaryPermission, error) {
	query := `
		SELECT tp.id, tp.entity_id, tp.user_id,
		       tp.permissionable_type, tp.permissionable_id, tp.permission_type_id,
		       tp.granted_by, tp.granted_at, tp.expires_at,
		       tp.is_revoked, tp.revoked_by, tp.revoked_at
		FROM temporary_permissions tp
		JOIN permission_types pt ON pt.id = tp.permission_type_id
		WHERE tp.entity_id = $1
		  AND tp.user_id = $2
		  AND tp.permissionable_type = $3
		  AND tp.permissionable_id = $4
		  AND pt.code = $5
	`

	rows, err := r.db.Query(ctx, query, entityID, userID, permissionableType, permissionableID, permissionCode)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get temporary permissions")
	}
	defer rows.Close()

	var perms []*TemporaryPermission
	for rows.Next() {
		p := &TemporaryPermission{}
		err := rows.Scan(
			&p.ID, &p.EntityID, &p.UserID,
			&p.PermissionableType, &p.PermissionableID, &p.PermissionTypeID,
			&p.GrantedBy, &p.GrantedAt, &p.ExpiresAt,
			&p.IsRevoked, &p.RevokedBy, &p.RevokedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan temporary permission")
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GetUserStagePermissions returns the user-override rows for a module and
// permission type, both stage-scoped and module-wide.
func (r *PermissionRepository) GetUserStagePermissions(ctx context.Context, entityID, userID, moduleCode, permissionCode string) ([]*StagePermissionRow, error) {
	query := `
		SELECT ms.code, usp.is_granted, usp.expires_at, usp.is_inherited
		FROM user_stage_permissions usp
		JOIN modules m ON m.id = usp.module_id
		JOIN permission_types pt ON pt.id = usp.permission_type_id
		LEFT JOIN module_stages ms ON ms.id = usp.stage_id
		WHERE usp.entity_id = $1
		  AND usp.user_id = $2
		  AND m.code = $3
		  AND pt.code = $4
	`

	return r.queryStageRows(ctx, query, entityID, userID, moduleCode, permissionCode)
}

// GetRoleStagePermissions returns the role-default rows for every role the
// user holds, directly or through team membership.
func (r *PermissionRepository) GetRoleStagePermissions(ctx context.Context, entityID, userID, moduleCode, permissionCode string) ([]*StagePermissionRow, error) {
	query := `
		SELECT ms.code, rsp.is_granted, NULL::timestamptz, false
		FROM role_stage_permissions rsp
		JOIN modules m ON m.id = rsp.module_id
		JOIN permission_types pt ON pt.id = rsp.permission_type_id
		LEFT JOIN module_stages ms ON ms.id = rsp.stage_id
		WHERE rsp.entity_id = $1
		  AND m.code = $3
		  AND pt.code = $4
		  AND rsp.role_id IN (
		      SELECT ur.role_id
		      FROM user_roles ur
		      WHERE ur.user_id = $2 AND ur.entity_id = $1
		      UNION
		      SELECT tr.role_id
		      FROM team_roles tr
		      JOIN team_members tm ON tm.team_id = tr.team_id
		      WHERE tm.user_id = $2 AND tm.is_active = true
		  )
	`

	return r.queryStageRows(ctx, query, entityID, userID, moduleCode, permissionCode)
}

func (r *PermissionRepository) queryStageRows(ctx context.Context, query string, args ...any) ([]*StagePermissionRow, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get stage permissions")
	}
	defer rows.Close()

	var out []*StagePermissionRow
	for rows.Next() {
		row := &StagePermissionRow{}
		if err := rows.Scan(&row.StageCode, &row.IsGranted, &row.ExpiresAt, &row.IsInherited); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan stage permission")
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ── Temporary grants ──────────────────────────────────────────────────────────

// GrantTemporary inserts a record-scoped grant.
func (r *PermissionRepository) GrantTemporary(ctx context.Context, p *TemporaryPermission) error {
	p.ID = uuid.New().String()

	query := `
		INSERT INTO temporary_permissions
		    (id, entity_id, user_id,
		     permissionable_type, permissionable_id, permission_type_id,
		     granted_by, expires_at)
		VALUES ($1, $2, $3,
		        $4, $5, $6,
		        $7, $8)
		RETURNING granted_at
	`

	err := r.db.QueryRow(ctx, query,
		p.ID,
		p.EntityID,
		p.UserID,
		p.PermissionableType,
		p.PermissionableID,
		p.PermissionTypeID,
		p.GrantedBy,
		p.ExpiresAt,
	).Scan(&p.GrantedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to grant temporary permission")
	}
	return nil
}

// RevokeTemporary marks a grant revoked; revoking twice is a conflict.
func (r *PermissionRepository) RevokeTemporary(ctx context.Context, id, revokedBy string) error {
	query := `
		UPDATE temporary_permissions
		SET is_revoked = true,
		    revoked_by = $2,
		    revoked_at = NOW()
		WHERE id = $1 AND is_revoked = false
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, revokedBy).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.Conflict("temporary permission is already revoked or does not exist")
	}
	return err
}

// ── Taxonomy lookups ──────────────────────────────────────────────────────────

// GetModuleByCode resolves a module code.
func (r *PermissionRepository) GetModuleByCode(ctx context.Context, code string) (*Module, error) {
	query := `
		SELECT id, code, name, is_active, created_at
		FROM modules
		WHERE code = $1
	`

	m := &Module{}
	err := r.db.QueryRow(ctx, query, code).Scan(&m.ID, &m.Code, &m.Name, &m.IsActive, &m.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("module", code)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get module")
	}
	return m, nil
}

// GetStageByCode resolves a stage code within a module.
func (r *PermissionRepository) GetStageByCode(ctx context.Context, moduleCode, stageCode string) (*ModuleStage, error) {
	query := `
		SELECT ms.id, ms.module_id, ms.code, ms.name, ms.stage_order,
		       ms.is_initial, ms.is_final, ms.created_at
		FROM module_stages ms
		JOIN modules m ON m.id = ms.module_id
		WHERE m.code = $1 AND ms.code = $2
	`

	s := &ModuleStage{}
	err := r.db.QueryRow(ctx, query, moduleCode, stageCode).Scan(
		&s.ID, &s.ModuleID, &s.Code, &s.Name, &s.StageOrder,
		&s.IsInitial, &s.IsFinal, &s.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("module_stage", stageCode)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get module stage")
	}
	return s, nil
}

// GetPermissionTypeByCode resolves a permission type code.
func (r *PermissionRepository) GetPermissionTypeByCode(ctx context.Context, code string) (*PermissionType, error) {
	query := `
		SELECT id, code, name, category, created_at
		FROM permission_types
		WHERE code = $1
	`

	pt := &PermissionType{}
	err := r.db.QueryRow(ctx, query, code).Scan(&pt.ID, &pt.Code, &pt.Name, &pt.Category, &pt.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("permission_type", code)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get permission type")
	}
	return pt, nil
}
