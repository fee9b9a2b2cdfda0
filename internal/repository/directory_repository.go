package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/pkg/database"
	"github.com/pesio-ai/be-plt-approvals/pkg/errors"
)

// DirectoryRepository reads the organization directory (users, roles, teams,
// departments, branches) replicated from the platform identity service.
// Department and team trees are flat tables with parent IDs, never loaded as
// linked object graphs.
type DirectoryRepository struct {
	db *database.DB
}

// NewDirectoryRepository creates a new DirectoryRepository.
func NewDirectoryRepository(db *database.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// GetUsersWithRole returns active users holding the named role, directly or
// through an active team that carries it.
func (r *DirectoryRepository) GetUsersWithRole(ctx context.Context, entityID, roleName string) ([]string, error) {
	query := `
		SELECT DISTINCT u.id
		FROM users u
		JOIN user_roles ur ON ur.user_id = u.id
		JOIN roles ro ON ro.id = ur.role_id
		WHERE ur.entity_id = $1
		  AND ro.name = $2
		  AND ro.is_active = true
		  AND u.is_active = true
		UNION
		SELECT DISTINCT u.id
		FROM users u
		JOIN team_members tm ON tm.user_id = u.id AND tm.is_active = true
		JOIN teams t ON t.id = tm.team_id AND t.is_active = true
		JOIN team_roles tr ON tr.team_id = t.id
		JOIN roles ro ON ro.id = tr.role_id
		WHERE t.entity_id = $1
		  AND ro.name = $2
		  AND ro.is_active = true
		  AND u.is_active = true
	`

	return r.queryUserIDs(ctx, query, entityID, roleName)
}

// GetTeamMembers returns the active members of a team.
func (r *DirectoryRepository) GetTeamMembers(ctx context.Context, teamID string) ([]string, error) {
	query := `
		SELECT tm.user_id
		FROM team_members tm
		JOIN teams t ON t.id = tm.team_id
		JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id = $1
		  AND tm.is_active = true
		  AND t.is_active = true
		  AND u.is_active = true
		ORDER BY tm.joined_at ASC
	`

	return r.queryUserIDs(ctx, query, teamID)
}

// GetUser returns the directory slice of one user.
func (r *DirectoryRepository) GetUser(ctx context.Context, userID string) (*DirectoryUser, error) {
	query := `
		SELECT id, entity_id, manager_id, department_id, branch_id, is_active
		FROM users
		WHERE id = $1
	`

	u := &DirectoryUser{}
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&u.ID, &u.EntityID, &u.ManagerID, &u.DepartmentID, &u.BranchID, &u.IsActive,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", userID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user")
	}
	return u, nil
}

// GetDepartmentHead returns the head of a department, or nil when the
// position is vacant.
func (r *DirectoryRepository) GetDepartmentHead(ctx context.Context, departmentID string) (*string, error) {
	query := `
		SELECT head_user_id
		FROM departments
		WHERE id = $1
	`

	var head *string
	err := r.db.QueryRow(ctx, query, departmentID).Scan(&head)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("department", departmentID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get department head")
	}
	return head, nil
}

// GetBranchManager returns the manager of a branch, or nil when unset.
func (r *DirectoryRepository) GetBranchManager(ctx context.Context, branchID string) (*string, error) {
	query := `
		SELECT manager_user_id
		FROM branches
		WHERE id = $1
	`

	var manager *string
	err := r.db.QueryRow(ctx, query, branchID).Scan(&manager)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("branch", branchID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get branch manager")
	}
	return manager, nil
}

func (r *DirectoryRepository) queryUserIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to query users")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan user id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
