package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/pkg/errors"
	"github.com/pesio-ai/be-plt-approvals/pkg/logger"
)

// EntityRef is a tagged reference to one business record in another module.
type EntityRef struct {
	Kind string // e.g. "tender", "invoice"
	ID   string
}

// PermissionService answers stage-scoped authorization questions by merging
// role defaults, per-user overrides and temporary record-scoped grants.
//
// Decisions are resolved fresh on every call: grants, expiries and
// revocations can change between steps of the same approval chain, so
// results are never cached across a request boundary.
type PermissionService struct {
	permRepo *repository.PermissionRepository
	log      *logger.Logger
}

// NewPermissionService creates a new PermissionService.
func NewPermissionService(permRepo *repository.PermissionRepository, log *logger.Logger) *PermissionService {
	return &PermissionService{permRepo: permRepo, log: log}
}

// Can reports whether the user may perform the permission-typed action on
// the module, optionally scoped to a stage and a concrete record. The
// returned reason names the tier that decided.
func (s *PermissionService) Can(
	ctx context.Context,
	entityID, userID, moduleCode string,
	stageCode *string,
	permissionCode string,
	ref *EntityRef,
) (bool, string, error) {
	if userID == "" {
		return false, ReasonNoMatch, errors.InvalidInput("user_id", "user id is required")
	}
	if moduleCode == "" || permissionCode == "" {
		return false, ReasonNoMatch, errors.InvalidInput("permission", "module and permission codes are required")
	}

	var temporary []*repository.TemporaryPermission
	if ref != nil {
		var err error
		temporary, err = s.permRepo.GetTemporaryPermissions(ctx, entityID, userID, ref.Kind, ref.ID, permissionCode)
		if err != nil {
			return false, "", err
		}
	}

	userRows, err := s.permRepo.GetUserStagePermissions(ctx, entityID, userID, moduleCode, permissionCode)
	if err != nil {
		return false, "", err
	}

	roleRows, err := s.permRepo.GetRoleStagePermissions(ctx, entityID, userID, moduleCode, permissionCode)
	if err != nil {
		return false, "", err
	}

	granted, reason := resolveDecision(temporary, userRows, roleRows, stageCode, time.Now())

	if !granted {
		s.log.Debug().
			Str("user_id", userID).
			Str("module", moduleCode).
			Str("permission", permissionCode).
			Str("reason", reason).
			Msg("permission denied")
	}

	return granted, reason, nil
}

// GrantTemporary creates a record-scoped grant for one user.
func (s *PermissionService) GrantTemporary(
	ctx context.Context,
	entityID, userID string,
	ref EntityRef,
	permissionCode, grantedBy string,
	expiresAt *time.Time,
) (*repository.TemporaryPermission, error) {
	if ref.Kind == "" || ref.ID == "" {
		return nil, errors.InvalidInput("entity_ref", "permissionable type and id are required")
	}
	if expiresAt != nil && !expiresAt.After(time.Now()) {
		return nil, errors.InvalidInput("expires_at", "expiry must be in the future")
	}

	pt, err := s.permRepo.GetPermissionTypeByCode(ctx, permissionCode)
	if err != nil {
		return nil, err
	}

	perm := &repository.TemporaryPermission{
		EntityID:           entityID,
		UserID:             userID,
		PermissionableType: ref.Kind,
		PermissionableID:   ref.ID,
		PermissionTypeID:   pt.ID,
		GrantedBy:          grantedBy,
		ExpiresAt:          expiresAt,
	}
	if err := s.permRepo.GrantTemporary(ctx, perm); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user_id", userID).
		Str("permissionable_type", ref.Kind).
		Str("permissionable_id", ref.ID).
		Str("permission", permissionCode).
		Str("granted_by", grantedBy).
		Msg("Temporary permission granted")

	return perm, nil
}

// RevokeTemporary revokes a grant before its natural expiry.
func (s *PermissionService) RevokeTemporary(ctx context.Context, id, revokedBy string) error {
	if err := s.permRepo.RevokeTemporary(ctx, id, revokedBy); err != nil {
		return err
	}

	s.log.Info().
		Str("temporary_permission_id", id).
		Str("revoked_by", revokedBy).
		Msg("Temporary permission revoked")

	return nil
}
