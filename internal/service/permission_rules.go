package service

import (
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// Resolution reasons returned alongside permission decisions, for audit
// logging and debugging of denied actions.
const (
	ReasonTemporaryGrant = "temporary_grant"
	ReasonUserOverride   = "user_override"
	ReasonUserDeny       = "user_override_deny"
	ReasonRoleDefault    = "role_default"
	ReasonRoleDeny       = "role_default_deny"
	ReasonNoMatch        = "no_matching_grant"
)

// resolveDecision merges the three permission tiers into one decision.
// Most specific tier wins; absence at every tier is a deny (fail-closed).
//
//  1. Temporary, record-scoped grants: an active, non-expired, non-revoked
//     grant allows. Absence falls through rather than denying.
//  2. User-stage overrides: the most specific non-expired explicit row
//     (stage-scoped over module-wide) decides, including explicit denies.
//     Inherited rows are materialized copies of role grants and carry no
//     authority of their own; they fall through to the role tier so a later
//     explicit role change is not shadowed by its own stale copy.
//  3. Role-stage defaults across all held roles: at the most specific
//     matching level, any granting row allows.
func resolveDecision(
	temporary []*repository.TemporaryPermission,
	userRows []*repository.StagePermissionRow,
	roleRows []*repository.StagePermissionRow,
	stageCode *string,
	now time.Time,
) (bool, string) {
	for _, tp := range temporary {
		if tp.Usable(now) {
			return true, ReasonTemporaryGrant
		}
	}

	var explicit []*repository.StagePermissionRow
	for _, row := range userRows {
		if !row.IsInherited {
			explicit = append(explicit, row)
		}
	}

	if matched := mostSpecific(explicit, stageCode, now); len(matched) > 0 {
		// An explicit deny among equally specific overrides is final.
		for _, row := range matched {
			if !row.IsGranted {
				return false, ReasonUserDeny
			}
		}
		return true, ReasonUserOverride
	}

	if matched := mostSpecific(roleRows, stageCode, now); len(matched) > 0 {
		for _, row := range matched {
			if row.IsGranted {
				return true, ReasonRoleDefault
			}
		}
		return false, ReasonRoleDeny
	}

	return false, ReasonNoMatch
}

// mostSpecific selects the matching rows at the highest specificity level:
// stage-scoped rows when a stage is requested and any match it, otherwise
// module-wide rows. Expired rows never match.
func mostSpecific(rows []*repository.StagePermissionRow, stageCode *string, now time.Time) []*repository.StagePermissionRow {
	var stageScoped, moduleWide []*repository.StagePermissionRow

	for _, row := range rows {
		if row.ExpiresAt != nil && !now.Before(*row.ExpiresAt) {
			continue
		}
		switch {
		case row.StageCode == nil:
			moduleWide = append(moduleWide, row)
		case stageCode != nil && *row.StageCode == *stageCode:
			stageScoped = append(stageScoped, row)
		}
	}

	if len(stageScoped) > 0 {
		return stageScoped
	}
	return moduleWide
}
