package service

import (
	"testing"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

func strptr(s string) *string { return &s }

func timeptr(t time.Time) *time.Time { return &t }

func TestResolveDecision(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	stage := strptr("review")

	tests := []struct {
		name       string
		temporary  []*repository.TemporaryPermission
		userRows   []*repository.StagePermissionRow
		roleRows   []*repository.StagePermissionRow
		stageCode  *string
		want       bool
		wantReason string
	}{
		{
			name:       "no rows anywhere denies",
			stageCode:  stage,
			want:       false,
			wantReason: ReasonNoMatch,
		},
		{
			name: "active temporary grant allows",
			temporary: []*repository.TemporaryPermission{
				{ExpiresAt: timeptr(future)},
			},
			stageCode:  stage,
			want:       true,
			wantReason: ReasonTemporaryGrant,
		},
		{
			name: "expired temporary grant never allows",
			temporary: []*repository.TemporaryPermission{
				{ExpiresAt: timeptr(past)},
			},
			stageCode:  stage,
			want:       false,
			wantReason: ReasonNoMatch,
		},
		{
			name: "revoked temporary grant never allows",
			temporary: []*repository.TemporaryPermission{
				{IsRevoked: true},
			},
			stageCode:  stage,
			want:       false,
			wantReason: ReasonNoMatch,
		},
		{
			name: "user override allows without role default",
			userRows: []*repository.StagePermissionRow{
				{StageCode: strptr("review"), IsGranted: true},
			},
			stageCode:  stage,
			want:       true,
			wantReason: ReasonUserOverride,
		},
		{
			name: "user deny overrides role allow",
			userRows: []*repository.StagePermissionRow{
				{StageCode: strptr("review"), IsGranted: false},
			},
			roleRows: []*repository.StagePermissionRow{
				{StageCode: strptr("review"), IsGranted: true},
			},
			stageCode:  stage,
			want:       false,
			wantReason: ReasonUserDeny,
		},
		{
			name: "stage-scoped user row beats module-wide user row",
			userRows: []*repository.StagePermissionRow{
				{StageCode: nil, IsGranted: true},
				{StageCode: strptr("review"), IsGranted: false},
			},
			stageCode:  stage,
			want:       false,
			wantReason: ReasonUserDeny,
		},
		{
			name: "module-wide user row applies when stage has no override",
			userRows: []*repository.StagePermissionRow{
				{StageCode: nil, IsGranted: true},
				{StageCode: strptr("publish"), IsGranted: false},
			},
			stageCode:  stage,
			want:       true,
			wantReason: ReasonUserOverride,
		},
		{
			name: "expired user override falls through to roles",
			userRows: []*repository.StagePermissionRow{
				{StageCode: strptr("review"), IsGranted: false, ExpiresAt: timeptr(past)},
			},
			roleRows: []*repository.StagePermissionRow{
				{StageCode: strptr("review"), IsGranted: true},
			},
			stageCode:  stage,
			want:       true,
			wantReason: ReasonRoleDefault,
		},
		{
			name: "any granting role allows",
			roleRows: []*repository.StagePermissionRow{
				{StageCode: strptr("review"), IsGranted: false},
				{StageCode: strptr("review"), IsGranted: true},
			},
			stageCode:  stage,
			want:       true,
			wantReason: ReasonRoleDefault,
		},
		{
			name: "all roles denying denies",
			roleRows: []*repository.StagePermissionRow{
				{StageCode: strptr("review"), IsGranted: false},
			},
			stageCode:  stage,
			want:       false,
			wantReason: ReasonRoleDeny,
		},
		{
			name: "no stage requested matches only module-wide rows",
			roleRows: []*repository.StagePermissionRow{
				{StageCode: strptr("review"), IsGranted: true},
			},
			stageCode:  nil,
			want:       false,
			wantReason: ReasonNoMatch,
		},
		{
			name: "no stage requested with module-wide grant allows",
			roleRows: []*repository.StagePermissionRow{
				{StageCode: nil, IsGranted: true},
			},
			stageCode:  nil,
			want:       true,
			wantReason: ReasonRoleDefault,
		},
		{
			name: "inherited user copy falls through to role deny",
			userRows: []*repository.StagePermissionRow{
				{StageCode: strptr("review"), IsGranted: true, IsInherited: true},
			},
			roleRows: []*repository.StagePermissionRow{
				{StageCode: strptr("review"), IsGranted: false},
			},
			stageCode:  stage,
			want:       false,
			wantReason: ReasonRoleDeny,
		},
		{
			name: "inherited user copy alone never decides",
			userRows: []*repository.StagePermissionRow{
				{StageCode: strptr("review"), IsGranted: true, IsInherited: true},
			},
			stageCode:  stage,
			want:       false,
			wantReason: ReasonNoMatch,
		},
		{
			name: "explicit user deny still beats role allow beside inherited copies",
			userRows: []*repository.StagePermissionRow{
				{StageCode: strptr("review"), IsGranted: true, IsInherited: true},
				{StageCode: strptr("review"), IsGranted: false},
			},
			roleRows: []*repository.StagePermissionRow{
				{StageCode: strptr("review"), IsGranted: true},
			},
			stageCode:  stage,
			want:       false,
			wantReason: ReasonUserDeny,
		},
		{
			name: "temporary tier wins over user deny",
			temporary: []*repository.TemporaryPermission{
				{},
			},
			userRows: []*repository.StagePermissionRow{
				{StageCode: strptr("review"), IsGranted: false},
			},
			stageCode:  stage,
			want:       true,
			wantReason: ReasonTemporaryGrant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := resolveDecision(tt.temporary, tt.userRows, tt.roleRows, tt.stageCode, now)
			if got != tt.want || reason != tt.wantReason {
				t.Errorf("resolveDecision() = (%v, %q), want (%v, %q)", got, reason, tt.want, tt.wantReason)
			}
		})
	}
}

func TestMostSpecific(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	stage := strptr("review")

	rows := []*repository.StagePermissionRow{
		{StageCode: nil, IsGranted: true},
		{StageCode: strptr("review"), IsGranted: false},
		{StageCode: strptr("publish"), IsGranted: true},
		{StageCode: strptr("review"), IsGranted: true, ExpiresAt: timeptr(now.Add(-time.Minute))},
	}

	matched := mostSpecific(rows, stage, now)
	if len(matched) != 1 || matched[0].IsGranted {
		t.Errorf("mostSpecific() = %d rows, want the single live stage-scoped deny", len(matched))
	}

	matched = mostSpecific(rows, nil, now)
	if len(matched) != 1 || !matched[0].IsGranted {
		t.Errorf("mostSpecific(no stage) = %d rows, want the single module-wide grant", len(matched))
	}
}
