package repository

import (
	"encoding/json"
	"time"
)

// ── Workflow definition ───────────────────────────────────────────────────────

// Workflow definition / instance status values.
const (
	InstanceStatusPending    = "pending"
	InstanceStatusInProgress = "in_progress"
	InstanceStatusApproved   = "approved"
	InstanceStatusRejected   = "rejected"
	InstanceStatusCancelled  = "cancelled"
)

// Step execution status values.
const (
	ExecutionStatusPending   = "pending"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusSkipped   = "skipped"
	ExecutionStatusEscalated = "escalated"
)

// Assignment kinds for a workflow step.
const (
	AssignmentRole    = "role"
	AssignmentTeam    = "team"
	AssignmentUser    = "user"
	AssignmentDynamic = "dynamic"
)

// Dynamic assignment targets resolved against the organization structure.
const (
	DynamicDirectManager  = "direct_manager"
	DynamicDepartmentHead = "department_head"
	DynamicBranchManager  = "branch_manager"
)

// Approval types governing when a step execution is decisive.
const (
	ApprovalSingle   = "single"
	ApprovalAll      = "all"
	ApprovalMajority = "majority"
)

// Workflow action types recorded in the append-only ledger.
const (
	ActionApprove  = "approve"
	ActionReject   = "reject"
	ActionEscalate = "escalate"
	ActionDelegate = "delegate"
	ActionRecall   = "recall"
	ActionCancel   = "cancel"
)

// TransitionTarget is either a step ID or one of the terminal instance
// statuses (approved / rejected / cancelled).
type TransitionTarget string

// IsTerminal reports whether the target is a terminal instance status
// rather than a step ID.
func (t TransitionTarget) IsTerminal() bool {
	switch string(t) {
	case InstanceStatusApproved, InstanceStatusRejected, InstanceStatusCancelled:
		return true
	}
	return false
}

// StepID returns the target step ID, or "" for terminal targets.
func (t TransitionTarget) StepID() string {
	if t.IsTerminal() {
		return ""
	}
	return string(t)
}

// Condition is a bounded boolean predicate over an instance's data bag,
// stored as JSONB on definitions and steps. Exactly one of Field/Op/Value,
// All, or Any is expected to be set.
type Condition struct {
	Field string       `json:"field,omitempty"`
	Op    string       `json:"op,omitempty"` // eq|ne|gt|gte|lt|lte|in|exists
	Value any          `json:"value,omitempty"`
	All   []*Condition `json:"all,omitempty"`
	Any   []*Condition `json:"any,omitempty"`
}

// WorkflowDefinition identifies one versioned workflow for an entity type.
// Published definitions are immutable: new versions create a new row.
type WorkflowDefinition struct {
	ID           string
	EntityID     string
	Code         string
	Name         string
	EntityType   string // e.g. "tender", "contract", "invoice"
	TriggerEvent string // e.g. "submitted"
	ModuleCode   string // permission module this workflow is scoped to
	Condition    *Condition
	Version      int
	IsPublished  bool
	IsActive     bool
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// WorkflowStep is one node of a definition's step graph.
type WorkflowStep struct {
	ID                 string
	DefinitionID       string
	StepOrder          int
	Name               string
	AssignmentType     string  // role | team | user | dynamic
	AssignmentTarget   string  // role name, team ID, user ID, or dynamic target
	ApprovalType       string  // single | all | majority
	RequiredPermission string  // permission type code, e.g. "approve"
	StageCode          *string // module stage used for permission scoping
	TimeLimitHours     *int
	Condition          *Condition
	OnApprove          TransitionTarget
	OnReject           TransitionTarget
	OnEscalate         TransitionTarget
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ── Workflow runtime ──────────────────────────────────────────────────────────

// WorkflowInstance is one execution of a definition against one business
// record, identified by (entity_type, entity_ref).
type WorkflowInstance struct {
	ID            string
	DefinitionID  string
	EntityID      string
	EntityType    string
	EntityRef     string
	Status        string // pending | in_progress | approved | rejected | cancelled
	CurrentStepID *string
	Data          map[string]any // entity snapshot fields used by step conditions
	StartedBy     string
	StartedAt     time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StepExecution records one instance visiting one step. An instance has at
// most one pending execution at a time and an immutable history of past ones.
type StepExecution struct {
	ID          string
	InstanceID  string
	StepID      string
	Status      string   // pending | completed | skipped | escalated
	Actors      []string // resolved, delegation-adjusted actor user IDs
	StartedAt   time.Time
	DueAt       *time.Time
	IsEscalated bool
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WorkflowAction is one user's decision on one step execution. Rows are
// immutable once written; the audit log table has a delete-prevention trigger.
type WorkflowAction struct {
	ID          string
	ExecutionID string
	InstanceID  string
	StepID      string
	UserID      string
	Action      string // approve | reject | escalate | delegate | recall | cancel
	Comments    *string
	IsSystem    bool
	Metadata    map[string]any
	CreatedAt   time.Time
}

// ── Delegation ────────────────────────────────────────────────────────────────

// Delegation scopes for standing delegations.
const (
	DelegationScopeDefinition = "definition"
	DelegationScopeGlobal     = "global"
)

// Delegation is a standing substitution of one user's approval authority by
// another within a date window.
type Delegation struct {
	ID           string
	EntityID     string
	FromUserID   string
	ToUserID     string
	Scope        string  // definition | global
	DefinitionID *string // set when scope = definition
	StartDate    time.Time
	EndDate      time.Time
	IsActive     bool
	Reason       *string
	CreatedBy    string
	CreatedAt    time.Time
	RevokedAt    *time.Time
	RevokedBy    *string
}

// ActiveAt reports whether the delegation substitutes authority at t.
func (d *Delegation) ActiveAt(t time.Time) bool {
	return d.IsActive &&
		d.RevokedAt == nil &&
		!t.Before(d.StartDate) &&
		!t.After(d.EndDate)
}

// ── Permission taxonomy ───────────────────────────────────────────────────────

// Permission type categories.
const (
	PermissionCategoryBasic    = "basic"
	PermissionCategoryWorkflow = "workflow"
	PermissionCategoryReports  = "reports"
)

// Module is a top-level permission domain (e.g. "tenders").
type Module struct {
	ID        string
	Code      string
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

// ModuleStage is a named phase within a module's lifecycle.
type ModuleStage struct {
	ID         string
	ModuleID   string
	Code       string
	Name       string
	StageOrder int
	IsInitial  bool
	IsFinal    bool
	CreatedAt  time.Time
}

// PermissionType is an action that can be granted (view, approve, ...).
type PermissionType struct {
	ID        string
	Code      string
	Name      string
	Category  string // basic | workflow | reports
	CreatedAt time.Time
}

// RoleStagePermission is the default grant/deny for a role on a module
// stage. A nil StageID applies to all stages of the module.
type RoleStagePermission struct {
	ID               string
	EntityID         string
	RoleID           string
	ModuleID         string
	StageID          *string
	PermissionTypeID string
	IsGranted        bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// UserStagePermission is a per-user override of a role default.
// IsInherited=false marks an explicit override.
type UserStagePermission struct {
	ID               string
	EntityID         string
	UserID           string
	ModuleID         string
	StageID          *string
	PermissionTypeID string
	IsGranted        bool
	IsInherited      bool
	ExpiresAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TemporaryPermission grants access to one concrete record, identified by
// (permissionable_type, permissionable_id). Strictly more specific than
// module-wide grants; expired or revoked rows never contribute.
type TemporaryPermission struct {
	ID                 string
	EntityID           string
	UserID             string
	PermissionableType string
	PermissionableID   string
	PermissionTypeID   string
	GrantedBy          string
	GrantedAt          time.Time
	ExpiresAt          *time.Time
	IsRevoked          bool
	RevokedBy          *string
	RevokedAt          *time.Time
}

// Usable reports whether the grant still contributes at t.
func (p *TemporaryPermission) Usable(t time.Time) bool {
	if p.IsRevoked {
		return false
	}
	if p.ExpiresAt != nil && !t.Before(*p.ExpiresAt) {
		return false
	}
	return true
}

// ── Organization directory ────────────────────────────────────────────────────

// Team membership roles.
const (
	TeamRoleLeader = "leader"
	TeamRoleMember = "member"
	TeamRoleViewer = "viewer"
)

// Team is a named group of users usable as an assignment target.
type Team struct {
	ID        string
	EntityID  string
	Name      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TeamMember links a user to a team with a role-in-team.
type TeamMember struct {
	ID       string
	TeamID   string
	UserID   string
	TeamRole string // leader | member | viewer
	IsActive bool
	JoinedAt time.Time
}

// DirectoryUser is the slice of the platform user record the engine needs
// for dynamic assignment resolution.
type DirectoryUser struct {
	ID           string
	EntityID     string
	ManagerID    *string
	DepartmentID *string
	BranchID     *string
	IsActive     bool
}

// Department is a node in the flat department tree (parent by ID).
type Department struct {
	ID         string
	EntityID   string
	Name       string
	HeadUserID *string
	ParentID   *string
}

// Branch is an organizational branch with a responsible manager.
type Branch struct {
	ID            string
	EntityID      string
	Name          string
	ManagerUserID *string
}

// ── JSON helpers ──────────────────────────────────────────────────────────────

// marshalJSON serializes v for a JSONB column, mapping nil to SQL NULL.
func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// unmarshalCondition parses a JSONB condition column, tolerating NULL.
func unmarshalCondition(raw []byte) (*Condition, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var c Condition
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
