// Package types defines the core domain entities of the orchestrator:
// projects, tasks, the dependency graph, leases, reservations, plans,
// gates, and the append-only event log. All timestamps are UTC.
package types

import (
	"time"
)

// ProjectStatus is the lifecycle state of a project. Projects are never
// deleted, only archived.
type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectPaused   ProjectStatus = "paused"
	ProjectArchived ProjectStatus = "archived"
)

// Project is the root of all tenancy. Every other entity is owned by
// exactly one project.
type Project struct {
	ID        string        `db:"id" json:"id"`
	Name      string        `db:"name" json:"name"`
	Status    ProjectStatus `db:"status" json:"status"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// Phase is a top-level planning label. Sequence is unique per project.
type Phase struct {
	ID        string    `db:"id" json:"id"`
	ProjectID string    `db:"project_id" json:"project_id"`
	Name      string    `db:"name" json:"name"`
	Sequence  int       `db:"sequence" json:"sequence"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Milestone is a planning label under a phase. Sequence is unique per phase.
type Milestone struct {
	ID        string    `db:"id" json:"id"`
	ProjectID string    `db:"project_id" json:"project_id"`
	PhaseID   string    `db:"phase_id" json:"phase_id"`
	Name      string    `db:"name" json:"name"`
	Sequence  int       `db:"sequence" json:"sequence"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TaskState is the reviewed state machine position of a task.
type TaskState string

const (
	StateBacklog     TaskState = "backlog"
	StateReady       TaskState = "ready"
	StateReserved    TaskState = "reserved"
	StateClaimed     TaskState = "claimed"
	StateInProgress  TaskState = "in_progress"
	StateImplemented TaskState = "implemented"
	StateIntegrated  TaskState = "integrated"
	StateConflict    TaskState = "conflict"
	StateBlocked     TaskState = "blocked"
	StateAbandoned   TaskState = "abandoned"
	StateCancelled   TaskState = "cancelled"
)

// AllTaskStates lists every valid state, in no particular order.
var AllTaskStates = []TaskState{
	StateBacklog, StateReady, StateReserved, StateClaimed, StateInProgress,
	StateImplemented, StateIntegrated, StateConflict, StateBlocked,
	StateAbandoned, StateCancelled,
}

// Valid reports whether s is a known task state.
func (s TaskState) Valid() bool {
	for _, known := range AllTaskStates {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state admits no further transitions.
func (s TaskState) IsTerminal() bool {
	switch s {
	case StateIntegrated, StateAbandoned, StateCancelled:
		return true
	default:
		return false
	}
}

// TaskClass categorizes the kind of work a task represents.
type TaskClass string

const (
	ClassArchitecture TaskClass = "architecture"
	ClassDBSchema     TaskClass = "db_schema"
	ClassSecurity     TaskClass = "security"
	ClassCrossCutting TaskClass = "cross_cutting"
	ClassReviewGate   TaskClass = "review_gate"
	ClassMergeGate    TaskClass = "merge_gate"
	ClassFrontend     TaskClass = "frontend"
	ClassBackend      TaskClass = "backend"
	ClassCRUD         TaskClass = "crud"
	ClassOther        TaskClass = "other"
)

// AllTaskClasses lists every valid class.
var AllTaskClasses = []TaskClass{
	ClassArchitecture, ClassDBSchema, ClassSecurity, ClassCrossCutting,
	ClassReviewGate, ClassMergeGate, ClassFrontend, ClassBackend,
	ClassCRUD, ClassOther,
}

// Valid reports whether c is a known task class.
func (c TaskClass) Valid() bool {
	for _, known := range AllTaskClasses {
		if c == known {
			return true
		}
	}
	return false
}

// IsGate reports whether integration of a task of this class requires a
// recorded gate decision.
func (c TaskClass) IsGate() bool {
	return c == ClassReviewGate || c == ClassMergeGate
}

// Task is a unit of work in a project plan. Lower priority is more urgent.
type Task struct {
	ID             string    `db:"id" json:"id"`
	ProjectID      string    `db:"project_id" json:"project_id"`
	PhaseID        string    `db:"phase_id" json:"phase_id"`
	MilestoneID    string    `db:"milestone_id" json:"milestone_id"`
	Title          string    `db:"title" json:"title"`
	Description    string    `db:"description" json:"description,omitempty"`
	State          TaskState `db:"state" json:"state"`
	Priority       int       `db:"priority" json:"priority"`
	WorkSpec       JSONMap   `db:"work_spec" json:"work_spec"`
	TaskClass      TaskClass `db:"task_class" json:"task_class"`
	CapabilityTags StringSet `db:"capability_tags" json:"capability_tags,omitempty"`
	ExclusivePaths StringSet `db:"exclusive_paths" json:"exclusive_paths,omitempty"`
	SharedPaths    StringSet `db:"shared_paths" json:"shared_paths,omitempty"`

	IntroducedInPlanVersion *int64 `db:"introduced_in_plan_version" json:"introduced_in_plan_version,omitempty"`
	DeprecatedInPlanVersion *int64 `db:"deprecated_in_plan_version" json:"deprecated_in_plan_version,omitempty"`

	// ReviewedBy and ReviewEvidence are recorded when the task integrates.
	ReviewedBy     *string   `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewEvidence StringSet `db:"review_evidence" json:"review_evidence,omitempty"`

	Version   int64     `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// UnlockOn selects which predecessor state satisfies a dependency edge.
type UnlockOn string

const (
	UnlockOnImplemented UnlockOn = "implemented"
	UnlockOnIntegrated  UnlockOn = "integrated"
)

// Valid reports whether u is a known unlock mode.
func (u UnlockOn) Valid() bool {
	return u == UnlockOnImplemented || u == UnlockOnIntegrated
}

// Satisfied reports whether a predecessor in the given state unlocks the edge.
func (u UnlockOn) Satisfied(predecessor TaskState) bool {
	if u == UnlockOnImplemented {
		return predecessor == StateImplemented || predecessor == StateIntegrated
	}
	return predecessor == StateIntegrated
}

// Dependency is a directed edge from a predecessor task to a successor.
// The graph is always a DAG; cycle-creating inserts are rejected.
type Dependency struct {
	ID         string    `db:"id" json:"id"`
	ProjectID  string    `db:"project_id" json:"project_id"`
	FromTaskID string    `db:"from_task_id" json:"from_task_id"`
	ToTaskID   string    `db:"to_task_id" json:"to_task_id"`
	UnlockOn   UnlockOn  `db:"unlock_on" json:"unlock_on"`
	CreatedBy  string    `db:"created_by" json:"created_by"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// GrantStatus is the lifecycle state shared by leases and reservations.
type GrantStatus string

const (
	GrantActive   GrantStatus = "active"
	GrantExpired  GrantStatus = "expired"
	GrantReleased GrantStatus = "released"
	GrantConsumed GrantStatus = "consumed"
)

// Lease grants one agent exclusive execution rights on a task. At most one
// active lease exists per task; the fencing counter strictly increases
// across the lease sequence on a task.
type Lease struct {
	ID             string      `db:"id" json:"id"`
	ProjectID      string      `db:"project_id" json:"project_id"`
	TaskID         string      `db:"task_id" json:"task_id"`
	AgentID        string      `db:"agent_id" json:"agent_id"`
	Token          string      `db:"token" json:"token,omitempty"`
	Status         GrantStatus `db:"status" json:"status"`
	ExpiresAt      time.Time   `db:"expires_at" json:"expires_at"`
	HeartbeatAt    time.Time   `db:"heartbeat_at" json:"heartbeat_at"`
	FencingCounter int64       `db:"fencing_counter" json:"fencing_counter"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	ReleasedAt     *time.Time  `db:"released_at" json:"released_at,omitempty"`
}

// Reservation pre-assigns a task to a named agent. Only the assignee may
// claim a reserved task.
type Reservation struct {
	ID              string      `db:"id" json:"id"`
	ProjectID       string      `db:"project_id" json:"project_id"`
	TaskID          string      `db:"task_id" json:"task_id"`
	AssigneeAgentID string      `db:"assignee_agent_id" json:"assignee_agent_id"`
	Status          GrantStatus `db:"status" json:"status"`
	TTLSeconds      int         `db:"ttl_seconds" json:"ttl_seconds"`
	ExpiresAt       time.Time   `db:"expires_at" json:"expires_at"`
	CreatedBy       string      `db:"created_by" json:"created_by"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	ReleasedAt      *time.Time  `db:"released_at" json:"released_at,omitempty"`
}

// Reservation TTL bounds, in seconds.
const (
	ReservationMinTTLSeconds = 60
	ReservationMaxTTLSeconds = 86400
)

// TaskSnapshot freezes the work definition an agent claimed against.
// Exactly one snapshot exists per lease, captured atomically at claim time.
type TaskSnapshot struct {
	ID                  string    `db:"id" json:"id"`
	ProjectID           string    `db:"project_id" json:"project_id"`
	TaskID              string    `db:"task_id" json:"task_id"`
	LeaseID             string    `db:"lease_id" json:"lease_id"`
	CapturedPlanVersion int64     `db:"captured_plan_version" json:"captured_plan_version"`
	WorkSpecHash        string    `db:"work_spec_hash" json:"work_spec_hash"`
	WorkSpecPayload     JSONText  `db:"work_spec_payload" json:"work_spec_payload"`
	CapturedBy          string    `db:"captured_by" json:"captured_by"`
	CapturedAt          time.Time `db:"captured_at" json:"captured_at"`
}

// PlanVersion is one entry of a project's strictly increasing plan history.
// Version 1 is created with the project.
type PlanVersion struct {
	ID            string    `db:"id" json:"id"`
	ProjectID     string    `db:"project_id" json:"project_id"`
	VersionNumber int64     `db:"version_number" json:"version_number"`
	ChangeSetID   *string   `db:"change_set_id" json:"change_set_id,omitempty"`
	Summary       string    `db:"summary" json:"summary"`
	CreatedBy     string    `db:"created_by" json:"created_by"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// ChangeSetStatus is the lifecycle state of a plan changeset.
type ChangeSetStatus string

const (
	ChangeSetDraft     ChangeSetStatus = "draft"
	ChangeSetValidated ChangeSetStatus = "validated"
	ChangeSetApplied   ChangeSetStatus = "applied"
	ChangeSetRejected  ChangeSetStatus = "rejected"
)

// Changeset operation tags. New tags must declare their material/cosmetic
// classification explicitly in the plan applier.
const (
	OpUpdateTask       = "update_task"
	OpReprioritizeTask = "reprioritize_task"
)

// ChangeOperation is one ordered mutation inside a changeset.
type ChangeOperation struct {
	Op      string  `json:"op"`
	TaskID  string  `json:"task_id,omitempty"`
	Payload JSONMap `json:"payload,omitempty"`
}

// PlanChangeSet is an ordered batch of plan mutations applied transactionally.
type PlanChangeSet struct {
	ID                string           `db:"id" json:"id"`
	ProjectID         string           `db:"project_id" json:"project_id"`
	BasePlanVersion   int64            `db:"base_plan_version" json:"base_plan_version"`
	TargetPlanVersion int64            `db:"target_plan_version" json:"target_plan_version"`
	Status            ChangeSetStatus  `db:"status" json:"status"`
	Operations        ChangeOperations `db:"operations" json:"operations"`
	ImpactPreview     JSONMap          `db:"impact_preview" json:"impact_preview,omitempty"`
	CreatedBy         string           `db:"created_by" json:"created_by"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	AppliedAt         *time.Time       `db:"applied_at" json:"applied_at,omitempty"`
}

// GateRule declares what evidence and reviewer roles a gate requires.
type GateRule struct {
	ID                    string    `db:"id" json:"id"`
	ProjectID             string    `db:"project_id" json:"project_id"`
	Name                  string    `db:"name" json:"name"`
	GateType              TaskClass `db:"gate_type" json:"gate_type"`
	RequiredEvidence      StringSet `db:"required_evidence" json:"required_evidence,omitempty"`
	RequiredReviewerRoles StringSet `db:"required_reviewer_roles" json:"required_reviewer_roles,omitempty"`
	CreatedBy             string    `db:"created_by" json:"created_by"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
}

// GateOutcome is the recorded verdict of a gate decision.
type GateOutcome string

const (
	GateApproved         GateOutcome = "approved"
	GateRejected         GateOutcome = "rejected"
	GateApprovedWithRisk GateOutcome = "approved_with_risk"
)

// Valid reports whether o is a known outcome.
func (o GateOutcome) Valid() bool {
	return o == GateApproved || o == GateRejected || o == GateApprovedWithRisk
}

// Approves reports whether the outcome unblocks integration.
func (o GateOutcome) Approves() bool {
	return o == GateApproved || o == GateApprovedWithRisk
}

// GateDecision records a human (or service) verdict. Exactly one of TaskID
// or PhaseID is set.
type GateDecision struct {
	ID        string      `db:"id" json:"id"`
	ProjectID string      `db:"project_id" json:"project_id"`
	RuleID    *string     `db:"rule_id" json:"rule_id,omitempty"`
	TaskID    *string     `db:"task_id" json:"task_id,omitempty"`
	PhaseID   *string     `db:"phase_id" json:"phase_id,omitempty"`
	Outcome   GateOutcome `db:"outcome" json:"outcome"`
	DecidedBy string      `db:"decided_by" json:"decided_by"`
	Notes     string      `db:"notes" json:"notes,omitempty"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// ArtifactKind values are free-form but short ("diff", "log", "report").
type Artifact struct {
	ID        string    `db:"id" json:"id"`
	ProjectID string    `db:"project_id" json:"project_id"`
	TaskID    string    `db:"task_id" json:"task_id"`
	Kind      string    `db:"kind" json:"kind"`
	URI       string    `db:"uri" json:"uri"`
	Digest    *string   `db:"digest" json:"digest,omitempty"`
	CreatedBy string    `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AttemptStatus is the lifecycle state of an integration attempt.
type AttemptStatus string

const (
	AttemptQueued    AttemptStatus = "queued"
	AttemptRunning   AttemptStatus = "running"
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
	AttemptConflict  AttemptStatus = "conflict"
)

// Valid reports whether s is a known attempt status.
func (s AttemptStatus) Valid() bool {
	switch s {
	case AttemptQueued, AttemptRunning, AttemptSucceeded, AttemptFailed, AttemptConflict:
		return true
	default:
		return false
	}
}

// Terminal reports whether the attempt status admits no further updates.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptSucceeded || s == AttemptFailed || s == AttemptConflict
}

// IntegrationAttempt tracks one try at integrating an implemented task.
type IntegrationAttempt struct {
	ID            string        `db:"id" json:"id"`
	ProjectID     string        `db:"project_id" json:"project_id"`
	TaskID        string        `db:"task_id" json:"task_id"`
	Status        AttemptStatus `db:"status" json:"status"`
	ResultPayload JSONMap       `db:"result_payload" json:"result_payload,omitempty"`
	EnqueuedBy    string        `db:"enqueued_by" json:"enqueued_by"`
	EnqueuedAt    time.Time     `db:"enqueued_at" json:"enqueued_at"`
	CompletedAt   *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
}

// Role is an authorization role carried by an API key.
type Role string

const (
	RolePlanner  Role = "planner"
	RoleAgent    Role = "agent"
	RoleReviewer Role = "reviewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePlanner, RoleAgent, RoleReviewer, RoleOperator, RoleAdmin:
		return true
	default:
		return false
	}
}

// KeyStatus is the lifecycle state of an API key.
type KeyStatus string

const (
	KeyActive  KeyStatus = "active"
	KeyRevoked KeyStatus = "revoked"
)

// GlobalProjectScope marks an API key as valid for every project.
const GlobalProjectScope = "*"

// APIKey is a project-scoped bearer credential. Only the SHA-256 of the raw
// token is stored.
type APIKey struct {
	ID         string     `db:"id" json:"id"`
	ProjectID  string     `db:"project_id" json:"project_id"`
	Name       string     `db:"name" json:"name"`
	Hash       string     `db:"hash" json:"-"`
	Status     KeyStatus  `db:"status" json:"status"`
	RoleScopes StringSet  `db:"role_scopes" json:"role_scopes"`
	CreatedBy  string     `db:"created_by" json:"created_by"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}

// Roles returns the key's role scopes as typed roles.
func (k *APIKey) Roles() []Role {
	roles := make([]Role, 0, len(k.RoleScopes))
	for _, s := range k.RoleScopes {
		roles = append(roles, Role(s))
	}
	return roles
}
