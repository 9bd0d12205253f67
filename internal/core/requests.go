package core

import (
	"github.com/ceruleanworks/foreman/internal/types"
)

// Request and response records for every operation. The transport shell
// validates shapes and hands these structs in; responses are plain data.

type CreateProjectRequest struct {
	Name  string
	Actor string
}

type CreatePhaseRequest struct {
	ProjectID string
	Name      string
	Sequence  int
	Actor     string
}

type CreateMilestoneRequest struct {
	ProjectID string
	PhaseID   string
	Name      string
	Sequence  int
	Actor     string
}

type CreateTaskRequest struct {
	ProjectID      string
	PhaseID        string
	MilestoneID    string
	Title          string
	Description    string
	Priority       int
	WorkSpec       types.JSONMap
	TaskClass      types.TaskClass
	CapabilityTags types.StringSet
	ExclusivePaths types.StringSet
	SharedPaths    types.StringSet
	Actor          string
}

type ListTasksRequest struct {
	ProjectID   string
	States      []types.TaskState
	Classes     []types.TaskClass
	PhaseID     string
	MilestoneID string
	Limit       int
}

type TransitionRequest struct {
	ProjectID string
	TaskID    string
	ToState   types.TaskState
	Reason    string
	Actor     string

	// Force bypasses the adjacency check and the review/gate preconditions.
	// Operator use only; the emitted event still records the prior state.
	Force bool

	// Review fields, consulted on transitions into integrated.
	ReviewedBy   string
	EvidenceRefs []string
}

type CreateDependencyRequest struct {
	ProjectID  string
	FromTaskID string
	ToTaskID   string
	UnlockOn   types.UnlockOn
	Actor      string
}

type DeleteDependencyRequest struct {
	ProjectID  string
	FromTaskID string
	ToTaskID   string
	Actor      string
}

// ProjectGraph is the full graph view of a project: every task plus every
// dependency edge.
type ProjectGraph struct {
	Tasks        []*types.Task       `json:"tasks"`
	Dependencies []*types.Dependency `json:"dependencies"`
}

type ReadyTasksRequest struct {
	ProjectID    string
	AgentID      string
	Capabilities types.StringSet
	Limit        int
}

type ClaimRequest struct {
	ProjectID string
	TaskID    string
	AgentID   string
}

// ClaimResult carries everything an agent needs to start work: the claimed
// task, the lease with its raw token and fencing counter, and the frozen
// work-spec snapshot.
type ClaimResult struct {
	Task     *types.Task         `json:"task"`
	Lease    *types.Lease        `json:"lease"`
	Snapshot *types.TaskSnapshot `json:"snapshot"`
}

type HeartbeatRequest struct {
	ProjectID string
	TaskID    string
	AgentID   string
	Token     string

	// SeenPlanVersion, when set, is compared against the current plan
	// version; a stale value fails the heartbeat with PLAN_STALE.
	SeenPlanVersion *int64
}

type HeartbeatResult struct {
	Lease              *types.Lease `json:"lease"`
	CurrentPlanVersion int64        `json:"current_plan_version"`
}

type AssignRequest struct {
	ProjectID       string
	TaskID          string
	AssigneeAgentID string
	CreatedBy       string

	// TTLSeconds zero means the configured default.
	TTLSeconds int
}

type AssignResult struct {
	Task        *types.Task        `json:"task"`
	Reservation *types.Reservation `json:"reservation"`
}

type CreateChangeSetRequest struct {
	ProjectID         string
	BasePlanVersion   int64
	TargetPlanVersion int64
	Operations        types.ChangeOperations
	CreatedBy         string
}

type ApplyChangeSetRequest struct {
	ProjectID   string
	ChangeSetID string
	AllowRebase bool
	Actor       string
}

type ApplyChangeSetResult struct {
	ChangeSet   *types.PlanChangeSet `json:"changeset"`
	PlanVersion *types.PlanVersion   `json:"plan_version"`

	// Tasks whose in-flight claim or reservation was invalidated by a
	// material change.
	InvalidatedClaimTaskIDs       []string `json:"invalidated_claim_task_ids"`
	InvalidatedReservationTaskIDs []string `json:"invalidated_reservation_task_ids"`
}

type CreateGateRuleRequest struct {
	ProjectID             string
	Name                  string
	GateType              types.TaskClass
	RequiredEvidence      types.StringSet
	RequiredReviewerRoles types.StringSet
	Actor                 string
}

type CreateGateDecisionRequest struct {
	ProjectID string
	RuleID    string
	TaskID    string
	PhaseID   string
	Outcome   types.GateOutcome
	DecidedBy string
	Notes     string
}

type ListGateDecisionsRequest struct {
	ProjectID string
	TaskID    string
	PhaseID   string
}

// GatePolicy drives gate-task emission. Zero thresholds disable the
// corresponding trigger.
type GatePolicy struct {
	ImplementedBacklogThreshold int               `yaml:"implemented_backlog_threshold" json:"implemented_backlog_threshold"`
	RiskThreshold               int               `yaml:"risk_threshold" json:"risk_threshold"`
	ImplementedAgeHours         int               `yaml:"implemented_age_hours" json:"implemented_age_hours"`
	RiskTaskClasses             []types.TaskClass `yaml:"risk_task_classes" json:"risk_task_classes"`
}

type EvaluatePoliciesRequest struct {
	ProjectID string
	PhaseID   string
	Policy    GatePolicy
	Actor     string
}

// GateRollup summarizes the readiness of a gate task's candidates.
type GateRollup struct {
	GateTaskID      string `json:"gate_task_id"`
	Status          string `json:"status"` // ready | blocked
	ReadyCandidates int    `json:"ready_candidates"`
	TotalCandidates int    `json:"total_candidates"`
}

type EvaluatePoliciesResult struct {
	CreatedGateTasks []*types.Task `json:"created_gate_tasks"`
	Rollups          []*GateRollup `json:"rollups"`
}

type CreateArtifactRequest struct {
	ProjectID string
	TaskID    string
	Kind      string
	URI       string
	Digest    string
	Actor     string
}

type EnqueueAttemptRequest struct {
	ProjectID string
	TaskID    string
	Actor     string
}

type UpdateAttemptResultRequest struct {
	ProjectID     string
	AttemptID     string
	Status        types.AttemptStatus
	ResultPayload types.JSONMap
	Actor         string
}
