// Package storage defines the interface for orchestrator storage backends.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ceruleanworks/foreman/internal/types"
)

// ErrNotFound is returned when a requested row does not exist. Callers map
// it to the appropriate *_NOT_FOUND code.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate")

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	States      []types.TaskState
	Classes     []types.TaskClass
	PhaseID     string
	MilestoneID string
	Limit       int
}

// GateDecisionFilter narrows ListGateDecisions. Zero values match all.
type GateDecisionFilter struct {
	TaskID  string
	PhaseID string
}

// EventQuery selects a slice of the event log in id order.
type EventQuery struct {
	ProjectID  string
	AfterID    int64 // exclusive lower bound
	EntityType string
	EventType  types.EventType
	Limit      int
}

// ReadyCandidate is a ready-state task joined with its active reservation
// assignee, if any. Lease- and predecessor-blocked tasks are excluded by
// the query; the capability and reservation-assignee filters are applied
// by the caller.
type ReadyCandidate struct {
	Task        *types.Task
	ReservedFor *string
}

// Reads are the query operations available both on the Store and inside a
// transaction.
type Reads interface {
	// Projects, phases, milestones
	GetProject(ctx context.Context, id string) (*types.Project, error)
	ListProjects(ctx context.Context) ([]*types.Project, error)
	GetPhase(ctx context.Context, projectID, id string) (*types.Phase, error)
	GetMilestone(ctx context.Context, projectID, id string) (*types.Milestone, error)

	// Tasks
	GetTask(ctx context.Context, projectID, id string) (*types.Task, error)
	ListTasks(ctx context.Context, projectID string, filter TaskFilter) ([]*types.Task, error)
	ReadyCandidates(ctx context.Context, projectID string) ([]*ReadyCandidate, error)

	// Dependency graph
	ListDependencies(ctx context.Context, projectID string) ([]*types.Dependency, error)
	ListPredecessors(ctx context.Context, projectID, taskID string) ([]*PredecessorEdge, error)

	// Leases, reservations, snapshots. The Active* and FindActiveLease
	// lookups return (nil, nil) when no active grant exists; an absent
	// grant is a normal condition, not an error.
	ActiveLease(ctx context.Context, taskID string) (*types.Lease, error)
	ActiveReservation(ctx context.Context, taskID string) (*types.Reservation, error)
	FindActiveLease(ctx context.Context, projectID, taskID, agentID, token string) (*types.Lease, error)
	GetSnapshotByLease(ctx context.Context, leaseID string) (*types.TaskSnapshot, error)

	// Plans
	CurrentPlanVersion(ctx context.Context, projectID string) (int64, error)
	GetPlanVersion(ctx context.Context, projectID string, versionNumber int64) (*types.PlanVersion, error)
	GetChangeSet(ctx context.Context, projectID, id string) (*types.PlanChangeSet, error)

	// Gates
	GetGateRule(ctx context.Context, projectID, id string) (*types.GateRule, error)
	ListGateRules(ctx context.Context, projectID string) ([]*types.GateRule, error)
	ListGateDecisions(ctx context.Context, projectID string, filter GateDecisionFilter) ([]*types.GateDecision, error)
	HasApprovingDecision(ctx context.Context, projectID, taskID string) (bool, error)

	// Event log
	ListEvents(ctx context.Context, q EventQuery) ([]*types.Event, error)

	// Metrics read model. GetCheckpoint and GetRunByKey return (nil, nil)
	// when the row does not exist.
	GetCheckpoint(ctx context.Context, projectID string, mode types.MetricsMode) (*types.MetricsCheckpoint, error)
	GetRunByKey(ctx context.Context, projectID, idempotencyKey string) (*types.MetricsRun, error)
	GetRun(ctx context.Context, id string) (*types.MetricsRun, error)
	StateCounters(ctx context.Context, projectID string) ([]*types.StateCounter, error)

	// API keys
	GetAPIKeyByHash(ctx context.Context, hash string) (*types.APIKey, error)
	ListAPIKeys(ctx context.Context, projectID string) ([]*types.APIKey, error)

	// Artifacts & integration attempts
	ListTaskArtifacts(ctx context.Context, projectID, taskID string) ([]*types.Artifact, error)
	GetIntegrationAttempt(ctx context.Context, projectID, id string) (*types.IntegrationAttempt, error)
	ListIntegrationAttempts(ctx context.Context, projectID, taskID string) ([]*types.IntegrationAttempt, error)
}

// PredecessorEdge is a dependency edge joined with the predecessor's state.
type PredecessorEdge struct {
	Edge      *types.Dependency
	FromState types.TaskState
}

// Tx provides atomic multi-operation support within a single database
// transaction. Mutations are only reachable through RunInTx; changes are
// invisible to other connections until commit and roll back as a unit on
// error or panic. On SQLite the transaction opens in IMMEDIATE mode so the
// write lock is taken up front; on PostgreSQL LockTask takes a row lock.
type Tx interface {
	Reads

	// Row locks. Lock order is project -> task -> lease/reservation -> event
	// log; operations touching several tasks lock them in id order.
	LockProject(ctx context.Context, id string) (*types.Project, error)
	LockTask(ctx context.Context, projectID, id string) (*types.Task, error)

	// Projects, phases, milestones
	CreateProject(ctx context.Context, p *types.Project) error
	UpdateProjectStatus(ctx context.Context, id string, status types.ProjectStatus, now time.Time) error
	CreatePhase(ctx context.Context, p *types.Phase) error
	CreateMilestone(ctx context.Context, m *types.Milestone) error

	// Tasks
	CreateTask(ctx context.Context, t *types.Task) error
	UpdateTask(ctx context.Context, t *types.Task) error

	// Dependency graph
	CreateDependency(ctx context.Context, d *types.Dependency) error
	DeleteDependency(ctx context.Context, projectID, fromTaskID, toTaskID string) error

	// Leases
	CreateLease(ctx context.Context, l *types.Lease) error
	UpdateLease(ctx context.Context, l *types.Lease) error
	MaxFencingCounter(ctx context.Context, taskID string) (int64, error)
	ExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*types.Lease, error)

	// Reservations
	CreateReservation(ctx context.Context, r *types.Reservation) error
	UpdateReservation(ctx context.Context, r *types.Reservation) error
	ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]*types.Reservation, error)

	// Snapshots
	CreateSnapshot(ctx context.Context, s *types.TaskSnapshot) error

	// Plans
	CreatePlanVersion(ctx context.Context, v *types.PlanVersion) error
	CreateChangeSet(ctx context.Context, cs *types.PlanChangeSet) error
	UpdateChangeSet(ctx context.Context, cs *types.PlanChangeSet) error

	// Gates
	CreateGateRule(ctx context.Context, r *types.GateRule) error
	CreateGateDecision(ctx context.Context, d *types.GateDecision) error

	// Event log. AppendEvent assigns the dense monotonic id.
	AppendEvent(ctx context.Context, e *types.Event) error

	// Metrics read model
	UpsertCheckpoint(ctx context.Context, cp *types.MetricsCheckpoint) error
	CreateRun(ctx context.Context, r *types.MetricsRun) error
	BumpStateCounter(ctx context.Context, projectID string, state types.TaskState, eventID int64) error
	DeleteStateCounters(ctx context.Context, projectID string) error

	// API keys
	CreateAPIKey(ctx context.Context, k *types.APIKey) error
	TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error
	RevokeAPIKey(ctx context.Context, id string, revokedAt time.Time) error

	// Artifacts & integration attempts
	CreateArtifact(ctx context.Context, a *types.Artifact) error
	CreateIntegrationAttempt(ctx context.Context, a *types.IntegrationAttempt) error
	UpdateIntegrationAttempt(ctx context.Context, a *types.IntegrationAttempt) error
}

// Store is the interface for orchestrator storage backends.
type Store interface {
	Reads

	// RunInTx executes fn within a database transaction. If fn returns nil
	// the transaction commits; on error or panic it rolls back.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	// Lifecycle
	Close() error
}

// Config holds backend configuration.
type Config struct {
	// URL is a postgres:// connection string for the server dialect or a
	// SQLite path (optionally a file: URI) for the embedded dialect.
	URL string

	// MigrationDir overrides the embedded migrations with an external
	// directory of ordered goose SQL files.
	MigrationDir string
}
