package types

import (
	"time"
)

// EventType identifies a persisted domain event.
type EventType string

const (
	EventTaskStateTransitioned      EventType = "task_state_transitioned"
	EventLeaseExpired               EventType = "lease_expired"
	EventLeaseReleased              EventType = "lease_released"
	EventReservationExpired         EventType = "reservation_expired"
	EventReservationReleased        EventType = "reservation_released"
	EventChangesetApplied           EventType = "changeset_applied"
	EventGateDecisionRecorded       EventType = "gate_decision_recorded"
	EventAuthDenied                 EventType = "auth_denied"
	EventArtifactCreated            EventType = "artifact_created"
	EventIntegrationAttemptEnqueued EventType = "integration_attempt_enqueued"
	EventIntegrationAttemptComplete EventType = "integration_attempt_completed"
)

// Entity type discriminators for the event log.
const (
	EntityTask        = "task"
	EntityLease       = "lease"
	EntityReservation = "reservation"
	EntityChangeSet   = "changeset"
	EntityGate        = "gate"
	EntityAuth        = "auth"
	EntityArtifact    = "artifact"
	EntityIntegration = "integration_attempt"
)

// Event is one entry of the append-only project event log. ID is a dense
// monotonic integer assigned by the store inside the writing transaction;
// it defines the sole replay order.
type Event struct {
	ID         int64     `db:"id" json:"id"`
	ProjectID  string    `db:"project_id" json:"project_id"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	EntityID   *string   `db:"entity_id" json:"entity_id,omitempty"`
	EventType  EventType `db:"event_type" json:"event_type"`
	Payload    JSONText  `db:"payload" json:"payload"`
	CausedBy   *string   `db:"caused_by" json:"caused_by,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// TransitionPayload is the payload of a task_state_transitioned event.
type TransitionPayload struct {
	FromState    TaskState `json:"from_state"`
	ToState      TaskState `json:"to_state"`
	Reason       string    `json:"reason,omitempty"`
	Actor        string    `json:"actor"`
	Forced       bool      `json:"forced,omitempty"`
	ReviewedBy   string    `json:"reviewed_by,omitempty"`
	EvidenceRefs []string  `json:"evidence_refs,omitempty"`
}

// MetricsMode selects the materializer cadence/batch profile.
type MetricsMode string

const (
	ModeBatch        MetricsMode = "batch"
	ModeNearRealTime MetricsMode = "near_real_time"
)

// Valid reports whether m is a known mode.
func (m MetricsMode) Valid() bool {
	return m == ModeBatch || m == ModeNearRealTime
}

// RunStatus is the outcome of one materializer run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// MetricsCheckpoint is the resume cursor of the materializer for one
// (project, mode) pair.
type MetricsCheckpoint struct {
	ProjectID     string      `db:"project_id" json:"project_id"`
	Mode          MetricsMode `db:"mode" json:"mode"`
	LastEventID   int64       `db:"last_event_id" json:"last_event_id"`
	LastSuccessAt *time.Time  `db:"last_success_at" json:"last_success_at,omitempty"`
}

// MetricsRun records one materializer invocation. The (project_id,
// idempotency_key) uniqueness makes retries safe: a colliding run returns
// the stored record verbatim.
type MetricsRun struct {
	ID              string      `db:"id" json:"id"`
	ProjectID       string      `db:"project_id" json:"project_id"`
	Mode            MetricsMode `db:"mode" json:"mode"`
	Status          RunStatus   `db:"status" json:"status"`
	IdempotencyKey  string      `db:"idempotency_key" json:"idempotency_key"`
	StartEventID    int64       `db:"start_event_id" json:"start_event_id"`
	EndEventID      int64       `db:"end_event_id" json:"end_event_id"`
	ProcessedEvents int         `db:"processed_events" json:"processed_events"`
	FailureReason   *string     `db:"failure_reason" json:"failure_reason,omitempty"`
	StartedAt       time.Time   `db:"started_at" json:"started_at"`
	CompletedAt     *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
}

// StateCounter is the derived per-state transition counter read model.
type StateCounter struct {
	ProjectID       string    `db:"project_id" json:"project_id"`
	State           TaskState `db:"state" json:"state"`
	TransitionCount int64     `db:"transition_count" json:"transition_count"`
	LastEventID     int64     `db:"last_event_id" json:"last_event_id"`
}
