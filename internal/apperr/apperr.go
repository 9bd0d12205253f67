// Package apperr defines the stable coded error envelope every operation
// fails with. Each operation fails with exactly one code; retryable errors
// carry Retryable=true; backend driver failures collapse to DB_ERROR with a
// generic message.
package apperr

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error code.
type Code string

// Not found.
const (
	ProjectNotFound            Code = "PROJECT_NOT_FOUND"
	TaskNotFound               Code = "TASK_NOT_FOUND"
	ChangesetNotFound          Code = "CHANGESET_NOT_FOUND"
	GateRuleNotFound           Code = "GATE_RULE_NOT_FOUND"
	IntegrationAttemptNotFound Code = "INTEGRATION_ATTEMPT_NOT_FOUND"
	AlertNotFound              Code = "ALERT_NOT_FOUND"
	RunNotFound                Code = "RUN_NOT_FOUND"
)

// Validation / invariant.
const (
	CycleDetected            Code = "CYCLE_DETECTED"
	ProjectMismatch          Code = "PROJECT_MISMATCH"
	IdentifierParentRequired Code = "IDENTIFIER_PARENT_REQUIRED"
	PhaseMilestoneMismatch   Code = "PHASE_MILESTONE_MISMATCH"
	InvalidState             Code = "INVALID_STATE"
	InvalidStateTransition   Code = "INVALID_STATE_TRANSITION"
	StateNotAllowed          Code = "STATE_NOT_ALLOWED"
	InvalidCheckStatus       Code = "INVALID_CHECK_STATUS"
	InvalidIntegrationResult Code = "INVALID_INTEGRATION_RESULT"
	InvalidEventPayload      Code = "INVALID_EVENT_PAYLOAD"
	InvalidGateType          Code = "INVALID_GATE_TYPE"
	InvalidGateOutcome       Code = "INVALID_GATE_OUTCOME"
	GateScopeRequired        Code = "GATE_SCOPE_REQUIRED"
	SequenceConflict         Code = "SEQUENCE_CONFLICT"
)

// Concurrency / lifecycle.
const (
	LeaseExists         Code = "LEASE_EXISTS"
	LeaseInvalid        Code = "LEASE_INVALID"
	ReservationConflict Code = "RESERVATION_CONFLICT"
	ReservationExists   Code = "RESERVATION_EXISTS"
	TaskNotClaimable    Code = "TASK_NOT_CLAIMABLE"
	TaskNotAssignable   Code = "TASK_NOT_ASSIGNABLE"
)

// Review / gate.
const (
	ReviewRequiredForIntegration Code = "REVIEW_REQUIRED_FOR_INTEGRATION"
	ReviewEvidenceRequired       Code = "REVIEW_EVIDENCE_REQUIRED"
	SelfReviewNotAllowed         Code = "SELF_REVIEW_NOT_ALLOWED"
	GateDecisionRequired         Code = "GATE_DECISION_REQUIRED"
)

// Plan freshness.
const (
	PlanStale Code = "PLAN_STALE"
)

// Auth.
const (
	AuthMissing           Code = "AUTH_MISSING"
	AuthInvalid           Code = "AUTH_INVALID"
	InsufficientRole      Code = "INSUFFICIENT_ROLE"
	ProjectScopeViolation Code = "PROJECT_SCOPE_VIOLATION"
	InvalidRoles          Code = "INVALID_ROLES"
)

// System.
const (
	DBError Code = "DB_ERROR"
)

// Error is the stable error envelope. The transport shell serializes it
// verbatim; the body shape is identical across all codes.
type Error struct {
	Code      Code           `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithDetail attaches a detail entry and returns e for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a non-retryable coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a non-retryable coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Retry creates a retryable coded error.
func Retry(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: true}
}

// Wrap collapses an unexpected backend error into DB_ERROR. The cause is
// not included in the message; callers log it before wrapping.
func Wrap(err error) *Error {
	var coded *Error
	if errors.As(err, &coded) {
		return coded
	}
	return &Error{Code: DBError, Message: "internal storage error"}
}

// Is reports whether err is a coded error with the given code.
func Is(err error, code Code) bool {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code == code
	}
	return false
}

// CodeOf returns the code carried by err, or DBError when err is not coded.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return DBError
}
