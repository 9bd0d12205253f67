package types

// allowedTransitions is the non-forced adjacency of the task state machine.
// Terminal states have no outgoing edges.
var allowedTransitions = map[TaskState][]TaskState{
	StateBacklog:     {StateReady},
	StateReady:       {StateReserved, StateClaimed, StateBlocked, StateCancelled, StateAbandoned},
	StateReserved:    {StateClaimed, StateReady, StateCancelled},
	StateClaimed:     {StateInProgress, StateReady, StateBlocked, StateConflict},
	StateInProgress:  {StateImplemented, StateBlocked, StateConflict, StateReady},
	StateImplemented: {StateIntegrated, StateConflict, StateReady},
	StateConflict:    {StateInProgress, StateBlocked, StateAbandoned},
	StateBlocked:     {StateReady, StateAbandoned, StateCancelled},
}

// CanTransition reports whether the non-forced state machine allows
// from -> to. Forced operator transitions bypass this check.
func CanTransition(from, to TaskState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionsFrom returns the allowed successor states of from. The returned
// slice must not be mutated.
func TransitionsFrom(from TaskState) []TaskState {
	return allowedTransitions[from]
}

// HoldsLease reports whether a task in this state may carry an active lease.
func (s TaskState) HoldsLease() bool {
	return s == StateClaimed || s == StateInProgress
}
