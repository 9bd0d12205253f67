package auth

import "github.com/ceruleanworks/foreman/internal/types"

// Stable endpoint names used for authorization and audit. The transport
// shell passes these to Authorize.
const (
	EndpointCreateProject   = "create_project"
	EndpointGetProject      = "get_project"
	EndpointListProjects    = "list_projects"
	EndpointCreatePhase     = "create_phase"
	EndpointCreateMilestone = "create_milestone"

	EndpointCreateTask          = "create_task"
	EndpointGetTask             = "get_task"
	EndpointListTasks           = "list_tasks"
	EndpointTransitionTaskState = "transition_task_state"

	EndpointCreateDependency = "create_dependency"
	EndpointDeleteDependency = "delete_dependency"
	EndpointGetProjectGraph  = "get_project_graph"

	EndpointListReadyTasks = "list_ready_tasks"
	EndpointClaimTask      = "claim_task"
	EndpointHeartbeatTask  = "heartbeat_task"
	EndpointAssignTask     = "assign_task"

	EndpointCreatePlanChangeSet = "create_plan_changeset"
	EndpointApplyPlanChangeSet  = "apply_plan_changeset"

	EndpointCreateGateRule       = "create_gate_rule"
	EndpointCreateGateDecision   = "create_gate_decision"
	EndpointListGateDecisions    = "list_gate_decisions"
	EndpointEvaluateGatePolicies = "evaluate_gate_policies"

	EndpointCreateArtifact                 = "create_artifact"
	EndpointListTaskArtifacts              = "list_task_artifacts"
	EndpointEnqueueIntegrationAttempt      = "enqueue_integration_attempt"
	EndpointUpdateIntegrationAttemptResult = "update_integration_attempt_result"
	EndpointListIntegrationAttempts        = "list_integration_attempts"

	EndpointRunMetrics      = "run_metrics"
	EndpointBackfillMetrics = "backfill_metrics"
	EndpointGetMetrics      = "get_metrics"

	EndpointCreateAPIKey = "create_api_key"
	EndpointListAPIKeys  = "list_api_keys"
	EndpointRevokeAPIKey = "revoke_api_key"
)

// endpointRoles is the default role matrix. An endpoint with no entry (or an
// empty set) is callable by any authenticated key; admin passes every check.
var endpointRoles = map[string][]types.Role{
	EndpointCreateProject:   {types.RolePlanner},
	EndpointCreatePhase:     {types.RolePlanner},
	EndpointCreateMilestone: {types.RolePlanner},

	EndpointCreateTask:          {types.RolePlanner},
	EndpointTransitionTaskState: {types.RoleAgent, types.RoleOperator},

	EndpointCreateDependency: {types.RolePlanner},
	EndpointDeleteDependency: {types.RolePlanner},

	EndpointClaimTask:     {types.RoleAgent},
	EndpointHeartbeatTask: {types.RoleAgent},
	EndpointAssignTask:    {types.RolePlanner, types.RoleOperator},

	EndpointCreatePlanChangeSet: {types.RolePlanner},
	EndpointApplyPlanChangeSet:  {types.RolePlanner},

	EndpointCreateGateRule:       {types.RolePlanner, types.RoleOperator},
	EndpointCreateGateDecision:   {types.RoleReviewer, types.RoleOperator},
	EndpointEvaluateGatePolicies: {types.RolePlanner, types.RoleOperator},

	EndpointCreateArtifact:                 {types.RoleAgent},
	EndpointEnqueueIntegrationAttempt:      {types.RoleAgent, types.RoleOperator},
	EndpointUpdateIntegrationAttemptResult: {types.RoleAgent, types.RoleOperator},

	EndpointRunMetrics:      {types.RoleOperator},
	EndpointBackfillMetrics: {types.RoleOperator},

	EndpointCreateAPIKey: {types.RoleAdmin},
	EndpointListAPIKeys:  {types.RoleAdmin},
	EndpointRevokeAPIKey: {types.RoleAdmin},
}

// RequiredRoles returns the role set configured for an endpoint. An empty
// result means any authenticated caller may invoke it.
func RequiredRoles(endpoint string) []types.Role {
	return endpointRoles[endpoint]
}
