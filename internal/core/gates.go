package core

import (
	"context"
	"fmt"
	"time"

	"github.com/ceruleanworks/foreman/internal/apperr"
	"github.com/ceruleanworks/foreman/internal/idgen"
	"github.com/ceruleanworks/foreman/internal/storage"
	"github.com/ceruleanworks/foreman/internal/types"
)

// Gate policy triggers recorded in synthesized gate tasks' work specs.
const (
	TriggerImplementedBacklog  = "implemented_backlog"
	TriggerRiskOverlap         = "risk_overlap"
	TriggerImplementedAgeSLA   = "implemented_age_sla"
	TriggerMilestoneCompletion = "milestone_completion"
)

// CreateGateRule declares what evidence and reviewer roles a gate requires.
func (c *Core) CreateGateRule(ctx context.Context, req CreateGateRuleRequest) (*types.GateRule, error) {
	if !req.GateType.IsGate() {
		return nil, apperr.Newf(apperr.InvalidGateType, "gate type must be review_gate or merge_gate, got %q", req.GateType)
	}
	rule := &types.GateRule{
		ID:                    idgen.NewID(),
		ProjectID:             req.ProjectID,
		Name:                  req.Name,
		GateType:              req.GateType,
		RequiredEvidence:      req.RequiredEvidence,
		RequiredReviewerRoles: req.RequiredReviewerRoles,
		CreatedBy:             req.Actor,
		CreatedAt:             c.clock.Now(),
	}
	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetProject(ctx, req.ProjectID); err != nil {
			return notFound(err, apperr.ProjectNotFound, "project not found")
		}
		return tx.CreateGateRule(ctx, rule)
	})
	if err != nil {
		return nil, c.fail("create_gate_rule", err)
	}
	return rule, nil
}

// CreateGateDecision records a verdict against exactly one task or phase
// and appends the gate_decision_recorded event.
func (c *Core) CreateGateDecision(ctx context.Context, req CreateGateDecisionRequest) (*types.GateDecision, error) {
	if !req.Outcome.Valid() {
		return nil, apperr.Newf(apperr.InvalidGateOutcome, "unknown gate outcome %q", req.Outcome)
	}
	if (req.TaskID == "") == (req.PhaseID == "") {
		return nil, apperr.New(apperr.GateScopeRequired, "decision must reference exactly one of task_id or phase_id")
	}

	now := c.clock.Now()
	decision := &types.GateDecision{
		ID:        idgen.NewID(),
		ProjectID: req.ProjectID,
		Outcome:   req.Outcome,
		DecidedBy: req.DecidedBy,
		Notes:     req.Notes,
		CreatedAt: now,
	}
	if req.TaskID != "" {
		taskID := req.TaskID
		decision.TaskID = &taskID
	}
	if req.PhaseID != "" {
		phaseID := req.PhaseID
		decision.PhaseID = &phaseID
	}
	if req.RuleID != "" {
		ruleID := req.RuleID
		decision.RuleID = &ruleID
	}

	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		if req.RuleID != "" {
			if _, err := tx.GetGateRule(ctx, req.ProjectID, req.RuleID); err != nil {
				return notFound(err, apperr.GateRuleNotFound, "gate rule not found")
			}
		}
		if req.TaskID != "" {
			if _, err := tx.GetTask(ctx, req.ProjectID, req.TaskID); err != nil {
				return notFound(err, apperr.TaskNotFound, "task not found")
			}
		}
		if req.PhaseID != "" {
			if _, err := tx.GetPhase(ctx, req.ProjectID, req.PhaseID); err != nil {
				return notFound(err, apperr.GateScopeRequired, "phase not found in project")
			}
		}
		if err := tx.CreateGateDecision(ctx, decision); err != nil {
			return err
		}
		return appendEvent(ctx, tx, req.ProjectID, types.EntityGate, decision.ID,
			types.EventGateDecisionRecorded, map[string]any{
				"task_id":  req.TaskID,
				"phase_id": req.PhaseID,
				"outcome":  req.Outcome,
			}, req.DecidedBy, now)
	})
	if err != nil {
		return nil, c.fail("create_gate_decision", err)
	}
	return decision, nil
}

// ListGateDecisions returns decisions, optionally narrowed to one task or
// phase.
func (c *Core) ListGateDecisions(ctx context.Context, req ListGateDecisionsRequest) ([]*types.GateDecision, error) {
	decisions, err := c.store.ListGateDecisions(ctx, req.ProjectID, storage.GateDecisionFilter{
		TaskID:  req.TaskID,
		PhaseID: req.PhaseID,
	})
	if err != nil {
		return nil, c.fail("list_gate_decisions", err)
	}
	return decisions, nil
}

// EvaluateGatePolicies synthesizes gate tasks from policy triggers and
// returns a candidate readiness rollup for every open gate. Evaluation is
// idempotent: an open gate with the same trigger and scope is never
// re-emitted.
func (c *Core) EvaluateGatePolicies(ctx context.Context, req EvaluatePoliciesRequest) (*EvaluatePoliciesResult, error) {
	now := c.clock.Now()
	result := &EvaluatePoliciesResult{
		CreatedGateTasks: []*types.Task{},
		Rollups:          []*GateRollup{},
	}

	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.LockProject(ctx, req.ProjectID); err != nil {
			return notFound(err, apperr.ProjectNotFound, "project not found")
		}
		tasks, err := tx.ListTasks(ctx, req.ProjectID, storage.TaskFilter{PhaseID: req.PhaseID})
		if err != nil {
			return err
		}

		openKeys := make(map[string]bool)
		var openGates []*types.Task
		for _, t := range tasks {
			if t.TaskClass.IsGate() && !t.State.IsTerminal() {
				openGates = append(openGates, t)
				if trigger, ok := t.WorkSpec["policy_trigger"].(string); ok {
					scope, _ := t.WorkSpec["policy_scope"].(string)
					openKeys[gateKey(trigger, scope)] = true
				}
			}
		}

		for _, proposal := range evaluateTriggers(req.Policy, tasks, now) {
			key := gateKey(proposal.trigger, proposal.scope)
			if openKeys[key] {
				continue
			}
			gate, err := c.createGateTask(ctx, tx, req, proposal, now)
			if err != nil {
				return err
			}
			result.CreatedGateTasks = append(result.CreatedGateTasks, gate)
			openGates = append(openGates, gate)
			openKeys[key] = true
		}

		byID := make(map[string]*types.Task, len(tasks))
		for _, t := range tasks {
			byID[t.ID] = t
		}
		for _, gate := range openGates {
			result.Rollups = append(result.Rollups, rollupGate(gate, byID))
		}
		return nil
	})
	if err != nil {
		return nil, c.fail("evaluate_gate_policies", err)
	}
	return result, nil
}

// gateProposal is one triggered gate emission. Scope narrows the trigger to
// a sub-resource (the milestone for milestone completion); project-wide
// triggers leave it empty.
type gateProposal struct {
	trigger      string
	scope        string
	gateClass    types.TaskClass
	title        string
	candidateIDs []string
}

// gateKey identifies an open gate for the idempotency check.
func gateKey(trigger, scope string) string {
	return trigger + "|" + scope
}

// evaluateTriggers derives gate proposals from the policy thresholds. Zero
// thresholds disable their trigger.
func evaluateTriggers(policy GatePolicy, tasks []*types.Task, now time.Time) []gateProposal {
	var proposals []gateProposal

	var implemented []*types.Task
	for _, t := range tasks {
		if t.State == types.StateImplemented {
			implemented = append(implemented, t)
		}
	}

	if policy.ImplementedBacklogThreshold > 0 && len(implemented) >= policy.ImplementedBacklogThreshold {
		proposals = append(proposals, gateProposal{
			trigger:      TriggerImplementedBacklog,
			gateClass:    types.ClassReviewGate,
			title:        fmt.Sprintf("Review gate: %d implemented tasks awaiting integration", len(implemented)),
			candidateIDs: taskIDs(implemented),
		})
	}

	if policy.RiskThreshold > 0 && len(policy.RiskTaskClasses) > 0 {
		risky := make(map[types.TaskClass]bool, len(policy.RiskTaskClasses))
		for _, class := range policy.RiskTaskClasses {
			risky[class] = true
		}
		var overlap []*types.Task
		for _, t := range implemented {
			if risky[t.TaskClass] {
				overlap = append(overlap, t)
			}
		}
		if len(overlap) >= policy.RiskThreshold {
			proposals = append(proposals, gateProposal{
				trigger:      TriggerRiskOverlap,
				gateClass:    types.ClassMergeGate,
				title:        fmt.Sprintf("Merge gate: %d high-risk tasks awaiting integration", len(overlap)),
				candidateIDs: taskIDs(overlap),
			})
		}
	}

	if policy.ImplementedAgeHours > 0 {
		cutoff := now.Add(-time.Duration(policy.ImplementedAgeHours) * time.Hour)
		var aged []*types.Task
		for _, t := range implemented {
			if t.UpdatedAt.Before(cutoff) {
				aged = append(aged, t)
			}
		}
		if len(aged) > 0 {
			proposals = append(proposals, gateProposal{
				trigger:      TriggerImplementedAgeSLA,
				gateClass:    types.ClassReviewGate,
				title:        fmt.Sprintf("Review gate: %d tasks implemented over %dh ago", len(aged), policy.ImplementedAgeHours),
				candidateIDs: taskIDs(aged),
			})
		}
	}

	// Milestone completion: every non-gate task of a milestone is
	// implemented or integrated, with at least one still un-integrated.
	byMilestone := make(map[string][]*types.Task)
	for _, t := range tasks {
		if !t.TaskClass.IsGate() {
			byMilestone[t.MilestoneID] = append(byMilestone[t.MilestoneID], t)
		}
	}
	for milestoneID, group := range byMilestone {
		complete := len(group) > 0
		pending := false
		for _, t := range group {
			if t.State != types.StateImplemented && t.State != types.StateIntegrated {
				complete = false
				break
			}
			if t.State == types.StateImplemented {
				pending = true
			}
		}
		if complete && pending {
			proposals = append(proposals, gateProposal{
				trigger:      TriggerMilestoneCompletion,
				scope:        milestoneID,
				gateClass:    types.ClassReviewGate,
				title:        fmt.Sprintf("Review gate: milestone %s complete", milestoneID),
				candidateIDs: taskIDs(group),
			})
		}
	}

	return proposals
}

func (c *Core) createGateTask(ctx context.Context, tx storage.Tx, req EvaluatePoliciesRequest,
	proposal gateProposal, now time.Time) (*types.Task, error) {

	// Anchor the gate under the first candidate's milestone so it inherits
	// a valid phase/milestone parent.
	first, err := tx.GetTask(ctx, req.ProjectID, proposal.candidateIDs[0])
	if err != nil {
		return nil, err
	}
	current, err := tx.CurrentPlanVersion(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}

	candidates := make([]any, 0, len(proposal.candidateIDs))
	for _, id := range proposal.candidateIDs {
		candidates = append(candidates, id)
	}
	spec := types.JSONMap{
		"policy_trigger":     proposal.trigger,
		"candidate_task_ids": candidates,
	}
	if proposal.scope != "" {
		spec["policy_scope"] = proposal.scope
	}
	gate := &types.Task{
		ID:                      idgen.NewID(),
		ProjectID:               req.ProjectID,
		PhaseID:                 first.PhaseID,
		MilestoneID:             first.MilestoneID,
		Title:                   proposal.title,
		State:                   types.StateReady,
		Priority:                10,
		WorkSpec:                spec,
		TaskClass:               proposal.gateClass,
		IntroducedInPlanVersion: &current,
		Version:                 1,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := tx.CreateTask(ctx, gate); err != nil {
		return nil, err
	}
	return gate, nil
}

// rollupGate summarizes candidate readiness: a candidate is ready for the
// gate once it reaches implemented or integrated.
func rollupGate(gate *types.Task, byID map[string]*types.Task) *GateRollup {
	rollup := &GateRollup{GateTaskID: gate.ID, Status: "blocked"}

	raw, _ := gate.WorkSpec["candidate_task_ids"].([]any)
	for _, item := range raw {
		id, ok := item.(string)
		if !ok {
			continue
		}
		rollup.TotalCandidates++
		if t := byID[id]; t != nil &&
			(t.State == types.StateImplemented || t.State == types.StateIntegrated) {
			rollup.ReadyCandidates++
		}
	}
	if rollup.TotalCandidates > 0 && rollup.ReadyCandidates == rollup.TotalCandidates {
		rollup.Status = "ready"
	}
	return rollup
}

func taskIDs(tasks []*types.Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}
