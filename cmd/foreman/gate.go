package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ceruleanworks/foreman/internal/core"
	"github.com/ceruleanworks/foreman/internal/types"
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Manage review gates and gate policies",
}

var (
	gateRuleEvidence []string
	gateRuleRoles    []string
)

var gateRuleCmd = &cobra.Command{
	Use:   "rule <project-id> <name> <gate-type>",
	Short: "Create a gate rule",
	Long: `Create a gate rule declaring what a gate of the given type requires.
Gate types are the gate task classes: review_gate or merge_gate.

Examples:
  foreman gate rule prj-1 "security review" review_gate \
    --evidence threat-model --reviewer-role reviewer`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		rule, err := newCore(store).CreateGateRule(cmd.Context(), core.CreateGateRuleRequest{
			ProjectID:             args[0],
			Name:                  args[1],
			GateType:              types.TaskClass(args[2]),
			RequiredEvidence:      gateRuleEvidence,
			RequiredReviewerRoles: gateRuleRoles,
			Actor:                 actorFlag,
		})
		if err != nil {
			return err
		}
		return printResult(rule)
	},
}

var (
	decisionRule    string
	decisionTaskID  string
	decisionPhaseID string
	decisionNotes   string
)

var gateDecideCmd = &cobra.Command{
	Use:   "decide <project-id> <outcome>",
	Short: "Record a gate decision",
	Long: `Record a gate decision against exactly one of --task or --phase.
Outcomes: approved, rejected, approved_with_risk.

Examples:
  foreman gate decide prj-1 approved --task tsk-gate-3 --actor alice
  foreman gate decide prj-1 approved_with_risk --phase ph-2 --notes "known flake"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		decision, err := newCore(store).CreateGateDecision(cmd.Context(), core.CreateGateDecisionRequest{
			ProjectID: args[0],
			RuleID:    decisionRule,
			TaskID:    decisionTaskID,
			PhaseID:   decisionPhaseID,
			Outcome:   types.GateOutcome(args[1]),
			DecidedBy: actorFlag,
			Notes:     decisionNotes,
		})
		if err != nil {
			return err
		}
		return printResult(decision)
	},
}

var gateDecisionsCmd = &cobra.Command{
	Use:   "decisions <project-id>",
	Short: "List gate decisions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		decisions, err := newCore(store).ListGateDecisions(cmd.Context(), core.ListGateDecisionsRequest{
			ProjectID: args[0],
			TaskID:    decisionTaskID,
			PhaseID:   decisionPhaseID,
		})
		if err != nil {
			return err
		}
		return printResult(decisions)
	},
}

var (
	policyFile    string
	policyPhaseID string
)

var gateEvaluateCmd = &cobra.Command{
	Use:   "evaluate <project-id>",
	Short: "Evaluate gate policies and emit gate tasks",
	Long: `Evaluate the gate policy against the project and create gate tasks
for any newly fired triggers. Re-running with an open gate for the same
trigger is a no-op.

The policy file is YAML:

  implemented_backlog_threshold: 10
  risk_threshold: 3
  implemented_age_hours: 48
  risk_task_classes: [security, db_schema]

Examples:
  foreman gate evaluate prj-1 --policy gates.yaml
  foreman gate evaluate prj-1 --policy gates.yaml --phase ph-2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(policyFile)
		if err != nil {
			return err
		}
		var policy core.GatePolicy
		if err := yaml.Unmarshal(raw, &policy); err != nil {
			return fmt.Errorf("invalid policy file: %w", err)
		}
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		result, err := newCore(store).EvaluateGatePolicies(cmd.Context(), core.EvaluatePoliciesRequest{
			ProjectID: args[0],
			PhaseID:   policyPhaseID,
			Policy:    policy,
			Actor:     actorFlag,
		})
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

func init() {
	gateRuleCmd.Flags().StringSliceVar(&gateRuleEvidence, "evidence", nil, "Required evidence kind (repeatable)")
	gateRuleCmd.Flags().StringSliceVar(&gateRuleRoles, "reviewer-role", nil, "Required reviewer role (repeatable)")

	gateDecideCmd.Flags().StringVar(&decisionRule, "rule", "", "Gate rule id")
	gateDecideCmd.Flags().StringVar(&decisionTaskID, "task", "", "Target task id")
	gateDecideCmd.Flags().StringVar(&decisionPhaseID, "phase", "", "Target phase id")
	gateDecideCmd.Flags().StringVar(&decisionNotes, "notes", "", "Free-form notes")

	gateDecisionsCmd.Flags().StringVar(&decisionTaskID, "task", "", "Filter by task id")
	gateDecisionsCmd.Flags().StringVar(&decisionPhaseID, "phase", "", "Filter by phase id")

	gateEvaluateCmd.Flags().StringVar(&policyFile, "policy", "", "Policy YAML file (required)")
	gateEvaluateCmd.Flags().StringVar(&policyPhaseID, "phase", "", "Restrict evaluation to a phase")
	_ = gateEvaluateCmd.MarkFlagRequired("policy")

	gateCmd.AddCommand(gateRuleCmd)
	gateCmd.AddCommand(gateDecideCmd)
	gateCmd.AddCommand(gateDecisionsCmd)
	gateCmd.AddCommand(gateEvaluateCmd)
	rootCmd.AddCommand(gateCmd)
}
