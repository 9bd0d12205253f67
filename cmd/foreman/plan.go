package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ceruleanworks/foreman/internal/core"
	"github.com/ceruleanworks/foreman/internal/types"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage plan changesets",
}

var (
	changesetBase   int64
	changesetTarget int64
)

var planProposeCmd = &cobra.Command{
	Use:   "propose <project-id> <operations.json>",
	Short: "Create a draft changeset from an operations file",
	Long: `Create a draft changeset. The operations file holds a JSON array of
ordered mutations:

  [
    {"op": "update_task", "task_id": "tsk-9",
     "payload": {"work_spec": {"goal": "new goal"}}},
    {"op": "reprioritize_task", "task_id": "tsk-4", "payload": {"priority": 5}}
  ]

Examples:
  foreman plan propose prj-1 ops.json
  foreman plan propose prj-1 ops.json --base 3`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		var ops types.ChangeOperations
		if err := json.Unmarshal(raw, &ops); err != nil {
			return fmt.Errorf("invalid operations file: %w", err)
		}
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		cs, err := newCore(store).CreatePlanChangeSet(cmd.Context(), core.CreateChangeSetRequest{
			ProjectID:         args[0],
			BasePlanVersion:   changesetBase,
			TargetPlanVersion: changesetTarget,
			Operations:        ops,
			CreatedBy:         actorFlag,
		})
		if err != nil {
			return err
		}
		return printResult(cs)
	},
}

var applyAllowRebase bool

var planApplyCmd = &cobra.Command{
	Use:   "apply <project-id> <changeset-id>",
	Short: "Apply a changeset, bumping the plan version",
	Long: `Apply a changeset transactionally. Material changes to claimed or
reserved tasks invalidate those grants and return the tasks to ready; the
response lists the affected task ids.

A changeset whose base no longer matches the current plan version is
rejected with PLAN_STALE unless --allow-rebase is set.

Examples:
  foreman plan apply prj-1 cs-12
  foreman plan apply prj-1 cs-12 --allow-rebase`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		result, err := newCore(store).ApplyPlanChangeSet(cmd.Context(), core.ApplyChangeSetRequest{
			ProjectID:   args[0],
			ChangeSetID: args[1],
			AllowRebase: applyAllowRebase,
			Actor:       actorFlag,
		})
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

func init() {
	planProposeCmd.Flags().Int64Var(&changesetBase, "base", 0, "Base plan version (0 = current)")
	planProposeCmd.Flags().Int64Var(&changesetTarget, "target", 0, "Target plan version (0 = base+1)")
	planApplyCmd.Flags().BoolVar(&applyAllowRebase, "allow-rebase", false, "Apply even if the base version is stale")

	planCmd.AddCommand(planProposeCmd)
	planCmd.AddCommand(planApplyCmd)
	rootCmd.AddCommand(planCmd)
}
