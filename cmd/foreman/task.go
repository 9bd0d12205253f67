package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ceruleanworks/foreman/internal/core"
	"github.com/ceruleanworks/foreman/internal/types"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks and their state machine",
}

var (
	taskPhaseID     string
	taskMilestoneID string
	taskDescription string
	taskPriority    int
	taskClassFlag   string
	taskWorkSpec    string
	taskCaps        []string
	taskExclusive   []string
	taskShared      []string
)

var taskCreateCmd = &cobra.Command{
	Use:   "create <project-id> <title>",
	Short: "Create a task in backlog",
	Long: `Create a task. New tasks start in backlog; promote them with
"task transition <id> ready" once their definition is complete.

Examples:
  foreman task create prj-1 "Wire payment webhooks" \
    --phase ph-1 --milestone ms-1 --class backend --priority 20 \
    --work-spec '{"goal":"handle stripe webhook retries"}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var spec types.JSONMap
		if taskWorkSpec != "" {
			if err := json.Unmarshal([]byte(taskWorkSpec), &spec); err != nil {
				return fmt.Errorf("invalid --work-spec JSON: %w", err)
			}
		}
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		task, err := newCore(store).CreateTask(cmd.Context(), core.CreateTaskRequest{
			ProjectID:      args[0],
			PhaseID:        taskPhaseID,
			MilestoneID:    taskMilestoneID,
			Title:          args[1],
			Description:    taskDescription,
			Priority:       taskPriority,
			WorkSpec:       spec,
			TaskClass:      types.TaskClass(taskClassFlag),
			CapabilityTags: taskCaps,
			ExclusivePaths: taskExclusive,
			SharedPaths:    taskShared,
			Actor:          actorFlag,
		})
		if err != nil {
			return err
		}
		return printResult(task)
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <project-id> <task-id>",
	Short: "Show a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		task, err := newCore(store).GetTask(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printResult(task)
	},
}

var (
	listStates  []string
	listClasses []string
	listLimit   int
)

var taskListCmd = &cobra.Command{
	Use:   "list <project-id>",
	Short: "List tasks",
	Long: `List tasks, optionally filtered by state and class.

Examples:
  foreman task list prj-1 --state implemented --state integrated
  foreman task list prj-1 --class backend --limit 50`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := core.ListTasksRequest{ProjectID: args[0], Limit: listLimit}
		for _, s := range listStates {
			req.States = append(req.States, types.TaskState(s))
		}
		for _, c := range listClasses {
			req.Classes = append(req.Classes, types.TaskClass(c))
		}
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		tasks, err := newCore(store).ListTasks(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printResult(tasks)
	},
}

var (
	transitionReason   string
	transitionForce    bool
	transitionReviewer string
	transitionEvidence []string
)

var taskTransitionCmd = &cobra.Command{
	Use:   "transition <project-id> <task-id> <state>",
	Short: "Transition a task to a new state",
	Long: `Transition a task along the state machine.

Transitions into integrated require a reviewer distinct from the
implementing agent plus at least one evidence reference; gate-class tasks
additionally need a recorded approving decision.

--force bypasses the adjacency and review checks. Operator use only, for
historical backfill; the emitted event still records the prior state.

Examples:
  foreman task transition prj-1 tsk-9 ready
  foreman task transition prj-1 tsk-9 integrated \
    --reviewed-by alice --evidence https://ci.example.com/run/123`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		task, err := newCore(store).TransitionTaskState(cmd.Context(), core.TransitionRequest{
			ProjectID:    args[0],
			TaskID:       args[1],
			ToState:      types.TaskState(args[2]),
			Reason:       transitionReason,
			Actor:        actorFlag,
			Force:        transitionForce,
			ReviewedBy:   transitionReviewer,
			EvidenceRefs: transitionEvidence,
		})
		if err != nil {
			return err
		}
		return printResult(task)
	},
}

func init() {
	taskCreateCmd.Flags().StringVar(&taskPhaseID, "phase", "", "Phase id (required)")
	taskCreateCmd.Flags().StringVar(&taskMilestoneID, "milestone", "", "Milestone id (required)")
	taskCreateCmd.Flags().StringVar(&taskDescription, "description", "", "Task description")
	taskCreateCmd.Flags().IntVar(&taskPriority, "priority", 0, "Priority, lower is more urgent (0 = default)")
	taskCreateCmd.Flags().StringVar(&taskClassFlag, "class", "", "Task class (default other)")
	taskCreateCmd.Flags().StringVar(&taskWorkSpec, "work-spec", "", "Work spec as inline JSON")
	taskCreateCmd.Flags().StringSliceVar(&taskCaps, "capability", nil, "Required capability tag (repeatable)")
	taskCreateCmd.Flags().StringSliceVar(&taskExclusive, "exclusive-path", nil, "Exclusively touched path (repeatable)")
	taskCreateCmd.Flags().StringSliceVar(&taskShared, "shared-path", nil, "Shared touched path (repeatable)")
	_ = taskCreateCmd.MarkFlagRequired("phase")
	_ = taskCreateCmd.MarkFlagRequired("milestone")

	taskListCmd.Flags().StringSliceVar(&listStates, "state", nil, "Filter by state (repeatable)")
	taskListCmd.Flags().StringSliceVar(&listClasses, "class", nil, "Filter by class (repeatable)")
	taskListCmd.Flags().IntVar(&listLimit, "limit", 0, "Max tasks to return (0 = all)")

	taskTransitionCmd.Flags().StringVar(&transitionReason, "reason", "", "Reason recorded in the event")
	taskTransitionCmd.Flags().BoolVar(&transitionForce, "force", false, "Bypass adjacency and review checks")
	taskTransitionCmd.Flags().StringVar(&transitionReviewer, "reviewed-by", "", "Reviewer identity for integration")
	taskTransitionCmd.Flags().StringSliceVar(&transitionEvidence, "evidence", nil, "Review evidence ref (repeatable)")

	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskTransitionCmd)
	rootCmd.AddCommand(taskCmd)
}
