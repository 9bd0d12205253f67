package main

import (
	"github.com/spf13/cobra"

	"github.com/ceruleanworks/foreman/internal/core"
)

// Agent-facing commands: the claim protocol an autonomous worker drives.

var (
	readyCaps  []string
	readyLimit int
)

var readyCmd = &cobra.Command{
	Use:   "ready <project-id> <agent-id>",
	Short: "List claimable tasks for an agent",
	Long: `List ready tasks the agent could claim right now, best first.
Excludes tasks with unsatisfied dependencies, active leases, capability
requirements the agent lacks, and reservations held by other agents.

Examples:
  foreman ready prj-1 agent-7 --capability go --capability sql --limit 5`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		tasks, err := newCore(store).ReadyTasks(cmd.Context(), core.ReadyTasksRequest{
			ProjectID:    args[0],
			AgentID:      args[1],
			Capabilities: readyCaps,
			Limit:        readyLimit,
		})
		if err != nil {
			return err
		}
		return printResult(tasks)
	},
}

var claimCmd = &cobra.Command{
	Use:   "claim <project-id> <task-id> <agent-id>",
	Short: "Claim a task",
	Long: `Claim a ready task. On success the response carries the lease (with
its raw token and fencing counter) and the frozen work-spec snapshot the
agent must work against. The token is returned exactly once.

Examples:
  foreman claim prj-1 tsk-9 agent-7`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		result, err := newCore(store).ClaimTask(cmd.Context(), core.ClaimRequest{
			ProjectID: args[0],
			TaskID:    args[1],
			AgentID:   args[2],
		})
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

var (
	heartbeatToken       string
	heartbeatPlanVersion int64
)

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat <project-id> <task-id> <agent-id>",
	Short: "Extend a held lease",
	Long: `Extend the agent's lease on a task. Passing --seen-plan-version
makes the heartbeat fail with PLAN_STALE if the plan has moved past what
the agent claimed against; the error detail carries the current version.

Examples:
  foreman heartbeat prj-1 tsk-9 agent-7 --token tsk_ab12... --seen-plan-version 3`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := core.HeartbeatRequest{
			ProjectID: args[0],
			TaskID:    args[1],
			AgentID:   args[2],
			Token:     heartbeatToken,
		}
		if cmd.Flags().Changed("seen-plan-version") {
			v := heartbeatPlanVersion
			req.SeenPlanVersion = &v
		}
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		result, err := newCore(store).HeartbeatTask(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

var assignTTL int

var assignCmd = &cobra.Command{
	Use:   "assign <project-id> <task-id> <agent-id>",
	Short: "Reserve a task for a specific agent",
	Long: `Reserve a ready task for an agent. Until the reservation expires or
is consumed by that agent's claim, no other agent can claim the task.

Examples:
  foreman assign prj-1 tsk-9 agent-7 --ttl 3600`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		result, err := newCore(store).AssignTask(cmd.Context(), core.AssignRequest{
			ProjectID:       args[0],
			TaskID:          args[1],
			AssigneeAgentID: args[2],
			CreatedBy:       actorFlag,
			TTLSeconds:      assignTTL,
		})
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one expiration sweep pass",
	Long: `Reap expired leases and reservations once and exit. The serve loop
does this continuously; the command exists for cron-style deployments.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		result, err := newCore(store).Sweep(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

func init() {
	readyCmd.Flags().StringSliceVar(&readyCaps, "capability", nil, "Agent capability tag (repeatable)")
	readyCmd.Flags().IntVar(&readyLimit, "limit", 10, "Max tasks to return")

	heartbeatCmd.Flags().StringVar(&heartbeatToken, "token", "", "Lease token returned by claim (required)")
	heartbeatCmd.Flags().Int64Var(&heartbeatPlanVersion, "seen-plan-version", 0, "Plan version the agent last saw")
	_ = heartbeatCmd.MarkFlagRequired("token")

	assignCmd.Flags().IntVar(&assignTTL, "ttl", 0, "Reservation TTL in seconds (0 = configured default)")

	rootCmd.AddCommand(readyCmd)
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(heartbeatCmd)
	rootCmd.AddCommand(assignCmd)
	rootCmd.AddCommand(sweepCmd)
}
