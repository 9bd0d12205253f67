package main

import (
	"github.com/spf13/cobra"

	"github.com/ceruleanworks/foreman/internal/core"
	"github.com/ceruleanworks/foreman/internal/types"
)

var depCmd = &cobra.Command{
	Use:   "dep",
	Short: "Manage the dependency graph",
}

var depUnlockOn string

var depAddCmd = &cobra.Command{
	Use:   "add <project-id> <from-task> <to-task>",
	Short: "Add a dependency edge",
	Long: `Add a dependency edge: <to-task> is blocked until <from-task>
reaches the unlock state. Cycle-creating edges are rejected.

Examples:
  foreman dep add prj-1 tsk-schema tsk-api
  foreman dep add prj-1 tsk-schema tsk-api --unlock-on integrated`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		dep, err := newCore(store).CreateDependency(cmd.Context(), core.CreateDependencyRequest{
			ProjectID:  args[0],
			FromTaskID: args[1],
			ToTaskID:   args[2],
			UnlockOn:   types.UnlockOn(depUnlockOn),
			Actor:      actorFlag,
		})
		if err != nil {
			return err
		}
		return printResult(dep)
	},
}

var depRemoveCmd = &cobra.Command{
	Use:   "remove <project-id> <from-task> <to-task>",
	Short: "Remove a dependency edge",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := newCore(store).DeleteDependency(cmd.Context(), core.DeleteDependencyRequest{
			ProjectID:  args[0],
			FromTaskID: args[1],
			ToTaskID:   args[2],
			Actor:      actorFlag,
		}); err != nil {
			return err
		}
		return printResult(map[string]bool{"deleted": true})
	},
}

var depGraphCmd = &cobra.Command{
	Use:   "graph <project-id>",
	Short: "Dump the full task graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		graph, err := newCore(store).GetProjectGraph(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(graph)
	},
}

func init() {
	depAddCmd.Flags().StringVar(&depUnlockOn, "unlock-on", string(types.UnlockOnImplemented),
		"Predecessor state that unlocks the edge (implemented|integrated)")

	depCmd.AddCommand(depAddCmd)
	depCmd.AddCommand(depRemoveCmd)
	depCmd.AddCommand(depGraphCmd)
	rootCmd.AddCommand(depCmd)
}
