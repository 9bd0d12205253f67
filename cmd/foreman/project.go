package main

import (
	"github.com/spf13/cobra"

	"github.com/ceruleanworks/foreman/internal/core"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects, phases, and milestones",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Long: `Create a project. Plan version 1 is created with it.

Examples:
  foreman project create checkout-rewrite`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		project, err := newCore(store).CreateProject(cmd.Context(), core.CreateProjectRequest{
			Name:  args[0],
			Actor: actorFlag,
		})
		if err != nil {
			return err
		}
		return printResult(project)
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		projects, err := newCore(store).ListProjects(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(projects)
	},
}

var (
	phaseSequence     int
	milestonePhaseID  string
	milestoneSequence int
)

var phaseCreateCmd = &cobra.Command{
	Use:   "phase <project-id> <name>",
	Short: "Create a phase",
	Long: `Create a phase. Sequence is unique within the project.

Examples:
  foreman project phase prj-1 "Foundation" --sequence 1`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		phase, err := newCore(store).CreatePhase(cmd.Context(), core.CreatePhaseRequest{
			ProjectID: args[0],
			Name:      args[1],
			Sequence:  phaseSequence,
			Actor:     actorFlag,
		})
		if err != nil {
			return err
		}
		return printResult(phase)
	},
}

var milestoneCreateCmd = &cobra.Command{
	Use:   "milestone <project-id> <name>",
	Short: "Create a milestone under a phase",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		milestone, err := newCore(store).CreateMilestone(cmd.Context(), core.CreateMilestoneRequest{
			ProjectID: args[0],
			PhaseID:   milestonePhaseID,
			Name:      args[1],
			Sequence:  milestoneSequence,
			Actor:     actorFlag,
		})
		if err != nil {
			return err
		}
		return printResult(milestone)
	},
}

func init() {
	phaseCreateCmd.Flags().IntVar(&phaseSequence, "sequence", 1, "Phase sequence within the project")
	milestoneCreateCmd.Flags().StringVar(&milestonePhaseID, "phase", "", "Parent phase id (required)")
	milestoneCreateCmd.Flags().IntVar(&milestoneSequence, "sequence", 1, "Milestone sequence within the phase")
	_ = milestoneCreateCmd.MarkFlagRequired("phase")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(phaseCreateCmd)
	projectCmd.AddCommand(milestoneCreateCmd)
	rootCmd.AddCommand(projectCmd)
}
