package main

import (
	"github.com/spf13/cobra"

	"github.com/ceruleanworks/foreman/internal/auth"
	"github.com/ceruleanworks/foreman/internal/idgen"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage bearer credentials",
}

var (
	keyProjectID string
	keyRoles     []string
)

var apikeyCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Mint a credential",
	Long: `Mint a credential scoped to a project (or "*" for all projects).
The raw token is printed exactly once; only its SHA-256 digest is stored.

Rotation: create the replacement, distribute it, then revoke the old key.

Examples:
  foreman apikey create ci-agent --project prj-1 --role agent
  foreman apikey create admin --project '*' --role admin`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		kernel := auth.New(store, cfg, idgen.RealClock{}, logger)
		key, token, err := kernel.CreateAPIKey(cmd.Context(), auth.CreateAPIKeyRequest{
			ProjectID: keyProjectID,
			Name:      args[0],
			Roles:     keyRoles,
			Actor:     actorFlag,
		})
		if err != nil {
			return err
		}
		return printResult(map[string]any{"key": key, "token": token})
	},
}

var apikeyListCmd = &cobra.Command{
	Use:   "list <project-id>",
	Short: "List credentials for a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		kernel := auth.New(store, cfg, idgen.RealClock{}, logger)
		keys, err := kernel.ListAPIKeys(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(keys)
	},
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke a credential",
	Long: `Revoke a credential. Takes effect on the key's next use; there is
no session state to invalidate.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		kernel := auth.New(store, cfg, idgen.RealClock{}, logger)
		if err := kernel.RevokeAPIKey(cmd.Context(), args[0]); err != nil {
			return err
		}
		return printResult(map[string]bool{"revoked": true})
	},
}

func init() {
	apikeyCreateCmd.Flags().StringVar(&keyProjectID, "project", "", `Project scope ("*" = global, required)`)
	apikeyCreateCmd.Flags().StringSliceVar(&keyRoles, "role", nil, "Role scope (repeatable, required)")
	_ = apikeyCreateCmd.MarkFlagRequired("project")
	_ = apikeyCreateCmd.MarkFlagRequired("role")

	apikeyCmd.AddCommand(apikeyCreateCmd)
	apikeyCmd.AddCommand(apikeyListCmd)
	apikeyCmd.AddCommand(apikeyRevokeCmd)
	rootCmd.AddCommand(apikeyCmd)
}
