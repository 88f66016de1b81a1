package main

import (
	"github.com/spf13/cobra"
)

func buildMarketCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "market",
		Short: "Manage installed packages",
	}
	cmd.AddCommand(
		buildMarketListCmd(configPath),
		buildMarketSearchCmd(configPath),
		buildMarketInfoCmd(configPath),
		buildMarketValidateCmd(),
		buildMarketInstallCmd(configPath),
		buildMarketRemoveCmd(configPath),
	)
	return cmd
}

func buildMarketListCmd(configPath *string) *cobra.Command {
	var pkgType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMarketList(*configPath, pkgType, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&pkgType, "type", "t", "", "Filter by package type (skill, mcp-server, ...)")
	return cmd
}

func buildMarketSearchCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search installed packages by name, description, or tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMarketSearch(*configPath, args[0], cmd.OutOrStdout())
		},
	}
}

func buildMarketInfoCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show a package's manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMarketInfo(*configPath, args[0], cmd.OutOrStdout())
		},
	}
}

func buildMarketValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>",
		Short: "Validate a package directory without installing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMarketValidate(args[0], cmd.OutOrStdout())
		},
	}
}

func buildMarketInstallCmd(configPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "install <dir>",
		Short: "Install a package from a directory",
		Long: `Validate the package at <dir> and copy it into the typed package root.
Installation is atomic: a failed install never leaves a partial package.
Installing over an existing name requires --force.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMarketInstall(*configPath, args[0], force, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Replace an existing package with the same name")
	return cmd
}

func buildMarketRemoveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an installed package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMarketRemove(*configPath, args[0], cmd.OutOrStdout())
		},
	}
}
