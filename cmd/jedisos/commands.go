package main

import (
	"github.com/spf13/cobra"
)

func buildServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant runtime",
		Long: `Start the runtime with every configured surface: the web API and chat
WebSocket, enabled platform adapters (Telegram, Discord, Slack), installed
skills, MCP servers, and the forge.

Shuts down gracefully on SIGINT/SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func buildChatCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant in the terminal",
		Long: `Run an interactive chat session against an in-process runtime. No server
is required; type "exit" or "quit" (or Ctrl-D) to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), *configPath)
		},
	}
}

func buildHealthCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check a running server's health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd.Context(), *configPath, cmd.OutOrStdout())
		},
	}
}

func buildInitCmd(configPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [workspace]",
		Short: "Scaffold a workspace",
		Long: `Create a workspace: the configuration file, an IDENTITY.md persona
template, a .env credential template, and the typed package directories.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runInit(dir, *configPath, force, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing files")
	return cmd
}

func buildUpdateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Revalidate installed packages",
		Long: `Walk every installed package, re-run its validation checks, and report
problems. Exits 2 when any package fails validation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(*configPath, cmd.OutOrStdout())
		},
	}
}
