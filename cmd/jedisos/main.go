// Package main is the jedisos CLI: a personal AI assistant runtime with a
// ReAct agent loop, hot-loadable skills, an LLM-forged tool pipeline, and
// channel adapters for Telegram, Discord, Slack, the terminal, and the web.
//
// Start the server:
//
//	jedisos serve --config jedisos.yaml
//
// Talk to the assistant in the terminal:
//
//	jedisos chat
//
// Manage packages:
//
//	jedisos market list
//	jedisos market install ./my-skill
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// exitError carries a process exit code through cobra's error return.
// Validation failures use code 2; everything else maps to 1.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func main() {
	// Credentials come from the environment; a .env in the working
	// directory seeds it. Missing file is fine.
	_ = godotenv.Load()

	if err := buildRootCmd().Execute(); err != nil {
		// Cobra has already printed the error.
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	root := &cobra.Command{
		Use:          "jedisos",
		Short:        "jedisOS - personal AI assistant runtime",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(debug)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "jedisos.yaml", "Path to YAML configuration file")
	root.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	root.AddCommand(
		buildServeCmd(&configPath),
		buildChatCmd(&configPath),
		buildHealthCmd(&configPath),
		buildInitCmd(&configPath),
		buildUpdateCmd(&configPath),
		buildMarketCmd(&configPath),
	)
	return root
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
