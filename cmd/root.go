// Package cmd defines the command line interface.
package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/paperbrush/mjrunner/cmd/config"
	"github.com/paperbrush/mjrunner/lib/logger"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mjrunner",
		Short: "Batch prompt submission and image collection for Midjourney's web UI",
		Long: `mjrunner drives an already-running browser over the DevTools protocol to
submit prompt batches, wait out the render queue, and bulk-download or
upscale the results. The operator launches the browser with remote
debugging enabled and logs in by hand; mjrunner does the repetitive part.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
		SilenceUsage: true,
	}

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newCalibrateCmd())
	cmd.AddCommand(newPreflightCmd())
	cmd.AddCommand(newPromptsCmd())
	cmd.AddCommand(newBundleCmd())

	return cmd
}

// loggedContext attaches a structured logger to the command's context.
func loggedContext(cmd *cobra.Command) context.Context {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return logger.AddToContext(cmd.Context(), log)
}

// loadConfig is the shared entry point for commands that need the full
// environment configuration.
func loadConfig() (*config.Config, error) {
	return config.Load()
}
