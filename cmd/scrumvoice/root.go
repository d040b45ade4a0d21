package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/scrumvoice/scrumvoice/internal/telemetry"
)

// Version is stamped at build time via -ldflags.
var Version = "0.1.0-dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "scrumvoice",
	Short:         "Conversational daily-standup bot",
	Long:          "scrumvoice runs daily standups as a conversation and keeps your issue tracker in sync with the answers.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; environment beats file either way.
		_ = godotenv.Load()
		return telemetry.Init(cmd.Context(), "scrumvoice", Version)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default scrumvoice.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}
