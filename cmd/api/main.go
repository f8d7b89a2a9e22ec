package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var migrate bool

	root := &cobra.Command{
		Use:   "praxis",
		Short: "Praxis authentication and session API",
		Long: `Authentication and session security for the Praxis practice-management system.
Runs the HTTP API by default; configuration is read from the environment and an optional .env file.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), migrate)
		},
	}
	root.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), migrate)
		},
	}
	serve.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")

	root.AddCommand(serve, newMigrateCmd())
	return root
}
