package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"musterd/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the musterd daemon",
	Long: `Starts the daemon: loads configuration, wires every collaborator
(Registry, Supervisor, Router, Discovery, Installer, Sandbox, Orchestrator,
Variety Engine), and blocks serving acquisition and routing requests until
interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := app.NewConfig(debugFlag, configPathFlag)

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("musterd: initializing: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
