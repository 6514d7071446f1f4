package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"musterd/internal/app"
	"musterd/internal/config"
)

var acquireTimeout time.Duration

var acquireCmd = &cobra.Command{
	Use:   "acquire <capability>",
	Short: "Run a one-shot acquisition for a capability and report the outcome",
	Long: `acquire boots a throwaway instance of every acquisition
collaborator (Discovery, Installer, Sandbox, Supervisor, Registry), drives
the capability through the acquisition pipeline to a terminal phase, prints
the resulting job status as JSON, and tears the acquired server back down.

It does not talk to a separately running "musterd serve" process — the
daemon has no external admin transport (see the project's Non-goals) — so
this command is a standalone acquisition trial, not a way to seed a live
daemon's registry.`,
	Args: cobra.ExactArgs(1),
	RunE: runAcquire,
}

func init() {
	acquireCmd.Flags().DurationVar(&acquireTimeout, "timeout", 2*time.Minute, "how long to wait for the job to reach a terminal phase")
	rootCmd.AddCommand(acquireCmd)
}

func runAcquire(cmd *cobra.Command, args []string) error {
	capability := args[0]

	path := configPathFlag
	if path == "" {
		path = "musterd.yaml"
	}
	mgr, err := config.NewManager(path)
	if err != nil {
		return fmt.Errorf("musterd: loading configuration: %w", err)
	}

	services, err := app.InitializeServices(mgr)
	if err != nil {
		return fmt.Errorf("musterd: initializing services: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	jobID, err := services.Orchestrator.Acquire(ctx, capability)
	if err != nil {
		return fmt.Errorf("musterd: starting acquisition: %w", err)
	}

	deadline := time.Now().Add(acquireTimeout)
	var status interface{}
	for {
		st, ok := services.Orchestrator.JobStatus(jobID)
		if ok && (st.Phase == "done" || st.Phase == "failed") {
			status = st
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("musterd: acquisition of %q did not reach a terminal phase within %s", capability, acquireTimeout)
		}
		time.Sleep(50 * time.Millisecond)
	}

	encoded, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("musterd: encoding job status: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(encoded))

	for _, serverID := range services.Supervisor.ListServerIDs() {
		_ = services.Supervisor.Stop(ctx, serverID, true, 5*time.Second)
	}
	services.DLQ.Close()
	services.ConfigMgr.Stop()
	return nil
}
