package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"musterd/internal/config"
	"musterd/internal/resilience"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect the dead-letter queue's on-disk persist log",
}

var dlqListCmd = &cobra.Command{
	Use:   "list [server-id]",
	Short: "List dead-lettered entries, optionally filtered by server_id",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDLQList,
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge <entry-id>",
	Short: "Remove one dead-lettered entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runDLQPurge,
}

func init() {
	dlqCmd.AddCommand(dlqListCmd, dlqPurgeCmd)
	rootCmd.AddCommand(dlqCmd)
}

// openDLQ loads the DLQ's append-only log directly off disk, the same way
// the running daemon would, without requiring a live connection to it —
// the daemon's external admin surface is out of scope (see the project's
// Non-goals), but the persist log itself is a plain file either process
// can read.
func openDLQ() (*resilience.DLQ, error) {
	path := configPathFlag
	if path == "" {
		path = "musterd.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("musterd: loading configuration: %w", err)
	}

	dlq := resilience.NewDLQ(cfg.Limits.DLQCapacity, cfg.Endpoints.DLQPersistPath)
	if err := dlq.Load(); err != nil {
		return nil, fmt.Errorf("musterd: loading dlq persist log: %w", err)
	}
	return dlq, nil
}

func runDLQList(cmd *cobra.Command, args []string) error {
	dlq, err := openDLQ()
	if err != nil {
		return err
	}
	defer dlq.Close()

	serverID := ""
	if len(args) == 1 {
		serverID = args[0]
	}

	entries := dlq.List(serverID)
	encoded, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("musterd: encoding dlq entries: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(encoded))
	return nil
}

func runDLQPurge(cmd *cobra.Command, args []string) error {
	dlq, err := openDLQ()
	if err != nil {
		return err
	}
	defer dlq.Close()

	if !dlq.Purge(args[0]) {
		return fmt.Errorf("musterd: no dlq entry %q", args[0])
	}
	fmt.Fprintf(os.Stdout, "purged %s\n", args[0])
	return nil
}
