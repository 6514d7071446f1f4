package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report dead-letter queue occupancy from the on-disk persist log",
	Long: `status reports what can be known without a live connection to a
running daemon: the dead-letter queue's current occupancy. Live server and
registry state (which capabilities are routable right now, which servers
are healthy) only exists in the serving process's memory — there is no
external admin transport to query it from another process (see the
project's Non-goals) — so operators should watch the serve process's own
logs and events for that.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	dlq, err := openDLQ()
	if err != nil {
		return err
	}
	defer dlq.Close()

	encoded, err := json.MarshalIndent(dlq.Stats(), "", "  ")
	if err != nil {
		return fmt.Errorf("musterd: encoding dlq stats: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(encoded))
	return nil
}
