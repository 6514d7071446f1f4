package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
)

// rootCmd is the base command for the daemon's operator CLI.
var rootCmd = &cobra.Command{
	Use:   "musterd",
	Short: "Capability-acquisition daemon for MCP servers",
	Long: `musterd discovers, installs, verifies, and supervises MCP servers
on demand, routing tool calls to whichever ones are ready and exposing an
acquisition pipeline that brings a missing capability online without
operator intervention.`,
	SilenceUsage: true,
}

// SetVersion sets the version reported by --version. Called from main with
// the build-time version string.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command, translating a returned error into a
// process exit code.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "musterd version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPathFlag, "config-path", "", "path to a single musterd.yaml config file")
}

var (
	debugFlag      bool
	configPathFlag string
)
