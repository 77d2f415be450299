// cmd/tracker/main.go
//
// Package main is the entry point for the tracker CLI.
//
// Usage:
//
//	tracker serve            # Run the API server and poller
//	tracker poll             # Run a single poll cycle and exit
//	tracker seed -f FILE     # Load sources from a YAML seed file
//	tracker version          # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Release tracker for blockchain client software",
	Long: `tracker polls the release channels of configured blockchain clients,
records new versions, flags releases that look like hard forks, and serves
the data over an HTTP API with a live event stream.

Quick start:
  1. Export DB_URL pointing at a PostgreSQL database
  2. Run: tracker seed -f sources.yaml
  3. Run: tracker serve
  4. PUT an API token to /v1/poller/config and POST /v1/poller/start`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tracker %s (commit %s)\n", version, commit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}
