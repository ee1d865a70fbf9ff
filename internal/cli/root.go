// Package cli defines the stormwatch command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "stormwatch",
	Short: "Live DDoS attack map service",
	Long: `stormwatch ingests threat-intelligence feeds, correlates observations
into attack events, and serves them as a live map: snapshot queries over
HTTP and incremental updates over websocket or SSE.`,
	Version: "0.1.0",
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
}
