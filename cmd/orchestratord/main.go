package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "orchestratord",
	Short: "orchestratord - parallel agent orchestrator",
	Long: `orchestratord spawns and supervises isolated worker processes, each
in its own version-controlled working copy, mediates coordination between
them, and consolidates their divergent work back into a single revision.`,
}

func init() {
	bindGlobalFlags(rootCmd)
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(consolidationCmd)
	rootCmd.AddCommand(coordinateCmd)
}
