package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "offgrid",
	Short:         "Offline-resilience caching proxy",
	Long:          `offgrid sits between a client application and its origin, answering from a local store when the network is gone.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, pinCmd, unpinCmd, deleteCmd, keysCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "offgrid:", err)
		os.Exit(1)
	}
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
