// Command watchdogctl trains model artifacts offline and drives a running
// watchdog API from the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "watchdogctl",
		Short:         "Fraud Watchdog - offline training and API tooling",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(trainCmd())
	rootCmd.AddCommand(retrainCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(predictCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
