// Package cmd contains the CLI commands for flarectl.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Used for flags
	verbose bool
	output  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "flarectl",
	Short: "FlarePage - Incident paging operator tool",
	Long: `flarectl validates FlarePage configuration and answers
operational questions without touching a running server.

Examples:
  # Validate an escalation policy file before deploying it
  flarectl policy validate /etc/flarepage/policies.yaml

  # Validate an on-call schedule file
  flarectl schedule validate /etc/flarepage/schedules.yaml

  # Check what a preference does with a high-severity page right now
  flarectl quiet check prefs.yaml --severity high`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "plain", "output format (plain, json)")
}

// GetOutput returns the output format.
func GetOutput() string {
	return output
}

// PrintError prints an error message and exits if fatal is true.
func PrintError(msg string, fatal bool) {
	fmt.Fprintln(os.Stderr, "Error:", msg)
	if fatal {
		os.Exit(1)
	}
}

// PrintVerbose prints a message only if verbose mode is enabled.
func PrintVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format+"\n", args...)
	}
}
