package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/flarepage/internal/escalation"
	"github.com/good-yellow-bee/flarepage/internal/models"
)

var (
	quietSeverity string
	quietAt       string
)

var quietCmd = &cobra.Command{
	Use:   "quiet",
	Short: "Evaluate quiet-hours behavior",
}

var quietCheckCmd = &cobra.Command{
	Use:   "check [preference-file]",
	Short: "Check what a preference does with a page",
	Long: `Evaluate a notification preference file against a severity at
an instant (now by default) and report whether the page would be sent
immediately, delayed past the quiet-hours window, or suppressed.

Examples:
  flarectl quiet check prefs.yaml --severity high
  flarectl quiet check prefs.yaml --severity low --at 2026-09-01T02:30:00Z`,
	Args: cobra.ExactArgs(1),
	Run:  runQuietCheck,
}

func init() {
	rootCmd.AddCommand(quietCmd)
	quietCmd.AddCommand(quietCheckCmd)

	quietCheckCmd.Flags().StringVar(&quietSeverity, "severity", "high", "alert severity (info, low, medium, high, critical)")
	quietCheckCmd.Flags().StringVar(&quietAt, "at", "", "instant to evaluate (RFC 3339, default now)")
}

func runQuietCheck(cmd *cobra.Command, args []string) {
	path := args[0]

	data, err := os.ReadFile(path)
	if err != nil {
		PrintError(fmt.Sprintf("read preference file: %v", err), true)
		return
	}

	var pref models.NotificationPreference
	if err := yaml.Unmarshal(data, &pref); err != nil {
		PrintError(fmt.Sprintf("parse preference file: %v", err), true)
		return
	}
	if err := pref.Validate(); err != nil {
		PrintError(fmt.Sprintf("invalid preference: %v", err), true)
		return
	}

	severity := models.ParseSeverity(quietSeverity)

	now := time.Now()
	if quietAt != "" {
		now, err = time.Parse(time.RFC3339, quietAt)
		if err != nil {
			PrintError(fmt.Sprintf("invalid --at instant: %v", err), true)
			return
		}
	}

	decision := escalation.Decide(&pref, severity, now)

	switch decision.Action {
	case escalation.ActionSend:
		if decision.At.After(now) {
			fmt.Printf("send (delayed to %s by notification_delay)\n", decision.At.Format(time.RFC3339))
		} else {
			fmt.Println("send immediately")
		}
	case escalation.ActionDelay:
		fmt.Printf("delay until %s (quiet hours end)\n", decision.At.Format(time.RFC3339))
	case escalation.ActionSuppress:
		fmt.Println("suppress")
	}
}
