package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/flarepage/internal/models"
	"github.com/good-yellow-bee/flarepage/internal/oncall"
	"github.com/spf13/cobra"
)

var scheduleAt string

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Work with on-call schedule files",
}

var scheduleValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate an on-call schedule file",
	Long: `Validate an on-call directory YAML file: team members are
non-empty, shifts carry a user and a valid time range.

Examples:
  flarectl schedule validate /etc/flarepage/schedules.yaml`,
	Args: cobra.ExactArgs(1),
	Run:  runScheduleValidate,
}

var scheduleOncallCmd = &cobra.Command{
	Use:   "oncall [file] [schedule-id]",
	Short: "Show who a schedule resolves to at an instant",
	Long: `Resolve a schedule to the users on call at a given instant
(now by default).

Examples:
  flarectl schedule oncall schedules.yaml primary
  flarectl schedule oncall schedules.yaml primary --at 2026-09-01T03:00:00Z`,
	Args: cobra.ExactArgs(2),
	Run:  runScheduleOncall,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleValidateCmd)
	scheduleCmd.AddCommand(scheduleOncallCmd)

	scheduleOncallCmd.Flags().StringVar(&scheduleAt, "at", "", "instant to resolve (RFC 3339, default now)")
}

func runScheduleValidate(cmd *cobra.Command, args []string) {
	path := args[0]

	if _, err := oncall.LoadDirectoryFromFile(path); err != nil {
		PrintError(fmt.Sprintf("invalid schedule file: %v", err), true)
		return
	}

	fmt.Printf("OK: %s\n", path)
}

func runScheduleOncall(cmd *cobra.Command, args []string) {
	path := args[0]
	scheduleID := args[1]

	directory, err := oncall.LoadDirectoryFromFile(path)
	if err != nil {
		PrintError(fmt.Sprintf("invalid schedule file: %v", err), true)
		return
	}

	now := time.Now()
	if scheduleAt != "" {
		now, err = time.Parse(time.RFC3339, scheduleAt)
		if err != nil {
			PrintError(fmt.Sprintf("invalid --at instant: %v", err), true)
			return
		}
	}

	level := models.PolicyLevel{
		Targets: []models.TargetSelector{{Type: models.TargetSchedule, ID: scheduleID}},
	}
	users, err := directory.ResolveTargets(level, "", now)
	if err != nil {
		PrintError(fmt.Sprintf("resolve schedule %q: %v", scheduleID, err), true)
		return
	}

	if len(users) == 0 {
		fmt.Printf("schedule %s: nobody on call at %s\n", scheduleID, now.Format(time.RFC3339))
		return
	}
	fmt.Printf("schedule %s at %s: %s\n", scheduleID, now.Format(time.RFC3339), strings.Join(users, ", "))
}
