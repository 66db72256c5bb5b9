package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/good-yellow-bee/flarepage/internal/escalation"
	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Work with escalation policy files",
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate an escalation policy file",
	Long: `Validate an escalation policy YAML file: level delays parse,
every level has targets, services are claimed by at most one policy,
and the default policy (if named) exists.

Examples:
  flarectl policy validate /etc/flarepage/policies.yaml`,
	Args: cobra.ExactArgs(1),
	Run:  runPolicyValidate,
}

var policyShowCmd = &cobra.Command{
	Use:   "show [file] [service]",
	Short: "Show the policy that applies to a service",
	Long: `Show the escalation policy a service resolves to, after
default-policy fallback.

Examples:
  flarectl policy show /etc/flarepage/policies.yaml payments`,
	Args: cobra.ExactArgs(2),
	Run:  runPolicyShow,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyValidateCmd)
	policyCmd.AddCommand(policyShowCmd)
}

func runPolicyValidate(cmd *cobra.Command, args []string) {
	path := args[0]

	set, err := escalation.LoadPoliciesFromFile(path)
	if err != nil {
		PrintError(fmt.Sprintf("invalid policy file: %v", err), true)
		return
	}

	fmt.Printf("OK: %s (%d policies)\n", path, set.Len())
}

func runPolicyShow(cmd *cobra.Command, args []string) {
	path := args[0]
	serviceID := args[1]

	set, err := escalation.LoadPoliciesFromFile(path)
	if err != nil {
		PrintError(fmt.Sprintf("invalid policy file: %v", err), true)
		return
	}

	policy, err := set.ForService(serviceID)
	if err != nil {
		PrintError(fmt.Sprintf("service %q: %v", serviceID, err), true)
		return
	}

	if GetOutput() == "json" {
		data, _ := json.MarshalIndent(policy, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Printf("policy: %s (%s)\n", policy.ID, policy.Name)
	if policy.InitialDelay != "" {
		fmt.Printf("initial delay: %s\n", policy.InitialDelay)
	}
	for i, level := range policy.Levels {
		fmt.Printf("level %d: delay %s\n", i, level.Delay)
		for _, target := range level.Targets {
			fmt.Printf("  %s %s\n", target.Type, target.ID)
		}
	}
}
