package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KshitijBhardwaj18/automation1/pkg/config"
	"github.com/KshitijBhardwaj18/automation1/pkg/policy"
	"github.com/KshitijBhardwaj18/automation1/pkg/telemetry"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and test admission policies",
		Long: `Admission policies are Rego modules evaluated against every onboarding
and update request. Built-in policies ship with the binary; extra policies
are loaded from policy.paths.`,
	}

	cmd.AddCommand(newPolicyListCommand())
	cmd.AddCommand(newPolicyCheckCommand())

	return cmd
}

func loadPolicyEngine(cmd *cobra.Command) (*policy.Engine, error) {
	cfg, err := config.LoadLocal(configPath)
	if err != nil {
		return nil, err
	}
	return openPolicyEngine(cmd.Context(), cfg, telemetry.NewNopTelemetry())
}

func newPolicyListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadPolicyEngine(cmd)
			if err != nil {
				return err
			}

			policies := eng.ListPolicies()
			if jsonOutput {
				for i := range policies {
					policies[i].Rego = ""
				}
				return printJSON(policies)
			}
			fmt.Printf("%-24s %-9s %-8s %s\n", "NAME", "SEVERITY", "BUILTIN", "DESCRIPTION")
			for _, p := range policies {
				fmt.Printf("%-24s %-9s %-8t %s\n", p.Name, p.Severity, p.Builtin, p.Description)
			}
			return nil
		},
	}
}

func newPolicyCheckCommand() *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a request against the policies",
		Long: `Evaluate an onboarding request against every enabled policy without
submitting it. The command fails when a blocking violation is found.`,
		Example: `  byoc policy check -f acme.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request()
			if err != nil {
				return err
			}
			req.ApplyDefaults()
			if err := req.Validate(); err != nil {
				return err
			}

			eng, err := loadPolicyEngine(cmd)
			if err != nil {
				return err
			}
			result, err := eng.Evaluate(cmd.Context(), "onboard", req.Parameters())
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(result); err != nil {
					return err
				}
			} else {
				for _, v := range result.Violations {
					fmt.Printf("DENY  %-20s %s\n", v.Policy, v.Message)
				}
				for _, v := range result.Warnings {
					fmt.Printf("WARN  %-20s %s\n", v.Policy, v.Message)
				}
				fmt.Printf("%d policies evaluated\n", len(result.EvaluatedPolicies))
			}
			if !result.Allowed {
				return fmt.Errorf("request rejected by %d violation(s)", len(result.Violations))
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
