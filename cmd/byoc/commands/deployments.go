package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
	"github.com/KshitijBhardwaj18/automation1/pkg/telemetry"
)

const dispatchPollInterval = 500 * time.Millisecond

// requestFlags collects an onboarding request from flags or a file.
type requestFlags struct {
	file      string
	req       deployment.OnboardRequest
	zones     []string
	wait      bool
	waitLimit time.Duration
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "request file (YAML or JSON)")
	cmd.Flags().StringVar(&f.req.CustomerID, "customer", "", "customer id")
	cmd.Flags().StringVar(&f.req.Environment, "environment", "", "environment name (default prod)")
	cmd.Flags().StringVar(&f.req.RoleARN, "role-arn", "", "customer cross-account role ARN")
	cmd.Flags().StringVar(&f.req.ExternalID, "external-id", "", "external id for assuming the role")
	cmd.Flags().StringVar(&f.req.AWSRegion, "region", "", "cloud region")
	cmd.Flags().StringVar(&f.req.VPCCIDR, "vpc-cidr", "", "VPC CIDR block")
	cmd.Flags().StringSliceVar(&f.zones, "zones", nil, "availability zones")
	cmd.Flags().StringVar(&f.req.EKSVersion, "eks-version", "", "cluster version")
	cmd.Flags().StringVar((*string)(&f.req.EKSMode), "eks-mode", "", "cluster mode (auto or managed)")
	cmd.Flags().BoolVar(&f.wait, "wait", false, "wait until the job reaches a terminal status")
	cmd.Flags().DurationVar(&f.waitLimit, "timeout", 45*time.Minute, "maximum time to wait with --wait")
}

// request returns the request from the file, with flags taking precedence.
func (f *requestFlags) request() (*deployment.OnboardRequest, error) {
	req := &deployment.OnboardRequest{}
	if f.file != "" {
		loaded, err := readRequestFile(f.file)
		if err != nil {
			return nil, err
		}
		req = loaded
	}

	overlay(&req.CustomerID, f.req.CustomerID)
	overlay(&req.Environment, f.req.Environment)
	overlay(&req.RoleARN, f.req.RoleARN)
	overlay(&req.ExternalID, f.req.ExternalID)
	overlay(&req.AWSRegion, f.req.AWSRegion)
	overlay(&req.VPCCIDR, f.req.VPCCIDR)
	overlay(&req.EKSVersion, f.req.EKSVersion)
	if f.req.EKSMode != "" {
		req.EKSMode = f.req.EKSMode
	}
	if len(f.zones) > 0 {
		req.AvailabilityZones = f.zones
	}
	return req, nil
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// readRequestFile decodes a YAML or JSON request. Keys follow the JSON
// field names of the API.
func readRequestFile(path string) (*deployment.OnboardRequest, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse request file: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert request file: %w", err)
	}

	req := &deployment.OnboardRequest{}
	if err := json.Unmarshal(raw, req); err != nil {
		return nil, fmt.Errorf("invalid request file: %w", err)
	}
	return req, nil
}

func newOnboardCommand(version string) *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Onboard a customer environment",
		Long: `Submit a deployment job for a customer environment.

The job is accepted as pending and driven by a worker: the remote project is
ensured, the configuration is applied and a remote update is triggered.
With the in-process queue the command stays up until the job has been
handed to the remote engine.`,
		Example: `  # Onboard from flags
  byoc onboard --customer acme --environment prod \
    --role-arn arn:aws:iam::123456789012:role/byoc \
    --external-id acme-external-id --region eu-west-1

  # Onboard from a request file and wait for completion
  byoc onboard -f acme.yaml --wait`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context(), version, &flags, false)
		},
	}
	flags.register(cmd)
	return cmd
}

func newUpdateCommand(version string) *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a deployed customer environment",
		Long: `Start a new attempt on a succeeded environment with a changed
configuration. The request must name an existing customer environment.`,
		Example: `  byoc update -f acme.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context(), version, &flags, true)
		},
	}
	flags.register(cmd)
	return cmd
}

func runSubmit(ctx context.Context, version string, flags *requestFlags, update bool) error {
	req, err := flags.request()
	if err != nil {
		return err
	}

	rt, err := openRuntime(ctx, version)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.inlineWorkers() {
		if err := rt.orch.Start(ctx); err != nil {
			return err
		}
	}

	submit := rt.orch.Submit
	if update {
		submit = rt.orch.Update
	}
	job, err := submit(ctx, req)
	if err != nil {
		return err
	}
	log.Info().Str("job_key", job.Key).Int("attempt", job.Attempt).Msg("Deployment job accepted")

	if rt.inlineWorkers() || flags.wait {
		job, err = waitForJob(ctx, rt, job, flags.wait, flags.waitLimit)
		if err != nil {
			return err
		}
	}
	return printJob(job)
}

// waitForJob polls the job until it leaves pending, or until it reaches a
// terminal status when untilTerminal is set. Lifecycle events for the job
// from inline workers cut the poll interval short.
func waitForJob(ctx context.Context, rt *runtime, job *deployment.Job, untilTerminal bool, limit time.Duration) (*deployment.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	ticker := time.NewTicker(dispatchPollInterval)
	defer ticker.Stop()

	wake := jobWakeups(rt.tel.Events, job.Key)

	for {
		current, err := rt.orch.GetStatus(ctx, job.CustomerID, job.Environment)
		if err != nil {
			return nil, err
		}
		if current.Attempt != job.Attempt {
			return current, nil
		}
		if untilTerminal && current.Status.IsTerminal() {
			return current, nil
		}
		if !untilTerminal && current.Status != deployment.StatusPending {
			return current, nil
		}

		select {
		case <-ctx.Done():
			log.Warn().Str("job_key", job.Key).Str("status", string(current.Status)).Msg("Stopped waiting for job")
			return current, nil
		case <-ticker.C:
			if untilTerminal {
				ticker.Reset(5 * time.Second)
			}
		case <-wake:
		}
	}
}

// jobWakeups signals when the job transitions, is triggered or fails. Signals
// coalesce; the channel never blocks the publisher.
func jobWakeups(events *telemetry.EventPublisher, jobKey string) <-chan struct{} {
	wake := make(chan struct{}, 1)
	forJob := telemetry.FilterByJob(jobKey)
	lifecycle := telemetry.FilterByType(
		telemetry.EventTypeJobTransition,
		telemetry.EventTypeJobTriggered,
		telemetry.EventTypeJobFailed,
	)
	events.Subscribe(func(telemetry.Event) {
		select {
		case wake <- struct{}{}:
		default:
		}
	}, func(e telemetry.Event) bool { return forJob(e) && lifecycle(e) })
	return wake
}

func newStatusCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <customer> [environment]",
		Short: "Show the status of a customer environment",
		Long: `Show the deployment job of a customer environment. A job that is still
running remotely is reconciled with the remote engine first.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), version)
			if err != nil {
				return err
			}
			defer rt.Close()

			job, err := rt.orch.GetStatus(cmd.Context(), args[0], environmentArg(args))
			if err != nil {
				return err
			}
			return printJob(job)
		},
	}
	return cmd
}

func newDestroyCommand(version string) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "destroy <customer> [environment]",
		Short: "Destroy a customer environment",
		Long: `Trigger a remote destroy of a customer environment. Only environments
whose last job succeeded or failed can be destroyed.`,
		Example: `  byoc destroy acme prod --confirm`,
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), version)
			if err != nil {
				return err
			}
			defer rt.Close()

			job, err := rt.orch.Destroy(cmd.Context(), args[0], environmentArg(args), confirm)
			if err != nil {
				return err
			}
			return printJob(job)
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm the destroy")
	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <customer>",
		Short: "List the environments of a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openLocalStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			jobs, err := store.ListByCustomer(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(jobs)
			}
			if len(jobs) == 0 {
				fmt.Printf("No deployments for %s\n", args[0])
				return nil
			}
			fmt.Printf("%-20s %-12s %-10s %-8s %s\n", "ENVIRONMENT", "STATUS", "OPERATION", "ATTEMPT", "UPDATED")
			for _, job := range jobs {
				fmt.Printf("%-20s %-12s %-10s %-8d %s\n", job.Environment, job.Status, job.Operation,
					job.Attempt, job.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newEventsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "events <customer> [environment]",
		Short: "Show the transition history of a customer environment",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openLocalStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			key := deployment.JobKey(args[0], environmentArg(args))
			if _, err := store.Get(cmd.Context(), key); err != nil {
				return err
			}
			events, err := store.ListEvents(cmd.Context(), key, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(events)
			}
			for _, ev := range events {
				fmt.Printf("%s  #%d  %-12s -> %-12s %s\n", ev.Timestamp.Format(time.RFC3339), ev.Attempt,
					ev.FromStatus, ev.ToStatus, ev.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")
	return cmd
}

func newReconcileCommand(version string) *cobra.Command {
	var recoverJobs bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile every running job with the remote engine",
		Long: `Poll the remote engine once for every job that is in progress or
destroying and record any outcome. With --recover, jobs left behind by a
stopped server are repaired first. Run --recover only while no server is
running against the same store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), version)
			if err != nil {
				return err
			}
			defer rt.Close()

			if recoverJobs {
				if rt.inlineWorkers() {
					if err := rt.orch.Start(cmd.Context()); err != nil {
						return err
					}
				}
				report, err := rt.orch.Recover(cmd.Context())
				if err != nil {
					return err
				}
				log.Info().Int("requeued", report.Requeued).Int("failed", report.Failed).
					Int("reconcilable", report.Reconcilable).Msg("Recovery finished")
			}

			jobs, err := rt.orch.ReconcileAll(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(jobs)
			}
			for _, job := range jobs {
				fmt.Printf("%-30s %s\n", job.Key, job.Status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&recoverJobs, "recover", false, "recover interrupted jobs before reconciling")
	return cmd
}

func environmentArg(args []string) string {
	if len(args) > 1 {
		return args[1]
	}
	return deployment.DefaultEnvironment
}

func printJob(job *deployment.Job) error {
	if jsonOutput {
		return printJSON(job)
	}

	fmt.Printf("Job:         %s (attempt %d)\n", job.Key, job.Attempt)
	fmt.Printf("Status:      %s\n", job.Status)
	fmt.Printf("Operation:   %s\n", job.Operation)
	if job.RemoteJobID != nil {
		fmt.Printf("Remote job:  %s\n", *job.RemoteJobID)
	}
	if job.ErrorDetail != nil {
		fmt.Printf("Error:       %s\n", *job.ErrorDetail)
	}
	for k, v := range job.Outputs {
		fmt.Printf("Output:      %s = %v\n", k, v)
	}
	fmt.Printf("Updated:     %s\n", job.UpdatedAt.Format(time.RFC3339))
	return nil
}
