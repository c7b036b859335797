package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/KshitijBhardwaj18/automation1/pkg/config"
	"github.com/KshitijBhardwaj18/automation1/pkg/configrepo"
	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
	"github.com/KshitijBhardwaj18/automation1/pkg/stores"
)

func newCustomersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customers",
		Short: "Inspect stored customer configurations",
		Long: `Inspect the parameter snapshots saved for each customer environment.

A snapshot is written every time a deployment job is submitted and is what
the workers apply to the remote engine.`,
	}

	cmd.AddCommand(newCustomersListCommand())
	cmd.AddCommand(newCustomersShowCommand())
	cmd.AddCommand(newCustomersDeleteCommand())

	return cmd
}

func newCustomersListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored configurations",
		RunE: func(cmd *cobra.Command, args []string) error {
			configs, err := openLocalRepository(cmd.Context())
			if err != nil {
				return err
			}

			records, err := configs.List(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				for _, rec := range records {
					rec.Parameters = rec.Parameters.Redacted()
				}
				return printJSON(records)
			}
			fmt.Printf("%-30s %-12s %-8s %s\n", "KEY", "REGION", "MODE", "SAVED")
			for _, rec := range records {
				fmt.Printf("%-30s %-12s %-8s %s\n", rec.Key, rec.Parameters.AWSRegion,
					rec.Parameters.EKSMode, rec.SavedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newCustomersShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <customer> [environment]",
		Short: "Show a stored configuration",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			configs, err := openLocalRepository(cmd.Context())
			if err != nil {
				return err
			}

			rec, err := configs.Get(cmd.Context(), deployment.JobKey(args[0], environmentArg(args)))
			if err != nil {
				return err
			}
			rec.Parameters = rec.Parameters.Redacted()
			return printJSON(rec)
		},
	}
}

func newCustomersDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <customer> [environment]",
		Short: "Delete a stored configuration",
		Long: `Delete the parameter snapshot of a customer environment. Snapshots of
environments with a job in progress cannot be deleted.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			key := deployment.JobKey(args[0], environmentArg(args))

			store, closeFn, err := openLocalStore(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			job, err := store.Get(ctx, key)
			switch {
			case err == nil && job.Status.IsActive():
				return deployment.NewConflictError(deployment.ErrCodeConflictInProgress,
					fmt.Sprintf("job %s is %s", key, job.Status))
			case err != nil && !deployment.IsNotFound(err):
				return err
			}

			configs, err := openLocalRepository(ctx)
			if err != nil {
				return err
			}
			existed, err := configs.Delete(ctx, key)
			if err != nil {
				return err
			}
			if !existed {
				return deployment.NewNotFoundError(fmt.Sprintf("no configuration stored for %s", key))
			}

			log.Info().Str("key", key).Msg("Configuration deleted")
			return nil
		},
	}
}

// openLocalStore opens the job store for commands that never reach the
// remote engine.
func openLocalStore(ctx context.Context) (stores.JobStore, func(), error) {
	cfg, err := config.LoadLocal(configPath)
	if err != nil {
		return nil, nil, err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func openLocalRepository(ctx context.Context) (configrepo.Repository, error) {
	cfg, err := config.LoadLocal(configPath)
	if err != nil {
		return nil, err
	}
	return configrepo.New(ctx, cfg.RepositoryConfig())
}
