package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/KshitijBhardwaj18/automation1/pkg/config"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply job store migrations",
		Long: `Apply pending schema migrations to the configured job store.

The server migrates on start as well; this command exists for deployments
that run migrations as a separate step.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadLocal(configPath)
			if err != nil {
				return err
			}

			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			log.Info().Str("driver", cfg.Store.Driver).Msg("Job store is up to date")
			if jsonOutput {
				return printJSON(map[string]string{"driver": cfg.Store.Driver, "status": "migrated"})
			}
			fmt.Println("Migrations applied")
			return nil
		},
	}
}
