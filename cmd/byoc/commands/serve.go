package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/KshitijBhardwaj18/automation1/pkg/api"
)

func newServeCommand(version string) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and deployment workers",
		Long: `Run the deployment API together with the background workers that drive
submitted jobs through the remote engine.

On start the server can recover jobs left behind by a previous process:
pending jobs are queued again and jobs interrupted before their remote job
was triggered are marked failed.`,
		Example: `  # Serve with a config file
  byoc serve --config /etc/byoc/byoc.yaml

  # Override the listen address
  byoc serve --address :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), version, address)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "listen address (overrides server.address)")

	return cmd
}

func runServe(ctx context.Context, version, address string) error {
	rt, err := openRuntime(ctx, version)
	if err != nil {
		return err
	}
	defer rt.Close()

	logger := rt.tel.Logger.NewComponentLogger("server")

	if err := rt.orch.Start(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	if rt.policy != nil && rt.cfg.Policy.Watch && len(rt.cfg.Policy.Paths) > 0 {
		if err := rt.policy.Watch(ctx, rt.cfg.Policy.Paths); err != nil {
			return fmt.Errorf("failed to watch policies: %w", err)
		}
	}

	if rt.cfg.Orchestrator.RecoverOnStart {
		report, err := rt.orch.Recover(ctx)
		if err != nil {
			return fmt.Errorf("recovery failed: %w", err)
		}
		logger.WithFields(map[string]interface{}{
			"requeued":     report.Requeued,
			"failed":       report.Failed,
			"reconcilable": report.Reconcilable,
		}).Info("Recovered jobs from previous run")
	}

	if err := rt.tel.Metrics.StartMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	if address == "" {
		address = rt.cfg.Server.Address
	}
	gin.SetMode(rt.cfg.Server.Mode)
	srv := &http.Server{
		Addr:         address,
		Handler:      api.NewRouter(rt.orch, rt.tel),
		ReadTimeout:  rt.cfg.Server.ReadTimeout,
		WriteTimeout: rt.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("address", address).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
