package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/KshitijBhardwaj18/automation1/pkg/config"
	"github.com/KshitijBhardwaj18/automation1/pkg/configrepo"
	"github.com/KshitijBhardwaj18/automation1/pkg/orchestrator"
	"github.com/KshitijBhardwaj18/automation1/pkg/policy"
	"github.com/KshitijBhardwaj18/automation1/pkg/queue"
	"github.com/KshitijBhardwaj18/automation1/pkg/remote"
	"github.com/KshitijBhardwaj18/automation1/pkg/stores"
	"github.com/KshitijBhardwaj18/automation1/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

// runtime holds the components shared by the orchestrating commands.
type runtime struct {
	cfg     *config.Config
	tel     *telemetry.Telemetry
	store   stores.JobStore
	configs configrepo.Repository
	queue   queue.Queue
	orch    *orchestrator.Orchestrator
	policy  *policy.Engine

	closers []func(context.Context) error
}

// openRuntime loads the configuration and wires every component.
func openRuntime(ctx context.Context, version string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg}
	if err := rt.open(ctx, version); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) open(ctx context.Context, version string) error {
	tel, err := telemetry.NewTelemetry(rt.cfg.TelemetrySettings(version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	rt.tel = tel
	rt.onClose(tel.Shutdown)

	store, err := openStore(ctx, rt.cfg)
	if err != nil {
		return err
	}
	rt.store = store
	rt.onClose(func(context.Context) error { return store.Close() })

	configs, err := configrepo.New(ctx, rt.cfg.RepositoryConfig())
	if err != nil {
		return fmt.Errorf("failed to open configuration repository: %w", err)
	}
	rt.configs = configs

	client, err := remote.NewClient(rt.cfg.Remote.Organization, rt.cfg.Remote.Project, rt.cfg.Remote.Token,
		rt.cfg.RemoteOptions(tel)...)
	if err != nil {
		return fmt.Errorf("failed to create remote client: %w", err)
	}

	q, err := queue.New(rt.cfg.TaskQueueConfig(), tel)
	if err != nil {
		return fmt.Errorf("failed to create task queue: %w", err)
	}
	rt.queue = q
	rt.onClose(func(context.Context) error { return q.Close() })

	rt.orch = orchestrator.New(store, client, configs, q, tel, rt.cfg.OrchestratorSettings())

	if rt.cfg.Policy.Enabled {
		eng, err := openPolicyEngine(ctx, rt.cfg, tel)
		if err != nil {
			return err
		}
		rt.policy = eng
		rt.orch.WithAdmission(eng)
	}
	return nil
}

// openPolicyEngine builds the admission engine with the configured custom
// policies.
func openPolicyEngine(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) (*policy.Engine, error) {
	eng, err := policy.NewEngine(cfg.PolicyLimits(), tel.Logger.Zerolog())
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := eng.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

func (rt *runtime) onClose(fn func(context.Context) error) {
	rt.closers = append(rt.closers, fn)
}

// Close releases components in reverse order of creation.
func (rt *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			log.Warn().Err(err).Msg("Shutdown step failed")
		}
	}
	rt.closers = nil
}

// inlineWorkers reports whether queued tasks must be executed by this
// process. A shared redis queue is drained by the server instead.
func (rt *runtime) inlineWorkers() bool {
	return rt.cfg.Queue.Backend != queue.BackendRedis
}

// openStore opens the job store and applies pending migrations.
func openStore(ctx context.Context, cfg *config.Config) (stores.JobStore, error) {
	store, err := stores.New(cfg.JobStoreConfig())
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to migrate job store: %w", err), store.Close())
	}
	return store, nil
}
