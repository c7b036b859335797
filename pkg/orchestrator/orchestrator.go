// Package orchestrator drives deployment jobs through their lifecycle.
//
// Requests are accepted synchronously: the job record is created or reset,
// the parameter snapshot is saved and a task is queued. The remote trigger
// sequence runs later on a queue worker. Status reads reconcile in-flight
// jobs against the remote engine with a single bounded poll.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/KshitijBhardwaj18/automation1/pkg/configrepo"
	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
	"github.com/KshitijBhardwaj18/automation1/pkg/queue"
	"github.com/KshitijBhardwaj18/automation1/pkg/remote"
	"github.com/KshitijBhardwaj18/automation1/pkg/stores"
	"github.com/KshitijBhardwaj18/automation1/pkg/telemetry"
)

// RemoteEngine is the subset of the remote deployment client the orchestrator uses.
type RemoteEngine interface {
	EnsureRemoteProject(ctx context.Context, stack string) error
	ApplyConfiguration(ctx context.Context, stack string, params deployment.Parameters) error
	Trigger(ctx context.Context, stack string, op deployment.Operation) (string, error)
	PollStatus(ctx context.Context, stack, remoteJobID string) (remote.PollResult, error)
	FetchOutputs(ctx context.Context, stack string) (map[string]any, error)
	TearDown(ctx context.Context, stack string, force bool) error
}

// Admission decides whether a request may start a job.
type Admission interface {
	Admit(ctx context.Context, operation string, params deployment.Parameters) error
}

// Config tunes the orchestrator.
type Config struct {
	// ReconcileTimeout bounds the inline poll made by GetStatus and the
	// resubmission guard.
	ReconcileTimeout time.Duration

	// RemoveStackOnDestroy deletes the stack record from the engine once a
	// destroy has completed.
	RemoveStackOnDestroy bool

	// EventLimit caps the number of audit events returned by Events.
	EventLimit int
}

func (c *Config) applyDefaults() {
	if c.ReconcileTimeout <= 0 {
		c.ReconcileTimeout = 15 * time.Second
	}
	if c.EventLimit <= 0 {
		c.EventLimit = 200
	}
}

// Orchestrator implements the deployment job state machine.
type Orchestrator struct {
	store   stores.JobStore
	engine  RemoteEngine
	configs configrepo.Repository
	queue   queue.Queue
	admit   Admission
	tel     *telemetry.Telemetry
	logger  *telemetry.Logger
	cfg     Config
}

// New creates an orchestrator. A nil tel disables telemetry.
func New(store stores.JobStore, engine RemoteEngine, configs configrepo.Repository, q queue.Queue, tel *telemetry.Telemetry, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	if tel == nil {
		tel = telemetry.NewNopTelemetry()
	}
	return &Orchestrator{
		store:   store,
		engine:  engine,
		configs: configs,
		queue:   q,
		tel:     tel,
		logger:  tel.Logger.NewComponentLogger("orchestrator"),
		cfg:     cfg,
	}
}

// WithAdmission installs an admission check run on every onboarding and
// update request after input validation.
func (o *Orchestrator) WithAdmission(a Admission) *Orchestrator {
	o.admit = a
	return o
}

// Start launches the queue workers that run trigger sequences.
func (o *Orchestrator) Start(ctx context.Context) error {
	return o.queue.Start(ctx, o.runTask)
}

// Submit accepts an onboarding request and returns the pending job. The
// trigger sequence runs in the background.
func (o *Orchestrator) Submit(ctx context.Context, req *deployment.OnboardRequest) (job *deployment.Job, err error) {
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		o.tel.Metrics.RecordSubmission("onboard", deployment.ErrCodeValidation)
		return nil, err
	}
	if err := o.admission(ctx, "onboard", req); err != nil {
		o.tel.Metrics.RecordSubmission("onboard", deployment.ErrCodeValidation)
		return nil, err
	}
	key := req.Key()

	ic := o.tel.StartJobOperation(ctx, "submit", key)
	defer func() {
		ic.End(err)
		o.tel.Metrics.RecordSubmission("onboard", outcome(err))
	}()
	ctx = ic.Ctx

	existing, err := o.store.Get(ctx, key)
	if err != nil && !deployment.IsNotFound(err) {
		return nil, err
	}

	var from deployment.Status
	if existing == nil {
		job, err = o.create(ctx, req)
	} else {
		from = existing.Status
		job, err = o.resubmit(ctx, existing, req)
	}
	if err != nil {
		return nil, err
	}

	message := "onboarding accepted"
	if job.Attempt > 1 {
		message = fmt.Sprintf("resubmitted as attempt %d", job.Attempt)
	}
	o.recordTransition(ctx, job, from, message)
	o.tel.Events.PublishJobSubmitted(job.Key, job.Attempt, "onboard")

	if err := o.dispatch(ctx, job, req.Parameters()); err != nil {
		return nil, err
	}

	ic.Logger.WithField("attempt", job.Attempt).Info("Onboarding accepted")
	return job, nil
}

func (o *Orchestrator) create(ctx context.Context, req *deployment.OnboardRequest) (*deployment.Job, error) {
	job := &deployment.Job{
		Key:         req.Key(),
		CustomerID:  req.CustomerID,
		Environment: req.Environment,
		CloudRegion: req.AWSRegion,
		RoleARN:     req.RoleARN,
		Status:      deployment.StatusPending,
		Operation:   deployment.OperationUpdate,
	}
	if err := o.store.Create(ctx, job); err != nil {
		if deployment.IsCode(err, deployment.ErrCodeAlreadyExists) {
			return nil, conflictInProgress(job.Key)
		}
		return nil, err
	}
	return job, nil
}

func (o *Orchestrator) resubmit(ctx context.Context, existing *deployment.Job, req *deployment.OnboardRequest) (*deployment.Job, error) {
	switch {
	case existing.Status.IsActive():
		return nil, conflictInProgress(existing.Key)
	case existing.Status == deployment.StatusSucceeded:
		return nil, deployment.NewConflictError(deployment.ErrCodeConflictDeployed,
			"environment is already deployed; use the update path or destroy it first").WithJob(existing.Key)
	case !existing.Status.Resubmittable():
		return nil, deployment.NewInvalidTransitionError(existing.Status, deployment.StatusPending).WithJob(existing.Key)
	}

	if err := o.guardRemoteIdle(ctx, existing); err != nil {
		return nil, err
	}

	next := &deployment.Job{
		CustomerID:  req.CustomerID,
		Environment: req.Environment,
		CloudRegion: req.AWSRegion,
		RoleARN:     req.RoleARN,
		Operation:   deployment.OperationUpdate,
	}
	job, err := o.store.Reset(ctx, next, existing.Status)
	if err != nil {
		if deployment.IsCode(err, deployment.ErrCodeInvalidTransition) {
			return nil, conflictInProgress(existing.Key)
		}
		return nil, err
	}
	return job, nil
}

// guardRemoteIdle refuses a new attempt while the previous remote job is still
// running. Any recorded id is checked, current or not.
func (o *Orchestrator) guardRemoteIdle(ctx context.Context, job *deployment.Job) error {
	if job.RemoteJobID == nil {
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, o.cfg.ReconcileTimeout)
	defer cancel()

	res, err := o.engine.PollStatus(pctx, job.StackName(), *job.RemoteJobID)
	if err != nil {
		return err
	}
	if res.State == remote.JobStateRunning {
		return deployment.NewConflictError(deployment.ErrCodeConflictInProgress,
			fmt.Sprintf("previous remote job %s is still running", *job.RemoteJobID)).WithJob(job.Key)
	}
	return nil
}

// Update re-applies the configuration of a deployed environment and triggers
// an update on the remote engine.
func (o *Orchestrator) Update(ctx context.Context, req *deployment.OnboardRequest) (job *deployment.Job, err error) {
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		o.tel.Metrics.RecordSubmission("update", deployment.ErrCodeValidation)
		return nil, err
	}
	if err := o.admission(ctx, "update", req); err != nil {
		o.tel.Metrics.RecordSubmission("update", deployment.ErrCodeValidation)
		return nil, err
	}
	key := req.Key()

	ic := o.tel.StartJobOperation(ctx, "update", key)
	defer func() {
		ic.End(err)
		o.tel.Metrics.RecordSubmission("update", outcome(err))
	}()
	ctx = ic.Ctx

	existing, err := o.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	switch {
	case existing.Status.IsActive():
		return nil, conflictInProgress(key)
	case existing.Status != deployment.StatusSucceeded:
		return nil, deployment.NewNotFoundError(
			fmt.Sprintf("no deployed environment to update (status %s)", existing.Status)).WithJob(key)
	}

	next := &deployment.Job{
		CustomerID:  req.CustomerID,
		Environment: req.Environment,
		CloudRegion: req.AWSRegion,
		RoleARN:     req.RoleARN,
		Operation:   deployment.OperationUpdate,
	}
	job, err = o.store.Reset(ctx, next, deployment.StatusSucceeded)
	if err != nil {
		if deployment.IsCode(err, deployment.ErrCodeInvalidTransition) {
			return nil, conflictInProgress(key)
		}
		return nil, err
	}

	o.recordTransition(ctx, job, existing.Status, fmt.Sprintf("update accepted as attempt %d", job.Attempt))
	o.tel.Events.PublishJobSubmitted(job.Key, job.Attempt, "update")

	if err := o.dispatch(ctx, job, req.Parameters()); err != nil {
		return nil, err
	}

	ic.Logger.WithField("attempt", job.Attempt).Info("Update accepted")
	return job, nil
}

func (o *Orchestrator) admission(ctx context.Context, operation string, req *deployment.OnboardRequest) error {
	if o.admit == nil {
		return nil
	}
	return o.admit.Admit(ctx, operation, req.Parameters())
}

// dispatch saves the parameter snapshot and queues the trigger sequence.
// Either failure leaves the job failed with the cause recorded.
func (o *Orchestrator) dispatch(ctx context.Context, job *deployment.Job, params deployment.Parameters) error {
	if err := o.configs.Save(ctx, job.Key, params); err != nil {
		o.failJob(ctx, job, "save configuration", err, deployment.StatusPending)
		return deployment.NewPersistenceError("failed to save configuration snapshot", err).WithJob(job.Key)
	}

	task := queue.NewTask(job.Key, job.Attempt, job.Operation, params)
	if err := o.queue.Enqueue(ctx, task); err != nil {
		o.failJob(ctx, job, "enqueue", err, deployment.StatusPending)
		return deployment.NewPersistenceError("failed to queue deployment", err).WithJob(job.Key)
	}
	return nil
}

// GetStatus returns the job for a customer environment, reconciling it with
// the remote engine first when a remote job is in flight. Reconciliation
// failures are logged and the stored record is returned.
func (o *Orchestrator) GetStatus(ctx context.Context, customerID, environment string) (job *deployment.Job, err error) {
	if err := deployment.ValidateIdentity(customerID, environment); err != nil {
		return nil, err
	}
	key := deployment.JobKey(customerID, environment)

	ic := o.tel.StartJobOperation(ctx, "get_status", key)
	defer func() { ic.End(err) }()

	job, err = o.store.Get(ic.Ctx, key)
	if err != nil {
		return nil, err
	}
	return o.reconcile(ic.Ctx, job), nil
}

// Destroy triggers a remote destroy of a deployed or failed environment.
func (o *Orchestrator) Destroy(ctx context.Context, customerID, environment string, confirm bool) (job *deployment.Job, err error) {
	if !confirm {
		o.tel.Metrics.RecordSubmission("destroy", deployment.ErrCodeValidation)
		return nil, deployment.NewValidationError("destroy must be confirmed", nil)
	}
	if err := deployment.ValidateIdentity(customerID, environment); err != nil {
		return nil, err
	}
	key := deployment.JobKey(customerID, environment)

	ic := o.tel.StartJobOperation(ctx, "destroy", key)
	defer func() {
		ic.End(err)
		o.tel.Metrics.RecordSubmission("destroy", outcome(err))
	}()
	ctx = ic.Ctx

	existing, err := o.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !existing.Status.Destroyable() {
		return nil, deployment.NewConflictError(deployment.ErrCodeConflictNotDestroyable,
			fmt.Sprintf("no destroyable job (status %s)", existing.Status)).WithJob(key)
	}

	// Claim the job before touching the engine so concurrent destroys
	// trigger at most once.
	job, err = o.store.UpdateStatus(ctx, key, deployment.StatusDestroying, deployment.StatusUpdate{
		Operation:    deployment.Some(deployment.OperationDestroy),
		ExpectStatus: []deployment.Status{existing.Status},
	})
	if err != nil {
		if deployment.IsCode(err, deployment.ErrCodeInvalidTransition) {
			return nil, conflictInProgress(key)
		}
		return nil, err
	}
	o.recordTransition(ctx, job, existing.Status, "destroy requested")

	remoteID, err := o.engine.Trigger(ctx, job.StackName(), deployment.OperationDestroy)
	if err != nil {
		ic.Logger.WithError(err).Warn("Destroy trigger failed")
		o.failJob(ctx, job, "trigger destroy", err, deployment.StatusDestroying)
		return nil, err
	}

	job, err = o.store.UpdateStatus(ctx, key, deployment.StatusDestroying, deployment.StatusUpdate{
		RemoteJobID:  deployment.Some(remoteID),
		ExpectStatus: []deployment.Status{deployment.StatusDestroying},
	})
	if err != nil {
		ic.Logger.WithRemoteJob(remoteID).WithError(err).Error("Destroy triggered but remote job id could not be recorded")
		o.failJob(ctx, &deployment.Job{Key: key, Attempt: existing.Attempt, Status: deployment.StatusDestroying}, "record destroy", err, deployment.StatusDestroying)
		return nil, err
	}

	o.tel.Events.PublishJobTriggered(job.Key, job.Attempt, string(deployment.OperationDestroy), remoteID)
	ic.Logger.WithRemoteJob(remoteID).Info("Destroy triggered")
	return job, nil
}

// List returns every job of a customer.
func (o *Orchestrator) List(ctx context.Context, customerID string) ([]*deployment.Job, error) {
	return o.store.ListByCustomer(ctx, customerID)
}

// Events returns the audit log of a customer environment.
func (o *Orchestrator) Events(ctx context.Context, customerID, environment string) ([]*deployment.Event, error) {
	if err := deployment.ValidateIdentity(customerID, environment); err != nil {
		return nil, err
	}
	key := deployment.JobKey(customerID, environment)
	if _, err := o.store.Get(ctx, key); err != nil {
		return nil, err
	}
	return o.store.ListEvents(ctx, key, o.cfg.EventLimit)
}

// Configuration returns the last parameter snapshot of a customer environment
// with secrets redacted.
func (o *Orchestrator) Configuration(ctx context.Context, customerID, environment string) (*configrepo.Record, error) {
	if err := deployment.ValidateIdentity(customerID, environment); err != nil {
		return nil, err
	}
	rec, err := o.configs.Get(ctx, deployment.JobKey(customerID, environment))
	if err != nil {
		return nil, err
	}
	rec.Parameters = rec.Parameters.Redacted()
	return rec, nil
}

// Customers returns every stored parameter snapshot with secrets redacted.
func (o *Orchestrator) Customers(ctx context.Context) ([]*configrepo.Record, error) {
	records, err := o.configs.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		rec.Parameters = rec.Parameters.Redacted()
	}
	return records, nil
}

// HealthCheck verifies the job store is reachable.
func (o *Orchestrator) HealthCheck(ctx context.Context) error {
	return o.store.HealthCheck(ctx)
}

// failJob marks the job failed with a step-qualified detail. The job must
// still be in one of expect.
func (o *Orchestrator) failJob(ctx context.Context, job *deployment.Job, step string, cause error, expect ...deployment.Status) {
	detail := fmt.Sprintf("%s: %v", step, cause)
	updated, err := o.store.UpdateStatus(ctx, job.Key, deployment.StatusFailed, deployment.StatusUpdate{
		ErrorDetail:  deployment.Some(detail),
		ExpectStatus: expect,
	})
	if err != nil {
		o.logger.WithJob(job.Key).WithError(err).Error("Failed to record job failure")
		return
	}
	o.recordTransition(ctx, updated, job.Status, detail)
}

// recordTransition appends an audit event and publishes the lifecycle event.
// Audit failures are logged and never fail the operation.
func (o *Orchestrator) recordTransition(ctx context.Context, job *deployment.Job, from deployment.Status, message string) {
	event := &deployment.Event{
		JobKey:     job.Key,
		Attempt:    job.Attempt,
		FromStatus: from,
		ToStatus:   job.Status,
		Message:    message,
	}
	if err := o.store.AppendEvent(context.WithoutCancel(ctx), event); err != nil {
		o.logger.WithJob(job.Key).WithError(err).Warn("Failed to append audit event")
	}

	o.tel.Metrics.RecordTransition(string(from), string(job.Status))
	o.tel.Events.PublishJobTransition(job.Key, job.Attempt, string(from), string(job.Status), message)
}

func conflictInProgress(key string) error {
	return deployment.NewConflictError(deployment.ErrCodeConflictInProgress,
		"a deployment is already in progress for this environment").WithJob(key)
}

func outcome(err error) string {
	if err == nil {
		return "accepted"
	}
	if code := deployment.CodeOf(err); code != "" {
		return code
	}
	return "error"
}
